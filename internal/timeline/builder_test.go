package timeline

import (
	"testing"
)

func TestBuildOrdersScenesAndAlignsAudio(t *testing.T) {
	assets := []SceneAsset{
		{Chapter: 2, Scene: 1, ImageURL: "c2s1.jpg", AudioURL: "c2s1.mp3", Duration: 4},
		{Chapter: 1, Scene: 2, ImageURL: "c1s2.jpg", AudioURL: "c1s2.mp3", Duration: 6},
		{Chapter: 1, Scene: 1, ImageURL: "c1s1.jpg", AudioURL: "c1s1.mp3", Duration: 5},
	}
	tl := Build(assets, DefaultBuildOptions())

	if len(tl.Tracks.Video) != 3 || len(tl.Tracks.Audio) != 3 {
		t.Fatalf("expected 3 video and 3 audio clips, got %d/%d", len(tl.Tracks.Video), len(tl.Tracks.Audio))
	}
	wantIDs := []string{"ch1_scene1", "ch1_scene2", "ch2_scene1"}
	wantStarts := []float64{0, 5, 11}
	for i, c := range tl.Tracks.Video {
		if c.ID != wantIDs[i] {
			t.Errorf("clip %d: expected id %s, got %s", i, wantIDs[i], c.ID)
		}
		if c.Start != wantStarts[i] {
			t.Errorf("clip %d: expected start %v, got %v", i, wantStarts[i], c.Start)
		}
		if tl.Tracks.Audio[i].Start != c.Start || tl.Tracks.Audio[i].Duration != c.Duration {
			t.Errorf("clip %d: narration not aligned with visual", i)
		}
		if c.ColorGrade != GradeVintage {
			t.Errorf("clip %d: expected single grade vintage, got %s", i, c.ColorGrade)
		}
	}
	if tl.Duration != 15 {
		t.Errorf("expected duration 15, got %v", tl.Duration)
	}
	if err := tl.Validate(); err != nil {
		t.Errorf("built timeline should validate: %v", err)
	}
}

func TestBuildFirstClipHasLongerFadeIn(t *testing.T) {
	assets := []SceneAsset{
		{Chapter: 1, Scene: 1, ImageURL: "a.jpg", Duration: 6},
		{Chapter: 1, Scene: 2, ImageURL: "b.jpg", Duration: 6},
	}
	tl := Build(assets, DefaultBuildOptions())
	first, second := tl.Tracks.Video[0], tl.Tracks.Video[1]
	if first.FadeIn <= second.FadeIn {
		t.Errorf("expected first fade-in (%v) > later fade-in (%v)", first.FadeIn, second.FadeIn)
	}
	if first.FadeOut != second.FadeOut {
		t.Errorf("expected equal fade-outs, got %v and %v", first.FadeOut, second.FadeOut)
	}
}

func TestBuildShortSceneShrinksFades(t *testing.T) {
	opts := DefaultBuildOptions()
	opts.FirstFadeIn = 2
	opts.FadeOut = 2
	tl := Build([]SceneAsset{{Chapter: 1, Scene: 1, ImageURL: "a.jpg", Duration: 2}}, opts)
	c := tl.Tracks.Video[0]
	if c.FadeIn+c.FadeOut > c.Duration {
		t.Errorf("fades %v+%v exceed duration %v", c.FadeIn, c.FadeOut, c.Duration)
	}
}

func TestBuildYearOverlayShownOnce(t *testing.T) {
	assets := []SceneAsset{
		{Chapter: 1, Scene: 1, ImageURL: "a.jpg", Duration: 6, Narration: "In July 1969, three astronauts left Earth."},
		{Chapter: 1, Scene: 2, ImageURL: "b.jpg", Duration: 2, Narration: "1969 was the year of the landing."},
		{Chapter: 2, Scene: 1, ImageURL: "c.jpg", Duration: 6, Narration: "The program ended. 1972 saw the last crew."},
	}
	tl := Build(assets, DefaultBuildOptions())

	count := map[string]int{}
	for _, txt := range tl.Tracks.Text {
		count[txt.Text]++
	}
	if count["1969"] != 1 {
		t.Fatalf("expected exactly one 1969 overlay, got %d", count["1969"])
	}
	if count["1972"] != 1 {
		t.Errorf("expected one 1972 overlay, got %d", count["1972"])
	}

	first := tl.Tracks.Text[0]
	if first.Text != "1969" || first.Start != 0 || first.End != 4 {
		t.Errorf("expected 1969 on first scene for 4s, got %+v", first)
	}
	if first.Type != TextDate {
		t.Errorf("expected date overlay, got %s", first.Type)
	}
}

func TestBuildYearOverlayCappedBySceneLength(t *testing.T) {
	tl := Build([]SceneAsset{{Chapter: 1, Scene: 1, ImageURL: "a.jpg", Duration: 2.5, Narration: "1815. Waterloo."}}, DefaultBuildOptions())
	if len(tl.Tracks.Text) != 1 || tl.Tracks.Text[0].End != 2.5 {
		t.Errorf("expected overlay ending at scene end, got %+v", tl.Tracks.Text)
	}
}

func TestFindYearPrefersAnchored(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"1914 changed everything.", "1914"},
		{"Built in 1850, the bridge fell. 1907 brought the storm.", "1907"},
		{"Between 1800 and 1850 the city grew.", "1800"},
		{"In 1945 the war ended.1969 began quietly.", "1969"},
		{"In 1950 the road ran 3.1999 miles; 1969 changed it.", "1969"},
		{"No dates here, only 300 soldiers.", ""},
		{"It cost 12000 dollars.", ""},
	}
	for _, tt := range tests {
		if got := FindYear(tt.text); got != tt.want {
			t.Errorf("FindYear(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestBuildMusicBedIsDucked(t *testing.T) {
	opts := DefaultBuildOptions()
	opts.MusicURL = "music.mp3"
	tl := Build([]SceneAsset{
		{Chapter: 1, Scene: 1, ImageURL: "a.jpg", AudioURL: "a.mp3", Duration: 10},
		{Chapter: 1, Scene: 2, ImageURL: "b.jpg", AudioURL: "b.mp3", Duration: 10},
	}, opts)

	music := tl.Tracks.Audio[len(tl.Tracks.Audio)-1]
	if music.AudioType != AudioMusic || !music.Ducking {
		t.Fatalf("expected ducked music clip, got %+v", music)
	}
	if music.Start != 0 || music.Duration != tl.Duration {
		t.Errorf("expected music to span the timeline, got start=%v dur=%v", music.Start, music.Duration)
	}
}

func TestBuildSkipsScenesWithoutImage(t *testing.T) {
	tl := Build([]SceneAsset{
		{Chapter: 1, Scene: 1, AudioURL: "a.mp3", Duration: 4},
		{Chapter: 1, Scene: 2, ImageURL: "b.jpg", Duration: 4},
	}, DefaultBuildOptions())
	if len(tl.Tracks.Video) != 1 || tl.Tracks.Video[0].Start != 0 {
		t.Errorf("expected one clip starting at 0, got %+v", tl.Tracks.Video)
	}
}
