package timeline

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// SceneAsset is everything generated for one scene.
type SceneAsset struct {
	Chapter   int
	Scene     int
	ImageURL  string
	AudioURL  string
	Narration string
	// Duration in seconds, normally the measured narration length. Zero
	// falls back to an estimate from the word count.
	Duration float64
}

// BuildOptions controls presentation policy.
type BuildOptions struct {
	Resolution Resolution
	FPS        int
	ColorGrade ColorGrade
	Effect     Effect

	FirstFadeIn float64
	FadeIn      float64
	FadeOut     float64

	// MusicURL adds a ducked background bed spanning the whole timeline.
	MusicURL    string
	MusicVolume float64

	YearOverlay    bool
	YearMaxSeconds float64
}

// DefaultBuildOptions is the documentary look.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Resolution:     Resolution{Width: DefaultWidth, Height: DefaultHeight},
		FPS:            DefaultFPS,
		ColorGrade:     GradeVintage,
		Effect:         EffectKenBurns,
		FirstFadeIn:    1.5,
		FadeIn:         0.5,
		FadeOut:        0.5,
		MusicVolume:    0.25,
		YearOverlay:    true,
		YearMaxSeconds: 4,
	}
}

const (
	wordsPerSecond  = 2.5
	minSceneSeconds = 3.0
)

// EstimateDuration guesses narration length from its word count.
func EstimateDuration(narration string) float64 {
	words := len(strings.Fields(narration))
	return math.Max(minSceneSeconds, float64(words)/wordsPerSecond)
}

// Build lays scenes end to end in chapter/scene order. Scenes without an
// image are skipped.
func Build(assets []SceneAsset, opts BuildOptions) *Timeline {
	t := New()
	if opts.Resolution.Width > 0 && opts.Resolution.Height > 0 {
		t.Resolution = opts.Resolution
	}
	if opts.FPS > 0 {
		t.FPS = opts.FPS
	}
	if opts.ColorGrade == "" {
		opts.ColorGrade = GradeNone
	}
	if opts.Effect == "" {
		opts.Effect = EffectNone
	}

	sorted := make([]SceneAsset, len(assets))
	copy(sorted, assets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Chapter != sorted[j].Chapter {
			return sorted[i].Chapter < sorted[j].Chapter
		}
		return sorted[i].Scene < sorted[j].Scene
	})

	shownYears := make(map[string]bool)
	cursor := 0.0
	for _, a := range sorted {
		if a.ImageURL == "" {
			continue
		}
		dur := a.Duration
		if dur <= 0 {
			dur = EstimateDuration(a.Narration)
		}
		id := fmt.Sprintf("ch%d_scene%d", a.Chapter, a.Scene)

		fadeIn := opts.FadeIn
		if len(t.Tracks.Video) == 0 {
			fadeIn = opts.FirstFadeIn
		}
		fadeIn, fadeOut := fitFades(fadeIn, opts.FadeOut, dur)

		t.Tracks.Video = append(t.Tracks.Video, VideoClip{
			ID:         id,
			Src:        a.ImageURL,
			Start:      cursor,
			Duration:   dur,
			Effect:     opts.Effect,
			FadeIn:     fadeIn,
			FadeOut:    fadeOut,
			ColorGrade: opts.ColorGrade,
		})

		if a.AudioURL != "" {
			t.Tracks.Audio = append(t.Tracks.Audio, AudioClip{
				ID:        id + "_vo",
				Src:       a.AudioURL,
				Start:     cursor,
				Duration:  dur,
				Volume:    1,
				AudioType: AudioNarration,
			})
		}

		if opts.YearOverlay {
			if year := FindYear(a.Narration); year != "" && !shownYears[year] {
				shownYears[year] = true
				t.Tracks.Text = append(t.Tracks.Text, yearOverlay(id, year, cursor, math.Min(opts.YearMaxSeconds, dur)))
			}
		}

		cursor += dur
	}

	t.Duration = t.ComputeDuration()

	if opts.MusicURL != "" && t.Duration > 0 {
		in, out := fitFades(2, 3, t.Duration)
		t.Tracks.Audio = append(t.Tracks.Audio, AudioClip{
			ID:        "music",
			Src:       opts.MusicURL,
			Start:     0,
			Duration:  t.Duration,
			Volume:    opts.MusicVolume,
			FadeIn:    in,
			FadeOut:   out,
			Ducking:   true,
			AudioType: AudioMusic,
		})
	}
	return t
}

// fitFades scales fades down proportionally when they would overlap.
func fitFades(in, out, dur float64) (float64, float64) {
	if in+out <= dur {
		return in, out
	}
	scale := dur / (in + out)
	return in * scale, out * scale
}

func yearOverlay(sceneID, year string, start, length float64) TextClip {
	return TextClip{
		ID:          sceneID + "_year",
		Text:        year,
		Start:       start,
		End:         start + length,
		Type:        TextDate,
		X:           "(w-text_w)/2",
		Y:           "(h-text_h)/2",
		FontSize:    160,
		FontColor:   "white",
		Shadow:      true,
		ShadowColor: "black@0.6",
		ShadowX:     4,
		ShadowY:     4,
	}
}

var (
	// A decimal point ("3.1999") does not count as sentence punctuation.
	anchoredYear = regexp.MustCompile(`(?:^|[^0-9][.!?;:]\s*|[.!?;:]\s+)["'(]?(1[0-9]{3}|20[0-9]{2})\b`)
	anyYear      = regexp.MustCompile(`\b(1[0-9]{3}|20[0-9]{2})\b`)
)

// FindYear returns the year a narration opens a sentence with, or failing
// that the first year mentioned anywhere.
func FindYear(text string) string {
	text = strings.TrimSpace(text)
	if m := anchoredYear.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := anyYear.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
