package ffmpeg

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/reelsmith/reelsmith/internal/timeline"
)

const (
	duckLead   = 0.5
	duckTrail  = 0.3
	duckFactor = 0.3
)

// Window is a closed time span in seconds.
type Window struct {
	Start float64
	End   float64
}

// narrationWindows returns the [start, end) spans of the narration clips
// that were materialized. Dropped narration never ducks the music.
func narrationWindows(audio []AudioSource) [][2]float64 {
	var out [][2]float64
	for _, src := range audio {
		if src.Clip.AudioType == timeline.AudioNarration {
			out = append(out, [2]float64{src.Clip.Start, src.Clip.End()})
		}
	}
	return out
}

// DuckWindows pads each narration span by the lead and trail and merges
// spans that touch.
func DuckWindows(narration [][2]float64) []Window {
	if len(narration) == 0 {
		return nil
	}
	ws := make([]Window, 0, len(narration))
	for _, n := range narration {
		ws = append(ws, Window{Start: math.Max(0, n[0]-duckLead), End: n[1] + duckTrail})
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].Start < ws[j].Start })

	merged := ws[:1]
	for _, w := range ws[1:] {
		last := &merged[len(merged)-1]
		if w.Start <= last.End {
			last.End = math.Max(last.End, w.End)
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// duckedVolume is a per-frame volume expression: base outside the windows,
// base*duckFactor inside.
func duckedVolume(base float64, windows []Window) string {
	if len(windows) == 0 {
		return fmt.Sprintf("volume=%.3f", base)
	}
	terms := make([]string, len(windows))
	for i, w := range windows {
		terms[i] = fmt.Sprintf("between(t,%.3f,%.3f)", w.Start, w.End)
	}
	return fmt.Sprintf("volume='if(gt(%s,0),%.3f,%.3f)':eval=frame",
		strings.Join(terms, "+"), base*duckFactor, base)
}

// audioChain builds the filters for one clip. Fades run on clip-local time,
// then the clip is delayed to its start so the volume expression sees
// timeline time.
func audioChain(c timeline.AudioClip, windows []Window) []string {
	filters := []string{
		"aformat=sample_rates=48000:channel_layouts=stereo",
		fmt.Sprintf("atrim=duration=%.3f", c.Duration),
		"asetpts=PTS-STARTPTS",
	}
	if c.FadeIn > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=in:st=0:d=%.3f", c.FadeIn))
	}
	if c.FadeOut > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=out:st=%.3f:d=%.3f", math.Max(0, c.Duration-c.FadeOut), c.FadeOut))
	}
	if c.Start > 0 {
		ms := int64(math.Round(c.Start * 1000))
		filters = append(filters, fmt.Sprintf("adelay=%d|%d", ms, ms))
	}
	if c.Ducking && c.AudioType == timeline.AudioMusic && len(windows) > 0 {
		filters = append(filters, duckedVolume(c.Volume, windows))
	} else {
		filters = append(filters, fmt.Sprintf("volume=%.3f", c.Volume))
	}
	return filters
}

// mixFilter combines streams without loudness normalization so clip
// volumes stay as declared.
func mixFilter(n int) string {
	return fmt.Sprintf("amix=inputs=%d:duration=longest:dropout_transition=0:normalize=0", n)
}
