package ffmpeg

import (
	"fmt"
	"strconv"

	"github.com/reelsmith/reelsmith/internal/timeline"
	"github.com/reelsmith/reelsmith/internal/util"
)

// VideoSource is a video clip whose still has been materialized to Path.
// Index is the clip's position in the original timeline.
type VideoSource struct {
	Clip  timeline.VideoClip
	Path  string
	Index int
}

type AudioSource struct {
	Clip timeline.AudioClip
	Path string
}

// TextSource pairs an overlay with the file holding its caption.
type TextSource struct {
	Clip     timeline.TextClip
	TextFile string
}

// Input is one -i argument group.
type Input struct {
	Path     string
	Kind     StreamKind
	Duration float64 // still images only
}

// Encoding holds the fixed codec parameters.
type Encoding struct {
	Preset       string
	CRF          int
	AudioBitrate string
}

// DefaultEncoding is libx264 medium at CRF 20 with 192k AAC.
func DefaultEncoding() Encoding {
	return Encoding{Preset: "medium", CRF: 20, AudioBitrate: "192k"}
}

// Plan is a compiled render: the inputs, the filter graph and its outputs.
type Plan struct {
	Inputs   []Input
	Graph    *Graph
	VideoOut Pad
	AudioOut *Pad
	Duration float64
	FPS      int
}

// Compile turns a timeline with materialized sources into a single filter
// graph. Every surviving video clip is composited over a black canvas that
// lasts the full duration.
func Compile(tl *timeline.Timeline, video []VideoSource, audio []AudioSource, text []TextSource, fonts Fonts) (*Plan, error) {
	if len(video) == 0 {
		return nil, ErrNoVideoClips
	}
	w, h, fps := tl.Resolution.Width, tl.Resolution.Height, tl.FPS
	duration := tl.Duration
	if duration <= 0 {
		duration = tl.ComputeDuration()
	}

	g := NewGraph()
	plan := &Plan{Graph: g, Duration: duration, FPS: fps}

	base := g.Source(g.Pad("base", Video),
		fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=%s", w, h, fps, util.FormatSeconds(duration)))

	for _, src := range video {
		c := src.Clip
		idx := len(plan.Inputs)
		plan.Inputs = append(plan.Inputs, Input{Path: src.Path, Kind: Video, Duration: c.Duration})

		filters := []string{
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", w, h),
			fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black", w, h),
			"setsar=1",
			"fps=" + strconv.Itoa(fps),
		}
		filters = append(filters, motionFilters(c.Effect, src.Index, c.Duration, fps, w, h)...)
		filters = append(filters, gradeFilters(c.ColorGrade)...)
		filters = append(filters, "format=yuva420p")
		if c.FadeIn > 0 {
			filters = append(filters, fmt.Sprintf("fade=t=in:st=0:d=%.3f:alpha=1", c.FadeIn))
		}
		if c.FadeOut > 0 {
			filters = append(filters, fmt.Sprintf("fade=t=out:st=%.3f:d=%.3f:alpha=1", c.Duration-c.FadeOut, c.FadeOut))
		}
		filters = append(filters, fmt.Sprintf("setpts=PTS-STARTPTS+%.3f/TB", c.Start))
		clip := g.Add([]Pad{InputPad(idx, Video)}, g.Pad("clip", Video), filters...)

		base = g.Add([]Pad{base, clip}, g.Pad("base", Video),
			fmt.Sprintf("overlay=x=0:y=0:eof_action=pass:enable='between(t,%.3f,%.3f)'", c.Start, c.End()))
	}

	for _, ts := range text {
		base = g.Add([]Pad{base}, g.Pad("txt", Video), drawtextFilter(ts.Clip, ts.TextFile, fonts))
	}
	plan.VideoOut = g.Add([]Pad{base}, Pad{Label: "vout", Kind: Video}, "format=yuv420p")

	windows := DuckWindows(narrationWindows(audio))
	var mixed []Pad
	for _, src := range audio {
		idx := len(plan.Inputs)
		plan.Inputs = append(plan.Inputs, Input{Path: src.Path, Kind: Audio})
		mixed = append(mixed, g.Add([]Pad{InputPad(idx, Audio)}, g.Pad("a", Audio), audioChain(src.Clip, windows)...))
	}
	switch len(mixed) {
	case 0:
	case 1:
		out := g.Add(mixed, Pad{Label: "aout", Kind: Audio}, "anull")
		plan.AudioOut = &out
	default:
		out := g.Add(mixed, Pad{Label: "aout", Kind: Audio}, mixFilter(len(mixed)))
		plan.AudioOut = &out
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Args builds the complete encoder command line writing to output.
func (p *Plan) Args(output string, enc Encoding) []string {
	args := []string{"-y", "-hide_banner", "-nostats", "-progress", "pipe:1"}
	for _, in := range p.Inputs {
		if in.Kind == Video {
			args = append(args,
				"-loop", "1",
				"-framerate", strconv.Itoa(p.FPS),
				"-t", util.FormatSeconds(in.Duration),
			)
		}
		args = append(args, "-i", in.Path)
	}
	args = append(args,
		"-filter_complex", p.Graph.String(),
		"-map", p.VideoOut.String(),
	)
	if p.AudioOut != nil {
		args = append(args, "-map", p.AudioOut.String())
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", enc.Preset,
		"-crf", strconv.Itoa(enc.CRF),
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(p.FPS),
	)
	if p.AudioOut != nil {
		args = append(args, "-c:a", "aac", "-b:a", enc.AudioBitrate)
	}
	args = append(args,
		"-t", util.FormatSeconds(p.Duration),
		"-movflags", "+faststart",
		output,
	)
	return args
}
