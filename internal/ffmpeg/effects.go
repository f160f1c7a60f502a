package ffmpeg

import (
	"fmt"
	"math"

	"github.com/reelsmith/reelsmith/internal/timeline"
)

// kenBurnsCycle is the motion sequence "kenburns" clips step through by index.
var kenBurnsCycle = []timeline.Effect{
	timeline.EffectZoomIn,
	timeline.EffectPanRight,
	timeline.EffectZoomOut,
	timeline.EffectPanLeft,
}

// ResolveEffect maps kenburns onto a concrete motion for the clip at index.
func ResolveEffect(effect timeline.Effect, index int) timeline.Effect {
	if effect == timeline.EffectKenBurns {
		return kenBurnsCycle[index%len(kenBurnsCycle)]
	}
	if effect == "" {
		return timeline.EffectNone
	}
	return effect
}

const (
	zoomDepth = 0.15
	panZoom   = 1.12
)

// motionFilters renders a still as a moving frame sequence of dur seconds.
func motionFilters(effect timeline.Effect, index int, dur float64, fps, w, h int) []string {
	effect = ResolveEffect(effect, index)
	if effect == timeline.EffectNone {
		return []string{fmt.Sprintf("trim=duration=%.3f", dur)}
	}

	frames := int(math.Max(1, math.Ceil(dur*float64(fps))))
	center := "x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)'"
	var z, pos string
	switch effect {
	case timeline.EffectZoomIn:
		z = fmt.Sprintf("z='min(1+%.2f*on/%d,%.2f)'", zoomDepth, frames, 1+zoomDepth)
		pos = center
	case timeline.EffectZoomOut:
		z = fmt.Sprintf("z='max(%.2f-%.2f*on/%d,1)'", 1+zoomDepth, zoomDepth, frames)
		pos = center
	case timeline.EffectPanRight:
		z = fmt.Sprintf("z=%.2f", panZoom)
		pos = fmt.Sprintf("x='(iw-iw/zoom)*on/%d':y='ih/2-(ih/zoom/2)'", frames)
	case timeline.EffectPanLeft:
		z = fmt.Sprintf("z=%.2f", panZoom)
		pos = fmt.Sprintf("x='(iw-iw/zoom)*(1-on/%d)':y='ih/2-(ih/zoom/2)'", frames)
	default:
		return []string{fmt.Sprintf("trim=duration=%.3f", dur)}
	}

	// Upscale first so sub-pixel zoom steps do not jitter.
	return []string{
		fmt.Sprintf("scale=%d:%d", w*2, h*2),
		fmt.Sprintf("zoompan=%s:%s:d=1:s=%dx%d:fps=%d", z, pos, w, h, fps),
	}
}

// gradeFilters returns the fixed transform for a named look.
func gradeFilters(grade timeline.ColorGrade) []string {
	switch grade {
	case timeline.GradeGrayscale:
		return []string{"hue=s=0"}
	case timeline.GradeSepia:
		return []string{"colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131"}
	case timeline.GradeVintage:
		return []string{"curves=preset=vintage", "eq=saturation=0.85"}
	case timeline.GradeWarm:
		return []string{"colorbalance=rs=.08:gs=.02:bs=-.08"}
	case timeline.GradeCool:
		return []string{"colorbalance=rs=-.06:gs=0:bs=.08"}
	default:
		return nil
	}
}
