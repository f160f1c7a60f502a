package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/reelsmith/reelsmith/internal/timeline"
)

// Fonts are the font files drawtext uses.
type Fonts struct {
	Serif string
	Sans  string
}

func (f Fonts) forType(t timeline.TextType) string {
	if t == timeline.TextTitle || t == timeline.TextDate {
		return f.Serif
	}
	return f.Sans
}

// escapeFilterValue quotes a path for use as a filter option value.
func escapeFilterValue(s string) string {
	return "'" + strings.ReplaceAll(s, `'`, `'\''`) + "'"
}

// drawtextFilter renders one overlay. The text itself is read from textFile
// so captions need no escaping.
func drawtextFilter(c timeline.TextClip, textFile string, fonts Fonts) string {
	x, y := c.X, c.Y
	if x == "" {
		x = "(w-text_w)/2"
	}
	if y == "" {
		y = "h-text_h-80"
	}
	size := c.FontSize
	if size == 0 {
		size = 48
	}
	color := c.FontColor
	if color == "" {
		color = "white"
	}

	opts := []string{}
	if font := fonts.forType(c.Type); font != "" {
		opts = append(opts, "fontfile="+escapeFilterValue(font))
	}
	opts = append(opts,
		"textfile="+escapeFilterValue(textFile),
		"expansion=none",
		fmt.Sprintf("x='%s'", x),
		fmt.Sprintf("y='%s'", y),
		fmt.Sprintf("fontsize=%d", size),
		"fontcolor="+color,
	)
	if c.Box {
		boxColor := c.BoxColor
		if boxColor == "" {
			boxColor = "black@0.5"
		}
		opts = append(opts, "box=1", "boxcolor="+boxColor, fmt.Sprintf("boxborderw=%d", c.BoxBorder))
	}
	if c.Shadow {
		shadow := c.ShadowColor
		if shadow == "" {
			shadow = "black@0.6"
		}
		opts = append(opts, "shadowcolor="+shadow, fmt.Sprintf("shadowx=%d", c.ShadowX), fmt.Sprintf("shadowy=%d", c.ShadowY))
	}
	if c.BorderWidth > 0 {
		border := c.BorderColor
		if border == "" {
			border = "black"
		}
		opts = append(opts, fmt.Sprintf("borderw=%d", c.BorderWidth), "bordercolor="+border)
	}
	opts = append(opts, fmt.Sprintf("enable='between(t,%.3f,%.3f)'", c.Start, c.End))
	return "drawtext=" + strings.Join(opts, ":")
}
