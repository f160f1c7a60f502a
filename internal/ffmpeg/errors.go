package ffmpeg

import (
	"errors"
	"strings"
)

// ErrNoVideoClips means no visual clip survived asset materialization.
var ErrNoVideoClips = errors.New("no video clips to render")

const stderrTailLines = 20

// RenderError is an encoder failure with the tail of its diagnostic output.
type RenderError struct {
	Err    error
	Stderr string
}

func (e *RenderError) Error() string {
	if tail := e.Tail(); tail != "" {
		return e.Err.Error() + ": " + lastLine(tail)
	}
	return e.Err.Error()
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Tail is the last lines of stderr.
func (e *RenderError) Tail() string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	return strings.Join(lines, "\n")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
