package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Progress is an encoder status sample.
type Progress struct {
	Frame   int64         `json:"frame"`
	FPS     float64       `json:"fps"`
	Time    time.Duration `json:"time"`
	Speed   float64       `json:"speed"`
	Percent float64       `json:"percent"`
}

// progressPlateau caps the estimate until the process has actually exited.
const progressPlateau = 99.0

// parseProgress reads "-progress" key=value blocks and emits one sample per
// block. total is the expected output length.
func parseProgress(r io.Reader, total time.Duration, emit func(Progress)) {
	scanner := bufio.NewScanner(r)
	var cur Progress
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "frame":
			cur.Frame, _ = strconv.ParseInt(value, 10, 64)
		case "fps":
			cur.FPS, _ = strconv.ParseFloat(value, 64)
		case "out_time_us", "out_time_ms":
			// Both keys carry microseconds.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.Time = time.Duration(us) * time.Microsecond
			}
		case "out_time":
			if d, ok := parseClock(value); ok && cur.Time == 0 {
				cur.Time = d
			}
		case "speed":
			if value != "N/A" {
				cur.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
			}
		case "progress":
			if total > 0 && cur.Time > 0 {
				cur.Percent = float64(cur.Time) / float64(total) * 100
			}
			if cur.Percent > progressPlateau {
				cur.Percent = progressPlateau
			}
			emit(cur)
			cur.Time = 0
		}
	}
}

// parseClock parses "HH:MM:SS.micro" as printed in time= and out_time=.
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second)), true
}
