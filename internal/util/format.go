// Package util holds small formatting and filesystem helpers shared across packages.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count for logs ("12 MB").
func FormatBytes(n int64) string {
	if n < 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n))
}

// FormatDuration renders d as "1h 2m", "3m 4s" or "5s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return ""
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatSeconds renders fractional seconds with millisecond precision, the
// form ffmpeg expects for -t and filter arguments.
func FormatSeconds(sec float64) string {
	return fmt.Sprintf("%.3f", sec)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeName turns an arbitrary label into a file-name-safe slug.
func SafeName(name string) string {
	name = strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(name), "-"), "-.")
	if name == "" {
		return "untitled"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}

// CopyFile copies src to dst, creating dst's directory.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// MoveFile renames src to dst, falling back to copy+remove across devices.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
