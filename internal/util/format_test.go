package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{65 * time.Second, "1m 5s"},
		{time.Hour, "1h 0m"},
		{61 * time.Minute, "1h 1m"},
		{-time.Second, ""},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	if got := FormatBytes(1500000); got != "1.5 MB" {
		t.Errorf("expected 1.5 MB, got %s", got)
	}
	if got := FormatBytes(-1); got != "0 B" {
		t.Errorf("expected 0 B for negative input, got %s", got)
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"The Fall of Rome":  "The-Fall-of-Rome",
		"  ../etc/passwd ":  "etc-passwd",
		"":                  "untitled",
		"project_42.final":  "project_42.final",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "nested", "b.txt")
	if err := os.WriteFile(src, []byte("hello"), 0644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "hello" {
		t.Errorf("expected moved content, got %q (%v)", data, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("expected source to be gone after move")
	}
}
