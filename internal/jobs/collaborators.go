package jobs

import (
	"context"

	"github.com/reelsmith/reelsmith/internal/events"
)

// Researcher gathers background material for a title.
type Researcher interface {
	Queries(ctx context.Context, title string) ([]string, error)
	Investigate(ctx context.Context, title, query string) (Finding, error)
	Summarize(ctx context.Context, title string, findings []Finding) (string, error)
}

// ScriptWriter produces the framework, outline and chapter scripts.
type ScriptWriter interface {
	Framework(ctx context.Context, title string, chapters int, research string) (Framework, error)
	Outline(ctx context.Context, fw Framework, chapters int, research string) ([]string, error)
	Chapter(ctx context.Context, req ChapterRequest) (ChapterScript, error)
}

// ChapterRequest is the input for one chapter script.
type ChapterRequest struct {
	Framework Framework
	Outline   []string
	Number    int
	Title     string
	Research  string
	Previous  string
}

// ImageGenerator creates an image from a prompt and returns its URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, key, prompt, model string) (string, error)
}

// StockImageFinder searches stock libraries and returns the best match URL.
type StockImageFinder interface {
	FindImage(ctx context.Context, key, query string) (string, error)
}

// SpeechSynthesizer turns narration into an audio file and returns its URL.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, key, text, voice string) (string, error)
}

// Collaborators are the external services the pipeline drives. Stock may be
// nil when only generated images are used.
type Collaborators struct {
	Research Researcher
	Writer   ScriptWriter
	Images   ImageGenerator
	Stock    StockImageFinder
	Speech   SpeechSynthesizer
}

// Notifier receives pipeline events. *events.Broadcaster satisfies it.
type Notifier interface {
	Publish(ev events.Event)
}

type discardNotifier struct{}

func (discardNotifier) Publish(events.Event) {}
