package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/reelsmith/reelsmith/internal/jobs"
)

// Writer produces the framework, outline and chapter scripts.
type Writer struct {
	chat *ChatClient
	// ScenesPerChapter is the number of scenes requested per chapter.
	ScenesPerChapter int
}

var _ jobs.ScriptWriter = (*Writer)(nil)

func NewWriter(chat *ChatClient) *Writer {
	return &Writer{chat: chat, ScenesPerChapter: 6}
}

const writerSystem = "You are an award-winning documentary scriptwriter. Narration is written to be read aloud: " +
	"vivid, concrete and free of stage directions."

func researchBlock(research string) string {
	if strings.TrimSpace(research) == "" {
		return ""
	}
	return "\n\nResearch briefing:\n" + research
}

func (w *Writer) Framework(ctx context.Context, title string, chapters int, research string) (jobs.Framework, error) {
	var fw jobs.Framework
	prompt := fmt.Sprintf("Design a %d-chapter documentary titled %q. Return a JSON object with keys "+
		"\"title\", \"premise\", \"openingHook\" and \"genre\".%s", chapters, title, researchBlock(research))
	if err := w.chat.CompleteJSON(ctx, writerSystem, prompt, 800, &fw); err != nil {
		return jobs.Framework{}, err
	}
	return fw, nil
}

func (w *Writer) Outline(ctx context.Context, fw jobs.Framework, chapters int, research string) ([]string, error) {
	var titles []string
	prompt := fmt.Sprintf("Documentary %q.\nPremise: %s\nOpening hook: %s\n"+
		"Write exactly %d chapter titles in story order. Return a JSON array of strings.%s",
		fw.Title, fw.Premise, fw.OpeningHook, chapters, researchBlock(research))
	if err := w.chat.CompleteJSON(ctx, writerSystem, prompt, 800, &titles); err != nil {
		return nil, err
	}
	return titles, nil
}

type chapterReply struct {
	Title  string `json:"title"`
	Scenes []struct {
		Narration   string `json:"narration"`
		ImagePrompt string `json:"imagePrompt"`
		SearchQuery string `json:"searchQuery"`
	} `json:"scenes"`
}

func (w *Writer) Chapter(ctx context.Context, req jobs.ChapterRequest) (jobs.ChapterScript, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Documentary %q (%s).\nPremise: %s\n", req.Framework.Title, req.Framework.Genre, req.Framework.Premise)
	b.WriteString("Outline:\n")
	for i, t := range req.Outline {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	if req.Previous != "" {
		fmt.Fprintf(&b, "The previous chapter was %q; do not repeat it.\n", req.Previous)
	}
	if req.Number == 1 && req.Framework.OpeningHook != "" {
		fmt.Fprintf(&b, "Open with this hook: %s\n", req.Framework.OpeningHook)
	}
	fmt.Fprintf(&b, "\nWrite chapter %d, %q, as %d scenes. Return a JSON object with \"title\" and \"scenes\", "+
		"where each scene has \"narration\" (2-4 sentences), \"imagePrompt\" (a photographic description of a "+
		"single still) and \"searchQuery\" (3-5 words for a stock photo search).",
		req.Number, req.Title, w.ScenesPerChapter)
	b.WriteString(researchBlock(req.Research))

	var reply chapterReply
	if err := w.chat.CompleteJSON(ctx, writerSystem, b.String(), 4000, &reply); err != nil {
		return jobs.ChapterScript{}, err
	}
	if len(reply.Scenes) == 0 {
		return jobs.ChapterScript{}, fmt.Errorf("chapter %d has no scenes", req.Number)
	}

	ch := jobs.ChapterScript{Number: req.Number, Title: reply.Title}
	for i, sc := range reply.Scenes {
		ch.Scenes = append(ch.Scenes, jobs.Scene{
			Number:      i + 1,
			Narration:   strings.TrimSpace(sc.Narration),
			ImagePrompt: strings.TrimSpace(sc.ImagePrompt),
			SearchQuery: strings.TrimSpace(sc.SearchQuery),
		})
	}
	return ch, nil
}
