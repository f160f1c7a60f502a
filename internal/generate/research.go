package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/reelsmith/reelsmith/internal/jobs"
)

// Researcher plans queries and answers them with the chat model.
type Researcher struct {
	chat    *ChatClient
	queries int
}

var _ jobs.Researcher = (*Researcher)(nil)

// NewResearcher returns a researcher that plans up to queries questions.
func NewResearcher(chat *ChatClient, queries int) *Researcher {
	if queries <= 0 {
		queries = 5
	}
	return &Researcher{chat: chat, queries: queries}
}

const researchSystem = "You are a meticulous documentary researcher. Prefer verifiable facts, names, places and dates."

func (r *Researcher) Queries(ctx context.Context, title string) ([]string, error) {
	var queries []string
	prompt := fmt.Sprintf("List %d distinct research questions for a long-form documentary titled %q. "+
		"Return a JSON array of strings.", r.queries, title)
	if err := r.chat.CompleteJSON(ctx, researchSystem, prompt, 800, &queries); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no research queries")
	}
	if len(out) > r.queries {
		out = out[:r.queries]
	}
	return out, nil
}

func (r *Researcher) Investigate(ctx context.Context, title, query string) (jobs.Finding, error) {
	prompt := fmt.Sprintf("Documentary: %q\nQuestion: %s\nAnswer in one dense paragraph of facts.", title, query)
	answer, err := r.chat.ChatCompletion(ctx, researchSystem, prompt, 700)
	if err != nil {
		return jobs.Finding{}, err
	}
	return jobs.Finding{Query: query, Answer: answer}, nil
}

func (r *Researcher) Summarize(ctx context.Context, title string, findings []jobs.Finding) (string, error) {
	if len(findings) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", f.Query, f.Answer)
	}
	prompt := fmt.Sprintf("Condense these research notes for the documentary %q into a briefing of key facts "+
		"in chronological order.\n\n%s", title, b.String())
	return r.chat.ChatCompletion(ctx, researchSystem, prompt, 1500)
}
