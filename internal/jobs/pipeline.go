package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/reelsmith/reelsmith/internal/events"
	"github.com/reelsmith/reelsmith/internal/logger"
)

// run is the mutable context of one job execution.
type run struct {
	o      *Orchestrator
	job    *Job
	state  *GenerationState
	report *StepReport
}

func (r *run) publish(t events.Type, data any) {
	r.o.notifier.Publish(events.Event{
		Type:      t,
		ProjectID: r.job.ProjectID,
		Data:      data,
		Timestamp: r.o.now(),
	})
}

// checkpoint persists the state without marking the current step complete.
func (r *run) checkpoint(ctx context.Context) {
	data, err := r.state.Encode()
	if err != nil {
		logger.Warn("Failed to encode partial state", "job_id", r.job.ID, "error", err)
		return
	}
	job, err := r.o.store.UpdateJob(ctx, r.job.ID, Patch{StateData: data})
	if err != nil {
		logger.Warn("Failed to save partial checkpoint", "job_id", r.job.ID, "error", err)
		return
	}
	r.job = job
}

func (r *run) researchSummary() string {
	if r.state.Research == nil {
		return ""
	}
	return r.state.Research.Summary
}

func (r *run) framework() Framework {
	if r.state.Framework == nil {
		return Framework{Title: r.job.Title}
	}
	return *r.state.Framework
}

var errNoCollaborator = errors.New("collaborator not configured")

func runResearch(ctx context.Context, r *run) error {
	res := r.o.collab.Research
	if res == nil {
		return fmt.Errorf("research: %w", errNoCollaborator)
	}

	queries, err := res.Queries(ctx, r.job.Title)
	if err != nil {
		return fmt.Errorf("generate research queries: %w", err)
	}

	findings := make([]Finding, 0, len(queries))
	for i, q := range queries {
		if i > 0 {
			if err := r.o.sleep(ctx, r.o.itemDelay); err != nil {
				return err
			}
		}
		r.publish(events.TypeResearchActivity, events.Activity{Message: "Researching", Detail: q})

		f, err := res.Investigate(ctx, r.job.Title, q)
		if err != nil {
			logger.Warn("Research query failed", "job_id", r.job.ID, "query", q, "error", err)
			r.report.fail(q, err)
			continue
		}
		if f.Query == "" {
			f.Query = q
		}
		findings = append(findings, f)
		r.report.ok(q)
	}

	summary, err := res.Summarize(ctx, r.job.Title, findings)
	if err != nil {
		return fmt.Errorf("summarize research: %w", err)
	}

	r.state.Research = &Research{Queries: queries, Findings: findings, Summary: summary}
	r.publish(events.TypeResearchActivity, events.Activity{
		Message: fmt.Sprintf("Research complete: %d of %d queries answered", len(findings), len(queries)),
	})
	return nil
}

func runFramework(ctx context.Context, r *run) error {
	w := r.o.collab.Writer
	if w == nil {
		return fmt.Errorf("framework: %w", errNoCollaborator)
	}

	fw, err := w.Framework(ctx, r.job.Title, r.job.Config.TotalChapters, r.researchSummary())
	if err != nil {
		return fmt.Errorf("generate framework: %w", err)
	}
	if strings.TrimSpace(fw.Title) == "" {
		fw.Title = r.job.Title
	}

	r.state.Framework = &fw
	r.publish(events.TypeFrameworkGenerated, events.Activity{Message: fw.Title, Detail: fw})
	return nil
}

func runOutline(ctx context.Context, r *run) error {
	w := r.o.collab.Writer
	if w == nil {
		return fmt.Errorf("outline: %w", errNoCollaborator)
	}

	n := r.job.Config.TotalChapters
	titles, err := w.Outline(ctx, r.framework(), n, r.researchSummary())
	if err != nil {
		return fmt.Errorf("generate outline: %w", err)
	}
	if len(titles) != n {
		logger.Warn("Outline length mismatch", "job_id", r.job.ID, "want", n, "got", len(titles))
	}

	r.state.Outline = normalizeOutline(titles, n)
	r.publish(events.TypeOutlineGenerated, events.Activity{
		Message: fmt.Sprintf("%d chapters outlined", len(r.state.Outline)),
		Detail:  r.state.Outline,
	})
	return nil
}

// normalizeOutline returns exactly n titles, truncating extras and padding
// with placeholders.
func normalizeOutline(titles []string, n int) []string {
	out := make([]string, n)
	for i := range out {
		if i < len(titles) {
			out[i] = strings.TrimSpace(titles[i])
		}
		if out[i] == "" {
			out[i] = fmt.Sprintf("Chapter %d", i+1)
		}
	}
	return out
}

func runChapters(ctx context.Context, r *run) error {
	w := r.o.collab.Writer
	if w == nil {
		return fmt.Errorf("chapters: %w", errNoCollaborator)
	}

	fw := r.framework()
	previous := ""
	for i, title := range r.state.Outline {
		number := i + 1
		key := fmt.Sprintf("chapter%d", number)
		if existing, ok := r.state.Chapter(number); ok && len(existing.Scenes) > 0 {
			r.report.skip(key)
			previous = existing.Title
			continue
		}

		ch, err := w.Chapter(ctx, ChapterRequest{
			Framework: fw,
			Outline:   r.state.Outline,
			Number:    number,
			Title:     title,
			Research:  r.researchSummary(),
			Previous:  previous,
		})
		if err != nil {
			return fmt.Errorf("generate chapter %d: %w", number, err)
		}
		ch.Number = number
		if strings.TrimSpace(ch.Title) == "" {
			ch.Title = title
		}
		for j := range ch.Scenes {
			if ch.Scenes[j].Number <= 0 {
				ch.Scenes[j].Number = j + 1
			}
		}

		r.state.putChapter(ch)
		r.report.ok(key)
		r.checkpoint(ctx)
		r.publish(events.TypeChapterGenerated, events.Chapter{Number: ch.Number, Title: ch.Title, Script: ch})
		logger.Info("Chapter generated", "job_id", r.job.ID, "chapter", number, "scenes", len(ch.Scenes))
		previous = ch.Title
	}
	return nil
}

// sceneWork is one scene that needs an asset.
type sceneWork struct {
	key     string
	chapter int
	scene   Scene
}

// pending lists scenes in chapter order, recording already present assets
// as skipped.
func (r *run) pending(have map[string]string, want func(Scene) bool) []sceneWork {
	var out []sceneWork
	for _, ch := range r.state.Chapters {
		for _, sc := range ch.Scenes {
			if !want(sc) {
				continue
			}
			key := SceneKey(ch.Number, sc.Number)
			if have[key] != "" {
				r.report.skip(key)
				continue
			}
			out = append(out, sceneWork{key: key, chapter: ch.Number, scene: sc})
		}
	}
	return out
}

// eachScene runs fn for every item sequentially with the configured delay
// between calls. Item errors are recorded and skipped.
func (r *run) eachScene(ctx context.Context, work []sceneWork, kind string, fn func(sceneWork) (string, error), store map[string]string, evType events.Type) error {
	for i, w := range work {
		if i > 0 {
			if err := r.o.sleep(ctx, r.o.itemDelay); err != nil {
				return err
			}
		}

		url, err := fn(w)
		if err == nil && url == "" {
			err = errors.New("collaborator returned no url")
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("Scene "+kind+" failed", "job_id", r.job.ID, "scene", w.key, "error", err)
			r.report.fail(w.key, err)
			continue
		}

		store[w.key] = url
		r.report.ok(w.key)
		r.checkpoint(ctx)
		r.publish(evType, events.SceneAsset{Key: w.key, Chapter: w.chapter, Scene: w.scene.Number, URL: url})
	}
	return nil
}

func runImages(ctx context.Context, r *run) error {
	cfg := r.job.Config
	useStock := cfg.ImageSource == ImagesStock
	if useStock && r.o.collab.Stock == nil {
		return fmt.Errorf("stock images: %w", errNoCollaborator)
	}
	if !useStock && r.o.collab.Images == nil {
		return fmt.Errorf("image generation: %w", errNoCollaborator)
	}

	work := r.pending(r.state.Images, func(Scene) bool { return true })
	return r.eachScene(ctx, work, "image", func(w sceneWork) (string, error) {
		prompt := firstNonEmpty(w.scene.ImagePrompt, w.scene.Narration)
		if useStock {
			return r.o.collab.Stock.FindImage(ctx, w.key, firstNonEmpty(w.scene.SearchQuery, prompt))
		}
		return r.o.collab.Images.GenerateImage(ctx, w.key, prompt, cfg.ImageModel)
	}, r.state.Images, events.TypeSceneImageGenerated)
}

func runAudio(ctx context.Context, r *run) error {
	if r.o.collab.Speech == nil {
		return fmt.Errorf("speech: %w", errNoCollaborator)
	}

	work := r.pending(r.state.Audio, func(sc Scene) bool { return strings.TrimSpace(sc.Narration) != "" })
	return r.eachScene(ctx, work, "audio", func(w sceneWork) (string, error) {
		return r.o.collab.Speech.Synthesize(ctx, w.key, w.scene.Narration, r.job.Config.Voice)
	}, r.state.Audio, events.TypeAudioGenerated)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
