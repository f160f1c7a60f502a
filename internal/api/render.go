package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reelsmith/reelsmith/internal/events"
	"github.com/reelsmith/reelsmith/internal/ffmpeg"
	"github.com/reelsmith/reelsmith/internal/jobs"
	"github.com/reelsmith/reelsmith/internal/logger"
	"github.com/reelsmith/reelsmith/internal/timeline"
)

const (
	maxTimelineBytes = 8 << 20
	probeConcurrency = 4
)

// RenderProject handles POST /api/projects/{id}/render
// The latest job for the project must be completed. The render runs in the
// background and reports through the project stream.
func (h *Handler) RenderProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	job, err := h.orch.LatestJob(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "no generation job for project")
		return
	}
	if job.Status != jobs.StatusCompleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("latest job is %s", job.Status))
		return
	}

	state, err := jobs.DecodeState(job.StateData)
	if err != nil {
		logger.Warn("Job state is unreadable", "job_id", job.ID, "error", err)
	}
	assets := state.SceneAssets()
	if !hasImages(assets) {
		writeError(w, http.StatusConflict, "job has no scene images to render")
		return
	}

	renderID := uuid.NewString()
	name := fmt.Sprintf("%s-%s", projectID, renderID[:8])

	h.renders.Add(1)
	go func() {
		defer h.renders.Done()
		h.renderAssets(h.renderCtx, projectID, name, assets)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"render_id": renderID,
		"name":      name,
		"job_id":    job.ID,
	})
}

func hasImages(assets []timeline.SceneAsset) bool {
	for _, a := range assets {
		if a.ImageURL != "" {
			return true
		}
	}
	return false
}

func (h *Handler) renderAssets(ctx context.Context, projectID, name string, assets []timeline.SceneAsset) {
	log := logger.With("project_id", projectID, "render", name)
	publish := func(data events.Render, typ events.Type) {
		h.broadcaster.Publish(events.Event{Type: typ, ProjectID: projectID, Data: data})
	}

	publish(events.Render{Name: name, Stage: "measure"}, events.TypeRenderProgress)
	h.measureNarration(ctx, assets)

	tl := timeline.Build(assets, h.buildOpts)
	log.Info("Rendering project", "clips", len(tl.Tracks.Video), "duration", tl.Duration)

	result, err := h.renderer.Render(ctx, tl, name, func(p ffmpeg.RenderProgress) {
		publish(events.Render{Name: name, Stage: p.Stage, Percent: p.Percent}, events.TypeRenderProgress)
	})
	done := events.Render{Name: name, Stage: ffmpeg.StageComplete, Percent: 100}
	if result != nil {
		done.Name = result.Name
		done.URL = result.URL
	}
	if err != nil {
		log.Error("Project render failed", "error", err)
		done.Stage = "failed"
		done.Percent = 0
		done.Error = err.Error()
	}
	publish(done, events.TypeRenderComplete)
}

// measureNarration fills Duration from the audio files. Unmeasurable
// scenes keep zero so the builder estimates from the narration text.
func (h *Handler) measureNarration(ctx context.Context, assets []timeline.SceneAsset) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i := range assets {
		if assets[i].AudioURL == "" {
			continue
		}
		g.Go(func() error {
			d, err := h.renderer.MeasureDuration(gctx, assets[i].AudioURL)
			if err != nil {
				logger.Warn("Failed to measure narration", "url", assets[i].AudioURL, "error", err)
				return nil
			}
			assets[i].Duration = d
			return nil
		})
	}
	g.Wait()
}

// RenderTimelineRequest is the request body for POST /api/render
type RenderTimelineRequest struct {
	Name     string          `json:"name"`
	Timeline json.RawMessage `json:"timeline"`
}

// RenderTimeline handles POST /api/render
func (h *Handler) RenderTimeline(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTimelineBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req RenderTimelineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Timeline) == 0 {
		writeError(w, http.StatusBadRequest, "timeline is required")
		return
	}

	tl, err := timeline.Parse(req.Timeline)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("render-%d", time.Now().Unix())
	}

	result, err := h.renderer.Render(r.Context(), tl, name, nil)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, ffmpeg.ErrNoVideoClips):
		writeJSON(w, http.StatusUnprocessableEntity, result)
	default:
		logRequestError(r, "Render failed", err)
		if result == nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, result)
	}
}
