package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/reelsmith/reelsmith"
	"github.com/reelsmith/reelsmith/internal/events"
	"github.com/reelsmith/reelsmith/internal/ffmpeg"
	"github.com/reelsmith/reelsmith/internal/jobs"
	"github.com/reelsmith/reelsmith/internal/logger"
	"github.com/reelsmith/reelsmith/internal/timeline"
)

// DefaultHeartbeat is the SSE keep-alive interval.
const DefaultHeartbeat = 15 * time.Second

// Renderer turns timelines into video files.
type Renderer interface {
	Render(ctx context.Context, tl *timeline.Timeline, name string, onProgress func(ffmpeg.RenderProgress)) (*ffmpeg.RenderResult, error)
	MeasureDuration(ctx context.Context, src string) (float64, error)
}

// Handler provides HTTP API handlers
type Handler struct {
	orch        *jobs.Orchestrator
	broadcaster *events.Broadcaster
	renderer    Renderer
	buildOpts   timeline.BuildOptions
	validate    *validator.Validate

	// Heartbeat is the interval between SSE keep-alive comments.
	Heartbeat time.Duration

	renderCtx     context.Context
	cancelRenders context.CancelFunc
	renders       sync.WaitGroup
}

// NewHandler creates a new API handler
func NewHandler(orch *jobs.Orchestrator, broadcaster *events.Broadcaster, renderer Renderer, buildOpts timeline.BuildOptions) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		orch:          orch,
		broadcaster:   broadcaster,
		renderer:      renderer,
		buildOpts:     buildOpts,
		validate:      validator.New(),
		Heartbeat:     DefaultHeartbeat,
		renderCtx:     ctx,
		cancelRenders: cancel,
	}
}

// Wait blocks until background renders finish.
func (h *Handler) Wait() {
	h.renders.Wait()
}

// Close cancels background renders and waits for them to exit.
func (h *Handler) Close() {
	h.cancelRenders()
	h.renders.Wait()
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody reads a JSON body into v and validates it.
func (h *Handler) decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := h.validate.Struct(v); err != nil {
		return validationMessage(err)
	}
	return nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// CreateJobRequest is the request body for starting a generation run
type CreateJobRequest struct {
	Title         string `json:"title" validate:"required,max=300"`
	TotalChapters int    `json:"total_chapters" validate:"omitempty,min=1,max=30"`
	Config        struct {
		Voice       string `json:"voice" validate:"omitempty,max=40"`
		ImageSource string `json:"image_source" validate:"omitempty,oneof=ai stock"`
		ImageModel  string `json:"image_model" validate:"omitempty,max=60"`
	} `json:"config"`
}

// CreateJob handles POST /api/projects/{id}/jobs
// Returns 202 for a new job and 200 when the project already has one running.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	var req CreateJobRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title failed required")
		return
	}

	job, created, err := h.orch.Enqueue(r.Context(), projectID, title, jobs.RunConfig{
		TotalChapters: req.TotalChapters,
		Voice:         req.Config.Voice,
		ImageSource:   jobs.ImageSource(req.Config.ImageSource),
		ImageModel:    req.Config.ImageModel,
	})
	if errors.Is(err, jobs.ErrInvalidConfig) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, job)
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.orch.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// RetryJob handles POST /api/jobs/{id}/retry
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.orch.Requeue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrJobActive), errors.Is(err, jobs.ErrJobCompleted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Health handles GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     reelsmith.Version,
		"processing":  h.orch.Processing(),
		"current_job": h.orch.CurrentJob(),
	})
}

func logRequestError(r *http.Request, msg string, err error) {
	logger.Warn(msg, "method", r.Method, "path", r.URL.Path, "error", err)
}
