package api

import (
	"net/http"
)

// registerAPIRoutes registers all API endpoints on the given mux
func registerAPIRoutes(mux *http.ServeMux, h *Handler) {
	// Generation jobs
	mux.HandleFunc("POST /api/projects/{id}/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/projects/{id}/stream", h.ProjectStream)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/jobs/{id}/retry", h.RetryJob)

	// Rendering
	mux.HandleFunc("POST /api/projects/{id}/render", h.RenderProject)
	mux.HandleFunc("POST /api/render", h.RenderTimeline)

	// Misc
	mux.HandleFunc("GET /api/health", h.Health)
}

// NewRouter creates a new HTTP router with all API endpoints
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	registerAPIRoutes(mux, h)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("Reelsmith API"))
	})

	return mux
}
