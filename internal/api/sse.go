package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reelsmith/reelsmith/internal/events"
)

// ProjectStream handles GET /api/projects/{id}/stream (SSE endpoint)
// Cached project state is replayed first, then live events follow.
func (h *Handler) ProjectStream(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.broadcaster.Attach(projectID)
	defer sub.Close()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				logRequestError(r, "Failed to write event", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		// Skip unencodable payloads rather than dropping the stream.
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
