// internal/server/handlers/events.go

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulsemap/internal/domain/cluster"
	"pulsemap/internal/service/stream"
)

// StreamEvents serves the live cluster feed of a stream over
// server-sent events. The connection stays open until the client
// disconnects or the stream closes.
func (h *StreamHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, ok := h.registry.Get(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Stream not found", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	sub, err := st.Subscribe()
	if err != nil {
		if errors.Is(err, stream.ErrStopped) {
			respondWithError(w, http.StatusGone, "Stream already stopped", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to subscribe", err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Catch the subscriber up with the clusters that already exist
	// before relaying live events.
	backlog := st.Snapshots()
	for i := range backlog {
		writeSSEEvent(w, cluster.Event{Type: cluster.EventUpdate, Cluster: &backlog[i]})
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
			if ev.Type == cluster.EventClosed {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev cluster.Event) {
	if ev.Type == cluster.EventHeartbeat {
		fmt.Fprint(w, ": heartbeat\n\n")
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
