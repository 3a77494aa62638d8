// internal/server/handlers/stream.go

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pulsemap/internal/service/stream"
)

// StreamHandler handles stream-related HTTP requests
type StreamHandler struct {
	registry *stream.Registry
	log      *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(registry *stream.Registry, log *slog.Logger) *StreamHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StreamHandler{
		registry: registry,
		log:      log,
	}
}

type startStreamRequest struct {
	Query string `json:"query"`
}

type streamResponse struct {
	StreamID     string    `json:"stream_id"`
	Query        string    `json:"query"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	ClusterCount int       `json:"cluster_count"`
}

func toStreamResponse(st *stream.Stream) streamResponse {
	return streamResponse{
		StreamID:     st.ID(),
		Query:        st.Query(),
		Status:       string(st.Status()),
		StartedAt:    st.StartedAt(),
		ClusterCount: st.ClusterCount(),
	}
}

// StartStream launches a new ingestion stream for a query
func (h *StreamHandler) StartStream(w http.ResponseWriter, r *http.Request) {
	var req startStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Query == "" {
		respondWithError(w, http.StatusBadRequest, "Missing query", nil)
		return
	}

	st := h.registry.StartStream(req.Query)
	h.log.Info("stream started", "stream_id", st.ID(), "query", req.Query)

	respondWithJSON(w, http.StatusCreated, toStreamResponse(st))
}

// ListStreams returns all active streams
func (h *StreamHandler) ListStreams(w http.ResponseWriter, r *http.Request) {
	streams := h.registry.List()

	resp := make([]streamResponse, 0, len(streams))
	for _, st := range streams {
		resp = append(resp, toStreamResponse(st))
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// GetStream returns a specific stream by ID
func (h *StreamHandler) GetStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, ok := h.registry.Get(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Stream not found", nil)
		return
	}

	respondWithJSON(w, http.StatusOK, toStreamResponse(st))
}

// StopStream stops a running stream
func (h *StreamHandler) StopStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !h.registry.StopStream(id) {
		respondWithError(w, http.StatusNotFound, "Stream not found", nil)
		return
	}

	h.log.Info("stream stop requested", "stream_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetClusters returns the current cluster snapshots for a stream
func (h *StreamHandler) GetClusters(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, ok := h.registry.Get(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Stream not found", nil)
		return
	}

	respondWithJSON(w, http.StatusOK, st.Snapshots())
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["detail"] = err.Error()
	}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}
