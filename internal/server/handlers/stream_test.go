// internal/server/handlers/stream_test.go

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemap/internal/domain/feed"
	"pulsemap/internal/service/stream"
)

type stubSource struct {
	records chan feed.Record
}

func (s *stubSource) Subscribe(ctx context.Context, query string) (<-chan feed.Record, <-chan error) {
	errs := make(chan error)
	close(errs)
	return s.records, errs
}

type stubEnricher struct{}

func (stubEnricher) Enrich(ctx context.Context, rec feed.Record) (feed.EnrichedRecord, error) {
	return feed.EnrichedRecord{Record: rec, Location: "mumbai", Topic: "blast"}, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, location string) (feed.Coordinates, bool, error) {
	return feed.Coordinates{Lat: 19.0, Lon: 72.8}, true, nil
}

func newTestRouter(t *testing.T) (*chi.Mux, *stream.Registry, *stubSource) {
	t.Helper()

	source := &stubSource{records: make(chan feed.Record, 16)}
	registry := stream.NewRegistry(source, stubEnricher{}, stubResolver{}, nil, stream.Config{
		QueueCap:          16,
		HeartbeatInterval: time.Hour,
	}, nil)

	h := NewStreamHandler(registry, nil)

	router := chi.NewRouter()
	router.Route("/api/v1/streams", func(r chi.Router) {
		r.Post("/", h.StartStream)
		r.Get("/", h.ListStreams)
		r.Get("/{id}", h.GetStream)
		r.Delete("/{id}", h.StopStream)
		r.Get("/{id}/clusters", h.GetClusters)
		r.Get("/{id}/events", h.StreamEvents)
	})
	return router, registry, source
}

func startStream(t *testing.T, router http.Handler, query string) streamResponse {
	t.Helper()

	body, _ := json.Marshal(startStreamRequest{Query: query})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/streams", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp streamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestStartStream(t *testing.T) {
	router, registry, _ := newTestRouter(t)

	resp := startStream(t, router, "mumbai blast")
	defer registry.StopStream(resp.StreamID)

	assert.NotEmpty(t, resp.StreamID)
	assert.Equal(t, "mumbai blast", resp.Query)
	assert.Equal(t, string(stream.StatusRunning), resp.Status)
}

func TestStartStreamRejectsEmptyQuery(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/streams", strings.NewReader(`{"query":""}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartStreamRejectsBadBody(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/streams", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndListStreams(t *testing.T) {
	router, registry, _ := newTestRouter(t)

	created := startStream(t, router, "q")
	defer registry.StopStream(created.StreamID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams/"+created.StreamID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got streamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.StreamID, got.StreamID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/streams", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []streamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.StreamID, list[0].StreamID)
}

func TestGetStreamNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopStream(t *testing.T) {
	router, _, _ := newTestRouter(t)

	created := startStream(t, router, "q")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/streams/"+created.StreamID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Once stopped and deregistered, the id is gone.
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/streams/"+created.StreamID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetClusters(t *testing.T) {
	router, registry, source := newTestRouter(t)

	created := startStream(t, router, "q")
	defer registry.StopStream(created.StreamID)

	source.records <- feed.Record{ID: "1", Text: "post", Author: "a", Timestamp: time.Now(), Likes: 2}

	require.Eventually(t, func() bool {
		st, ok := registry.Get(created.StreamID)
		return ok && st.ClusterCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams/"+created.StreamID+"/clusters", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var clusters []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clusters))
	require.Len(t, clusters, 1)
	assert.Equal(t, "mumbai", clusters[0]["location"])
	assert.Equal(t, "blast", clusters[0]["topic"])
}

func TestStreamEventsSSE(t *testing.T) {
	router, registry, source := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	created := startStream(t, router, "q")
	defer registry.StopStream(created.StreamID)

	source.records <- feed.Record{ID: "1", Text: "post", Author: "a", Timestamp: time.Now(), Likes: 1}
	require.Eventually(t, func() bool {
		st, ok := registry.Get(created.StreamID)
		return ok && st.ClusterCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		server.URL+"/api/v1/streams/"+created.StreamID+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The existing cluster arrives as the catch-up frame.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			Type    string `json:"type"`
			Cluster struct {
				Location string `json:"location"`
			} `json:"cluster"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		assert.Equal(t, "update", ev.Type)
		assert.Equal(t, "mumbai", ev.Cluster.Location)
		return
	}
	t.Fatal("no data frame received")
}

func TestStreamEventsUnknownStream(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams/nope/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
