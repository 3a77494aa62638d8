// internal/service/enrich/gemini_test.go

package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiReply(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + jsonString(text) + `}]}}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestGemini(serverURL string) *GeminiClient {
	c := NewGeminiClient("test-key", "test-model")
	c.baseURL = serverURL
	return c
}

func TestGeminiInferLocation(t *testing.T) {
	var captured generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(geminiReply("Mumbai")))
	}))
	defer server.Close()

	client := newTestGemini(server.URL)
	location, err := client.InferLocation(context.Background(), "explosion near the station")
	require.NoError(t, err)
	assert.Equal(t, "mumbai", location)
	assert.InDelta(t, 0.2, captured.GenerationConfig.Temperature, 1e-9)
	assert.Equal(t, 100, captured.GenerationConfig.MaxOutputTokens)
}

func TestGeminiInferLocationUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiReply("unknown")))
	}))
	defer server.Close()

	client := newTestGemini(server.URL)
	location, err := client.InferLocation(context.Background(), "nothing to see")
	require.NoError(t, err)
	assert.Equal(t, "", location)
}

func TestGeminiInferLocationNormalizesAliases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiReply("Bombay")))
	}))
	defer server.Close()

	client := newTestGemini(server.URL)
	location, err := client.InferLocation(context.Background(), "traffic jam in bombay")
	require.NoError(t, err)
	assert.Equal(t, "mumbai", location)
}

func TestGeminiInferTopicFallsBackToGeneral(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`)) // empty candidate list
	}))
	defer server.Close()

	client := newTestGemini(server.URL)
	topic, err := client.InferTopic(context.Background(), "some post")
	require.NoError(t, err)
	assert.Equal(t, "general", topic)
}

func TestGeminiErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestGemini(server.URL)
	_, err := client.InferLocation(context.Background(), "some post")
	assert.Error(t, err)
}

func TestGeminiSkipsEmptyText(t *testing.T) {
	client := NewGeminiClient("key", "")

	location, err := client.InferLocation(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, "", location)

	topic, err := client.InferTopic(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "general", topic)
}

func TestCleanResponse(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"Mumbai", "mumbai"},
		{`"mumbai"`, "mumbai"},
		{"Location: Mumbai", "mumbai"},
		{"The topic is: bomb blast", "bomb blast"},
		{"mumbai. The post mentions an explosion there", "mumbai"},
		{"  bomb   blast  ", "bomb blast"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cleanResponse(tc.raw), "raw %q", tc.raw)
	}
}
