// internal/adapter/source/twitter_test.go

package source

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRecords(t *testing.T) {
	raw := &twitter.TweetRaw{
		Tweets: []*twitter.TweetObj{
			{
				ID:        "100",
				Text:      "explosion reported in mumbai",
				AuthorID:  "u1",
				CreatedAt: "2026-03-14T12:00:00Z",
				PublicMetrics: &twitter.TweetMetricsObj{
					Likes:    10,
					Retweets: 3,
					Replies:  2,
				},
			},
			{
				ID:       "101",
				Text:     "no metrics, unknown author",
				AuthorID: "u2",
			},
			nil,
		},
		Includes: &twitter.TweetRawIncludes{
			Users: []*twitter.UserObj{
				{ID: "u1", UserName: "asha"},
			},
		},
	}

	records := toRecords(raw)
	require.Len(t, records, 2)

	assert.Equal(t, "100", records[0].ID)
	assert.Equal(t, "explosion reported in mumbai", records[0].Text)
	assert.Equal(t, "asha", records[0].Author)
	assert.Equal(t, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), records[0].Timestamp)
	assert.Equal(t, uint(10), records[0].Likes)
	assert.Equal(t, uint(3), records[0].Reshares)
	assert.Equal(t, uint(2), records[0].Replies)
	assert.InDelta(t, 17.0, records[0].Popularity(), 1e-9)

	assert.Equal(t, "101", records[1].ID)
	assert.Equal(t, "", records[1].Author)
	assert.Zero(t, records[1].Likes)
}

func TestToRecordsNilRaw(t *testing.T) {
	assert.Empty(t, toRecords(nil))
}

func TestIsTerminal(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		err := fmt.Errorf("recent search: %w", &twitter.ErrorResponse{StatusCode: code})
		assert.True(t, isTerminal(err), "status %d", code)
	}

	assert.False(t, isTerminal(&twitter.ErrorResponse{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, isTerminal(&twitter.ErrorResponse{StatusCode: http.StatusInternalServerError}))
	assert.False(t, isTerminal(errors.New("connection reset")))
}

func TestBearerAuthorizer(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.twitter.com/2/tweets/search/recent", nil)
	require.NoError(t, err)

	bearerAuthorizer{token: "secret"}.Add(req)
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	assert.Equal(t, 2*time.Minute, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 60*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 100, cfg.PageSize)

	cfg = Config{PageSize: 5}
	cfg.applyDefaults()
	assert.Equal(t, 100, cfg.PageSize)
}
