// internal/adapter/source/twitter.go

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	twitter "github.com/g8rswimmer/go-twitter/v2"

	"pulsemap/internal/domain/feed"
)

// Config contains configuration for the Twitter source.
type Config struct {
	// PollInterval is the delay between search requests once caught up.
	PollInterval time.Duration

	// InitialBackoff and MaxBackoff bound the reconnect backoff applied
	// after transient search failures.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// PageSize is the max_results per search request (10..100).
	PageSize int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Minute
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.PageSize < 10 || c.PageSize > 100 {
		c.PageSize = 100
	}
}

type bearerAuthorizer struct {
	token string
}

func (a bearerAuthorizer) Add(req *http.Request) {
	req.Header.Add("Authorization", "Bearer "+a.token)
}

// TwitterSource streams tweets matching a query through the v2 recent
// search API, polling with a since-id cursor. It implements feed.Source.
type TwitterSource struct {
	client *twitter.Client
	config Config
	log    *slog.Logger
}

// NewTwitterSource creates a source authenticated with an app bearer token.
func NewTwitterSource(bearerToken string, config Config, log *slog.Logger) *TwitterSource {
	config.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &TwitterSource{
		client: &twitter.Client{
			Authorizer: bearerAuthorizer{token: bearerToken},
			Client:     &http.Client{Timeout: time.Second * 10},
			Host:       "https://api.twitter.com",
		},
		config: config,
		log:    log,
	}
}

// Subscribe starts polling the recent search endpoint for the query.
// Transient failures are retried with exponential backoff without losing
// the set of already-emitted ids; a terminal failure (revoked credentials,
// rejected query) is sent on the error channel and ends the subscription.
func (s *TwitterSource) Subscribe(ctx context.Context, query string) (<-chan feed.Record, <-chan error) {
	records := make(chan feed.Record)
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)

		emitted := make(map[string]struct{})
		var sinceID string

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = s.config.InitialBackoff
		bo.MaxInterval = s.config.MaxBackoff
		bo.RandomizationFactor = 0.2
		bo.MaxElapsedTime = 0 // transient failures retry indefinitely

		for {
			batch, newest, err := s.search(ctx, query, sinceID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if isTerminal(err) {
					errs <- err
					return
				}
				wait := bo.NextBackOff()
				s.log.Warn("search failed, backing off",
					"query", query, "wait", wait, "error", err)
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return
				}
			}
			bo.Reset()

			if newest != "" {
				sinceID = newest
			}

			for _, rec := range batch {
				if _, seen := emitted[rec.ID]; seen {
					continue
				}
				emitted[rec.ID] = struct{}{}
				select {
				case records <- rec:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-time.After(s.config.PollInterval):
			case <-ctx.Done():
				return
			}
		}
	}()

	return records, errs
}

func (s *TwitterSource) search(ctx context.Context, query, sinceID string) ([]feed.Record, string, error) {
	opts := twitter.TweetRecentSearchOpts{
		MaxResults: s.config.PageSize,
		TweetFields: []twitter.TweetField{
			twitter.TweetFieldCreatedAt,
			twitter.TweetFieldAuthorID,
			twitter.TweetFieldPublicMetrics,
		},
		Expansions: []twitter.Expansion{twitter.ExpansionAuthorID},
		UserFields: []twitter.UserField{twitter.UserFieldUserName},
	}
	if sinceID != "" {
		opts.SinceID = sinceID
	}

	resp, err := s.client.TweetRecentSearch(ctx, query, opts)
	if err != nil {
		return nil, "", fmt.Errorf("recent search: %w", err)
	}

	var newest string
	if resp.Meta != nil {
		newest = resp.Meta.NewestID
	}
	return toRecords(resp.Raw), newest, nil
}

// toRecords maps raw search results onto feed records, resolving author
// usernames from the user expansion.
func toRecords(raw *twitter.TweetRaw) []feed.Record {
	if raw == nil {
		return nil
	}

	authors := make(map[string]string)
	if raw.Includes != nil {
		for _, u := range raw.Includes.Users {
			if u != nil {
				authors[u.ID] = u.UserName
			}
		}
	}

	records := make([]feed.Record, 0, len(raw.Tweets))
	for _, t := range raw.Tweets {
		if t == nil {
			continue
		}
		rec := feed.Record{
			ID:     t.ID,
			Text:   t.Text,
			Author: authors[t.AuthorID],
		}
		if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
			rec.Timestamp = ts
		}
		if t.PublicMetrics != nil {
			rec.Likes = uint(t.PublicMetrics.Likes)
			rec.Reshares = uint(t.PublicMetrics.Retweets)
			rec.Replies = uint(t.PublicMetrics.Replies)
		}
		records = append(records, rec)
	}
	return records
}

// isTerminal reports whether a search error cannot be retried: revoked or
// invalid credentials, or a query the API rejects outright.
func isTerminal(err error) bool {
	var apiErr *twitter.ErrorResponse
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}
