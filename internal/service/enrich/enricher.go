// internal/service/enrich/enricher.go

package enrich

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"pulsemap/internal/domain/feed"
)

// LocationInferrer extracts the most likely real-world location a text
// refers to. An empty result is a valid, non-fatal outcome meaning no
// location could be inferred.
type LocationInferrer interface {
	InferLocation(ctx context.Context, text string) (string, error)
}

// TopicInferrer extracts the main topic of a text. An empty or generic
// result is valid and non-fatal.
type TopicInferrer interface {
	InferTopic(ctx context.Context, text string) (string, error)
}

// Config contains configuration for the enricher.
type Config struct {
	// CallTimeout bounds each external inference call so a stuck
	// collaborator cannot delay stream shutdown.
	CallTimeout time.Duration
}

// Enricher attaches an inferred location and topic to records. The two
// inference calls run concurrently per record; geocoding is the caller's
// concern and left untouched here.
type Enricher struct {
	locations LocationInferrer
	topics    TopicInferrer
	config    Config
}

// NewEnricher creates a new enricher.
func NewEnricher(locations LocationInferrer, topics TopicInferrer, config Config) *Enricher {
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}
	return &Enricher{
		locations: locations,
		topics:    topics,
		config:    config,
	}
}

// Enrich infers location and topic for a record. Any failure or timeout of
// either call fails the whole record; callers drop such records without
// retrying them.
func (e *Enricher) Enrich(ctx context.Context, rec feed.Record) (feed.EnrichedRecord, error) {
	var location, topic string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, e.config.CallTimeout)
		defer cancel()
		loc, err := e.locations.InferLocation(cctx, rec.Text)
		if err != nil {
			return fmt.Errorf("infer location: %w", err)
		}
		location = loc
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, e.config.CallTimeout)
		defer cancel()
		top, err := e.topics.InferTopic(cctx, rec.Text)
		if err != nil {
			return fmt.Errorf("infer topic: %w", err)
		}
		topic = top
		return nil
	})
	if err := g.Wait(); err != nil {
		return feed.EnrichedRecord{}, err
	}

	return feed.EnrichedRecord{
		Record:   rec,
		Location: location,
		Topic:    topic,
	}, nil
}
