// internal/domain/feed/model.go

package feed

import (
	"context"
	"time"
)

// Record is a single post pulled from a social source. Immutable once
// produced; identity is ID.
type Record struct {
	ID        string
	Text      string
	Author    string
	Timestamp time.Time
	Likes     uint
	Reshares  uint
	Replies   uint
}

// Popularity returns the weighted engagement score of the record:
// likes + 2*reshares + 0.5*replies.
func (r Record) Popularity() float64 {
	return float64(r.Likes) + 2*float64(r.Reshares) + 0.5*float64(r.Replies)
}

// Coordinates is a geographic point.
type Coordinates struct {
	Lat float64
	Lon float64
}

// EnrichedRecord is a record with an inferred location, topic and geocoded
// coordinates attached. Records for which geocoding failed carry
// HasCoordinates=false and are never clustered.
type EnrichedRecord struct {
	Record
	Location       string
	Topic          string
	Coordinates    Coordinates
	HasCoordinates bool
}

// Source produces a continuous, possibly duplicate, possibly out-of-order
// sequence of records matching a query. Implementations own reconnection:
// transient failures are retried internally with backoff, while a terminal
// failure is reported once on the error channel, after which both channels
// are closed. Cancelling the context ends the subscription.
type Source interface {
	Subscribe(ctx context.Context, query string) (<-chan Record, <-chan error)
}
