// internal/service/stream/registry.go

package stream

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"pulsemap/internal/domain/feed"
)

var (
	// ErrStreamNotFound reports an unknown stream id.
	ErrStreamNotFound = errors.New("stream: not found")

	// ErrStopped reports an operation on an already stopped stream.
	ErrStopped = errors.New("stream: stopped")
)

// Registry is the process-wide table of active streams. Every stream it
// creates shares the same source, enricher and geo resolver, so geocoding
// results and the rate gate are shared across streams while cluster state
// stays private to each.
type Registry struct {
	source   feed.Source
	enricher Enricher
	geo      GeoResolver
	eventBus *nats.Conn // optional, may be nil
	config   Config
	log      *slog.Logger

	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty registry.
func NewRegistry(
	source feed.Source,
	enricher Enricher,
	geo GeoResolver,
	eventBus *nats.Conn,
	config Config,
	log *slog.Logger,
) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		source:   source,
		enricher: enricher,
		geo:      geo,
		eventBus: eventBus,
		config:   config,
		log:      log,
		streams:  make(map[string]*Stream),
	}
}

// StartStream creates and starts a new stream for a query. Each call
// creates a new stream; there is no idempotent reuse.
func (r *Registry) StartStream(query string) *Stream {
	id := uuid.New().String()
	st := newStream(id, query, r.source, r.enricher, r.geo, r.eventBus,
		r.config, r.log.With("stream_id", id))

	r.mu.Lock()
	r.streams[id] = st
	r.mu.Unlock()

	st.start()

	// The entry leaves the table only once the stream is fully stopped.
	go func() {
		<-st.Done()
		r.mu.Lock()
		delete(r.streams, id)
		r.mu.Unlock()
	}()

	r.log.Info("stream created", "stream_id", id, "query", query)
	return st
}

// Get returns the stream for an id, if it is still registered.
func (r *Registry) Get(id string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.streams[id]
	return st, ok
}

// List returns all registered streams, oldest first.
func (r *Registry) List() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.streams))
	for _, st := range r.streams {
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt().Before(out[j].StartedAt())
	})
	return out
}

// StopStream requests a stop for a stream. Returns false when the id is
// unknown or the stream has already stopped.
func (r *Registry) StopStream(id string) bool {
	r.mu.RLock()
	st, ok := r.streams[id]
	r.mu.RUnlock()

	if !ok || st.Status() == StatusStopped {
		return false
	}
	st.Stop()
	return true
}

// Shutdown stops every stream and waits for them to finish or the context
// to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, st := range r.streams {
		streams = append(streams, st)
	}
	r.mu.RUnlock()

	for _, st := range streams {
		st.Stop()
	}
	for _, st := range streams {
		select {
		case <-st.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
