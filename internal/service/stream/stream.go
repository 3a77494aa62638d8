// internal/service/stream/stream.go

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"pulsemap/internal/domain/cluster"
	"pulsemap/internal/domain/feed"
)

// Status is the lifecycle state of a stream. Transitions are
// running -> stopping -> stopped, with running -> stopped directly on a
// fatal source error. stopped is terminal.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

// Enricher attaches an inferred location and topic to a record.
type Enricher interface {
	Enrich(ctx context.Context, rec feed.Record) (feed.EnrichedRecord, error)
}

// GeoResolver resolves a normalized (lowercase, trimmed) location name to
// coordinates through the shared cache and rate gate. found=false means the
// name cannot be geocoded.
type GeoResolver interface {
	Resolve(ctx context.Context, location string) (feed.Coordinates, bool, error)
}

// Config contains configuration shared by all streams.
type Config struct {
	QueueCap          int
	HeartbeatInterval time.Duration
	MemberCap         int

	// EventsSubject is the NATS subject prefix for the optional event bus
	// mirror, e.g. "stream" publishes to stream.<id>.clusters.
	EventsSubject string
}

func (c *Config) applyDefaults() {
	if c.QueueCap <= 0 {
		c.QueueCap = defaultQueueCap
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.MemberCap <= 0 {
		c.MemberCap = cluster.DefaultMemberCap
	}
	if c.EventsSubject == "" {
		c.EventsSubject = "stream"
	}
}

// Stream owns one source subscription, one cluster aggregator and one
// event broker. The seen-id set and the aggregator are touched only by the
// ingestion goroutine; everything exposed to other goroutines goes through
// the broker, the snapshot read model or the status mutex.
type Stream struct {
	id      string
	query   string
	started time.Time

	source   feed.Source
	enricher Enricher
	geo      GeoResolver
	broker   *Broker
	eventBus *nats.Conn // optional mirror, may be nil
	config   Config
	log      *slog.Logger

	aggregator *cluster.Aggregator
	seen       map[string]struct{}

	mu        sync.Mutex
	status    Status
	snapshots map[string]cluster.Snapshot

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newStream(
	id string,
	query string,
	source feed.Source,
	enricher Enricher,
	geo GeoResolver,
	eventBus *nats.Conn,
	config Config,
	log *slog.Logger,
) *Stream {
	config.applyDefaults()

	return &Stream{
		id:         id,
		query:      query,
		started:    time.Now(),
		source:     source,
		enricher:   enricher,
		geo:        geo,
		broker:     NewBroker(config.QueueCap, config.HeartbeatInterval, log),
		eventBus:   eventBus,
		config:     config,
		log:        log,
		aggregator: cluster.NewAggregator(id, config.MemberCap),
		seen:       make(map[string]struct{}),
		status:     StatusRunning,
		snapshots:  make(map[string]cluster.Snapshot),
		done:       make(chan struct{}),
	}
}

func (s *Stream) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// ID returns the stream id.
func (s *Stream) ID() string { return s.id }

// Query returns the search query the stream was created for.
func (s *Stream) Query() string { return s.query }

// StartedAt returns the creation time of the stream.
func (s *Stream) StartedAt() time.Time { return s.started }

// Status returns the current lifecycle state.
func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed once the stream has fully stopped.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Stop requests a cooperative shutdown. The ingestion loop exits at the
// next checkpoint between records; an in-flight record either fully folds
// or is abandoned before folding. Idempotent.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.setStatus(StatusStopping)
		s.cancel()
	})
}

// Subscribe attaches a new event subscriber, or returns ErrStopped when
// the stream has already stopped.
func (s *Stream) Subscribe() (*Subscriber, error) {
	sub := s.broker.Subscribe()
	if sub == nil {
		return nil, ErrStopped
	}
	return sub, nil
}

// Snapshots returns the current snapshot of every cluster, ordered by
// cluster id. Late subscribers use this to catch up before consuming the
// live event stream.
func (s *Stream) Snapshots() []cluster.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]cluster.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ClusterCount returns the number of clusters the stream has created.
func (s *Stream) ClusterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func (s *Stream) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStopped {
		return
	}
	s.status = st
}

// run is the ingestion loop: the only goroutine that reads the source,
// mutates seen ids and folds into the aggregator.
func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	records, errs := s.source.Subscribe(ctx, s.query)

	for {
		select {
		case <-ctx.Done():
			s.finish()
			return
		case err, ok := <-errs:
			if !ok {
				// Error channel closed without a terminal error; keep
				// draining records until their channel closes too.
				errs = nil
				continue
			}
			if err != nil {
				// Fatal source failure: the stream dies and subscribers
				// receive the terminal event.
				s.log.Error("source failed", "error", err)
				s.finish()
				return
			}
		case rec, ok := <-records:
			if !ok {
				s.finish()
				return
			}
			s.ingest(ctx, rec)
		}
	}
}

// ingest processes one record: dedupe, enrich, geocode, fold, emit.
func (s *Stream) ingest(ctx context.Context, rec feed.Record) {
	if _, dup := s.seen[rec.ID]; dup {
		return
	}
	// Marked before enriching: a record that fails enrichment must never
	// be retried or reprocessed.
	s.seen[rec.ID] = struct{}{}

	enriched, err := s.enricher.Enrich(ctx, rec)
	if err != nil {
		s.log.Warn("enrichment failed, dropping record", "record_id", rec.ID, "error", err)
		return
	}

	location := cluster.Normalize(enriched.Location)
	coords, found, err := s.geo.Resolve(ctx, location)
	if err != nil {
		s.log.Warn("geocoding failed, dropping record", "record_id", rec.ID, "location", location, "error", err)
		return
	}
	if !found {
		return
	}
	enriched.Coordinates = coords
	enriched.HasCoordinates = true

	if ctx.Err() != nil {
		// Stop was requested mid-record: abandon before folding so no
		// partial cluster mutation is observable.
		return
	}

	snap := s.aggregator.Fold(enriched)

	s.mu.Lock()
	s.snapshots[snap.ID] = snap
	s.mu.Unlock()

	ev := cluster.Event{Type: cluster.EventUpdate, Cluster: &snap}
	s.broker.Publish(ev)
	s.publishToBus(ev)
}

// finish transitions the stream to stopped and delivers the terminal event.
func (s *Stream) finish() {
	s.cancel()
	s.setStatus(StatusStopped)
	s.broker.Close()
	s.publishLifecycle("closed")
	s.log.Info("stream stopped", "clusters", s.aggregator.Size())
}

func (s *Stream) publishToBus(ev cluster.Event) {
	if s.eventBus == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s.%s.clusters", s.config.EventsSubject, s.id)
	if err := s.eventBus.Publish(subject, data); err != nil {
		s.log.Warn("event bus publish failed", "error", err)
	}
}

func (s *Stream) publishLifecycle(stage string) {
	if s.eventBus == nil {
		return
	}
	data, err := json.Marshal(map[string]string{"stream_id": s.id, "stage": stage})
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s.%s.lifecycle", s.config.EventsSubject, s.id)
	if err := s.eventBus.Publish(subject, data); err != nil {
		s.log.Warn("event bus publish failed", "error", err)
	}
}
