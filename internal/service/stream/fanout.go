// internal/service/stream/fanout.go

package stream

import (
	"log/slog"
	"sync"
	"time"

	"pulsemap/internal/domain/cluster"
)

const (
	defaultQueueCap          = 64
	defaultHeartbeatInterval = 15 * time.Second
)

// coalesceKey groups events within a subscriber queue: update events
// coalesce per cluster, heartbeats with each other. Coalescing is lossless
// because every update carries a full snapshot.
func coalesceKey(ev cluster.Event) string {
	if ev.Type == cluster.EventUpdate && ev.Cluster != nil {
		return "cluster:" + ev.Cluster.ID
	}
	return string(ev.Type)
}

// Broker fans one stream's events out to any number of subscribers, each
// with its own bounded, coalescing queue. Publishing never blocks the
// stream: when a subscriber's queue is full the oldest event is dropped,
// and a newer event for an already-queued cluster replaces the queued one
// in place. A heartbeat is published even when no clusters change so
// transports can detect dead connections.
type Broker struct {
	queueCap          int
	heartbeatInterval time.Duration
	log               *slog.Logger

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewBroker creates a broker and starts its heartbeat loop.
func NewBroker(queueCap int, heartbeatInterval time.Duration, log *slog.Logger) *Broker {
	if queueCap <= 0 {
		queueCap = defaultQueueCap
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	if log == nil {
		log = slog.Default()
	}

	b := &Broker{
		queueCap:          queueCap,
		heartbeatInterval: heartbeatInterval,
		log:               log,
		subs:              make(map[*Subscriber]struct{}),
		done:              make(chan struct{}),
	}

	b.wg.Add(1)
	go b.heartbeatLoop()

	return b
}

func (b *Broker) heartbeatLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.Publish(cluster.Event{Type: cluster.EventHeartbeat})
		}
	}
}

// Subscribe attaches a new subscriber, which starts receiving events
// immediately. Returns nil if the broker has already closed.
func (b *Broker) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	sub := newSubscriber(b)
	b.subs[sub] = struct{}{}
	return sub
}

// Publish enqueues an event for every live subscriber. Never blocks.
func (b *Broker) Publish(ev cluster.Event) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(ev)
	}
}

// Close delivers a final closed event to every attached subscriber and
// shuts the broker down. Idempotent.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*Subscriber]struct{})
	b.mu.Unlock()

	close(b.done)
	for _, s := range subs {
		s.finish()
	}
	b.wg.Wait()
}

func (b *Broker) detach(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscriber is one attached event consumer. Events are read from
// Events(); Close detaches and releases the queue. A subscriber that stops
// reading never affects the stream or other subscribers: its queue absorbs,
// coalesces and drops while the delivery goroutine waits on it.
type Subscriber struct {
	broker *Broker

	mu       sync.Mutex
	queue    []cluster.Event
	index    map[string]int // coalesce key -> queue position
	draining bool           // terminal event enqueued; close out once drained

	notify chan struct{}
	quit   chan struct{}
	out    chan cluster.Event
	once   sync.Once
}

func newSubscriber(b *Broker) *Subscriber {
	s := &Subscriber{
		broker: b,
		index:  make(map[string]int),
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan cluster.Event),
	}
	go s.pump()
	return s
}

// Events returns the subscriber's delivery channel. It closes after the
// stream's terminal event has been delivered, or after Close.
func (s *Subscriber) Events() <-chan cluster.Event {
	return s.out
}

// Close detaches the subscriber and releases its queue. Idempotent; safe
// to call concurrently with delivery.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.broker.detach(s)
		close(s.quit)
	})
}

// finish queues the terminal event and seals the queue in one step, so no
// late publisher can slip an event in behind it.
func (s *Subscriber) finish() {
	s.mu.Lock()
	if !s.draining {
		s.append(cluster.Event{Type: cluster.EventClosed})
		s.draining = true
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscriber) enqueue(ev cluster.Event) {
	s.mu.Lock()
	if s.draining {
		// The terminal event is already queued; it must be the last
		// event the subscriber observes.
		s.mu.Unlock()
		return
	}
	s.append(ev)
	s.mu.Unlock()
	s.wake()
}

// append adds an event to the queue, coalescing and dropping the oldest on
// overflow. Caller holds s.mu.
func (s *Subscriber) append(ev cluster.Event) {
	key := coalesceKey(ev)
	if pos, ok := s.index[key]; ok {
		// Last write wins per cluster; position is preserved.
		s.queue[pos] = ev
		return
	}
	if len(s.queue) >= s.broker.queueCap {
		// Overflow drops the oldest queued event, never the newest.
		dropped := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.index, coalesceKey(dropped))
		for k, p := range s.index {
			s.index[k] = p - 1
		}
	}
	s.index[key] = len(s.queue)
	s.queue = append(s.queue, ev)
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		var ev cluster.Event
		ok := false
		if len(s.queue) > 0 {
			ev = s.queue[0]
			s.queue = s.queue[1:]
			delete(s.index, coalesceKey(ev))
			for k, p := range s.index {
				s.index[k] = p - 1
			}
			ok = true
		} else if s.draining {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.quit:
				return
			}
		}

		// Block on this consumer only; the queue keeps absorbing and
		// coalescing behind the send.
		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}
