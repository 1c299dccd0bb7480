package stream

import (
	"log/slog"
	"sync"
)

// DefaultQueueSize is the per-subscriber queue depth used when a
// subscription is created with size <= 0.
const DefaultQueueSize = 64

// Registry is the in-memory fan-out directory for live streams. It maps a
// stream id to the set of subscriptions currently relaying that stream.
//
// Delivery to each subscriber goes through an independent bounded queue, so
// a slow session never blocks the producer or its sibling sessions: when a
// queue overflows the subscriber is dropped with [ErrSlowConsumer] and is
// expected to reconnect and backfill from the log.
type Registry struct {
	mu      sync.Mutex
	streams map[string]map[*Subscription]struct{}
}

// Subscription is one live fan-out attachment. Events arrive on C; after C
// is closed, Err reports why delivery stopped (nil for a normal terminal
// broadcast or unsubscribe).
type Subscription struct {
	streamID string
	ch       chan Event

	mu  sync.Mutex
	err error
}

// C returns the delivery channel. It is closed when the stream reaches a
// terminal status, the subscriber is dropped, or Unsubscribe is called.
func (s *Subscription) C() <-chan Event { return s.ch }

// StreamID returns the stream this subscription relays.
func (s *Subscription) StreamID() string { return s.streamID }

// Err reports why the subscription ended. Valid after C is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// NewRegistry creates an empty fan-out registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]map[*Subscription]struct{})}
}

// Subscribe attaches a new subscriber to a stream. queueSize bounds the
// subscriber's delivery queue; pass 0 for DefaultQueueSize.
//
// Subscribing does not consult the log: callers decide, based on stream
// status, whether a live subscription is appropriate or the log should be
// replayed instead.
func (r *Registry) Subscribe(streamID string, queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	sub := &Subscription{
		streamID: streamID,
		ch:       make(chan Event, queueSize),
	}
	r.mu.Lock()
	subs, ok := r.streams[streamID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		r.streams[streamID] = subs
	}
	subs[sub] = struct{}{}
	r.mu.Unlock()
	return sub
}

// Unsubscribe detaches a subscriber and closes its channel. Safe to call
// for a subscription that was already dropped or finished.
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sub)
}

// Publish delivers a chunk to every current subscriber of its stream.
// Publishing to a stream with no registry entry is a harmless no-op.
// A subscriber whose queue is full is dropped, not waited on.
func (r *Registry) Publish(c *Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.streams[c.StreamID]
	if !ok {
		return
	}
	for sub := range subs {
		select {
		case sub.ch <- Event{Chunk: c}:
		default:
			slog.Warn("stream: dropping slow subscriber",
				"stream_id", c.StreamID, "index", c.Index)
			sub.setErr(ErrSlowConsumer)
			r.removeLocked(sub)
		}
	}
}

// Finish broadcasts the terminal result to every subscriber of the stream,
// then clears the stream's entry. This is the only point at which the
// server side force-closes subscriptions.
func (r *Registry) Finish(streamID string, final Final) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.streams[streamID]
	if !ok {
		return
	}
	delete(r.streams, streamID)
	for sub := range subs {
		select {
		case sub.ch <- Event{Final: &final}:
		default:
			// Queue full right at the end: the session will observe the
			// closed channel, re-read the log and still see the final.
			sub.setErr(ErrSlowConsumer)
		}
		close(sub.ch)
	}
}

// Count returns the number of live subscriptions for a stream.
func (r *Registry) Count(streamID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams[streamID])
}

// removeLocked detaches sub and closes its channel. Caller holds r.mu.
func (r *Registry) removeLocked(sub *Subscription) {
	subs, ok := r.streams[sub.streamID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(r.streams, sub.streamID)
	}
	close(sub.ch)
}
