package viewer

import "sync"

// Hub coordinates multiple consumers of the same stream inside one client
// process. Exactly one handle per stream id is driven at any time — that
// consumer owns the live transport and pays the reconnection cost — while
// the rest read the shared Reassembler passively. Promotion and demotion
// are purely local decisions; the server is never involved.
type Hub struct {
	mu      sync.Mutex
	entries map[string]*hubEntry
}

type hubEntry struct {
	rs      *Reassembler
	handles map[*Handle]struct{}
	driven  *Handle
}

// Handle is one consumer's claim on a stream.
type Handle struct {
	hub      *Hub
	streamID string
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{entries: make(map[string]*hubEntry)}
}

// Acquire registers a consumer for a stream. The first consumer of an id
// becomes driven; later ones are passive until promoted.
func (h *Hub) Acquire(streamID string) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[streamID]
	if !ok {
		e = &hubEntry{
			rs:      NewReassembler(),
			handles: make(map[*Handle]struct{}),
		}
		h.entries[streamID] = e
	}
	handle := &Handle{hub: h, streamID: streamID}
	e.handles[handle] = struct{}{}
	if e.driven == nil {
		e.driven = handle
	}
	return handle
}

// Release drops a consumer's claim. Releasing the driven handle promotes
// one of the remaining passive handles; releasing the last handle discards
// the shared state entirely.
func (h *Hub) Release(handle *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[handle.streamID]
	if !ok {
		return
	}
	if _, ok := e.handles[handle]; !ok {
		return
	}
	delete(e.handles, handle)
	if len(e.handles) == 0 {
		delete(h.entries, handle.streamID)
		return
	}
	if e.driven == handle {
		for next := range e.handles {
			e.driven = next
			break
		}
	}
}

// Refs returns the number of live handles for a stream.
func (h *Hub) Refs(streamID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[streamID]
	if !ok {
		return 0
	}
	return len(e.handles)
}

// Driven reports whether this handle currently owns the live transport.
// Consumers re-check after any mount/unmount in their process.
func (hd *Handle) Driven() bool {
	hd.hub.mu.Lock()
	defer hd.hub.mu.Unlock()
	e, ok := hd.hub.entries[hd.streamID]
	return ok && e.driven == hd
}

// Reassembler returns the shared per-stream view. All handles of one
// stream observe the same instance.
func (hd *Handle) Reassembler() *Reassembler {
	hd.hub.mu.Lock()
	defer hd.hub.mu.Unlock()
	e, ok := hd.hub.entries[hd.streamID]
	if !ok {
		return nil
	}
	return e.rs
}

// StreamID returns the stream this handle observes.
func (hd *Handle) StreamID() string { return hd.streamID }
