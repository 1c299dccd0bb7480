// Package viewer implements the client side of stream relay: reassembling
// possibly-duplicated, possibly-reordered fragments into a monotonically
// growing text view, holding the live transport with bounded reconnection,
// and coordinating multiple consumers of the same stream inside one client
// process so only one of them pays for a connection.
package viewer

import (
	"strings"
	"sync"

	"github.com/inkwellhq/relay/go/pkg/stream"
)

// Reassembler turns fragment deliveries into a text view that only ever
// grows. Fragments are stored keyed by index; the visible text is the
// concatenation of the contiguous prefix starting at index 0, so a hole
// blocks display of everything behind it until backfilled rather than
// silently skipping content.
type Reassembler struct {
	mu       sync.Mutex
	parts    map[uint64]string
	terminal bool
	status   stream.Status
	final    string
	errMsg   string
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{parts: map[uint64]string{}}
}

// OnFragment records one fragment. Re-delivery of an already-seen index is
// a no-op: the log guarantees payload immutability per index, so the first
// payload wins. Fragments arriving after the terminal event are ignored.
func (r *Reassembler) OnFragment(index uint64, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return
	}
	if _, ok := r.parts[index]; ok {
		return
	}
	r.parts[index] = payload
}

// OnTerminal freezes the view. For a complete stream the authoritative
// final payload replaces the local reconstruction (they differ only if a
// fragment was dropped and never backfilled). For an error the message is
// kept alongside whatever text was already reassembled.
func (r *Reassembler) OnTerminal(status stream.Status, finalPayload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return
	}
	r.terminal = true
	r.status = status
	if status == stream.StatusError {
		r.errMsg = finalPayload
	} else {
		r.final = finalPayload
	}
}

// Text returns the current view: the authoritative final text once the
// stream completed, otherwise the contiguous reassembled prefix.
func (r *Reassembler) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal && r.status == stream.StatusComplete {
		return r.final
	}
	return r.prefixLocked()
}

// HighWater returns the highest index of the contiguous prefix, or -1 when
// nothing contiguous has arrived yet. This is what a reconnecting session
// passes as lastSequenceIndexSeen: using the contiguous mark (rather than
// the highest index seen) makes the backfill close any hole.
func (r *Reassembler) HighWater() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	high := int64(-1)
	for {
		if _, ok := r.parts[uint64(high+1)]; !ok {
			return high
		}
		high++
	}
}

// Done reports whether the terminal event has arrived.
func (r *Reassembler) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

// Status returns the terminal status once Done, StatusStreaming before.
func (r *Reassembler) Status() stream.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.terminal {
		return stream.StatusStreaming
	}
	return r.status
}

// ErrMessage returns the server's error message for a failed stream.
func (r *Reassembler) ErrMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

func (r *Reassembler) prefixLocked() string {
	var sb strings.Builder
	for i := uint64(0); ; i++ {
		p, ok := r.parts[i]
		if !ok {
			return sb.String()
		}
		sb.WriteString(p)
	}
}
