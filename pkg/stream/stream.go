// Package stream implements durable, incrementally-delivered text streams.
//
// A stream is one logical generation of text, produced once on the server and
// observed by any number of viewers. Fragments of the output are appended to
// a [Log] as immutable, index-addressed chunks; the log is the source of
// truth. A [Registry] fans live chunks out to subscribed transport sessions,
// and a [Producer] drives one generation from an upstream [Source] into the
// log. Viewers that arrive late replay the log; viewers that disconnect
// mid-generation backfill from the log on reconnect.
//
// # Lifecycle
//
// A stream starts pending, flips to streaming on its first chunk, and ends
// in exactly one terminal state (complete or error) when its final result is
// written. No chunk may be appended after the terminal state; a late append
// is reported as [ErrStreamClosed] and callers treat it as a benign no-op.
//
// # Dependency Direction
//
//	stream → kv
//
// Transport framing and client reassembly live in the wire, relay and
// viewer packages; stream knows nothing about HTTP.
package stream

import (
	"errors"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a stream does not exist.
	ErrNotFound = errors.New("stream: not found")

	// ErrStreamExists is returned by Log.Create for an existing stream.
	ErrStreamExists = errors.New("stream: already exists")

	// ErrInvalidStreamID is returned for ids that cannot be stored: empty,
	// or containing the KV key separator. Ids are otherwise opaque, but an
	// id with a separator would place its records inside another stream's
	// key range.
	ErrInvalidStreamID = errors.New("stream: invalid stream id")

	// ErrStreamClosed is returned when appending to a stream that has
	// already reached a terminal status. Producers treat it as a no-op.
	ErrStreamClosed = errors.New("stream: stream closed")

	// ErrDuplicateIndex is returned when an append reuses an index with a
	// payload different from the one already logged. This is a
	// non-idempotent retry and a caller bug.
	ErrDuplicateIndex = errors.New("stream: duplicate index with different payload")

	// ErrIndexGap is returned when an append skips ahead of the next
	// expected index. The producer is the sole writer and writes in order,
	// so a gap is a caller bug.
	ErrIndexGap = errors.New("stream: append index ahead of log tail")

	// ErrBackfillGap is returned when a reader requests chunks after an
	// index the log has never reached. Correct reassembly is impossible,
	// so this surfaces to the client as a hard error.
	ErrBackfillGap = errors.New("stream: requested index ahead of log tail")

	// ErrActiveProducer is returned when starting a producer for a stream
	// that is already being generated.
	ErrActiveProducer = errors.New("stream: producer already active")

	// ErrSlowConsumer marks a subscription dropped because its queue
	// overflowed. The session should close and let the client reconnect
	// and backfill.
	ErrSlowConsumer = errors.New("stream: subscriber too slow, dropped")
)

// Status is the lifecycle state of a stream.
type Status int

const (
	StatusPending Status = iota
	StatusStreaming
	StatusComplete
	StatusError
)

// String returns the wire/storage name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusStreaming:
		return "streaming"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the stream will never emit further chunks.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// ParseStatus converts a status name back to a Status.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "pending":
		return StatusPending, true
	case "streaming":
		return StatusStreaming, true
	case "complete":
		return StatusComplete, true
	case "error":
		return StatusError, true
	}
	return 0, false
}

// Kind classifies a chunk's payload channel.
type Kind string

const (
	// KindContent is the main text output.
	KindContent Kind = "content"
	// KindReasoning is model reasoning emitted alongside the content.
	KindReasoning Kind = "reasoning"
	// KindOther is any other side channel.
	KindOther Kind = "other"
)

// Chunk is one immutable fragment of a stream's output.
// Index starts at 0 and increases by one per append; for a given
// (StreamID, Index) the payload never changes once written.
type Chunk struct {
	StreamID string
	Index    uint64
	Payload  string
	Kind     Kind
}

// Final is the terminal record of a stream: the authoritative full text for
// a complete stream, or a human-readable message for a failed one.
// It is written at most once per stream.
type Final struct {
	Status      Status
	Payload     string
	CompletedAt int64 // unix nanoseconds
}

// Info describes a stream's current state as seen by the log.
type Info struct {
	ID        string
	Status    Status
	CreatedAt int64 // unix nanoseconds
	NextIndex uint64
}

// Fragment is one piece of output pulled from an upstream model.
type Fragment struct {
	Payload string
	Kind    Kind
}

// Source is an opaque, ordered fragment source (typically an LLM response
// stream). Next returns io.EOF on natural exhaustion and any other error on
// upstream failure. Sources are single-consumer.
type Source interface {
	Next() (Fragment, error)
	Close() error
}

// Event is one registry delivery: either a live chunk or the terminal
// result. Exactly one field is set.
type Event struct {
	Chunk *Chunk
	Final *Final
}
