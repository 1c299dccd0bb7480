// Package wire defines the event framing spoken between transport sessions
// and viewers: discrete chunk/complete/error events carried as JSON, framed
// as Server-Sent Events over a long-lived HTTP response. The WebSocket
// transport reuses the same JSON body, one event per message.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/inkwellhq/relay/go/pkg/stream"
)

// Event types.
const (
	TypeChunk    = "chunk"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Event is one frame of a stream relay.
//
// SequenceIndex is a pointer because index 0 is meaningful and must survive
// serialization; it is set exactly when Type is "chunk".
type Event struct {
	Type          string  `json:"type"`
	StreamID      string  `json:"streamId"`
	SequenceIndex *uint64 `json:"sequenceIndex,omitempty"`
	Payload       string  `json:"payload,omitempty"`
	Kind          string  `json:"kind,omitempty"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
}

// ChunkEvent frames a logged chunk.
func ChunkEvent(c *stream.Chunk) *Event {
	index := c.Index
	return &Event{
		Type:          TypeChunk,
		StreamID:      c.StreamID,
		SequenceIndex: &index,
		Payload:       c.Payload,
		Kind:          string(c.Kind),
	}
}

// FinalEvent frames a terminal result.
func FinalEvent(streamID string, final stream.Final) *Event {
	if final.Status == stream.StatusError {
		return &Event{Type: TypeError, StreamID: streamID, ErrorMessage: final.Payload}
	}
	return &Event{Type: TypeComplete, StreamID: streamID, Payload: final.Payload}
}

// ErrorEvent frames a transport-level failure (e.g. an impossible backfill).
func ErrorEvent(streamID string, err error) *Event {
	return &Event{Type: TypeError, StreamID: streamID, ErrorMessage: err.Error()}
}

// WriteSSE writes one event in SSE framing and flushes if w supports it.
// The JSON encoder escapes newlines, so the data field is always one line.
func WriteSSE(w io.Writer, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Reader decodes SSE frames back into events.
type Reader struct {
	s *bufio.Scanner
}

// NewReader creates a Reader over an SSE byte stream.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{s: s}
}

// Next returns the next event, or io.EOF at the end of the byte stream.
// Unknown SSE fields (comments, retry hints) are skipped.
func (r *Reader) Next() (*Event, error) {
	var data string
	for r.s.Scan() {
		line := r.s.Text()
		switch {
		case line == "":
			if data == "" {
				continue // heartbeat / frame without data
			}
			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return nil, fmt.Errorf("wire: bad event data: %w", err)
			}
			return &ev, nil
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ")
		default:
			// "event:" names duplicate the JSON type field; comments and
			// other fields carry nothing we need.
		}
	}
	if err := r.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
