package wire_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/inkwellhq/relay/go/pkg/stream"
	"github.com/inkwellhq/relay/go/pkg/wire"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	events := []*wire.Event{
		wire.ChunkEvent(&stream.Chunk{StreamID: "s1", Index: 0, Payload: "Hel", Kind: stream.KindContent}),
		wire.ChunkEvent(&stream.Chunk{StreamID: "s1", Index: 1, Payload: "lo\nworld", Kind: stream.KindReasoning}),
		wire.FinalEvent("s1", stream.Final{Status: stream.StatusComplete, Payload: "Hello world"}),
	}
	for _, ev := range events {
		if err := wire.WriteSSE(&buf, ev); err != nil {
			t.Fatalf("WriteSSE: %v", err)
		}
	}

	r := wire.NewReader(&buf)

	ev, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != wire.TypeChunk || ev.SequenceIndex == nil || *ev.SequenceIndex != 0 {
		t.Fatalf("first event = %+v, want chunk with index 0", ev)
	}
	if ev.Payload != "Hel" || ev.Kind != "content" {
		t.Fatalf("first event payload/kind = %q/%q", ev.Payload, ev.Kind)
	}

	// Newlines in the payload must not break SSE framing.
	ev, err = r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Payload != "lo\nworld" || ev.Kind != "reasoning" {
		t.Fatalf("second event = %+v", ev)
	}

	ev, err = r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != wire.TypeComplete || ev.Payload != "Hello world" {
		t.Fatalf("terminal event = %+v", ev)
	}
	if ev.SequenceIndex != nil {
		t.Fatalf("terminal event carries an index: %d", *ev.SequenceIndex)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("Next after last event = %v, want io.EOF", err)
	}
}

func TestErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	if err := wire.WriteSSE(&buf, wire.ErrorEvent("s1", errors.New("backfill impossible"))); err != nil {
		t.Fatalf("WriteSSE: %v", err)
	}
	ev, err := wire.NewReader(&buf).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != wire.TypeError || ev.ErrorMessage != "backfill impossible" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestFinalEventError(t *testing.T) {
	ev := wire.FinalEvent("s1", stream.Final{Status: stream.StatusError, Payload: "model unavailable"})
	if ev.Type != wire.TypeError || ev.ErrorMessage != "model unavailable" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestReaderSkipsNoise(t *testing.T) {
	raw := strings.Join([]string{
		": heartbeat",
		"",
		"retry: 3000",
		"event: chunk",
		`data: {"type":"chunk","streamId":"s1","sequenceIndex":2,"payload":"x","kind":"content"}`,
		"",
	}, "\n") + "\n"

	r := wire.NewReader(strings.NewReader(raw))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != wire.TypeChunk || *ev.SequenceIndex != 2 || ev.Payload != "x" {
		t.Fatalf("event = %+v", ev)
	}
}
