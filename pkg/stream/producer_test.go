package stream_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/inkwellhq/relay/go/pkg/kv"
	"github.com/inkwellhq/relay/go/pkg/stream"
)

// fakeSource yields a fixed fragment sequence, then failErr (or io.EOF).
type fakeSource struct {
	fragments []stream.Fragment
	failErr   error
	pos       int
	release   chan struct{} // if set, Next blocks until closed
}

func (s *fakeSource) Next() (stream.Fragment, error) {
	if s.release != nil {
		<-s.release
	}
	if s.pos >= len(s.fragments) {
		if s.failErr != nil {
			return stream.Fragment{}, s.failErr
		}
		return stream.Fragment{}, io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *fakeSource) Close() error { return nil }

func textFragments(payloads ...string) []stream.Fragment {
	var out []stream.Fragment
	for _, p := range payloads {
		out = append(out, stream.Fragment{Payload: p, Kind: stream.KindContent})
	}
	return out
}

func newTestProducer(t *testing.T) (*stream.Producer, *stream.Log, *stream.Registry) {
	t.Helper()
	store := kv.NewMemory(nil)
	t.Cleanup(func() { store.Close() })
	l := stream.NewLog(store)
	r := stream.NewRegistry()
	return stream.NewProducer(l, r), l, r
}

func TestProducerCompletes(t *testing.T) {
	ctx := context.Background()
	p, l, r := newTestProducer(t)

	sub := r.Subscribe("s1", 8)
	src := &fakeSource{fragments: textFragments("Hel", "lo", " world")}
	if err := p.Start(ctx, "s1", src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Wait("s1")

	status, err := l.Status(ctx, "s1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != stream.StatusComplete {
		t.Fatalf("Status = %v, want complete", status)
	}
	final, err := l.Final(ctx, "s1")
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if final.Payload != "Hello world" {
		t.Fatalf("Final.Payload = %q, want %q", final.Payload, "Hello world")
	}

	// The subscriber saw every chunk in order, then the terminal event.
	var got []string
	var final2 *stream.Final
	for ev := range sub.C() {
		if ev.Chunk != nil {
			got = append(got, ev.Chunk.Payload)
		}
		if ev.Final != nil {
			final2 = ev.Final
		}
	}
	if len(got) != 3 || got[0] != "Hel" || got[2] != " world" {
		t.Fatalf("subscriber chunks = %v", got)
	}
	if final2 == nil || final2.Status != stream.StatusComplete {
		t.Fatalf("subscriber final = %+v", final2)
	}
}

func TestProducerUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	p, l, _ := newTestProducer(t)

	src := &fakeSource{
		fragments: textFragments("partial"),
		failErr:   errors.New("model unavailable"),
	}
	if err := p.Start(ctx, "s1", src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Wait("s1")

	// Failure is absorbed into a persisted terminal state — the stream is
	// never left streaming.
	status, _ := l.Status(ctx, "s1")
	if status != stream.StatusError {
		t.Fatalf("Status = %v, want error", status)
	}
	final, err := l.Final(ctx, "s1")
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if final.Status != stream.StatusError || final.Payload == "" {
		t.Fatalf("Final = %+v, want error with message", final)
	}

	// The partial chunk is still on record for replay.
	chunks, err := l.ReadAll(ctx, "s1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Payload != "partial" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestProducerSingleOwner(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestProducer(t)

	release := make(chan struct{})
	src := &fakeSource{fragments: textFragments("x"), release: release}
	if err := p.Start(ctx, "s1", src); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// While the first generation runs, a second Start for the same stream
	// is a caller error, never a silent merge.
	err := p.Start(ctx, "s1", &fakeSource{})
	if !errors.Is(err, stream.ErrActiveProducer) {
		t.Fatalf("second Start = %v, want ErrActiveProducer", err)
	}

	close(release)
	p.Wait("s1")

	// After the terminal state, restarting is rejected as closed.
	err = p.Start(ctx, "s1", &fakeSource{})
	if !errors.Is(err, stream.ErrStreamClosed) {
		t.Fatalf("Start after terminal = %v, want ErrStreamClosed", err)
	}
}

func TestProducerRunsWithoutSubscribers(t *testing.T) {
	ctx := context.Background()
	p, l, _ := newTestProducer(t)

	src := &fakeSource{fragments: textFragments("a", "b", "c")}
	if err := p.Start(ctx, "s1", src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Wait("s1")

	final, err := l.Final(ctx, "s1")
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if final.Payload != "abc" {
		t.Fatalf("Final.Payload = %q, want %q", final.Payload, "abc")
	}
}

func TestProducerParallelStreams(t *testing.T) {
	ctx := context.Background()
	p, l, _ := newTestProducer(t)

	ids := []string{"s1", "s2", "s3"}
	for _, id := range ids {
		src := &fakeSource{fragments: textFragments(id + "-a", id + "-b")}
		if err := p.Start(ctx, id, src); err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
	}
	deadline := time.After(5 * time.Second)
	done := make(chan struct{})
	go func() {
		for _, id := range ids {
			p.Wait(id)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-deadline:
		t.Fatalf("producers did not finish")
	}

	for _, id := range ids {
		final, err := l.Final(ctx, id)
		if err != nil {
			t.Fatalf("Final(%s): %v", id, err)
		}
		if want := id + "-a" + id + "-b"; final.Payload != want {
			t.Fatalf("Final(%s) = %q, want %q", id, final.Payload, want)
		}
	}
}
