package viewer_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkwellhq/relay/go/pkg/kv"
	"github.com/inkwellhq/relay/go/pkg/relay"
	"github.com/inkwellhq/relay/go/pkg/stream"
	"github.com/inkwellhq/relay/go/pkg/viewer"
	"github.com/inkwellhq/relay/go/pkg/wire"
)

// TestReconnectBackfillsGap drops the connection after the first chunk and
// verifies the retry passes the high-water mark so the server serves
// exactly the missing suffix.
func TestReconnectBackfillsGap(t *testing.T) {
	var requests atomic.Int64
	var afterSeen atomic.Value

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		if n == 1 {
			// Deliver index 0, then die without a terminal event.
			wire.WriteSSE(w, wire.ChunkEvent(&stream.Chunk{StreamID: "s1", Index: 0, Payload: "c0", Kind: stream.KindContent}))
			return
		}
		afterSeen.Store(r.URL.Query().Get("after"))
		for i := uint64(1); i < 5; i++ {
			wire.WriteSSE(w, wire.ChunkEvent(&stream.Chunk{StreamID: "s1", Index: i, Payload: fmt.Sprintf("c%d", i), Kind: stream.KindContent}))
		}
		wire.WriteSSE(w, wire.FinalEvent("s1", stream.Final{Status: stream.StatusComplete, Payload: "c0c1c2c3c4"}))
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rs := viewer.NewReassembler()
	v := viewer.New(srv.URL, "s1", rs, viewer.Config{Attempts: 3, Backoff: 5 * time.Millisecond})
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := rs.Text(); got != "c0c1c2c3c4" {
		t.Fatalf("Text = %q", got)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("server saw %d sessions, want 2", got)
	}
	if got := afterSeen.Load(); got != "0" {
		t.Fatalf("reconnect sent after=%v, want 0", got)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		wire.WriteSSE(w, wire.ChunkEvent(&stream.Chunk{StreamID: "s1", Index: 0, Payload: "partial", Kind: stream.KindContent}))
		// Never a terminal event: every session is a transport failure.
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rs := viewer.NewReassembler()
	v := viewer.New(srv.URL, "s1", rs, viewer.Config{Attempts: 2, Backoff: time.Millisecond})
	err := v.Run(context.Background())
	if !errors.Is(err, viewer.ErrRetriesExhausted) {
		t.Fatalf("Run = %v, want ErrRetriesExhausted", err)
	}
	// Partial text stays readable after giving up.
	if got := rs.Text(); got != "partial" {
		t.Fatalf("Text = %q, want %q", got, "partial")
	}
	if rs.Done() {
		t.Fatalf("reassembler frozen by transport failure")
	}
}

func TestServerErrorEventIsTerminal(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		wire.WriteSSE(w, wire.ErrorEvent("s1", stream.ErrBackfillGap))
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rs := viewer.NewReassembler()
	v := viewer.New(srv.URL, "s1", rs, viewer.Config{Attempts: 5, Backoff: time.Millisecond})
	// An error event is a relayed terminal state, not a transport failure:
	// no retries, nil error.
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rs.Status() != stream.StatusError {
		t.Fatalf("Status = %v, want error", rs.Status())
	}
}

// TestGatewayErrorIsRetried covers a restarting server or flaky
// intermediary: a 5xx response is a transport failure, not a verdict on the
// stream, so the session retries and the view is not frozen.
func TestGatewayErrorIsRetried(t *testing.T) {
	var requests atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		wire.WriteSSE(w, wire.ChunkEvent(&stream.Chunk{StreamID: "s1", Index: 0, Payload: "ok", Kind: stream.KindContent}))
		wire.WriteSSE(w, wire.FinalEvent("s1", stream.Final{Status: stream.StatusComplete, Payload: "ok"}))
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rs := viewer.NewReassembler()
	v := viewer.New(srv.URL, "s1", rs, viewer.Config{Attempts: 2, Backoff: time.Millisecond})
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("server saw %d requests, want 2", got)
	}
	if rs.Status() != stream.StatusComplete || rs.Text() != "ok" {
		t.Fatalf("Status/Text = %v/%q", rs.Status(), rs.Text())
	}
}

func TestNotFoundIsTerminal(t *testing.T) {
	var requests atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "stream not found", http.StatusNotFound)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rs := viewer.NewReassembler()
	v := viewer.New(srv.URL, "s1", rs, viewer.Config{Attempts: 5, Backoff: time.Millisecond})
	// Retrying cannot make an unknown stream appear; the view freezes as an
	// error without touching the retry budget.
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("server saw %d requests, want 1", got)
	}
	if rs.Status() != stream.StatusError {
		t.Fatalf("Status = %v, want error", rs.Status())
	}
}

// TestOneSessionPerProcess mounts two driven-eligible consumers for the
// same stream and verifies only one server-side subscription exists.
func TestOneSessionPerProcess(t *testing.T) {
	store := kv.NewMemory(nil)
	t.Cleanup(func() { store.Close() })
	l := stream.NewLog(store)
	reg := stream.NewRegistry()
	srv := httptest.NewServer(relay.NewServer(relay.Config{Log: l, Registry: reg}).Handler())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	if err := l.Create(ctx, "s1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c := stream.Chunk{StreamID: "s1", Index: 0, Payload: "x", Kind: stream.KindContent}
	if err := l.Append(ctx, c); err != nil {
		t.Fatalf("Append: %v", err)
	}

	hub := viewer.NewHub()
	a := hub.Acquire("s1")
	b := hub.Acquire("s1")
	defer hub.Release(a)
	defer hub.Release(b)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	for _, h := range []*viewer.Handle{a, b} {
		// Only the driven handle opens a transport; passives just read.
		if !h.Driven() {
			continue
		}
		v := viewer.New(srv.URL, "s1", h.Reassembler(), viewer.Config{Attempts: 0, Backoff: time.Millisecond})
		go func() {
			defer close(done)
			v.Run(runCtx)
		}()
	}

	// Wait for the live subscription to appear, then assert there is
	// exactly one despite two mounted consumers.
	deadline := time.Now().Add(2 * time.Second)
	for reg.Count("s1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := reg.Count("s1"); got != 1 {
		t.Fatalf("subscription count = %d, want 1", got)
	}

	// Both consumers see the backfilled chunk through the shared view.
	deadline = time.Now().Add(2 * time.Second)
	for b.Reassembler().Text() != "x" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := b.Reassembler().Text(); got != "x" {
		t.Fatalf("passive view = %q, want %q", got, "x")
	}

	cancel()
	<-done
}
