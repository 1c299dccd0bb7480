package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/inkwellhq/relay/go/pkg/stream"
	"github.com/inkwellhq/relay/go/pkg/wire"
)

// eventWriter abstracts the transport a session writes to.
type eventWriter interface {
	write(*wire.Event) error
}

// sseWriter frames events as Server-Sent Events.
type sseWriter struct {
	w http.ResponseWriter
}

func (s sseWriter) write(ev *wire.Event) error {
	return wire.WriteSSE(s.w, ev)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	after, err := parseAfter(r)
	if err != nil {
		http.Error(w, "bad after parameter", http.StatusBadRequest)
		return
	}
	if _, err := s.log.Info(r.Context(), id); err != nil {
		if errors.Is(err, stream.ErrNotFound) {
			http.Error(w, "stream not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	s.serveStream(r.Context(), id, after, sseWriter{w})
}

// serveStream relays one stream to one client: backfill the chunks the
// client has not seen, then live delivery until the terminal event or
// disconnect. The subscription is taken before the backfill read so chunks
// appended during backfill queue up instead of being lost; duplicates
// between the two phases are filtered by index.
func (s *Server) serveStream(ctx context.Context, id string, after int64, out eventWriter) {
	status, err := s.log.Status(ctx, id)
	if err != nil {
		slog.Debug("relay: status read failed", "stream_id", id, "err", err)
		return
	}

	// Replay path: the stream is already done, no live phase needed.
	if status.Terminal() {
		if _, err := s.replayFrom(ctx, id, after, out); err != nil {
			return
		}
		s.writeFinal(ctx, id, out)
		return
	}

	sub := s.reg.Subscribe(id, s.queueSize)
	defer s.reg.Unsubscribe(sub)

	next, err := s.replayFrom(ctx, id, after, out)
	if err != nil {
		return
	}

	// The stream may have finished between the status snapshot and the
	// subscribe; the registry entry is gone then and the channel would
	// stay silent forever. Drain the log instead.
	status, err = s.log.Status(ctx, id)
	if err == nil && status.Terminal() {
		if _, err = s.replayFrom(ctx, id, int64(next)-1, out); err != nil {
			return
		}
		s.writeFinal(ctx, id, out)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				// Dropped for slowness (or a racing teardown). End the
				// connection without a terminal event so the client
				// reconnects and backfills.
				slog.Debug("relay: subscription closed", "stream_id", id, "err", sub.Err())
				return
			}
			if ev.Final != nil {
				if err := out.write(wire.FinalEvent(id, *ev.Final)); err != nil {
					return
				}
				return
			}
			c := ev.Chunk
			if c.Index < next {
				// Already delivered during backfill.
				continue
			}
			if c.Index > next {
				// The queue skipped ahead of what we delivered; repair
				// from the log, which includes c (appended pre-publish).
				if next, err = s.replayFrom(ctx, id, int64(next)-1, out); err != nil {
					return
				}
				continue
			}
			if err := out.write(wire.ChunkEvent(c)); err != nil {
				return
			}
			next = c.Index + 1
		}
	}
}

// replayFrom writes all logged chunks with index greater than after and
// returns the next index the client expects. An impossible backfill is
// reported to the client as a hard error event.
func (s *Server) replayFrom(ctx context.Context, id string, after int64, out eventWriter) (uint64, error) {
	chunks, err := s.log.ReadFrom(ctx, id, after)
	if err != nil {
		if errors.Is(err, stream.ErrBackfillGap) {
			if werr := out.write(wire.ErrorEvent(id, err)); werr != nil {
				return 0, werr
			}
		}
		return 0, err
	}
	next := uint64(0)
	if after >= 0 {
		next = uint64(after) + 1
	}
	for _, c := range chunks {
		if err := out.write(wire.ChunkEvent(&c)); err != nil {
			return 0, err
		}
		next = c.Index + 1
	}
	return next, nil
}

// writeFinal writes the terminal event. Callers replay the log to its tail
// first, so the client holds every chunk by the time this arrives.
func (s *Server) writeFinal(ctx context.Context, id string, out eventWriter) {
	final, err := s.log.Final(ctx, id)
	if err != nil {
		slog.Debug("relay: final read failed", "stream_id", id, "err", err)
		return
	}
	if err := out.write(wire.FinalEvent(id, final)); err != nil {
		return
	}
}
