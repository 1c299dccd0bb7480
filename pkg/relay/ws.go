package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/inkwellhq/relay/go/pkg/stream"
	"github.com/inkwellhq/relay/go/pkg/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser viewers come from the app origin; the SaaS fronts this with
	// its own auth, so origin is not checked here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsWriter frames events as one JSON message per event.
type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) write(ev *wire.Event) error {
	return w.conn.WriteJSON(ev)
}

// handleWS serves the SSE contract over a WebSocket: backfill, live chunks,
// then the terminal event followed by a normal close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
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

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("relay: ws upgrade failed", "stream_id", id, "err", err)
		return
	}
	defer conn.Close()

	// The client never sends data; the read pump only detects disconnect.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	s.serveStream(ctx, id, after, wsWriter{conn})

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}
