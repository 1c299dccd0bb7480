package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/inkwellhq/relay/go/pkg/stream"
	"github.com/inkwellhq/relay/go/pkg/wire"
)

// ErrRetriesExhausted is returned by Viewer.Run when the transport failed
// more times than the configured budget allows. Text already reassembled
// stays readable.
var ErrRetriesExhausted = errors.New("viewer: reconnect attempts exhausted")

// Config tunes the reconnection policy. These are the subsystem's only
// tunables.
type Config struct {
	// Attempts is the number of reconnects allowed after the initial
	// session (0 = never reconnect).
	Attempts int
	// Backoff is the delay before the first reconnect; it doubles per
	// consecutive failure. Must be > 0 when Attempts > 0.
	Backoff time.Duration
	// Client is the HTTP client to use. nil means http.DefaultClient.
	Client *http.Client
}

// Viewer drives the live transport for one stream: it opens SSE sessions
// against the relay server, feeds every event into the Reassembler, and
// reconnects on transport failure with the session's high-water mark so the
// server backfills exactly the gap.
type Viewer struct {
	baseURL  string
	streamID string
	rs       *Reassembler
	cfg      Config
}

// New creates a Viewer for streamID served at baseURL
// (e.g. "http://127.0.0.1:8080").
func New(baseURL, streamID string, rs *Reassembler, cfg Config) *Viewer {
	return &Viewer{baseURL: baseURL, streamID: streamID, rs: rs, cfg: cfg}
}

// Run relays until the terminal event arrives or the retry budget is
// exhausted. It returns nil once the stream is terminal — including a
// server-reported error terminal, which is a successful relay of a failed
// generation; check the Reassembler for the outcome.
func (v *Viewer) Run(ctx context.Context) error {
	backoff := v.cfg.Backoff
	for attempt := 0; ; attempt++ {
		err := v.session(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= v.cfg.Attempts {
			return fmt.Errorf("%w: last error: %v", ErrRetriesExhausted, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// session opens one transport session and consumes it. A nil return means
// the terminal event arrived; any error means the transport died first and
// the caller may retry.
func (v *Viewer) session(ctx context.Context) error {
	u, err := url.Parse(v.baseURL + "/v1/streams/" + url.PathEscape(v.streamID) + "/events")
	if err != nil {
		return err
	}
	if high := v.rs.HighWater(); high >= 0 {
		q := u.Query()
		q.Set("after", strconv.FormatInt(high, 10))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	client := v.cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		// An intermediary or a restarting server; the stream itself may be
		// fine. Leave the view open and let the retry budget handle it.
		return fmt.Errorf("viewer: server unavailable: HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// Not a transport hiccup: the stream is unknown or the request is
		// malformed. Retrying cannot help.
		v.rs.OnTerminal(stream.StatusError, fmt.Sprintf("stream unavailable: HTTP %d", resp.StatusCode))
		return nil
	}

	r := wire.NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return errors.New("viewer: connection closed before terminal event")
		}
		if err != nil {
			return err
		}
		switch ev.Type {
		case wire.TypeChunk:
			if ev.SequenceIndex != nil {
				v.rs.OnFragment(*ev.SequenceIndex, ev.Payload)
			}
		case wire.TypeComplete:
			v.rs.OnTerminal(stream.StatusComplete, ev.Payload)
			return nil
		case wire.TypeError:
			v.rs.OnTerminal(stream.StatusError, ev.ErrorMessage)
			return nil
		}
	}
}
