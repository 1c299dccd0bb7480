// Package relay serves streams to remote viewers over long-lived HTTP
// connections. The primary transport is Server-Sent Events; a WebSocket
// endpoint offers the same contract for clients that need it.
//
// A session opened mid-generation first backfills chunks the client has not
// seen from the log, then switches to live registry delivery; a session for
// a finished stream replays the log and ends with the terminal event. Slow
// or dead clients only ever degrade their own view — generation and other
// sessions are unaffected.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/inkwellhq/relay/go/pkg/stream"
)

// StartRequest is the body of POST /v1/streams.
type StartRequest struct {
	// StreamID is optional; the server mints one when absent.
	StreamID string `json:"streamId,omitempty"`
	// Prompt is handed to the server's source factory.
	Prompt string `json:"prompt"`
	// Model optionally overrides the server's default generation backend.
	Model string `json:"model,omitempty"`
}

// StartResponse is the body returned for a started stream.
type StartResponse struct {
	StreamID string `json:"streamId"`
	Status   string `json:"status"`
}

// InfoResponse describes a stream's state.
type InfoResponse struct {
	StreamID  string `json:"streamId"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	NextIndex uint64 `json:"nextIndex"`
	// Final carries the authoritative result once the stream is terminal.
	Final string `json:"final,omitempty"`
}

// SourceFactory builds the upstream fragment source for a new generation.
type SourceFactory func(ctx context.Context, req StartRequest) (stream.Source, error)

// Config configures a Server.
type Config struct {
	Log      *stream.Log
	Registry *stream.Registry
	Producer *stream.Producer

	// NewSource builds generation sources for POST /v1/streams.
	// When nil the endpoint responds 501.
	NewSource SourceFactory

	// QueueSize bounds each session's fan-out queue (0 = registry default).
	QueueSize int
}

// Server exposes the stream log and registry over HTTP.
type Server struct {
	log       *stream.Log
	reg       *stream.Registry
	prod      *stream.Producer
	newSource SourceFactory
	queueSize int
}

// NewServer creates a Server from cfg.
func NewServer(cfg Config) *Server {
	return &Server{
		log:       cfg.Log,
		reg:       cfg.Registry,
		prod:      cfg.Producer,
		newSource: cfg.NewSource,
		queueSize: cfg.QueueSize,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/streams", s.handleStart)
	mux.HandleFunc("GET /v1/streams", s.handleList)
	mux.HandleFunc("GET /v1/streams/{id}", s.handleInfo)
	mux.HandleFunc("DELETE /v1/streams/{id}", s.handleDelete)
	mux.HandleFunc("GET /v1/streams/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /v1/streams/{id}/ws", s.handleWS)
	return mux
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if s.newSource == nil {
		http.Error(w, "stream creation not configured", http.StatusNotImplemented)
		return
	}
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.StreamID == "" {
		req.StreamID = uuid.New().String()
	}

	// Generation must outlive this request: viewers attach separately.
	genCtx := context.Background()
	src, err := s.newSource(genCtx, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := s.prod.Start(genCtx, req.StreamID, src); err != nil {
		src.Close()
		switch {
		case errors.Is(err, stream.ErrInvalidStreamID):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, stream.ErrActiveProducer), errors.Is(err, stream.ErrStreamClosed):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	slog.Info("relay: generation started", "stream_id", req.StreamID)
	writeJSON(w, http.StatusCreated, StartResponse{
		StreamID: req.StreamID,
		Status:   stream.StatusPending.String(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	infos, err := s.log.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]InfoResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, InfoResponse{
			StreamID:  info.ID,
			Status:    info.Status.String(),
			CreatedAt: info.CreatedAt,
			NextIndex: info.NextIndex,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := s.log.Info(r.Context(), id)
	if errors.Is(err, stream.ErrNotFound) {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := InfoResponse{
		StreamID:  info.ID,
		Status:    info.Status.String(),
		CreatedAt: info.CreatedAt,
		NextIndex: info.NextIndex,
	}
	if info.Status.Terminal() {
		final, err := s.log.Final(r.Context(), id)
		if err == nil {
			resp.Final = final.Payload
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.log.Status(r.Context(), id)
	if errors.Is(err, stream.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !status.Terminal() {
		http.Error(w, "stream still generating", http.StatusConflict)
		return
	}
	if err := s.log.Delete(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseAfter reads the client's lastSequenceIndexSeen from the query.
// Absent means "from the beginning" (-1).
func parseAfter(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return -1, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("relay: write response", "err", err)
	}
}
