package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Producer drives generations. Each stream is owned by exactly one
// generation at a time: it pulls fragments from a [Source], appends them to
// the log with rising indices, publishes them to the registry, and finally
// writes the terminal result. Upstream failures are converted into an error
// terminal status — a stream is never left streaming forever.
//
// Generation is detached from viewers: once started it runs to completion
// or failure even if every subscriber disconnects.
type Producer struct {
	log *Log
	reg *Registry

	mu     sync.Mutex
	active map[string]chan struct{}
}

// NewProducer creates a Producer writing through log and fanning out via reg.
func NewProducer(log *Log, reg *Registry) *Producer {
	return &Producer{
		log:    log,
		reg:    reg,
		active: make(map[string]chan struct{}),
	}
}

// Start begins generating stream id from src. The stream is created if it
// does not exist yet. Returns ErrActiveProducer if a generation for id is
// already running (locally or, per the persisted status, elsewhere), and
// ErrStreamClosed if the stream already has a terminal result.
//
// Start returns as soon as the generation goroutine is launched; use Wait
// to block until it finishes. ctx bounds the upstream source only — closing
// a viewer never cancels generation.
func (p *Producer) Start(ctx context.Context, id string, src Source) error {
	if err := p.log.Create(ctx, id); err != nil && !errors.Is(err, ErrStreamExists) {
		return err
	}
	status, err := p.log.Status(ctx, id)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return ErrStreamClosed
	}

	p.mu.Lock()
	if _, ok := p.active[id]; ok {
		p.mu.Unlock()
		return ErrActiveProducer
	}
	if status == StatusStreaming {
		// Some producer already appended chunks; refuse to merge into its
		// stream even if it is not running in this process.
		p.mu.Unlock()
		return ErrActiveProducer
	}
	done := make(chan struct{})
	p.active[id] = done
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.active, id)
			p.mu.Unlock()
			close(done)
		}()
		p.run(ctx, id, src)
	}()
	return nil
}

// Wait blocks until the generation for id finishes. It returns immediately
// if no generation is running.
func (p *Producer) Wait(id string) {
	p.mu.Lock()
	done, ok := p.active[id]
	p.mu.Unlock()
	if ok {
		<-done
	}
}

// run pulls the source dry and persists the outcome.
func (p *Producer) run(ctx context.Context, id string, src Source) {
	defer src.Close()

	var (
		full  strings.Builder
		index uint64
	)
	for {
		frag, err := src.Next()
		if err != nil {
			if err == io.EOF {
				p.finish(ctx, id, StatusComplete, full.String())
				return
			}
			slog.Warn("stream: upstream failed", "stream_id", id, "index", index, "err", err)
			p.finish(ctx, id, StatusError, fmt.Sprintf("generation failed: %v", err))
			return
		}
		if frag.Payload == "" {
			continue
		}

		chunk := Chunk{StreamID: id, Index: index, Payload: frag.Payload, Kind: frag.Kind}
		if chunk.Kind == "" {
			chunk.Kind = KindContent
		}
		if err := p.log.Append(ctx, chunk); err != nil {
			if errors.Is(err, ErrStreamClosed) {
				// The stream was finished underneath us; idempotent closure,
				// nothing further to record.
				slog.Debug("stream: append after terminal", "stream_id", id, "index", index)
				return
			}
			slog.Error("stream: append failed", "stream_id", id, "index", index, "err", err)
			p.finish(ctx, id, StatusError, fmt.Sprintf("persisting output failed: %v", err))
			return
		}
		index++
		full.WriteString(chunk.Payload)
		p.reg.Publish(&chunk)
	}
}

// finish writes the terminal record and broadcasts it. Log errors here are
// logged but not propagated: there is no caller left to observe them.
func (p *Producer) finish(ctx context.Context, id string, status Status, payload string) {
	if err := p.log.Finish(ctx, id, status, payload); err != nil {
		slog.Error("stream: finish failed", "stream_id", id, "status", status.String(), "err", err)
		return
	}
	final, err := p.log.Final(ctx, id)
	if err != nil {
		slog.Error("stream: read final failed", "stream_id", id, "err", err)
		return
	}
	p.reg.Finish(id, final)
}
