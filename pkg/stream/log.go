package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/inkwellhq/relay/go/pkg/kv"
)

// Log is the append-only, indexed persistence layer for stream chunks.
//
// Each stream has exactly one writer (its producer) which appends strictly
// in index order, and arbitrarily many concurrent readers. The log enforces
// index contiguity on the write path and immutability of written chunks:
// retrying an append with the identical payload is accepted silently, while
// reusing an index with a different payload fails with [ErrDuplicateIndex].
type Log struct {
	store kv.Store
}

// metaRecord is the stored stream header.
type metaRecord struct {
	Status    int    `msgpack:"status"`
	CreatedAt int64  `msgpack:"created_at"`
	Next      uint64 `msgpack:"next"`
}

// chunkRecord is a stored chunk. The index lives in the key.
type chunkRecord struct {
	Payload string `msgpack:"payload"`
	Kind    string `msgpack:"kind"`
}

// finalRecord is the stored terminal result.
type finalRecord struct {
	Status      int    `msgpack:"status"`
	Payload     string `msgpack:"payload"`
	CompletedAt int64  `msgpack:"completed_at"`
}

// NewLog creates a Log over the given store.
func NewLog(store kv.Store) *Log {
	return &Log{store: store}
}

// Create registers a new stream in pending status.
// Returns ErrStreamExists if the id is already in use and ErrInvalidStreamID
// for an id that would not round-trip through the key encoding.
func (l *Log) Create(ctx context.Context, id string) error {
	if id == "" || strings.ContainsRune(id, rune(kv.DefaultSeparator)) {
		return fmt.Errorf("%w: %q", ErrInvalidStreamID, id)
	}
	rec := metaRecord{
		Status:    int(StatusPending),
		CreatedAt: time.Now().UnixNano(),
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	err = l.store.SetNX(ctx, metaKey(id), data)
	if errors.Is(err, kv.ErrExists) {
		return ErrStreamExists
	}
	return err
}

// Append writes one chunk. The chunk's index must equal the stream's next
// expected index; appending behind the tail is treated as a retry and is
// accepted only if the payload matches what was already written.
func (l *Log) Append(ctx context.Context, c Chunk) error {
	meta, err := l.meta(ctx, c.StreamID)
	if err != nil {
		return err
	}
	if Status(meta.Status).Terminal() {
		return ErrStreamClosed
	}
	if c.Index > meta.Next {
		return fmt.Errorf("%w: index %d, tail %d", ErrIndexGap, c.Index, meta.Next)
	}

	data, err := msgpack.Marshal(chunkRecord{Payload: c.Payload, Kind: string(c.Kind)})
	if err != nil {
		return err
	}
	err = l.store.SetNX(ctx, chunkKey(c.StreamID, c.Index), data)
	if errors.Is(err, kv.ErrExists) {
		// Retry path: identical payload is a silent no-op, anything else
		// is a non-idempotent retry.
		prev, gerr := l.readChunk(ctx, c.StreamID, c.Index)
		if gerr != nil {
			return gerr
		}
		if prev.Payload != c.Payload || prev.Kind != string(c.Kind) {
			return fmt.Errorf("%w: index %d", ErrDuplicateIndex, c.Index)
		}
		// The chunk landed but the tail may not have: a crash between the
		// chunk and meta writes leaves meta behind. Advance it so the retry
		// leaves the log exactly as a single successful append would.
		if meta.Next <= c.Index {
			meta.Next = c.Index + 1
			if Status(meta.Status) == StatusPending {
				meta.Status = int(StatusStreaming)
			}
			return l.writeMeta(ctx, c.StreamID, meta)
		}
		return nil
	}
	if err != nil {
		return err
	}

	// Advance the tail and flip pending → streaming on the first chunk.
	meta.Next = c.Index + 1
	if Status(meta.Status) == StatusPending {
		meta.Status = int(StatusStreaming)
	}
	return l.writeMeta(ctx, c.StreamID, meta)
}

// Finish writes the terminal result. status must be complete or error.
// A second Finish for the same stream is a no-op; the first write wins.
func (l *Log) Finish(ctx context.Context, id string, status Status, payload string) error {
	if !status.Terminal() {
		return fmt.Errorf("stream: finish with non-terminal status %v", status)
	}
	meta, err := l.meta(ctx, id)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(finalRecord{
		Status:      int(status),
		Payload:     payload,
		CompletedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}
	err = l.store.SetNX(ctx, finalKey(id), data)
	if errors.Is(err, kv.ErrExists) {
		return nil
	}
	if err != nil {
		return err
	}

	meta.Status = int(status)
	return l.writeMeta(ctx, id, meta)
}

// ReadAll returns every chunk of a stream in ascending index order.
func (l *Log) ReadAll(ctx context.Context, id string) ([]Chunk, error) {
	return l.ReadFrom(ctx, id, -1)
}

// ReadFrom returns the chunks with index greater than after, in ascending
// index order. Pass after = -1 to read from the beginning. If after is
// beyond the log's tail the read fails with [ErrBackfillGap]: the caller
// claims to have seen chunks the log never recorded.
func (l *Log) ReadFrom(ctx context.Context, id string, after int64) ([]Chunk, error) {
	meta, err := l.meta(ctx, id)
	if err != nil {
		return nil, err
	}
	if after >= 0 && uint64(after) >= meta.Next {
		return nil, fmt.Errorf("%w: after %d, tail %d", ErrBackfillGap, after, meta.Next)
	}

	var start uint64
	if after >= 0 {
		start = uint64(after) + 1
	}

	var chunks []Chunk
	it := l.store.ListFrom(ctx, chunkPrefix(id), chunkKey(id, start))
	for entry, err := range it {
		if err != nil {
			return nil, err
		}
		index, err := parseChunkIndex(entry.Key)
		if err != nil {
			return nil, err
		}
		var rec chunkRecord
		if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
			return nil, err
		}
		chunks = append(chunks, Chunk{
			StreamID: id,
			Index:    index,
			Payload:  rec.Payload,
			Kind:     Kind(rec.Kind),
		})
	}
	return chunks, nil
}

// Info returns the stream's current status and tail position.
func (l *Log) Info(ctx context.Context, id string) (Info, error) {
	meta, err := l.meta(ctx, id)
	if err != nil {
		return Info{}, err
	}
	return Info{
		ID:        id,
		Status:    Status(meta.Status),
		CreatedAt: meta.CreatedAt,
		NextIndex: meta.Next,
	}, nil
}

// Status returns the stream's current status.
func (l *Log) Status(ctx context.Context, id string) (Status, error) {
	meta, err := l.meta(ctx, id)
	if err != nil {
		return 0, err
	}
	return Status(meta.Status), nil
}

// Final returns the terminal record of a stream.
// Returns ErrNotFound if the stream has not finished (or does not exist).
func (l *Log) Final(ctx context.Context, id string) (Final, error) {
	data, err := l.store.Get(ctx, finalKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Final{}, ErrNotFound
	}
	if err != nil {
		return Final{}, err
	}
	var rec finalRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return Final{}, err
	}
	return Final{
		Status:      Status(rec.Status),
		Payload:     rec.Payload,
		CompletedAt: rec.CompletedAt,
	}, nil
}

// List returns the Info of every stream in the log, ordered by id.
func (l *Log) List(ctx context.Context) ([]Info, error) {
	var infos []Info
	for entry, err := range l.store.List(ctx, allStreamsPrefix()) {
		if err != nil {
			return nil, err
		}
		// Only meta records; chunk and final records share the prefix.
		if len(entry.Key) != 3 || entry.Key[2] != "meta" {
			continue
		}
		var rec metaRecord
		if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
			return nil, err
		}
		infos = append(infos, Info{
			ID:        entry.Key[1],
			Status:    Status(rec.Status),
			CreatedAt: rec.CreatedAt,
			NextIndex: rec.Next,
		})
	}
	return infos, nil
}

// Delete removes every record of a stream. Intended for cleanup when the
// parent conversation goes away; a missing stream is not an error.
func (l *Log) Delete(ctx context.Context, id string) error {
	var keys []kv.Key
	for entry, err := range l.store.List(ctx, streamPrefix(id)) {
		if err != nil {
			return err
		}
		keys = append(keys, entry.Key)
	}
	if len(keys) == 0 {
		return nil
	}
	return l.store.BatchDelete(ctx, keys)
}

func (l *Log) readChunk(ctx context.Context, id string, index uint64) (chunkRecord, error) {
	data, err := l.store.Get(ctx, chunkKey(id, index))
	if err != nil {
		return chunkRecord{}, err
	}
	var rec chunkRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return chunkRecord{}, err
	}
	return rec, nil
}

func (l *Log) meta(ctx context.Context, id string) (metaRecord, error) {
	data, err := l.store.Get(ctx, metaKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return metaRecord{}, ErrNotFound
	}
	if err != nil {
		return metaRecord{}, err
	}
	var rec metaRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return metaRecord{}, err
	}
	return rec, nil
}

func (l *Log) writeMeta(ctx context.Context, id string, rec metaRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, metaKey(id), data)
}
