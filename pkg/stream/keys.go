package stream

import (
	"fmt"
	"strconv"

	"github.com/inkwellhq/relay/go/pkg/kv"
)

// KV key layout for the stream package.
//
//	strm:{id}:meta            → msgpack metaRecord (status, created_at, next)
//	strm:{id}:chunk:{index}   → msgpack chunkRecord (payload, kind)
//	strm:{id}:final           → msgpack finalRecord (status, payload, completed_at)
//
// Chunk indices are zero-padded to 20 decimal digits so lexicographic key
// order equals numeric index order, which lets range scans return chunks in
// append order without sorting. 20 digits covers the full uint64 range.

const indexDigits = 20

// metaKey builds the KV key for a stream's metadata record.
func metaKey(id string) kv.Key {
	return kv.Key{"strm", id, "meta"}
}

// chunkKey builds the KV key for one chunk.
func chunkKey(id string, index uint64) kv.Key {
	return kv.Key{"strm", id, "chunk", fmt.Sprintf("%0*d", indexDigits, index)}
}

// chunkPrefix returns the prefix for scanning all chunks of a stream.
func chunkPrefix(id string) kv.Key {
	return kv.Key{"strm", id, "chunk"}
}

// finalKey builds the KV key for a stream's terminal record.
func finalKey(id string) kv.Key {
	return kv.Key{"strm", id, "final"}
}

// streamPrefix returns the prefix covering every record of one stream.
func streamPrefix(id string) kv.Key {
	return kv.Key{"strm", id}
}

// allStreamsPrefix returns the prefix covering every stream record.
func allStreamsPrefix() kv.Key {
	return kv.Key{"strm"}
}

// parseChunkIndex recovers the numeric index from a chunk key's last segment.
func parseChunkIndex(key kv.Key) (uint64, error) {
	if len(key) == 0 {
		return 0, fmt.Errorf("stream: empty chunk key")
	}
	return strconv.ParseUint(key[len(key)-1], 10, 64)
}
