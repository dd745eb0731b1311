// Package storage holds the per-shard record table and the durable state
// files that let shards and the coordinator survive a restart.
//
// # Table
//
// Table is the record table of one shard. It allocates identifiers of the
// form kind:address:seq, enforces the shard's capacity ceiling and answers
// local queries:
//
//	t := storage.NewTable("10.0.0.5:8081", 1000)
//	entry, err := t.Add(rec, "profile")
//	if errors.Is(err, apierr.ErrAtCapacity) {
//	    // the shard is full for good; the coordinator migrates the record
//	}
//
// Capacity rules:
//   - sequence numbers start at 1 and only a successful Add consumes one
//   - the add that brings the table to capacity succeeds and marks it full
//   - a full table never accepts another Add, even after Clear
//
// FilterAndSerialize and FilterChunk serve the aggregation read path. The
// filtered entries are encoded with deterministic CBOR; an encoding failure
// yields an empty payload rather than an error.
//
// # Durable state
//
// FileState writes one CBOR value per file with optional zstd or lz4
// compression. Every save goes to a temporary file that is renamed over the
// target, so readers see either the previous or the new state, never a
// torn write. The on-disk frame is:
//
//	magic "STRS" | compression tag (1 byte) | raw length (8 bytes, big endian) | body
//
// MemoryState applies the same framing without touching the filesystem and
// backs shards started without a data directory.
//
// # Concurrency
//
// Table guards its map with a sync.RWMutex. Shard nodes still serialize
// their own handlers with an actor mutex so that multi-step operations such
// as snapshot observe one consistent table.
package storage
