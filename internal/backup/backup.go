// Package backup implements hash-verified snapshot backup and restore of a
// shard's record table.
//
// A backup is a BLAKE3 content hash plus an ordered chunk sequence. It is in
// one of three states:
//
//	Empty        no hash, no chunks
//	Uploading    chunks present, no hash; never restorable
//	Snapshotted  hash set, by Snapshot or FinalizeUpload
//
// Restore checks, in order, that the chunk ids run 0..n-1, that the hash of
// the joined chunks equals the stored hash and that the bytes decode. Only
// when all three hold is the live table replaced.
package backup

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/chunk"
)

// DefaultChunkSize is the backup chunk size, 1 MiB.
const DefaultChunkSize = 1 << 20

// Dataset is what a backup serializes and restores. Restore must decode the
// whole payload before changing anything.
type Dataset interface {
	Encode() ([]byte, error)
	Restore(data []byte) error
}

// Phase names the backup state.
type Phase string

const (
	PhaseEmpty       Phase = "empty"
	PhaseUploading   Phase = "uploading"
	PhaseSnapshotted Phase = "snapshotted"
)

// State is the durable form of a backup.
type State struct {
	Hash   string        `cbor:"hash"`
	Chunks []chunk.Chunk `cbor:"chunks"`
}

// Status summarizes a backup.
type Status struct {
	Phase  Phase  `json:"phase"`
	Hash   string `json:"hash,omitempty"`
	Chunks int    `json:"chunks"`
	Bytes  int    `json:"bytes"`
}

// Backup is the backup slot of one shard.
type Backup struct {
	mu        sync.Mutex
	chunkSize int
	hash      string
	chunks    []chunk.Chunk
}

// New creates an empty backup that splits snapshots into chunkSize byte
// chunks. A non-positive size selects DefaultChunkSize.
func New(chunkSize int) *Backup {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Backup{chunkSize: chunkSize}
}

// Hash returns the hex BLAKE3-256 digest of data.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Snapshot discards any prior backup, serializes ds and stores its hash and
// chunks. The serialized bytes are produced a second time and must hash the
// same, so a snapshot whose bytes are not reproducible from the live table
// is never stored.
func (b *Backup) Snapshot(ds Dataset) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hash, b.chunks = "", nil

	data, err := ds.Encode()
	if err != nil {
		return "", apierr.New(apierr.KindUnexpected, "SNAPSHOT_ENCODE_FAILED", err.Error(), "", "snapshot")
	}
	hash := Hash(data)

	again, err := ds.Encode()
	if err != nil {
		return "", apierr.New(apierr.KindUnexpected, "SNAPSHOT_ENCODE_FAILED", err.Error(), "", "snapshot")
	}
	if Hash(again) != hash {
		return "", apierr.New(apierr.KindHashMismatch, "SNAPSHOT_UNSTABLE",
			"live table changed while the snapshot was taken", "", "snapshot")
	}

	chunks, err := chunk.Split(data, b.chunkSize)
	if err != nil {
		return "", err
	}
	b.hash, b.chunks = hash, chunks
	return hash, nil
}

// UploadChunk inserts or overwrites the chunk at index. Uploads are refused
// while a hash is set: the slot must be cleared first. Index may be at most
// the current chunk count; skipping ahead is a ChunkOrder error.
func (b *Backup) UploadChunk(index uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hash != "" {
		return apierr.New(apierr.KindNotEmpty, "BACKUP_NOT_EMPTY",
			"a finalized backup exists, clear it before uploading", "", "upload_chunk")
	}
	n := uint64(len(b.chunks))
	if index > n {
		return chunk.OrderError(n, index)
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	if index == n {
		b.chunks = append(b.chunks, chunk.Chunk{Index: index, Data: stored})
		return nil
	}
	b.chunks[index] = chunk.Chunk{Index: index, Data: stored}
	return nil
}

// FinalizeUpload joins the uploaded chunks, stores and returns their hash.
// The hash is not checked against anything; the caller compares it with
// the value it expects.
func (b *Backup) FinalizeUpload() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hash != "" {
		return "", apierr.New(apierr.KindNotEmpty, "BACKUP_NOT_EMPTY",
			"backup is already finalized", "", "finalize_upload")
	}
	if len(b.chunks) == 0 {
		return "", apierr.New(apierr.KindValidation, "NO_CHUNKS",
			"no chunks have been uploaded", "", "finalize_upload")
	}
	data, err := chunk.Join(b.chunks)
	if err != nil {
		return "", err
	}
	b.hash = Hash(data)
	return b.hash, nil
}

// Restore verifies the stored chunks against the stored hash and replaces
// the contents of ds. On any failure ds is left untouched.
func (b *Backup) Restore(ds Dataset) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hash == "" {
		return "", apierr.New(apierr.KindValidation, "BACKUP_INCOMPLETE",
			"no finalized backup to restore", "", "restore")
	}
	data, err := chunk.Join(b.chunks)
	if err != nil {
		return "", err
	}
	if got := Hash(data); got != b.hash {
		return "", apierr.New(apierr.KindHashMismatch, "HASH_MISMATCH",
			fmt.Sprintf("chunks hash to %s, backup records %s", got, b.hash), "", "restore")
	}
	if err := ds.Restore(data); err != nil {
		return "", apierr.New(apierr.KindDecode, "RESTORE_DECODE_FAILED", err.Error(), "", "restore")
	}
	return b.hash, nil
}

// DownloadChunk returns a copy of the chunk at index.
func (b *Backup) DownloadChunk(index uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index >= uint64(len(b.chunks)) {
		return nil, apierr.New(apierr.KindIndexOutOfRange, "CHUNK_OUT_OF_RANGE",
			fmt.Sprintf("chunk %d requested, backup has %d chunks", index, len(b.chunks)), "", "download_chunk")
	}
	out := make([]byte, len(b.chunks[index].Data))
	copy(out, b.chunks[index].Data)
	return out, nil
}

// TotalChunks returns the number of stored chunks.
func (b *Backup) TotalChunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Clear resets the backup to Empty.
func (b *Backup) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hash, b.chunks = "", nil
}

// Status reports the current phase and size.
func (b *Backup) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{Hash: b.hash, Chunks: len(b.chunks)}
	for _, c := range b.chunks {
		s.Bytes += len(c.Data)
	}
	switch {
	case b.hash != "":
		s.Phase = PhaseSnapshotted
	case len(b.chunks) > 0:
		s.Phase = PhaseUploading
	default:
		s.Phase = PhaseEmpty
	}
	return s
}

// State returns a copy of the durable state.
func (b *Backup) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	chunks := make([]chunk.Chunk, len(b.chunks))
	copy(chunks, b.chunks)
	return State{Hash: b.hash, Chunks: chunks}
}

// Load replaces the backup with s, typically after a restart.
func (b *Backup) Load(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hash = s.Hash
	b.chunks = append([]chunk.Chunk(nil), s.Chunks...)
}
