// Package chunk splits byte payloads into ordered, size-bounded chunks and
// reassembles them.
//
// Two protocols use it. Query aggregation reads a shard's filtered result
// one chunk at a time with Slice and rebuilds it with an Assembler; nothing
// is stored between calls. Backup stores the chunks produced by Split and
// joins them again with Join on restore.
//
// Boundary policy for a payload of n bytes read with chunk size m:
//
//	n <= m  -> one implicit chunk, range (0, 0)
//	n >  m  -> chunk c is bytes [c*m, (c+1)*m) clipped to n,
//	           last index ceil(n/m) - 1
//
// Reassembly is strict: a chunk whose index is not the next expected index
// is a ChunkOrder error and the transfer must be abandoned.
package chunk

import (
	"bytes"
	"fmt"

	"github.com/dreamware/strata/internal/apierr"
)

// Chunk is one slice of a payload.
type Chunk struct {
	Index uint64 `json:"index" cbor:"index"`
	Data  []byte `json:"data" cbor:"data"`
}

// Range reports the position of a chunk read: its own index and the index
// of the final chunk of the payload.
type Range struct {
	Index uint64 `json:"index"`
	Last  uint64 `json:"last"`
}

// Final reports whether r closes the sequence.
func (r Range) Final() bool {
	return r.Index >= r.Last
}

// LastIndex returns the index of the final chunk of an n byte payload.
func LastIndex(n, size int) uint64 {
	if size <= 0 || n <= size {
		return 0
	}
	return uint64((n+size-1)/size) - 1
}

// Count returns how many chunks an n byte payload occupies.
func Count(n, size int) int {
	return int(LastIndex(n, size)) + 1
}

// Split partitions payload into contiguous chunks of at most size bytes.
// An empty payload yields a single empty chunk.
func Split(payload []byte, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, invalidSize(size, "split")
	}
	count := Count(len(payload), size)
	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * size
		end := min(start+size, len(payload))
		data := make([]byte, end-start)
		copy(data, payload[start:end])
		chunks = append(chunks, Chunk{Index: uint64(i), Data: data})
	}
	return chunks, nil
}

// Slice returns chunk index of payload and its range.
func Slice(payload []byte, index uint64, size int) ([]byte, Range, error) {
	if size <= 0 {
		return nil, Range{}, invalidSize(size, "slice")
	}
	last := LastIndex(len(payload), size)
	if index > last {
		return nil, Range{}, apierr.New(apierr.KindIndexOutOfRange, "CHUNK_OUT_OF_RANGE",
			fmt.Sprintf("chunk %d requested, last chunk is %d", index, last), "", "slice")
	}
	if last == 0 {
		return payload, Range{}, nil
	}
	start := int(index) * size
	end := min(start+size, len(payload))
	return payload[start:end], Range{Index: index, Last: last}, nil
}

// Assembler rebuilds a payload from chunks delivered in index order.
type Assembler struct {
	buf     bytes.Buffer
	next    uint64
	last    uint64
	started bool
}

// Next returns the index the assembler expects next.
func (a *Assembler) Next() uint64 {
	return a.next
}

// Add appends chunk data at index. Any index other than the next expected
// one is rejected and the assembler must be discarded.
func (a *Assembler) Add(index uint64, data []byte) error {
	if index != a.next {
		return OrderError(a.next, index)
	}
	a.buf.Write(data)
	a.next++
	a.started = true
	return nil
}

// AddRange appends a chunk read with Slice. The reported last index must
// not change between reads of the same payload.
func (a *Assembler) AddRange(data []byte, r Range) error {
	if a.started && r.Last != a.last {
		return apierr.New(apierr.KindChunkOrder, "CHUNK_SEQUENCE_CHANGED",
			fmt.Sprintf("last chunk moved from %d to %d mid-transfer", a.last, r.Last), "", "assemble")
	}
	if err := a.Add(r.Index, data); err != nil {
		return err
	}
	a.last = r.Last
	return nil
}

// Done reports whether the final chunk has been added.
func (a *Assembler) Done() bool {
	return a.started && a.next > a.last
}

// Bytes returns the reassembled payload so far.
func (a *Assembler) Bytes() []byte {
	return a.buf.Bytes()
}

// Join concatenates chunks strictly by their position. chunks[i] must
// carry index i.
func Join(chunks []Chunk) ([]byte, error) {
	var a Assembler
	for _, c := range chunks {
		if err := a.Add(c.Index, c.Data); err != nil {
			return nil, err
		}
	}
	return a.Bytes(), nil
}

// OrderError reports a chunk delivered out of sequence.
func OrderError(expected, got uint64) *apierr.Error {
	return apierr.New(apierr.KindChunkOrder, "CHUNK_ID_MISMATCH",
		fmt.Sprintf("chunk id mismatch: expected %d, got %d", expected, got), "", "assemble")
}

func invalidSize(size int, method string) *apierr.Error {
	return apierr.New(apierr.KindValidation, "INVALID_CHUNK_SIZE",
		fmt.Sprintf("chunk size must be positive, got %d", size), "", method)
}
