package storage

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/chunk"
	"github.com/dreamware/strata/internal/codec"
	"github.com/dreamware/strata/internal/record"
)

// TableState is the durable form of a Table: everything needed to rebuild it
// after a restart or restore it from a snapshot.
type TableState struct {
	Address  string         `cbor:"address"`
	Capacity int            `cbor:"capacity"`
	NextSeq  uint64         `cbor:"next_seq"`
	Full     bool           `cbor:"full"`
	Entries  []record.Entry `cbor:"entries"`
}

// TableStats contains statistics about the table
type TableStats struct {
	Records  int    `json:"records"`
	Capacity int    `json:"capacity"`
	NextSeq  uint64 `json:"next_seq"`
	Full     bool   `json:"full"`
}

// Table is the record table of one shard.
// Sequence numbers start at 1 and are allocated only by successful adds, so
// an identifier is never reused. Once the table has held Capacity records it
// is marked full for good and every later Add fails with AtCapacity.
// All methods are safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	address  string
	capacity int
	nextSeq  uint64
	full     bool
	entries  map[record.Identifier]record.Record
}

// NewTable creates an empty table for the shard at address. A capacity of
// zero or less means unbounded.
func NewTable(address string, capacity int) *Table {
	return &Table{
		address:  address,
		capacity: capacity,
		nextSeq:  1,
		entries:  make(map[record.Identifier]record.Record),
	}
}

// Address returns the shard address embedded in allocated identifiers.
func (t *Table) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address
}

// SetAddress changes the address used for future identifiers.
func (t *Table) SetAddress(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.address = address
}

// SetCapacity changes the capacity ceiling. Lowering it below the current
// size marks the table full.
func (t *Table) SetCapacity(capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capacity = capacity
	if capacity > 0 && len(t.entries) >= capacity {
		t.full = true
	}
}

// Add allocates the next sequence number and inserts rec under a new
// identifier of the given kind.
func (t *Table) Add(rec record.Record, kind string) (record.Entry, error) {
	if !record.ValidKind(kind) {
		return record.Entry{}, apierr.New(apierr.KindValidation, "INVALID_KIND",
			fmt.Sprintf("kind tag %q is not valid", kind), t.Address(), "add", kind)
	}
	if err := rec.Validate(); err != nil {
		return record.Entry{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.full || (t.capacity > 0 && len(t.entries) >= t.capacity) {
		t.full = true
		return record.Entry{}, apierr.New(apierr.KindAtCapacity, "AT_CAPACITY",
			fmt.Sprintf("shard holds %d of %d records", len(t.entries), t.capacity), t.address, "add")
	}

	id := record.Identifier{Kind: kind, Shard: t.address, Seq: t.nextSeq}
	t.nextSeq++
	t.entries[id] = rec
	if t.capacity > 0 && len(t.entries) >= t.capacity {
		t.full = true
	}
	return record.Entry{ID: id, Record: rec}, nil
}

// Update replaces the record stored under id. The identifier is unchanged.
func (t *Table) Update(id record.Identifier, rec record.Record) (record.Entry, error) {
	if err := rec.Validate(); err != nil {
		return record.Entry{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; !ok {
		return record.Entry{}, t.notFound(id, "update")
	}
	t.entries[id] = rec
	return record.Entry{ID: id, Record: rec}, nil
}

// Get returns the record stored under id.
func (t *Table) Get(id record.Identifier) (record.Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.entries[id]
	if !ok {
		return record.Entry{}, t.notFound(id, "get")
	}
	return record.Entry{ID: id, Record: rec}, nil
}

// GetAll returns every entry ordered by sequence number.
func (t *Table) GetAll() []record.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sortedLocked()
}

// Len returns the number of stored records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Available reports whether the table still accepts new records.
func (t *Table) Available() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.full
}

// LastSeq returns the last allocated sequence number, 0 if none.
func (t *Table) LastSeq() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextSeq - 1
}

// Clear removes every record. Sequence numbers and the full flag are kept.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[record.Identifier]record.Record)
}

// Stats returns table statistics
func (t *Table) Stats() TableStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TableStats{
		Records:  len(t.entries),
		Capacity: t.capacity,
		NextSeq:  t.nextSeq,
		Full:     t.full,
	}
}

// Filter returns the entries matching every filter, in sequence order.
func (t *Table) Filter(filters []record.Filter) []record.Entry {
	return record.Apply(t.GetAll(), filters)
}

// FilterAndSerialize encodes the entries matching filters. This is a
// best-effort read path: an encoding failure yields an empty payload, which
// readers treat as no results.
func (t *Table) FilterAndSerialize(filters []record.Filter) []byte {
	b, err := codec.Marshal(t.Filter(filters))
	if err != nil {
		return []byte{}
	}
	return b
}

// FilterChunk returns chunk index of the serialized filter result. The
// result is recomputed on every call; nothing is kept between chunk reads.
func (t *Table) FilterChunk(filters []record.Filter, index uint64, maxChunkBytes int) ([]byte, chunk.Range, error) {
	if err := record.ValidateFilters(filters); err != nil {
		return nil, chunk.Range{}, err
	}
	return chunk.Slice(t.FilterAndSerialize(filters), index, maxChunkBytes)
}

// State returns a copy of the table's durable state.
func (t *Table) State() TableState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TableState{
		Address:  t.address,
		Capacity: t.capacity,
		NextSeq:  t.nextSeq,
		Full:     t.full,
		Entries:  t.sortedLocked(),
	}
}

// Load replaces the table contents with s.
func (t *Table) Load(s TableState) error {
	entries := make(map[record.Identifier]record.Record, len(s.Entries))
	for _, e := range s.Entries {
		if _, dup := entries[e.ID]; dup {
			return apierr.New(apierr.KindValidation, "DUPLICATE_IDENTIFIER",
				fmt.Sprintf("identifier %s appears twice", e.ID), s.Address, "load")
		}
		entries[e.ID] = e.Record
	}
	next := s.NextSeq
	if next == 0 {
		next = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.address = s.Address
	t.capacity = s.Capacity
	t.nextSeq = next
	t.full = s.Full
	t.entries = entries
	return nil
}

// Encode serializes the full table state deterministically. Encoding the
// same state twice yields identical bytes.
func (t *Table) Encode() ([]byte, error) {
	return codec.Marshal(t.State())
}

// Restore replaces the records with the state encoded in data. The data is
// fully decoded before anything changes. The live address and capacity are
// kept; the sequence counter never moves backwards and a full table stays
// full, so restoring an older snapshot cannot cause identifier reuse.
func (t *Table) Restore(data []byte) error {
	s, err := DecodeState(data)
	if err != nil {
		return err
	}
	t.mu.RLock()
	s.Address = t.address
	s.Capacity = t.capacity
	s.NextSeq = max(s.NextSeq, t.nextSeq)
	s.Full = s.Full || t.full
	t.mu.RUnlock()
	return t.Load(s)
}

// DecodeState parses bytes produced by Encode.
func DecodeState(data []byte) (TableState, error) {
	var s TableState
	if err := codec.Unmarshal(data, &s); err != nil {
		return TableState{}, apierr.New(apierr.KindValidation, "DECODE_FAILED",
			err.Error(), "", "decode_state")
	}
	return s, nil
}

func (t *Table) sortedLocked() []record.Entry {
	out := make([]record.Entry, 0, len(t.entries))
	for id, rec := range t.entries {
		out = append(out, record.Entry{ID: id, Record: rec})
	}
	slices.SortFunc(out, func(a, b record.Entry) int {
		if a.ID.Seq != b.ID.Seq {
			if a.ID.Seq < b.ID.Seq {
				return -1
			}
			return 1
		}
		if a.ID.String() < b.ID.String() {
			return -1
		}
		if a.ID.String() > b.ID.String() {
			return 1
		}
		return 0
	})
	return out
}

func (t *Table) notFound(id record.Identifier, method string) *apierr.Error {
	return apierr.New(apierr.KindNotFound, "RECORD_NOT_FOUND",
		fmt.Sprintf("no record with identifier %s", id), t.address, method, id.String())
}

// DecodeEntries parses a payload produced by FilterAndSerialize.
func DecodeEntries(data []byte) ([]record.Entry, error) {
	if len(data) == 0 {
		return []record.Entry{}, nil
	}
	var entries []record.Entry
	if err := codec.Unmarshal(data, &entries); err != nil {
		return nil, apierr.New(apierr.KindValidation, "DECODE_FAILED", err.Error(), "", "decode_entries")
	}
	return entries, nil
}
