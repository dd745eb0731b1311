package cluster

import (
	"time"

	"github.com/dreamware/strata/internal/backup"
	"github.com/dreamware/strata/internal/chunk"
	"github.com/dreamware/strata/internal/record"
)

// NodeInfo identifies a node process that offers itself as a spare shard.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// RegisterRequest offers a spare node to a coordinator.
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// InstallMode selects between a fresh install and an upgrade.
type InstallMode string

const (
	ModeInstall InstallMode = "install"
	ModeUpgrade InstallMode = "upgrade"
)

// InstallRequest turns a spare node into a shard, or upgrades an installed
// shard in place. Upgrades keep the record table.
type InstallRequest struct {
	Mode        InstallMode `json:"mode"`
	Parent      string      `json:"parent"`
	ParentURL   string      `json:"parent_url"`
	Name        string      `json:"name"`
	Index       int         `json:"index"`
	Capacity    int         `json:"capacity"`
	Address     string      `json:"address"`
	Version     string      `json:"version"`
	ImageLabel  string      `json:"image_label"`
	ImageDigest string      `json:"image_digest"`
}

type AddRequest struct {
	Kind   string        `json:"kind"`
	Record record.Record `json:"record"`
}

// AddResult is the answer to a domain write. When the shard was at
// capacity, Migrated is set: the record was forwarded and now lives on
// Sibling under Entry.ID.
type AddResult struct {
	Entry    record.Entry `json:"entry"`
	Migrated bool         `json:"migrated,omitempty"`
	Sibling  string       `json:"sibling,omitempty"`
}

type UpdateRequest struct {
	ID     record.Identifier `json:"identifier"`
	Record record.Record     `json:"record"`
}

type GetRequest struct {
	ID record.Identifier `json:"identifier"`
}

// FilterRequest asks for one chunk of the records matching Filters.
type FilterRequest struct {
	Filters       []record.Filter `json:"filters"`
	ChunkIndex    uint64          `json:"chunk_index"`
	MaxChunkBytes int             `json:"max_chunk_bytes"`
}

// FilterChunk is one chunk of a shard's serialized filter result.
type FilterChunk struct {
	Data           []byte `json:"data"`
	ChunkIndex     uint64 `json:"chunk_index"`
	LastChunkIndex uint64 `json:"last_chunk_index"`
}

// Range returns the chunk position.
func (f FilterChunk) Range() chunk.Range {
	return chunk.Range{Index: f.ChunkIndex, Last: f.LastChunkIndex}
}

// MigrateRequest is sent by a shard that has just hit capacity. Record is
// the CBOR encoding of the overflowing record.
type MigrateRequest struct {
	Caller  string `json:"caller"`
	LastSeq uint64 `json:"last_seq"`
	Kind    string `json:"kind"`
	Record  []byte `json:"record"`
}

// MigrateResponse names the sibling that stored the overflow record.
type MigrateResponse struct {
	Sibling string       `json:"sibling"`
	Entry   record.Entry `json:"entry"`
}

type HashResponse struct {
	Hash string `json:"hash"`
}

type ChunkRequest struct {
	Index uint64 `json:"index"`
	Data  []byte `json:"data,omitempty"`
}

type ChunkResponse struct {
	Data []byte `json:"data"`
}

type TotalResponse struct {
	Total int `json:"total"`
}

// OperationStats counts handled operations.
type OperationStats struct {
	Adds       uint64 `json:"adds"`
	Updates    uint64 `json:"updates"`
	Gets       uint64 `json:"gets"`
	Filters    uint64 `json:"filters"`
	Migrations uint64 `json:"migrations"`
}

// Metadata describes a shard node.
type Metadata struct {
	Installed bool           `json:"installed"`
	Name      string         `json:"name"`
	Index     int            `json:"index"`
	Address   string         `json:"address"`
	Parent    string         `json:"parent"`
	Version   string         `json:"version"`
	Capacity  int            `json:"capacity"`
	Records   int            `json:"records"`
	NextSeq   uint64         `json:"next_seq"`
	Full      bool           `json:"full"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Ops       OperationStats `json:"operations"`
	Backup    backup.Status  `json:"backup"`
}
