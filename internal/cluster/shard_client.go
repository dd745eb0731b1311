package cluster

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"

	"github.com/dreamware/strata/internal/backup"
	"github.com/dreamware/strata/internal/record"
)

// ShardClient calls shard node endpoints. Every method takes the shard's
// base URL.
//
// Add has a client of its own: a shard that is full answers it only after
// its close_and_migrate call to the coordinator has returned.
type ShardClient struct {
	c     *Client
	write *Client
}

// NewShardClient returns a client that identifies itself as principal.
func NewShardClient(principal string, timeout time.Duration) *ShardClient {
	c := NewClient(principal, timeout)
	return &ShardClient{c: c, write: c}
}

// WithWriteTimeout returns a copy of s whose Add calls are bounded by d
// instead of the request timeout.
func (s *ShardClient) WithWriteTimeout(d time.Duration) *ShardClient {
	out := *s
	out.write = NewClient(s.c.Principal, d)
	return &out
}

func url(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// Health reports an error unless the node answers /health.
func (s *ShardClient) Health(ctx context.Context, addr string) error {
	return s.c.GetJSON(ctx, url(addr, "/health"), nil)
}

// Install installs or upgrades the node, depending on req.Mode.
func (s *ShardClient) Install(ctx context.Context, addr string, req InstallRequest) error {
	return s.c.PostJSON(ctx, url(addr, "/install"), req, nil)
}

// Metadata describes the node.
func (s *ShardClient) Metadata(ctx context.Context, addr string) (Metadata, error) {
	var out Metadata
	err := s.c.GetJSON(ctx, url(addr, "/metadata"), &out)
	return out, err
}

// Add stores rec on the shard. A full shard migrates the record and the
// result names the sibling that stored it.
func (s *ShardClient) Add(ctx context.Context, addr, kind string, rec record.Record) (AddResult, error) {
	var out AddResult
	err := s.write.PostJSON(ctx, url(addr, "/records/add"), AddRequest{Kind: kind, Record: rec}, &out)
	return out, err
}

// AddByParent stores a record forwarded by the coordinator.
func (s *ShardClient) AddByParent(ctx context.Context, addr, kind string, rec record.Record) (record.Entry, error) {
	var out record.Entry
	err := s.c.PostJSON(ctx, url(addr, "/records/add_by_parent"), AddRequest{Kind: kind, Record: rec}, &out)
	return out, err
}

func (s *ShardClient) Update(ctx context.Context, addr string, id record.Identifier, rec record.Record) (record.Entry, error) {
	var out record.Entry
	err := s.c.PostJSON(ctx, url(addr, "/records/update"), UpdateRequest{ID: id, Record: rec}, &out)
	return out, err
}

func (s *ShardClient) Get(ctx context.Context, addr string, id record.Identifier) (record.Entry, error) {
	var out record.Entry
	err := s.c.PostJSON(ctx, url(addr, "/records/get"), GetRequest{ID: id}, &out)
	return out, err
}

func (s *ShardClient) GetAll(ctx context.Context, addr string) ([]record.Entry, error) {
	var out []record.Entry
	err := s.c.GetJSON(ctx, url(addr, "/records"), &out)
	return out, err
}

// FilterChunk reads one chunk of the shard's filtered, serialized records.
func (s *ShardClient) FilterChunk(ctx context.Context, addr string, req FilterRequest) (FilterChunk, error) {
	var out FilterChunk
	err := s.c.PostJSON(ctx, url(addr, "/records/filter"), req, &out)
	return out, err
}

// Snapshot replaces the shard backup and returns its hash.
func (s *ShardClient) Snapshot(ctx context.Context, addr string) (string, error) {
	var out HashResponse
	err := s.c.PostJSON(ctx, url(addr, "/backup/snapshot"), struct{}{}, &out)
	return out.Hash, err
}

func (s *ShardClient) UploadChunk(ctx context.Context, addr string, index uint64, data []byte) error {
	return s.c.PostJSON(ctx, url(addr, "/backup/upload"), ChunkRequest{Index: index, Data: data}, nil)
}

func (s *ShardClient) FinalizeUpload(ctx context.Context, addr string) (string, error) {
	var out HashResponse
	err := s.c.PostJSON(ctx, url(addr, "/backup/finalize"), struct{}{}, &out)
	return out.Hash, err
}

func (s *ShardClient) Restore(ctx context.Context, addr string) (string, error) {
	var out HashResponse
	err := s.c.PostJSON(ctx, url(addr, "/backup/restore"), struct{}{}, &out)
	return out.Hash, err
}

// DownloadChunk fetches one backup chunk.
func (s *ShardClient) DownloadChunk(ctx context.Context, addr string, index uint64) ([]byte, error) {
	var out ChunkResponse
	err := s.c.PostJSON(ctx, url(addr, "/backup/download"), ChunkRequest{Index: index}, &out)
	return out.Data, err
}

func (s *ShardClient) TotalChunks(ctx context.Context, addr string) (int, error) {
	var out TotalResponse
	err := s.c.GetJSON(ctx, url(addr, "/backup/total"), &out)
	return out.Total, err
}

// ClearBackup empties the backup slot.
func (s *ShardClient) ClearBackup(ctx context.Context, addr string) error {
	return s.c.PostJSON(ctx, url(addr, "/backup/clear"), struct{}{}, nil)
}

func (s *ShardClient) BackupStatus(ctx context.Context, addr string) (backup.Status, error) {
	var out backup.Status
	err := s.c.GetJSON(ctx, url(addr, "/backup/status"), &out)
	return out, err
}

// ParentClient is the shard's link to the coordinator that installed it.
type ParentClient struct {
	c    *Client
	base string
}

// NewParentClient calls the coordinator at base as principal.
func NewParentClient(base, principal string, timeout time.Duration) *ParentClient {
	return &ParentClient{c: NewClient(principal, timeout), base: base}
}

// CloseAndMigrate asks the coordinator to close the calling shard and
// store the overflow record on a new sibling.
func (p *ParentClient) CloseAndMigrate(ctx context.Context, req MigrateRequest) (MigrateResponse, error) {
	var out MigrateResponse
	err := p.c.PostJSON(ctx, url(p.base, "/shards/close_and_migrate"), req, &out)
	return out, err
}

// Register offers a node to the coordinator's spare pool, retrying with a
// Fibonacci backoff until the coordinator answers or attempts run out.
func Register(ctx context.Context, coord string, node NodeInfo, base time.Duration, attempts uint64) error {
	if base <= 0 {
		base = 400 * time.Millisecond
	}
	body := RegisterRequest{Node: node}
	err := retry.Do(ctx, retry.WithMaxRetries(attempts, retry.NewFibonacci(base)), func(ctx context.Context) error {
		if err := PostJSON(ctx, url(coord, "/register"), body, nil); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	return errors.Wrapf(err, "register with coordinator %s", coord)
}
