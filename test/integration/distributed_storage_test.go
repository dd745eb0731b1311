package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/coordinator"
	"github.com/dreamware/strata/internal/guard"
	"github.com/dreamware/strata/internal/record"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
)

// TestSystem is an in-process cluster: one coordinator whose shards run on
// loopback listeners started by the local provisioner.
type TestSystem struct {
	t        *testing.T
	url      string
	registry *coordinator.ShardRegistry
	prov     *coordinator.LocalProvisioner
	ops      *cluster.Client
	shards   *cluster.ShardClient
}

func NewTestSystem(t *testing.T, capacity int) *TestSystem {
	t.Helper()
	ts := httptest.NewUnstartedServer(nil)
	prov := coordinator.NewLocalProvisioner(
		coordinator.WithOwners("ops"),
		coordinator.WithParentTimeout(5*time.Second),
		coordinator.WithNodeOptions(shard.WithBackupChunkSize(64), shard.WithMaxChunkBytes(256)),
	)
	client := cluster.NewShardClient("coordinator", 5*time.Second).WithWriteTimeout(10 * time.Second)
	reg, err := coordinator.NewShardRegistry(coordinator.RegistryConfig{
		Principal:      "coordinator",
		PublicURL:      "http://" + ts.Listener.Addr().String(),
		Capacity:       capacity,
		InstallRetries: 2,
		InstallBackoff: 10 * time.Millisecond,
		MigrateTimeout: 4 * time.Second,
	}, prov, client, storage.NewMemoryState(storage.CompressionZstd))
	require.NoError(t, err)
	_, err = reg.SetImage("strata-shard", "1", []byte("image-v1"))
	require.NoError(t, err)
	require.NoError(t, reg.Bootstrap(context.Background()))

	ts.Config.Handler = (&coordinator.Server{
		Registry:   reg,
		Aggregator: coordinator.NewAggregator(reg.Addresses, client, 4, 256),
		Pool:       nil,
		Guard:      guard.NewStatic("ops"),
		Kind:       "profile",
	}).Handler()
	ts.Start()
	t.Cleanup(func() {
		ts.Close()
		_ = prov.Close(context.Background())
	})

	return &TestSystem{
		t:        t,
		url:      ts.URL,
		registry: reg,
		prov:     prov,
		ops:      cluster.NewClient("ops", 5*time.Second),
		shards:   cluster.NewShardClient("ops", 5*time.Second),
	}
}

func (ts *TestSystem) add(name, country string) cluster.AddResult {
	ts.t.Helper()
	var res cluster.AddResult
	require.NoError(ts.t, ts.ops.PostJSON(context.Background(), ts.url+"/records/add", cluster.AddRequest{
		Record: record.Record{Owner: "ops", Username: name, Country: country},
	}, &res))
	return res
}

func (ts *TestSystem) query(q coordinator.Query) coordinator.Page {
	ts.t.Helper()
	var page coordinator.Page
	require.NoError(ts.t, ts.ops.PostJSON(context.Background(), ts.url+"/query", q, &page))
	return page
}

func (ts *TestSystem) listing() []coordinator.ShardListing {
	ts.t.Helper()
	var out struct {
		Shards []coordinator.ShardListing `json:"shards"`
	}
	require.NoError(ts.t, ts.ops.GetJSON(context.Background(), ts.url+"/shards", &out))
	return out.Shards
}

func TestMigrationOnOverflow(t *testing.T) {
	ts := NewTestSystem(t, 2)
	first := ts.listing()[0].Address

	a := ts.add("ann", "NZ")
	b := ts.add("bob", "AU")
	assert.Equal(t, first, a.Entry.ID.Shard)
	assert.Equal(t, first, b.Entry.ID.Shard)
	assert.False(t, b.Migrated)

	c := ts.add("cat", "NZ")
	require.True(t, c.Migrated)
	assert.NotEqual(t, first, c.Sibling)
	assert.Equal(t, c.Sibling, c.Entry.ID.Shard)

	shards := ts.listing()
	require.Len(t, shards, 2)
	assert.False(t, shards[0].Available)
	assert.Equal(t, uint64(2), shards[0].ClosedAt)
	assert.Equal(t, coordinator.MigrationDone, shards[0].Migration)
	assert.Equal(t, c.Sibling, shards[0].Sibling)
	assert.True(t, shards[1].Available)

	// the closed shard still answers reads
	entries, err := ts.shards.GetAll(context.Background(), first)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	d := ts.add("dan", "NZ")
	assert.False(t, d.Migrated)
	assert.Equal(t, c.Sibling, d.Entry.ID.Shard)
}

func TestAggregateAcrossShards(t *testing.T) {
	ts := NewTestSystem(t, 3)
	for i := 0; i < 10; i++ {
		ts.add(fmt.Sprintf("user%02d", i), []string{"NZ", "AU"}[i%2])
	}
	require.Len(t, ts.listing(), 4)

	page := ts.query(coordinator.Query{
		Sort:       &record.Sort{Key: record.SortUsername, Direction: record.Asc},
		PageSize:   4,
		PageNumber: 2,
	})
	assert.Equal(t, 10, page.Total)
	assert.Equal(t, 3, page.NumberOfPages)
	require.Len(t, page.Data, 4)
	assert.Equal(t, "user04", page.Data[0].Record.Username)
	assert.Equal(t, "user07", page.Data[3].Record.Username)

	nz := ts.query(coordinator.Query{
		Filters:    []record.Filter{record.CountryContains("NZ")},
		PageSize:   100,
		PageNumber: 1,
	})
	assert.Equal(t, 5, nz.Total)
	for _, e := range nz.Data {
		assert.Equal(t, "NZ", e.Record.Country)
	}
}

func TestConcurrentWrites(t *testing.T) {
	ts := NewTestSystem(t, 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		stored  int
		refused int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var res cluster.AddResult
			err := ts.ops.PostJSON(context.Background(), ts.url+"/records/add", cluster.AddRequest{
				Record: record.Record{Owner: "ops", Username: fmt.Sprintf("w%02d", i)},
			}, &res)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// a write that overflows while another migration of the
				// same shard is unfinished is refused, never duplicated
				assert.True(t, errors.Is(err, &apierr.Error{Kind: apierr.KindFailedToStore, Code: "MIGRATION_IN_PROGRESS"}), "%v", err)
				refused++
				return
			}
			stored++
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, stored+refused)

	page := ts.query(coordinator.Query{PageSize: 100, PageNumber: 1})
	assert.Equal(t, stored, page.Total)

	ids := make(map[string]bool)
	for _, e := range page.Data {
		assert.False(t, ids[e.ID.String()], "duplicate identifier %s", e.ID)
		ids[e.ID.String()] = true
	}

	available := 0
	for _, s := range ts.listing() {
		if s.Available {
			available++
		}
	}
	assert.Equal(t, 1, available)
}

func TestBackupRoundTrip(t *testing.T) {
	ts := NewTestSystem(t, 100)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		ts.add(fmt.Sprintf("user%02d", i), "NZ")
	}
	src := ts.listing()[0].Address
	before, err := ts.shards.GetAll(ctx, src)
	require.NoError(t, err)

	_, err = cluster.NewShardClient("alice", time.Second).Snapshot(ctx, src)
	assert.True(t, errors.Is(err, apierr.ErrUnauthorized))

	hash, err := ts.shards.Snapshot(ctx, src)
	require.NoError(t, err)
	total, err := ts.shards.TotalChunks(ctx, src)
	require.NoError(t, err)
	require.Greater(t, total, 1)

	chunks := make([][]byte, total)
	for i := range chunks {
		chunks[i], err = ts.shards.DownloadChunk(ctx, src, uint64(i))
		require.NoError(t, err)
	}
	_, err = ts.shards.DownloadChunk(ctx, src, uint64(total))
	assert.True(t, errors.Is(err, apierr.ErrIndexOutOfRange))

	require.NoError(t, ts.shards.ClearBackup(ctx, src))
	err = ts.shards.UploadChunk(ctx, src, 1, chunks[1])
	assert.True(t, errors.Is(err, apierr.ErrChunkOrder), "a gap in the upload is refused")
	for i := 0; i < total; i++ {
		require.NoError(t, ts.shards.UploadChunk(ctx, src, uint64(i), chunks[i]))
	}
	// re-sending a chunk replaces it
	require.NoError(t, ts.shards.UploadChunk(ctx, src, 0, chunks[0]))
	uploaded, err := ts.shards.FinalizeUpload(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, hash, uploaded)

	restored, err := ts.shards.Restore(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, hash, restored)

	after, err := ts.shards.GetAll(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
