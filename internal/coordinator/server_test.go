package coordinator

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/guard"
	"github.com/dreamware/strata/internal/record"
)

func newTestServer(t *testing.T, pool *PoolProvisioner) (*registryFixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t, true)
	srv := &Server{
		Registry:   f.reg,
		Aggregator: NewAggregator(f.reg.Addresses, f.client, 2, 0),
		Pool:       pool,
		Guard:      guard.NewStatic("ops"),
		Kind:       "profile",
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return f, ts
}

func TestServerCloseAndMigrateGuard(t *testing.T) {
	ctx := context.Background()
	f, ts := newTestServer(t, nil)
	f.provisioned(t, "http://s0")

	rec := record.Record{Owner: "p", Username: "C"}
	req := cluster.MigrateRequest{Caller: "http://s0", LastSeq: 2, Kind: "profile", Record: encoded(t, rec)}

	tests := []struct {
		name      string
		principal string
		caller    string
	}{
		{"anonymous", "", "http://s0"},
		{"other principal", "alice", "http://s0"},
		{"shard closing another shard", "http://s9", "http://s0"},
		{"unregistered caller", "http://s9", "http://s9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := req
			r.Caller = tt.caller
			err := cluster.NewClient(tt.principal, time.Second).PostJSON(ctx, ts.URL+"/shards/close_and_migrate", r, nil)
			assert.True(t, errors.Is(err, apierr.ErrUnauthorized))
		})
	}

	f.prov.EXPECT().Create(gomock.Any()).Return("http://s1", nil)
	f.client.EXPECT().Install(gomock.Any(), "http://s1", gomock.Any()).Return(nil)
	f.client.EXPECT().AddByParent(gomock.Any(), "http://s1", "profile", rec).
		Return(record.Entry{ID: record.Identifier{Kind: "profile", Shard: "http://s1", Seq: 1}, Record: rec}, nil)

	parent := cluster.NewParentClient(ts.URL, "http://s0", time.Second)
	resp, err := parent.CloseAndMigrate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "http://s1", resp.Sibling)
	assert.Equal(t, "http://s1", resp.Entry.ID.Shard)
}

func TestServerWriteAndQuery(t *testing.T) {
	ctx := context.Background()
	f, ts := newTestServer(t, nil)
	f.provisioned(t, "http://s0")
	alice := cluster.NewClient("alice", time.Second)

	rec := record.Record{Owner: "alice", Username: "A"}
	f.client.EXPECT().Add(gomock.Any(), "http://s0", "profile", rec).
		Return(cluster.AddResult{Entry: record.Entry{ID: record.Identifier{Kind: "profile", Shard: "http://s0", Seq: 1}, Record: rec}}, nil)

	var res cluster.AddResult
	require.NoError(t, alice.PostJSON(ctx, ts.URL+"/records/add", cluster.AddRequest{Record: rec}, &res))
	assert.Equal(t, "profile:http://s0:1", res.Entry.ID.String())

	err := cluster.NewClient("", time.Second).PostJSON(ctx, ts.URL+"/records/add", cluster.AddRequest{Record: rec}, nil)
	assert.True(t, errors.Is(err, apierr.ErrUnauthorized))

	err = alice.PostJSON(ctx, ts.URL+"/query", Query{PageSize: 0}, nil)
	assert.True(t, errors.Is(err, apierr.ErrValidation))
}

func TestServerAdministration(t *testing.T) {
	ctx := context.Background()
	f, ts := newTestServer(t, nil)
	ops := cluster.NewClient("ops", time.Second)
	alice := cluster.NewClient("alice", time.Second)

	err := alice.PostJSON(ctx, ts.URL+"/image", ImageRequest{Label: "l", Version: "2", Data: []byte("v2")}, nil)
	assert.True(t, errors.Is(err, apierr.ErrUnauthorized))

	var img Image
	require.NoError(t, ops.PostJSON(ctx, ts.URL+"/image", ImageRequest{Label: "l", Version: "2", Data: []byte("v2")}, &img))
	assert.Equal(t, "2", img.Version)

	err = ops.PostJSON(ctx, ts.URL+"/image", ImageRequest{Label: "l", Version: "2", Data: []byte("v2")}, nil)
	assert.True(t, errors.Is(err, apierr.ErrUpToDate))

	f.prov.EXPECT().Create(gomock.Any()).Return("http://s0", nil)
	f.client.EXPECT().Install(gomock.Any(), "http://s0", gomock.Any()).Return(nil)
	var d ShardDescriptor
	require.NoError(t, ops.PostJSON(ctx, ts.URL+"/shards/provision", struct{}{}, &d))
	assert.Equal(t, "2", d.Version)

	err = ops.PostJSON(ctx, ts.URL+"/shards/upgrade", UpgradeRequest{Address: "http://s0"}, nil)
	assert.True(t, errors.Is(err, &apierr.Error{Kind: apierr.KindUpToDate, Code: "SHARD_UP_TO_DATE"}))

	var listing struct {
		Shards []ShardListing `json:"shards"`
	}
	require.NoError(t, alice.GetJSON(ctx, ts.URL+"/shards", &listing))
	require.Len(t, listing.Shards, 1)
	assert.Equal(t, "http://s0", listing.Shards[0].Address)
	assert.True(t, listing.Shards[0].Available)

	var st Stats
	require.NoError(t, alice.GetJSON(ctx, ts.URL+"/stats", &st))
	assert.Equal(t, 1, st.Shards)
	assert.Equal(t, "http://s0", st.Available)
}

func TestServerRegister(t *testing.T) {
	ctx := context.Background()
	node := cluster.NodeInfo{ID: "n1", Addr: "http://10.0.0.5:8081"}

	t.Run("without pool", func(t *testing.T) {
		_, ts := newTestServer(t, nil)
		err := cluster.PostJSON(ctx, ts.URL+"/register", cluster.RegisterRequest{Node: node}, nil)
		assert.True(t, errors.Is(err, &apierr.Error{Kind: apierr.KindValidation, Code: "NO_SPARE_POOL"}))
	})

	t.Run("with pool", func(t *testing.T) {
		pool := NewPoolProvisioner()
		_, ts := newTestServer(t, pool)
		require.NoError(t, cluster.Register(ctx, ts.URL, node, time.Millisecond, 1))
		assert.Equal(t, []cluster.NodeInfo{node}, pool.Spares())

		err := cluster.PostJSON(ctx, ts.URL+"/register", cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "n2"}}, nil)
		assert.True(t, errors.Is(err, apierr.ErrValidation))
	})
}
