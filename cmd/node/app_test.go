package main

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/config"
	"github.com/dreamware/strata/internal/coordinator"
	"github.com/dreamware/strata/internal/guard"
	"github.com/dreamware/strata/internal/record"
	"github.com/dreamware/strata/internal/storage"
)

type poolCoordinator struct {
	url      string
	pool     *coordinator.PoolProvisioner
	registry *coordinator.ShardRegistry
}

func newPoolCoordinator(t *testing.T) *poolCoordinator {
	t.Helper()
	ts := httptest.NewUnstartedServer(nil)
	pool := coordinator.NewPoolProvisioner()
	reg, err := coordinator.NewShardRegistry(coordinator.RegistryConfig{
		Principal:      "coordinator",
		PublicURL:      "http://" + ts.Listener.Addr().String(),
		Capacity:       10,
		InstallRetries: 1,
		InstallBackoff: time.Millisecond,
	}, pool, cluster.NewShardClient("coordinator", 2*time.Second), storage.NewMemoryState(storage.CompressionNone))
	require.NoError(t, err)
	_, err = reg.SetImage("strata-shard", "1", []byte("v1"))
	require.NoError(t, err)

	ts.Config.Handler = (&coordinator.Server{
		Registry:   reg,
		Aggregator: coordinator.NewAggregator(reg.Addresses, cluster.NewShardClient("coordinator", time.Second), 1, 4096),
		Pool:       pool,
		Guard:      guard.NewStatic("ops"),
		Kind:       "profile",
	}).Handler()
	ts.Start()
	t.Cleanup(ts.Close)
	return &poolCoordinator{url: ts.URL, pool: pool, registry: reg}
}

// startNode serves a node on a loopback port until the test ends.
func startNode(t *testing.T, cfg config.Node) (*app, <-chan error, context.CancelFunc) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Listen = ln.Addr().String()
	cfg.PublicURL = "http://" + ln.Addr().String()

	a, err := newApp(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()
	t.Cleanup(cancel)
	return a, done, cancel
}

func nodeConfig(id, coord, dir string) config.Node {
	cfg := config.DefaultNode()
	cfg.ID = id
	cfg.CoordinatorURL = coord
	cfg.DataDir = dir
	cfg.Owners = []string{"ops"}
	cfg.RegisterBackoff = config.Duration{Duration: 10 * time.Millisecond}
	cfg.RegisterAttempts = 3
	return cfg
}

func TestNodeRegistersAndIsClaimed(t *testing.T) {
	coord := newPoolCoordinator(t)
	dir := t.TempDir()

	a, done, cancel := startNode(t, nodeConfig("node-1", coord.url, dir))
	require.Eventually(t, func() bool { return len(coord.pool.Spares()) == 1 }, 5*time.Second, 10*time.Millisecond)

	d, err := coord.registry.ProvisionShard(context.Background())
	require.NoError(t, err)
	assert.True(t, a.node.Installed())
	assert.Equal(t, "coordinator", a.node.Parent())

	res, err := coord.registry.Write(context.Background(), "profile", record.Record{Owner: "ops", Username: "ann"})
	require.NoError(t, err)
	assert.Equal(t, d.Address, res.Entry.ID.Shard)

	cancel()
	require.NoError(t, <-done)

	// restarting on the same state resumes the shard without registering
	b, done, cancel := startNode(t, nodeConfig("node-1", coord.url, dir))
	assert.True(t, b.node.Installed())
	assert.Len(t, b.node.GetAll(), 1)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, coord.pool.Spares())
	cancel()
	require.NoError(t, <-done)
}

func TestNodeStopsWhenRegistrationFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := nodeConfig("node-2", dead, "")
	cfg.RegisterAttempts = 1
	cfg.RegisterBackoff = config.Duration{Duration: time.Millisecond}
	_, done, _ := startNode(t, cfg)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node kept running after registration failed")
	}
}

func TestNodeWithoutCoordinator(t *testing.T) {
	cfg := nodeConfig("node-3", "", "")
	a, done, cancel := startNode(t, cfg)

	client := cluster.NewShardClient("ops", time.Second)
	require.NoError(t, client.Health(context.Background(), a.cfg.PublicURL))
	md, err := client.Metadata(context.Background(), a.cfg.PublicURL)
	require.NoError(t, err)
	assert.False(t, md.Installed)

	cancel()
	require.NoError(t, <-done)
}

func TestNewAppRejectsBadCompression(t *testing.T) {
	cfg := nodeConfig("node-4", "", "")
	cfg.Compression = "snappy"
	_, err := newApp(cfg)
	assert.Error(t, err)
}
