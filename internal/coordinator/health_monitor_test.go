package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewHealthMonitor verifies the monitor defaults.
func TestNewHealthMonitor(t *testing.T) {
	monitor := NewHealthMonitor(5*time.Second, func(context.Context, string) error { return nil })
	defer monitor.Stop()

	assert.Equal(t, 5*time.Second, monitor.interval)
	assert.Equal(t, 2*time.Second, monitor.timeout)
	assert.Equal(t, 3, monitor.maxFailures)
	assert.Empty(t, monitor.All())
}

// TestHealthMonitorStart verifies that every listed shard is checked on
// start and on each tick.
func TestHealthMonitorStart(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	monitor := NewHealthMonitor(50*time.Millisecond, func(context.Context, string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	defer monitor.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, func() []string { return []string{"http://a", "http://b"} })

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 4
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, monitor.IsHealthy("http://a"))
	assert.True(t, monitor.IsHealthy("http://b"))
	assert.Len(t, monitor.All(), 2)
}

// TestHealthMonitorFailure verifies the unhealthy transition, the
// callback and recovery.
func TestHealthMonitorFailure(t *testing.T) {
	var mu sync.Mutex
	down := true
	monitor := NewHealthMonitor(time.Hour, func(_ context.Context, addr string) error {
		mu.Lock()
		defer mu.Unlock()
		if addr == "http://a" && down {
			return errors.New("connection refused")
		}
		return nil
	})
	defer monitor.Stop()

	unhealthy := make(chan string, 1)
	monitor.SetOnUnhealthy(func(addr string) { unhealthy <- addr })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		monitor.check(ctx, "http://a")
	}
	h := monitor.Health("http://a")
	require.NotNil(t, h)
	assert.Equal(t, StatusUnknown, h.Status, "two failures are not enough")
	assert.Equal(t, 2, h.ConsecutiveFails)

	monitor.check(ctx, "http://a")
	assert.Equal(t, StatusUnhealthy, monitor.Health("http://a").Status)
	select {
	case addr := <-unhealthy:
		assert.Equal(t, "http://a", addr)
	case <-time.After(time.Second):
		t.Fatal("unhealthy callback not called")
	}

	mu.Lock()
	down = false
	mu.Unlock()
	monitor.check(ctx, "http://a")
	assert.True(t, monitor.IsHealthy("http://a"))
	assert.Equal(t, 0, monitor.Health("http://a").ConsecutiveFails)
}

// TestHealthMonitorForgetsRemovedShards verifies cleanup of shards no
// longer listed.
func TestHealthMonitorForgetsRemovedShards(t *testing.T) {
	monitor := NewHealthMonitor(time.Hour, func(context.Context, string) error { return nil })
	defer monitor.Stop()

	ctx := context.Background()
	monitor.checkAll(ctx, []string{"http://a", "http://b"})
	monitor.checkAll(ctx, []string{"http://b"})

	assert.Nil(t, monitor.Health("http://a"))
	assert.False(t, monitor.IsHealthy("http://a"))
	assert.NotNil(t, monitor.Health("http://b"))
}

// TestHealthMonitorStop verifies that Stop ends Start.
func TestHealthMonitorStop(t *testing.T) {
	monitor := NewHealthMonitor(10*time.Millisecond, func(context.Context, string) error { return nil })
	done := make(chan struct{})
	go func() {
		monitor.Start(context.Background(), func() []string { return nil })
		close(done)
	}()
	monitor.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

// TestHealthMonitorStopBeforeStart verifies that a Start scheduled after
// Stop returns without checking anything.
func TestHealthMonitorStopBeforeStart(t *testing.T) {
	var checks atomic.Int32
	monitor := NewHealthMonitor(time.Millisecond, func(context.Context, string) error {
		checks.Add(1)
		return nil
	})
	monitor.Stop()

	done := make(chan struct{})
	go func() {
		monitor.Start(context.Background(), func() []string { return []string{"http://a"} })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start ran after Stop")
	}
	assert.Zero(t, checks.Load())
}
