package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/strata/internal/logging"
)

// Health status values.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// ShardHealth tracks the health status of a single shard.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type ShardHealth struct {
	LastCheck        time.Time `json:"last_check"`   // Timestamp of the last health check attempt
	LastHealthy      time.Time `json:"last_healthy"` // Timestamp of the last successful health check
	Address          string    `json:"address"`
	Status           string    `json:"status"` // "healthy", "unhealthy" or "unknown"
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// HealthMonitor performs periodic health checks on every registered shard.
//
// Health is informational. It is reported in the shard listing and logged,
// but availability is only ever changed by the registry.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	shards      map[string]*ShardHealth // Current health status per shard address
	checkFunc   func(ctx context.Context, addr string) error
	onUnhealthy func(addr string) // Callback when a shard becomes unhealthy
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration // How often to check shard health
	timeout     time.Duration // Timeout of one check
	mu          sync.RWMutex  // Protects shards map
	runMu       sync.Mutex    // Orders Start registration against Stop
	stopped     bool
	wg          sync.WaitGroup
	maxFailures int // Failures before marking unhealthy
	log         *zerolog.Logger
}

// NewHealthMonitor creates a monitor that runs check against every shard
// each interval. Shards are marked unhealthy after 3 consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, client.Health)
//	go monitor.Start(ctx, registry.Addresses)
func NewHealthMonitor(interval time.Duration, check func(ctx context.Context, addr string) error) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		shards:      make(map[string]*ShardHealth),
		checkFunc:   check,
		ctx:         ctx,
		cancel:      cancel,
		log:         logging.Component("health"),
	}
}

// SetOnUnhealthy sets the callback invoked when a shard becomes unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(addr string)) {
	h.onUnhealthy = callback
}

// Start checks every shard returned by provider each interval. It blocks
// until ctx is canceled or Stop is called, and returns at once after Stop.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []string) {
	h.runMu.Lock()
	if h.stopped {
		h.runMu.Unlock()
		return
	}
	h.wg.Add(1)
	h.runMu.Unlock()
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info().Dur("interval", h.interval).Msg("health monitor started")

	h.checkAll(ctx, provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, provider())
		case <-ctx.Done():
			h.log.Info().Msg("health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			h.log.Info().Msg("health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop shuts the monitor down and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.runMu.Lock()
	h.stopped = true
	h.cancel()
	h.runMu.Unlock()
	h.wg.Wait()
	h.log.Info().Msg("health monitor stopped")
}

// checkAll checks every address and forgets shards no longer listed.
func (h *HealthMonitor) checkAll(ctx context.Context, addrs []string) {
	current := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		current[addr] = true
		h.check(ctx, addr)
	}

	h.mu.Lock()
	for addr := range h.shards {
		if !current[addr] {
			delete(h.shards, addr)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(ctx context.Context, addr string) {
	h.mu.Lock()
	health, exists := h.shards[addr]
	if !exists {
		health = &ShardHealth{
			Address:     addr,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.shards[addr] = health
	}
	h.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.checkFunc(cctx, addr)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	if err != nil {
		health.ConsecutiveFails++
		h.log.Warn().Err(err).
			Str("address", addr).
			Int("attempt", health.ConsecutiveFails).
			Int("max", h.maxFailures).
			Msg("health check failed")

		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			h.log.Error().Str("address", addr).Int("failures", health.ConsecutiveFails).Msg("shard marked unhealthy")
			if h.onUnhealthy != nil {
				// Call callback without holding the lock
				go h.onUnhealthy(addr)
			}
		}
		return
	}
	if health.Status == StatusUnhealthy {
		h.log.Info().Str("address", addr).Msg("shard recovered")
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// Health returns a copy of the health record of addr, or nil when the
// shard is not monitored.
func (h *HealthMonitor) Health(addr string) *ShardHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.shards[addr]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// All returns a copy of every health record keyed by address.
func (h *HealthMonitor) All() map[string]ShardHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]ShardHealth, len(h.shards))
	for addr, health := range h.shards {
		out[addr] = *health
	}
	return out
}

// IsHealthy reports whether addr passed its most recent checks.
func (h *HealthMonitor) IsHealthy(addr string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.shards[addr]
	return ok && health.Status == StatusHealthy
}
