package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/config"
	"github.com/dreamware/strata/internal/coordinator"
	"github.com/dreamware/strata/internal/guard"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
)

// app is a wired coordinator process.
type app struct {
	cfg      config.Coordinator
	registry *coordinator.ShardRegistry
	health   *coordinator.HealthMonitor
	local    *coordinator.LocalProvisioner
	server   *coordinator.Server
	log      *zerolog.Logger
}

// newApp builds the registry, provisioner, aggregator and health monitor
// described by cfg, sets the code image and provisions the first shard.
// A failed bootstrap is logged; the first write retries it.
func newApp(ctx context.Context, cfg config.Coordinator) (*app, error) {
	log := logging.Component("coordinator")
	compression, err := storage.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	var prov coordinator.Provisioner
	var pool *coordinator.PoolProvisioner
	var persister storage.Persister = storage.NewMemoryState(compression)

	switch cfg.Provisioner {
	case "pool":
		pool = coordinator.NewPoolProvisioner()
		prov = pool
		if cfg.DataDir != "" {
			fs, err := storage.NewFileState(filepath.Join(cfg.DataDir, "registry.state"), compression)
			if err != nil {
				return nil, err
			}
			persister = fs
		}
	default:
		opts := []coordinator.LocalOption{
			coordinator.WithOwners(cfg.Owners...),
			coordinator.WithParentTimeout(cfg.ParentTimeout()),
			coordinator.WithNodeOptions(
				shard.WithMaxChunkBytes(cfg.MaxChunkBytes),
				shard.WithBackupChunkSize(cfg.BackupChunkSize),
			),
		}
		if cfg.DataDir != "" {
			opts = append(opts, coordinator.WithDataDir(filepath.Join(cfg.DataDir, "shards"), compression))
		}
		a.local = coordinator.NewLocalProvisioner(opts...)
		prov = a.local
	}

	client := cluster.NewShardClient(cfg.Principal, cfg.RequestTimeout.Duration).WithWriteTimeout(cfg.WriteBudget())
	a.registry, err = coordinator.NewShardRegistry(coordinator.RegistryConfig{
		Principal:      cfg.Principal,
		PublicURL:      cfg.PublicURL,
		Capacity:       cfg.ShardCapacity,
		InstallRetries: cfg.InstallRetries,
		InstallBackoff: cfg.InstallBackoff.Duration,
		MigrateTimeout: cfg.MigrationBudget(),
	}, prov, client, persister)
	if err != nil {
		return nil, err
	}

	data, err := imageBytes(cfg.Image)
	if err != nil {
		return nil, err
	}
	if _, err := a.registry.SetImage(cfg.Image.Label, cfg.Image.Version, data); err != nil && !errors.Is(err, apierr.ErrUpToDate) {
		return nil, err
	}
	if err := a.registry.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Msg("no shard provisioned at startup")
	}

	a.health = coordinator.NewHealthMonitor(cfg.HealthInterval.Duration, client.Health)
	a.health.SetOnUnhealthy(func(addr string) {
		log.Warn().Str("address", addr).Msg("shard is unhealthy")
	})
	a.server = &coordinator.Server{
		Registry:   a.registry,
		Aggregator: coordinator.NewAggregator(a.registry.Addresses, client, cfg.FanOut, cfg.MaxChunkBytes),
		Health:     a.health,
		Pool:       pool,
		Guard:      guard.NewStatic(cfg.Owners...),
		Kind:       cfg.Kind,
	}
	return a, nil
}

// imageBytes returns the bytes that identify the code image: the file at
// img.Path, or the label and version when no path is set.
func imageBytes(img config.Image) ([]byte, error) {
	if img.Path == "" {
		return []byte(img.Label + "@" + img.Version), nil
	}
	data, err := os.ReadFile(img.Path)
	return data, errors.Wrapf(err, "read image %s", img.Path)
}

// run serves until ctx is cancelled, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", a.cfg.Listen)
	}
	return a.serve(ctx, ln)
}

func (a *app) serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go a.health.Start(ctx, a.registry.Addresses)

	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", ln.Addr().String()).Str("provisioner", a.cfg.Provisioner).Msg("coordinator listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	a.health.Stop()
	if a.local != nil {
		_ = a.local.Close(shutdownCtx)
	}
	a.log.Info().Msg("coordinator stopped")
	return serveErr
}
