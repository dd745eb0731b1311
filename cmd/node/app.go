package main

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/config"
	"github.com/dreamware/strata/internal/guard"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
)

type app struct {
	cfg  config.Node
	node *shard.Node
	log  *zerolog.Logger
}

// newApp opens the node's state and builds the shard node.
func newApp(cfg config.Node) (*app, error) {
	compression, err := storage.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	var persister, backups storage.Persister = storage.NewMemoryState(compression), storage.NewMemoryState(compression)
	if cfg.DataDir != "" {
		fs, err := storage.NewFileState(filepath.Join(cfg.DataDir, cfg.ID+".state"), compression)
		if err != nil {
			return nil, err
		}
		bs, err := storage.NewFileState(filepath.Join(cfg.DataDir, cfg.ID+".backup"), compression)
		if err != nil {
			return nil, err
		}
		persister, backups = fs, bs
	}
	log := logging.Component("node")
	node, err := shard.NewNode(cfg.ID,
		shard.WithPersister(persister),
		shard.WithBackupPersister(backups),
		shard.WithParentFactory(shard.HTTPParent(cfg.ParentTimeout.Duration)),
		shard.WithMaxChunkBytes(cfg.MaxChunkBytes),
		shard.WithBackupChunkSize(cfg.BackupChunkSize),
		shard.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, node: node, log: log}, nil
}

func (a *app) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", a.cfg.Listen)
	}
	return a.serve(ctx, ln)
}

// serve answers the shard API on ln and, for an uninstalled node, offers it
// to the coordinator. A registration that runs out of attempts stops the
// node.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           shard.Handler(a.node, guard.NewStatic(a.cfg.Owners...)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		a.log.Info().Str("addr", ln.Addr().String()).Str("id", a.cfg.ID).Msg("node listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	switch {
	case a.node.Installed():
		a.log.Info().Str("parent", a.node.Parent()).Msg("resuming installed shard")
	case a.cfg.CoordinatorURL == "":
		a.log.Warn().Msg("no coordinator configured, waiting for a direct install")
	default:
		go func() {
			info := cluster.NodeInfo{ID: a.cfg.ID, Addr: a.cfg.PublicURL}
			if err := cluster.Register(ctx, a.cfg.CoordinatorURL, info, a.cfg.RegisterBackoff.Duration, a.cfg.RegisterAttempts); err != nil {
				errc <- err
				return
			}
			a.log.Info().Str("coordinator", a.cfg.CoordinatorURL).Msg("registered as spare")
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	a.log.Info().Msg("node stopped")
	if ctx.Err() != nil {
		return nil
	}
	return runErr
}
