package coordinator

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/guard"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
)

//go:generate mockgen -source=provisioner.go -destination=mock/provisioner.go -package=mock

// Provisioner creates new, uninstalled shard nodes and returns their base
// URL. Installing the node is the registry's job.
type Provisioner interface {
	Create(ctx context.Context) (string, error)
}

// PoolProvisioner hands out spare nodes that registered themselves with the
// coordinator. Each spare is claimed at most once.
type PoolProvisioner struct {
	mu     sync.Mutex
	spares []cluster.NodeInfo
	log    *zerolog.Logger
}

// NewPoolProvisioner returns an empty pool. Spares join it through Offer.
func NewPoolProvisioner() *PoolProvisioner {
	return &PoolProvisioner{log: logging.Component("pool")}
}

// Offer adds node to the spare pool, replacing an earlier offer with the
// same ID.
func (p *PoolProvisioner) Offer(node cluster.NodeInfo) error {
	if node.ID == "" || node.Addr == "" {
		return apierr.New(apierr.KindValidation, "MISSING_NODE_INFO", "node id and addr are required", "", "register")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := slices.IndexFunc(p.spares, func(n cluster.NodeInfo) bool { return n.ID == node.ID })
	if idx >= 0 {
		p.spares[idx] = node
	} else {
		p.spares = append(p.spares, node)
	}
	p.log.Info().Str("node", node.ID).Str("addr", node.Addr).Int("spares", len(p.spares)).Msg("spare node registered")
	return nil
}

// Spares returns the unclaimed nodes.
func (p *PoolProvisioner) Spares() []cluster.NodeInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.spares)
}

// Create claims the oldest spare. An empty pool is a NO_SPARE_NODE
// Provision error.
func (p *PoolProvisioner) Create(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.spares) == 0 {
		return "", apierr.New(apierr.KindProvision, "NO_SPARE_NODE", "no registered spare node is left", "", "create")
	}
	node := p.spares[0]
	p.spares = slices.Delete(p.spares, 0, 1)
	p.log.Info().Str("node", node.ID).Str("addr", node.Addr).Msg("spare node claimed")
	return node.Addr, nil
}

// LocalProvisioner starts shard nodes inside the coordinator process, each
// on its own loopback listener.
type LocalProvisioner struct {
	mu      sync.Mutex
	servers []*http.Server
	nodes   map[string]*shard.Node

	host          string
	dataDir       string
	compression   storage.Compression
	owners        []string
	parentTimeout time.Duration
	nodeOpts      []shard.Option
	log           *zerolog.Logger
}

// LocalOption configures a LocalProvisioner.
type LocalOption func(*LocalProvisioner)

// WithDataDir keeps each node's state in dir/<name>.state and its backup
// slot in dir/<name>.backup.
func WithDataDir(dir string, c storage.Compression) LocalOption {
	return func(p *LocalProvisioner) {
		p.dataDir = dir
		p.compression = c
	}
}

// WithOwners sets the owner principals every local node accepts.
func WithOwners(owners ...string) LocalOption {
	return func(p *LocalProvisioner) { p.owners = owners }
}

// WithNodeOptions passes options to every node created.
func WithNodeOptions(opts ...shard.Option) LocalOption {
	return func(p *LocalProvisioner) { p.nodeOpts = append(p.nodeOpts, opts...) }
}

// WithParentTimeout bounds the nodes' calls back to the coordinator.
func WithParentTimeout(d time.Duration) LocalOption {
	return func(p *LocalProvisioner) { p.parentTimeout = d }
}

// NewLocalProvisioner returns a provisioner that binds nodes to 127.0.0.1.
// Without WithDataDir node state lives in memory.
func NewLocalProvisioner(opts ...LocalOption) *LocalProvisioner {
	p := &LocalProvisioner{
		host:  "127.0.0.1",
		nodes: make(map[string]*shard.Node),
		log:   logging.Component("local-provisioner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Create starts an uninstalled node on a fresh loopback port and returns
// its base URL. The node is named after a random UUID.
func (p *LocalProvisioner) Create(ctx context.Context) (string, error) {
	name := "shard-" + uuid.NewString()

	var persister, backups storage.Persister = storage.NewMemoryState(storage.CompressionNone), storage.NewMemoryState(storage.CompressionNone)
	if p.dataDir != "" {
		fs, err := storage.NewFileState(filepath.Join(p.dataDir, name+".state"), p.compression)
		if err != nil {
			return "", errors.Wrapf(err, "state file for %s", name)
		}
		bs, err := storage.NewFileState(filepath.Join(p.dataDir, name+".backup"), p.compression)
		if err != nil {
			return "", errors.Wrapf(err, "backup file for %s", name)
		}
		persister, backups = fs, bs
	}
	opts := append([]shard.Option{
		shard.WithPersister(persister),
		shard.WithBackupPersister(backups),
		shard.WithParentFactory(shard.HTTPParent(p.parentTimeout)),
	}, p.nodeOpts...)
	node, err := shard.NewNode(name, opts...)
	if err != nil {
		return "", err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(p.host, "0"))
	if err != nil {
		return "", errors.Wrapf(err, "listen for %s", name)
	}
	srv := &http.Server{
		Handler:           shard.Handler(node, guard.NewStatic(p.owners...)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error().Err(err).Str("node", name).Msg("local shard server stopped")
		}
	}()

	addr := "http://" + ln.Addr().String()
	p.mu.Lock()
	p.servers = append(p.servers, srv)
	p.nodes[addr] = node
	p.mu.Unlock()

	p.log.Info().Str("node", name).Str("addr", addr).Msg("local shard node started")
	return addr, nil
}

// Node returns the in-process node serving addr.
func (p *LocalProvisioner) Node(addr string) (*shard.Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[addr]
	return n, ok
}

// Close shuts every started node down.
func (p *LocalProvisioner) Close(ctx context.Context) error {
	p.mu.Lock()
	servers := p.servers
	p.servers = nil
	p.mu.Unlock()

	var first error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
