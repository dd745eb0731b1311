package shard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/backup"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/codec"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/record"
	"github.com/dreamware/strata/internal/storage"
)

// DefaultMaxChunkBytes bounds one filter chunk when the caller gives no size.
const DefaultMaxChunkBytes = 2_000_000

// Parent is the coordinator that installed a shard.
type Parent interface {
	CloseAndMigrate(ctx context.Context, req cluster.MigrateRequest) (cluster.MigrateResponse, error)
}

// Install holds the parameters a shard was installed with.
type Install struct {
	Parent      string    `cbor:"parent" json:"parent"`
	ParentURL   string    `cbor:"parent_url" json:"parent_url"`
	Name        string    `cbor:"name" json:"name"`
	Index       int       `cbor:"index" json:"index"`
	Capacity    int       `cbor:"capacity" json:"capacity"`
	Address     string    `cbor:"address" json:"address"`
	Version     string    `cbor:"version" json:"version"`
	ImageLabel  string    `cbor:"image_label" json:"image_label"`
	ImageDigest string    `cbor:"image_digest" json:"image_digest"`
	InstalledAt time.Time `cbor:"installed_at" json:"installed_at"`
}

// nodeState is what a node persists on every write. The backup slot is
// saved separately, and only by backup operations.
type nodeState struct {
	Installed bool               `cbor:"installed"`
	Install   Install            `cbor:"install"`
	Table     storage.TableState `cbor:"table"`
	CreatedAt time.Time          `cbor:"created_at"`
	UpdatedAt time.Time          `cbor:"updated_at"`
}

// Node is one shard: its record table, backup slot and install state.
//
// Node is an actor. Every operation runs under mu, so the table and backup
// are never observed mid-change; snapshot and restore in particular are a
// single locked segment. mu is released before any call to the parent and
// re-acquired afterwards, so a shard never holds its lock across a call to
// another actor.
//
// A mutation that cannot be persisted is rolled back before the error is
// returned.
type Node struct {
	mu sync.Mutex

	id            string
	installed     bool
	install       Install
	table         *storage.Table
	backup        *backup.Backup
	parent        Parent
	parentFactory func(Install) Parent
	persister     storage.Persister
	backupStore   storage.Persister
	maxChunkBytes int
	createdAt     time.Time
	updatedAt     time.Time

	stats cluster.OperationStats
	log   *zerolog.Logger
}

// Option configures a Node.
type Option func(*Node)

// WithPersister stores node state through p. The default keeps state in
// memory only.
func WithPersister(p storage.Persister) Option {
	return func(n *Node) { n.persister = p }
}

// WithBackupPersister stores the backup slot through p. The default keeps
// it in memory only.
func WithBackupPersister(p storage.Persister) Option {
	return func(n *Node) { n.backupStore = p }
}

// WithParentFactory sets how a node reaches its parent after install.
func WithParentFactory(f func(Install) Parent) Option {
	return func(n *Node) { n.parentFactory = f }
}

// WithBackupChunkSize sets the snapshot chunk size.
func WithBackupChunkSize(size int) Option {
	return func(n *Node) { n.backup = backup.New(size) }
}

// WithMaxChunkBytes sets the default filter chunk size.
func WithMaxChunkBytes(size int) Option {
	return func(n *Node) {
		if size > 0 {
			n.maxChunkBytes = size
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(n *Node) { n.log = l }
}

// HTTPParent reaches the parent over HTTP, identifying as the shard address.
func HTTPParent(timeout time.Duration) func(Install) Parent {
	return func(in Install) Parent {
		if in.ParentURL == "" {
			return nil
		}
		return cluster.NewParentClient(in.ParentURL, in.Address, timeout)
	}
}

// NewNode creates a node and loads any persisted state.
func NewNode(id string, opts ...Option) (*Node, error) {
	now := time.Now().UTC()
	n := &Node{
		id:            id,
		table:         storage.NewTable("", 0),
		backup:        backup.New(backup.DefaultChunkSize),
		parentFactory: HTTPParent(0),
		persister:     storage.NewMemoryState(storage.CompressionNone),
		backupStore:   storage.NewMemoryState(storage.CompressionNone),
		maxChunkBytes: DefaultMaxChunkBytes,
		createdAt:     now,
		updatedAt:     now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		l := logging.Component("shard").With().Str("node", id).Logger()
		n.log = &l
	}

	var st nodeState
	ok, err := n.persister.Load(&st)
	if err != nil {
		return nil, errors.Wrapf(err, "load state of node %s", id)
	}
	if ok {
		if err := n.table.Load(st.Table); err != nil {
			return nil, errors.Wrapf(err, "load table of node %s", id)
		}
		n.installed = st.Installed
		n.install = st.Install
		n.createdAt = st.CreatedAt
		n.updatedAt = st.UpdatedAt
		if n.installed {
			n.parent = n.parentFactory(n.install)
		}
	}
	var bs backup.State
	hasBackup, err := n.backupStore.Load(&bs)
	if err != nil {
		return nil, errors.Wrapf(err, "load backup of node %s", id)
	}
	if hasBackup {
		n.backup.Load(bs)
	}
	if ok || hasBackup {
		n.log.Info().
			Int("records", n.table.Len()).
			Int("backup_chunks", n.backup.TotalChunks()).
			Msg("restored node state")
	}
	return n, nil
}

// ID returns the node identifier.
func (n *Node) ID() string {
	return n.id
}

// Parent returns the installing principal, empty before install.
func (n *Node) Parent() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.install.Parent
}

// Installed reports whether the node has been installed as a shard.
func (n *Node) Installed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.installed
}

// Install installs the node as a shard or upgrades it in place.
func (n *Node) Install(req cluster.InstallRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	prevInstalled, prevInstall, prevTable, prevParent := n.installed, n.install, n.table, n.parent
	prevState := n.table.State()

	switch req.Mode {
	case cluster.ModeInstall:
		if n.installed {
			return apierr.New(apierr.KindInstall, "ALREADY_INSTALLED",
				fmt.Sprintf("node %s is already installed as %s", n.id, n.install.Name), n.install.Address, "install")
		}
		if req.Address == "" || req.Parent == "" {
			return apierr.New(apierr.KindValidation, "INSTALL_PARAMS",
				"install needs an address and a parent", "", "install")
		}
		n.install = Install{
			Parent:      req.Parent,
			ParentURL:   req.ParentURL,
			Name:        req.Name,
			Index:       req.Index,
			Capacity:    req.Capacity,
			Address:     req.Address,
			Version:     req.Version,
			ImageLabel:  req.ImageLabel,
			ImageDigest: req.ImageDigest,
			InstalledAt: time.Now().UTC(),
		}
		n.installed = true
		n.table = storage.NewTable(req.Address, req.Capacity)
		n.parent = n.parentFactory(n.install)
	case cluster.ModeUpgrade:
		if !n.installed {
			return apierr.New(apierr.KindInstall, "NOT_INSTALLED",
				fmt.Sprintf("node %s has not been installed", n.id), "", "upgrade")
		}
		n.install.Version = req.Version
		n.install.ImageLabel = req.ImageLabel
		n.install.ImageDigest = req.ImageDigest
		if req.Capacity > 0 && req.Capacity != n.install.Capacity {
			n.install.Capacity = req.Capacity
			n.table.SetCapacity(req.Capacity)
		}
	default:
		return apierr.New(apierr.KindValidation, "INSTALL_MODE",
			fmt.Sprintf("unknown install mode %q", req.Mode), "", "install")
	}

	if err := n.persistLocked(); err != nil {
		n.installed, n.install, n.table, n.parent = prevInstalled, prevInstall, prevTable, prevParent
		_ = n.table.Load(prevState)
		return err
	}
	n.log.Info().
		Str("mode", string(req.Mode)).
		Str("address", n.install.Address).
		Str("version", n.install.Version).
		Int("capacity", n.install.Capacity).
		Msg("node installed")
	return nil
}

// AddRecord stores rec as a new record of the given kind. When the shard is
// at capacity the record is handed to the parent, which closes this shard,
// provisions a sibling and stores the record there; the result then has
// Migrated set and names the sibling.
func (n *Node) AddRecord(ctx context.Context, kind string, rec record.Record) (cluster.AddResult, error) {
	n.mu.Lock()
	if err := n.requireInstalledLocked("add"); err != nil {
		n.mu.Unlock()
		return cluster.AddResult{}, err
	}
	atomic.AddUint64(&n.stats.Adds, 1)
	prev := n.table.State()
	entry, err := n.table.Add(rec, kind)
	if err == nil {
		err = n.commitTableLocked(prev)
		n.mu.Unlock()
		if err != nil {
			return cluster.AddResult{}, err
		}
		return cluster.AddResult{Entry: entry}, nil
	}
	if !errors.Is(err, apierr.ErrAtCapacity) || n.parent == nil {
		n.mu.Unlock()
		return cluster.AddResult{}, err
	}
	parent := n.parent
	req := cluster.MigrateRequest{Caller: n.install.Address, LastSeq: n.table.LastSeq(), Kind: kind}
	n.mu.Unlock()

	payload, err := codec.Marshal(rec)
	if err != nil {
		return cluster.AddResult{}, errors.Wrap(err, "encode overflow record")
	}
	req.Record = payload

	n.log.Info().Str("address", req.Caller).Uint64("last_seq", req.LastSeq).Msg("shard at capacity, migrating overflow record")
	resp, err := parent.CloseAndMigrate(ctx, req)
	if err != nil {
		n.log.Error().Err(err).Str("address", req.Caller).Msg("close and migrate failed")
		return cluster.AddResult{}, err
	}
	atomic.AddUint64(&n.stats.Migrations, 1)
	n.log.Info().Str("sibling", resp.Sibling).Str("identifier", resp.Entry.ID.String()).Msg("overflow record stored on sibling")
	return cluster.AddResult{Entry: resp.Entry, Migrated: true, Sibling: resp.Sibling}, nil
}

// AddByParent stores a record forwarded by the parent.
func (n *Node) AddByParent(kind string, rec record.Record) (record.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.requireInstalledLocked("add_by_parent"); err != nil {
		return record.Entry{}, err
	}
	atomic.AddUint64(&n.stats.Adds, 1)
	prev := n.table.State()
	entry, err := n.table.Add(rec, kind)
	if err != nil {
		return record.Entry{}, err
	}
	if err := n.commitTableLocked(prev); err != nil {
		return record.Entry{}, err
	}
	return entry, nil
}

// Update replaces the record stored under id.
func (n *Node) Update(id record.Identifier, rec record.Record) (record.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.requireInstalledLocked("update"); err != nil {
		return record.Entry{}, err
	}
	atomic.AddUint64(&n.stats.Updates, 1)
	prev := n.table.State()
	entry, err := n.table.Update(id, rec)
	if err != nil {
		return record.Entry{}, err
	}
	if err := n.commitTableLocked(prev); err != nil {
		return record.Entry{}, err
	}
	return entry, nil
}

// Get returns the record stored under id.
func (n *Node) Get(id record.Identifier) (record.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	atomic.AddUint64(&n.stats.Gets, 1)
	return n.table.Get(id)
}

// GetAll returns every record in sequence order.
func (n *Node) GetAll() []record.Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	atomic.AddUint64(&n.stats.Gets, 1)
	return n.table.GetAll()
}

// FilterChunk returns one chunk of the serialized records matching filters.
// A non-positive maxChunkBytes selects the node default.
func (n *Node) FilterChunk(filters []record.Filter, index uint64, maxChunkBytes int) (cluster.FilterChunk, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	atomic.AddUint64(&n.stats.Filters, 1)
	if maxChunkBytes <= 0 {
		maxChunkBytes = n.maxChunkBytes
	}
	data, r, err := n.table.FilterChunk(filters, index, maxChunkBytes)
	if err != nil {
		return cluster.FilterChunk{}, err
	}
	return cluster.FilterChunk{Data: data, ChunkIndex: r.Index, LastChunkIndex: r.Last}, nil
}

// Snapshot replaces the backup with a hashed, chunked copy of the table.
func (n *Node) Snapshot() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.backup.State()
	hash, err := n.backup.Snapshot(n.table)
	if err != nil {
		return "", err
	}
	if err := n.commitBackupLocked(prev); err != nil {
		return "", err
	}
	n.log.Info().Str("hash", hash).Int("chunks", n.backup.TotalChunks()).Msg("snapshot taken")
	return hash, nil
}

// UploadChunk stores chunk index of a backup being uploaded.
func (n *Node) UploadChunk(index uint64, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.backup.State()
	if err := n.backup.UploadChunk(index, data); err != nil {
		return err
	}
	return n.commitBackupLocked(prev)
}

// FinalizeUpload hashes the uploaded chunks.
func (n *Node) FinalizeUpload() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.backup.State()
	hash, err := n.backup.FinalizeUpload()
	if err != nil {
		return "", err
	}
	if err := n.commitBackupLocked(prev); err != nil {
		return "", err
	}
	n.log.Info().Str("hash", hash).Int("chunks", n.backup.TotalChunks()).Msg("upload finalized")
	return hash, nil
}

// Restore replaces the table with the verified backup.
func (n *Node) Restore() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.table.State()
	hash, err := n.backup.Restore(n.table)
	if err != nil {
		n.log.Error().Err(err).Msg("restore rejected")
		return "", err
	}
	if err := n.commitTableLocked(prev); err != nil {
		return "", err
	}
	n.log.Info().Str("hash", hash).Int("records", n.table.Len()).Msg("table restored")
	return hash, nil
}

// DownloadChunk returns backup chunk index.
func (n *Node) DownloadChunk(index uint64) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.backup.DownloadChunk(index)
}

// TotalChunks returns the number of backup chunks.
func (n *Node) TotalChunks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.backup.TotalChunks()
}

// ClearBackup resets the backup slot.
func (n *Node) ClearBackup() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.backup.State()
	n.backup.Clear()
	return n.commitBackupLocked(prev)
}

// BackupStatus reports the backup phase.
func (n *Node) BackupStatus() backup.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.backup.Status()
}

// Metadata describes the node.
func (n *Node) Metadata() cluster.Metadata {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := n.table.Stats()
	return cluster.Metadata{
		Installed: n.installed,
		Name:      n.install.Name,
		Index:     n.install.Index,
		Address:   n.install.Address,
		Parent:    n.install.Parent,
		Version:   n.install.Version,
		Capacity:  st.Capacity,
		Records:   st.Records,
		NextSeq:   st.NextSeq,
		Full:      st.Full,
		CreatedAt: n.createdAt,
		UpdatedAt: n.updatedAt,
		Ops:       n.Stats(),
		Backup:    n.backup.Status(),
	}
}

// Stats returns operation counters.
func (n *Node) Stats() cluster.OperationStats {
	return cluster.OperationStats{
		Adds:       atomic.LoadUint64(&n.stats.Adds),
		Updates:    atomic.LoadUint64(&n.stats.Updates),
		Gets:       atomic.LoadUint64(&n.stats.Gets),
		Filters:    atomic.LoadUint64(&n.stats.Filters),
		Migrations: atomic.LoadUint64(&n.stats.Migrations),
	}
}

func (n *Node) requireInstalledLocked(method string) error {
	if !n.installed {
		return apierr.New(apierr.KindInstall, "NOT_INSTALLED",
			fmt.Sprintf("node %s has not been installed", n.id), "", method)
	}
	return nil
}

func (n *Node) persistLocked() error {
	n.updatedAt = time.Now().UTC()
	st := nodeState{
		Installed: n.installed,
		Install:   n.install,
		Table:     n.table.State(),
		CreatedAt: n.createdAt,
		UpdatedAt: n.updatedAt,
	}
	if err := n.persister.Save(st); err != nil {
		n.log.Error().Err(err).Msg("persist node state")
		return apierr.New(apierr.KindFailedToStore, "PERSIST_FAILED", err.Error(), n.install.Address, "persist")
	}
	return nil
}

// commitTableLocked persists the node, loading prev back into the table
// when the save fails.
func (n *Node) commitTableLocked(prev storage.TableState) error {
	if err := n.persistLocked(); err != nil {
		_ = n.table.Load(prev)
		return err
	}
	return nil
}

// commitBackupLocked persists the backup slot, loading prev back when the
// save fails.
func (n *Node) commitBackupLocked(prev backup.State) error {
	if err := n.backupStore.Save(n.backup.State()); err != nil {
		n.backup.Load(prev)
		n.log.Error().Err(err).Msg("persist backup")
		return apierr.New(apierr.KindFailedToStore, "PERSIST_FAILED", err.Error(), n.install.Address, "persist_backup")
	}
	return nil
}

var _ backup.Dataset = (*storage.Table)(nil)
