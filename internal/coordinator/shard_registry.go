// Package coordinator implements the orchestration layer for Strata's sharded record store.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/backup"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/codec"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/record"
	"github.com/dreamware/strata/internal/storage"
)

//go:generate mockgen -source=shard_registry.go -destination=mock/shard_client.go -package=mock

// ShardClient is the part of the shard API the coordinator drives.
// *cluster.ShardClient implements it over HTTP.
type ShardClient interface {
	Health(ctx context.Context, addr string) error
	Install(ctx context.Context, addr string, req cluster.InstallRequest) error
	Add(ctx context.Context, addr, kind string, rec record.Record) (cluster.AddResult, error)
	AddByParent(ctx context.Context, addr, kind string, rec record.Record) (record.Entry, error)
	FilterChunk(ctx context.Context, addr string, req cluster.FilterRequest) (cluster.FilterChunk, error)
}

var _ ShardClient = (*cluster.ShardClient)(nil)

// MigrationState tracks a close-and-migrate on the closing shard's
// descriptor.
type MigrationState string

const (
	MigrationNone         MigrationState = ""
	MigrationProvisioning MigrationState = "provisioning"
	MigrationForwarding   MigrationState = "forwarding"
	MigrationDone         MigrationState = "migrated"
	MigrationFailed       MigrationState = "forward_failed"
)

// ShardDescriptor is the coordinator's record of one shard.
//
// Exactly one descriptor is Available at a time, except before the first
// shard exists and while a provisioning step is in flight. A shard
// provisioned while another is available is registered as a Standby and
// becomes the sibling of the next migration. A closed shard keeps ClosedAt,
// the last sequence number it allocated, and the sibling that took over
// from it.
type ShardDescriptor struct {
	Address   string         `cbor:"address" json:"address"`
	Name      string         `cbor:"name" json:"name"`
	Index     int            `cbor:"index" json:"index"`
	Available bool           `cbor:"available" json:"available"`
	Standby   bool           `cbor:"standby" json:"standby,omitempty"`
	ClosedAt  uint64         `cbor:"closed_at" json:"closed_at,omitempty"`
	Version   string         `cbor:"version" json:"version"`
	Migration MigrationState `cbor:"migration" json:"migration,omitempty"`
	Sibling   string         `cbor:"sibling" json:"sibling,omitempty"`
	CreatedAt time.Time      `cbor:"created_at" json:"created_at"`
	UpdatedAt time.Time      `cbor:"updated_at" json:"updated_at"`
}

// Image is the code image installed on new shards. Only its identity is
// kept: label, version and the blake3 digest of its bytes.
type Image struct {
	Label     string    `cbor:"label" json:"label"`
	Version   string    `cbor:"version" json:"version"`
	Digest    string    `cbor:"digest" json:"digest"`
	Size      int       `cbor:"size" json:"size"`
	UpdatedAt time.Time `cbor:"updated_at" json:"updated_at"`
}

// registryState is what the registry persists.
type registryState struct {
	Shards  []ShardDescriptor `cbor:"shards"`
	Image   Image             `cbor:"image"`
	Pending []string          `cbor:"pending"`
}

// RegistryConfig holds the parameters handed to every installed shard.
type RegistryConfig struct {
	// Principal is the parent principal shards are installed with.
	Principal string
	// PublicURL is where shards reach the coordinator.
	PublicURL string
	// Capacity is the record ceiling of each new shard.
	Capacity       int
	InstallRetries uint64
	InstallBackoff time.Duration
	// MigrateTimeout bounds one close-and-migrate. Zero leaves it unbounded.
	MigrateTimeout time.Duration
}

// ShardRegistry owns the shard descriptors and the current code image. It
// routes writes to the available shard, provisions shards and answers the
// close-and-migrate calls of shards that fill up.
//
// The registry is an actor: mu guards every field and is never held across
// a call to a provisioner or a shard.
type ShardRegistry struct {
	mu      sync.Mutex
	shards  []*ShardDescriptor
	image   Image
	pending []string
	created int
	freed   []int // indexes released by failed provisions

	cfg       RegistryConfig
	prov      Provisioner
	client    ShardClient
	persister storage.Persister
	bootstrap singleflight.Group
	log       *zerolog.Logger
}

// NewShardRegistry builds a registry and loads its persisted state. A nil
// persister keeps state in memory.
func NewShardRegistry(cfg RegistryConfig, prov Provisioner, client ShardClient, persister storage.Persister) (*ShardRegistry, error) {
	if persister == nil {
		persister = storage.NewMemoryState(storage.CompressionNone)
	}
	if cfg.InstallBackoff <= 0 {
		cfg.InstallBackoff = 200 * time.Millisecond
	}
	r := &ShardRegistry{
		cfg:       cfg,
		prov:      prov,
		client:    client,
		persister: persister,
		log:       logging.Component("registry"),
	}

	var st registryState
	ok, err := persister.Load(&st)
	if err != nil {
		return nil, errors.Wrap(err, "load registry state")
	}
	if ok {
		for i := range st.Shards {
			d := st.Shards[i]
			r.shards = append(r.shards, &d)
		}
		r.image = st.Image
		r.pending = st.Pending
		for _, d := range r.shards {
			r.created = max(r.created, d.Index+1)
		}
		r.log.Info().Int("shards", len(r.shards)).Int("pending", len(r.pending)).Msg("restored registry state")
	}
	return r, nil
}

// Shards returns a copy of every descriptor in creation order.
func (r *ShardRegistry) Shards() []ShardDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ShardDescriptor, len(r.shards))
	for i, d := range r.shards {
		out[i] = *d
	}
	return out
}

// Addresses returns the address of every registered shard.
func (r *ShardRegistry) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.shards))
	for i, d := range r.shards {
		out[i] = d.Address
	}
	return out
}

// IsShard reports whether addr is a registered shard.
func (r *ShardRegistry) IsShard(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(addr) != nil
}

// Shard returns the descriptor of addr.
func (r *ShardRegistry) Shard(addr string) (ShardDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.findLocked(addr)
	if d == nil {
		return ShardDescriptor{}, unknownShard(addr, "shard")
	}
	return *d, nil
}

// Image returns the current code image.
func (r *ShardRegistry) Image() Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.image
}

// SetImage replaces the code image new shards are installed with. An empty
// image and an image identical to the current one are rejected.
func (r *ShardRegistry) SetImage(label, version string, data []byte) (Image, error) {
	if len(data) == 0 || version == "" {
		return Image{}, apierr.New(apierr.KindValidation, "EMPTY_IMAGE", "image bytes and version are required", "", "set_image", label)
	}
	img := Image{Label: label, Version: version, Digest: backup.Hash(data), Size: len(data)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.image.Digest == img.Digest && r.image.Version == img.Version {
		return r.image, apierr.New(apierr.KindUpToDate, "IMAGE_UNCHANGED", "image is already current", "", "set_image", version)
	}
	img.UpdatedAt = time.Now().UTC()
	prev := r.image
	r.image = img
	if err := r.persistLocked(); err != nil {
		r.image = prev
		return Image{}, err
	}
	r.log.Info().Str("label", img.Label).Str("version", img.Version).Str("digest", img.Digest).Msg("code image updated")
	return img, nil
}

// PickAvailableShard returns the first available shard other than exclude.
func (r *ShardRegistry) PickAvailableShard(exclude string) (ShardDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickLocked(exclude)
}

func (r *ShardRegistry) pickLocked(exclude string) (ShardDescriptor, error) {
	for _, d := range r.shards {
		if d.Available && d.Address != exclude {
			return *d, nil
		}
	}
	return ShardDescriptor{}, apierr.New(apierr.KindNotFound, "NO_AVAILABLE_SHARD", "no shard accepts writes", "", "pick_available_shard", exclude)
}

// ProvisionShard creates a node, installs the current image on it and
// registers it. The shard is available when no other shard is; otherwise
// it is kept as a standby for the next migration. Creation failures are
// Provision errors and install failures are Install errors; a node that was
// created but not installed is kept and reused by the next call.
func (r *ShardRegistry) ProvisionShard(ctx context.Context) (ShardDescriptor, error) {
	d, err := r.provision(ctx)
	if err != nil {
		return ShardDescriptor{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, err := r.pickLocked(""); err == nil {
		d.Available = false
		d.Standby = true
		r.log.Info().Str("address", d.Address).Str("available", cur.Address).Msg("shard kept as standby")
	}
	r.shards = append(r.shards, &d)
	if err := r.persistLocked(); err != nil {
		r.shards = r.shards[:len(r.shards)-1]
		return ShardDescriptor{}, err
	}
	return d, nil
}

// provision creates and installs a node without registering it.
func (r *ShardRegistry) provision(ctx context.Context) (ShardDescriptor, error) {
	r.mu.Lock()
	img := r.image
	if img.Version == "" {
		r.mu.Unlock()
		return ShardDescriptor{}, apierr.New(apierr.KindProvision, "NO_IMAGE_SPECIFIED", "no code image has been set", "", "provision_shard")
	}
	index := r.reserveIndexLocked()
	var addr string
	if len(r.pending) > 0 {
		addr = r.pending[0]
		r.pending = slices.Delete(r.pending, 0, 1)
	}
	r.mu.Unlock()

	log := r.log.With().Int("index", index).Logger()
	if addr == "" {
		created, err := r.prov.Create(ctx)
		if err != nil {
			log.Error().Err(err).Msg("shard creation failed")
			r.releaseIndex(index)
			return ShardDescriptor{}, apierr.New(apierr.KindProvision, "SHARD_NOT_CREATED", err.Error(), "", "provision_shard")
		}
		addr = created
		log.Info().Str("address", addr).Msg("shard node created")
	} else {
		log.Info().Str("address", addr).Msg("reusing created node")
	}

	name := fmt.Sprintf("shard-%d", index)
	req := cluster.InstallRequest{
		Mode:        cluster.ModeInstall,
		Parent:      r.cfg.Principal,
		ParentURL:   r.cfg.PublicURL,
		Name:        name,
		Index:       index,
		Capacity:    r.cfg.Capacity,
		Address:     addr,
		Version:     img.Version,
		ImageLabel:  img.Label,
		ImageDigest: img.Digest,
	}
	if err := r.install(ctx, addr, req); err != nil {
		log.Error().Err(err).Str("address", addr).Msg("shard install failed")
		r.mu.Lock()
		r.pending = append(r.pending, addr)
		r.releaseIndexLocked(index)
		_ = r.persistLocked()
		r.mu.Unlock()
		return ShardDescriptor{}, apierr.New(apierr.KindInstall, "SHARD_INSTALL_FAILED", err.Error(), addr, "provision_shard")
	}

	now := time.Now().UTC()
	log.Info().Str("address", addr).Str("version", img.Version).Msg("shard installed")
	return ShardDescriptor{
		Address:   addr,
		Name:      name,
		Index:     index,
		Available: true,
		Version:   img.Version,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// reserveIndexLocked returns the lowest index released by a failed
// provision, or the next unused one.
func (r *ShardRegistry) reserveIndexLocked() int {
	if len(r.freed) > 0 {
		slices.Sort(r.freed)
		index := r.freed[0]
		r.freed = slices.Delete(r.freed, 0, 1)
		return index
	}
	index := r.created
	r.created++
	return index
}

func (r *ShardRegistry) releaseIndex(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseIndexLocked(index)
}

func (r *ShardRegistry) releaseIndexLocked(index int) {
	if index == r.created-1 {
		r.created--
		return
	}
	r.freed = append(r.freed, index)
}

// takeStandbyLocked removes the first standby from the standby set.
func (r *ShardRegistry) takeStandbyLocked() *ShardDescriptor {
	for _, d := range r.shards {
		if d.Standby {
			d.Standby = false
			return d
		}
	}
	return nil
}

// install retries transport failures with a Fibonacci backoff. Typed
// answers from the node are final.
func (r *ShardRegistry) install(ctx context.Context, addr string, req cluster.InstallRequest) error {
	backoff := retry.WithMaxRetries(r.cfg.InstallRetries, retry.NewFibonacci(r.cfg.InstallBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.client.Install(ctx, addr, req)
		if err == nil {
			return nil
		}
		var typed *apierr.Error
		if errors.As(err, &typed) && typed.Kind != apierr.KindUnexpected {
			return err
		}
		return retry.RetryableError(err)
	})
}

// Bootstrap provisions the first shard when the registry has none and an
// image is set. It is a no-op otherwise.
func (r *ShardRegistry) Bootstrap(ctx context.Context) error {
	r.mu.Lock()
	empty := len(r.shards) == 0
	hasImage := r.image.Version != ""
	r.mu.Unlock()
	if !empty || !hasImage {
		return nil
	}
	_, err := r.ensureAvailable(ctx)
	return err
}

// ensureAvailable returns the available shard, provisioning one when there
// is none. Concurrent callers share a single provisioning call.
func (r *ShardRegistry) ensureAvailable(ctx context.Context) (ShardDescriptor, error) {
	if d, err := r.PickAvailableShard(""); err == nil {
		return d, nil
	}
	v, err, _ := r.bootstrap.Do("available", func() (any, error) {
		if d, err := r.PickAvailableShard(""); err == nil {
			return d, nil
		}
		r.log.Info().Msg("no available shard, provisioning one")
		return r.ProvisionShard(ctx)
	})
	if err != nil {
		return ShardDescriptor{}, err
	}
	return v.(ShardDescriptor), nil
}

// Write stores rec on the available shard. When that shard is full it
// migrates the record itself and the result reports the sibling; the
// record is never re-submitted.
func (r *ShardRegistry) Write(ctx context.Context, kind string, rec record.Record) (cluster.AddResult, error) {
	target, err := r.ensureAvailable(ctx)
	if err != nil {
		return cluster.AddResult{}, err
	}
	res, err := r.client.Add(ctx, target.Address, kind, rec)
	if err != nil {
		return cluster.AddResult{}, err
	}
	if res.Migrated {
		r.log.Info().Str("address", target.Address).Str("sibling", res.Sibling).Str("identifier", res.Entry.ID.String()).Msg("write migrated to sibling")
	}
	return res, nil
}

// CloseAndMigrate handles a shard that has just reached capacity. It
// provisions a sibling, closes the caller at req.LastSeq, forwards the
// overflow record to the sibling and returns where it was stored.
//
// The caller is persisted as closed, with the sibling recorded and the
// migration marked forwarding, before the forward is attempted. A failed
// forward leaves the caller closed in state forward_failed and returns
// FAILED_TO_STORE_DATA. A call for a caller whose migration already
// completed is routed to the current available shard; a call while a
// migration is unfinished is refused.
//
// The migration does not follow the cancellation of ctx: once started it
// runs to an outcome, bounded only by the configured migrate timeout.
func (r *ShardRegistry) CloseAndMigrate(ctx context.Context, req cluster.MigrateRequest) (cluster.MigrateResponse, error) {
	ctx = context.WithoutCancel(ctx)
	if r.cfg.MigrateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.MigrateTimeout)
		defer cancel()
	}
	var rec record.Record
	if err := codec.Unmarshal(req.Record, &rec); err != nil {
		return cluster.MigrateResponse{}, apierr.New(apierr.KindValidation, "INVALID_RECORD_BYTES", err.Error(), req.Caller, "close_and_migrate")
	}
	log := r.log.With().Str("caller", req.Caller).Uint64("last_seq", req.LastSeq).Logger()

	r.mu.Lock()
	caller := r.findLocked(req.Caller)
	if caller == nil {
		r.mu.Unlock()
		return cluster.MigrateResponse{}, unknownShard(req.Caller, "close_and_migrate")
	}
	switch {
	case caller.Migration == MigrationDone:
		r.mu.Unlock()
		log.Info().Msg("caller already migrated, routing record to the available shard")
		return r.route(ctx, req.Caller, req.Kind, rec)
	case caller.Migration == MigrationFailed:
		r.mu.Unlock()
		return cluster.MigrateResponse{}, apierr.New(apierr.KindFailedToStore, "ALREADY_CLOSED",
			"caller was closed by a migration whose forward failed", req.Caller, "close_and_migrate")
	case caller.Migration != MigrationNone:
		r.mu.Unlock()
		return cluster.MigrateResponse{}, apierr.New(apierr.KindFailedToStore, "MIGRATION_IN_PROGRESS",
			fmt.Sprintf("caller migration is %s", caller.Migration), req.Caller, "close_and_migrate")
	case !caller.Available:
		r.mu.Unlock()
		return cluster.MigrateResponse{}, apierr.New(apierr.KindFailedToStore, "ALREADY_CLOSED",
			"caller is closed", req.Caller, "close_and_migrate")
	}
	caller.Migration = MigrationProvisioning
	caller.UpdatedAt = time.Now().UTC()
	standby := r.takeStandbyLocked()
	if err := r.persistLocked(); err != nil {
		caller.Migration = MigrationNone
		if standby != nil {
			standby.Standby = true
		}
		r.mu.Unlock()
		return cluster.MigrateResponse{}, err
	}
	r.mu.Unlock()

	sibling := standby
	if sibling != nil {
		log.Info().Str("sibling", sibling.Address).Msg("using standby shard as sibling")
	} else {
		d, err := r.provision(ctx)
		if err != nil {
			r.mu.Lock()
			caller.Migration = MigrationNone
			_ = r.persistLocked()
			r.mu.Unlock()
			log.Error().Err(err).Msg("sibling provisioning failed, caller stays open")
			return cluster.MigrateResponse{}, err
		}
		sibling = &d
	}

	r.mu.Lock()
	now := time.Now().UTC()
	caller.Available = false
	caller.ClosedAt = req.LastSeq
	caller.Migration = MigrationForwarding
	caller.Sibling = sibling.Address
	caller.UpdatedAt = now
	sibling.Available = true
	sibling.UpdatedAt = now
	if standby == nil {
		r.shards = append(r.shards, sibling)
	}
	if err := r.persistLocked(); err != nil {
		r.mu.Unlock()
		return cluster.MigrateResponse{}, err
	}
	r.mu.Unlock()
	log.Info().Str("sibling", sibling.Address).Msg("caller closed, forwarding overflow record")

	entry, err := r.client.AddByParent(ctx, sibling.Address, req.Kind, rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	caller.UpdatedAt = time.Now().UTC()
	if err != nil {
		caller.Migration = MigrationFailed
		_ = r.persistLocked()
		log.Error().Err(err).Str("sibling", sibling.Address).Msg("forward to sibling failed")
		return cluster.MigrateResponse{}, apierr.New(apierr.KindFailedToStore, "FAILED_TO_STORE_DATA",
			err.Error(), sibling.Address, "close_and_migrate", req.Caller)
	}
	caller.Migration = MigrationDone
	if err := r.persistLocked(); err != nil {
		return cluster.MigrateResponse{}, err
	}
	log.Info().Str("sibling", sibling.Address).Str("identifier", entry.ID.String()).Msg("overflow record migrated")
	return cluster.MigrateResponse{Sibling: sibling.Address, Entry: entry}, nil
}

// route stores rec for a caller that was already replaced.
func (r *ShardRegistry) route(ctx context.Context, caller, kind string, rec record.Record) (cluster.MigrateResponse, error) {
	r.mu.Lock()
	target, err := r.pickLocked(caller)
	r.mu.Unlock()
	if err != nil {
		return cluster.MigrateResponse{}, err
	}
	entry, err := r.client.AddByParent(ctx, target.Address, kind, rec)
	if err != nil {
		return cluster.MigrateResponse{}, err
	}
	return cluster.MigrateResponse{Sibling: target.Address, Entry: entry}, nil
}

// UpgradeShard installs the current image on addr. A shard already at the
// image version answers SHARD_UP_TO_DATE with its descriptor. The recorded
// version changes only after the shard confirms the upgrade.
func (r *ShardRegistry) UpgradeShard(ctx context.Context, addr string) (ShardDescriptor, error) {
	r.mu.Lock()
	d := r.findLocked(addr)
	if d == nil {
		r.mu.Unlock()
		return ShardDescriptor{}, unknownShard(addr, "upgrade_shard")
	}
	img := r.image
	if img.Version == "" {
		r.mu.Unlock()
		return ShardDescriptor{}, apierr.New(apierr.KindProvision, "NO_IMAGE_SPECIFIED", "no code image has been set", addr, "upgrade_shard")
	}
	if d.Version == img.Version {
		cur := *d
		r.mu.Unlock()
		return cur, apierr.New(apierr.KindUpToDate, "SHARD_UP_TO_DATE", "shard already runs "+img.Version, addr, "upgrade_shard")
	}
	r.mu.Unlock()

	req := cluster.InstallRequest{
		Mode:        cluster.ModeUpgrade,
		Version:     img.Version,
		ImageLabel:  img.Label,
		ImageDigest: img.Digest,
	}
	if err := r.install(ctx, addr, req); err != nil {
		r.log.Error().Err(err).Str("address", addr).Str("version", img.Version).Msg("shard upgrade failed")
		return ShardDescriptor{}, apierr.New(apierr.KindInstall, "UPGRADE_FAILED", err.Error(), addr, "upgrade_shard")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	d.Version = img.Version
	d.UpdatedAt = time.Now().UTC()
	if err := r.persistLocked(); err != nil {
		return ShardDescriptor{}, err
	}
	r.log.Info().Str("address", addr).Str("version", img.Version).Msg("shard upgraded")
	return *d, nil
}

// UpgradeResult is the outcome for one shard of UpgradeAll.
type UpgradeResult struct {
	Address  string `json:"address"`
	Version  string `json:"version"`
	UpToDate bool   `json:"up_to_date,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UpgradeAll upgrades every shard in turn. Per-shard failures are reported
// in the results and do not stop the remaining upgrades.
func (r *ShardRegistry) UpgradeAll(ctx context.Context) ([]UpgradeResult, error) {
	addrs := r.Addresses()
	if len(addrs) == 0 {
		return nil, apierr.New(apierr.KindNotFound, "NO_SHARDS", "no shard has been provisioned", "", "upgrade_all")
	}
	out := make([]UpgradeResult, 0, len(addrs))
	for _, addr := range addrs {
		d, err := r.UpgradeShard(ctx, addr)
		res := UpgradeResult{Address: addr, Version: d.Version}
		switch {
		case err == nil:
		case errors.Is(err, apierr.ErrUpToDate):
			res.UpToDate = true
		default:
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *ShardRegistry) findLocked(addr string) *ShardDescriptor {
	idx := slices.IndexFunc(r.shards, func(d *ShardDescriptor) bool { return d.Address == addr })
	if idx < 0 {
		return nil
	}
	return r.shards[idx]
}

func (r *ShardRegistry) persistLocked() error {
	st := registryState{Image: r.image, Pending: r.pending}
	st.Shards = make([]ShardDescriptor, len(r.shards))
	for i, d := range r.shards {
		st.Shards[i] = *d
	}
	if err := r.persister.Save(st); err != nil {
		r.log.Error().Err(err).Msg("persist registry state")
		return apierr.New(apierr.KindFailedToStore, "PERSIST_FAILED", err.Error(), "", "persist")
	}
	return nil
}

func unknownShard(addr, method string) *apierr.Error {
	return apierr.New(apierr.KindNotFound, "UNKNOWN_SHARD", "address is not a registered shard", addr, method, addr)
}
