// Package config loads coordinator and node configuration.
//
// Values are resolved in order: built-in defaults, then a config file
// (.yaml, .toml or .json, chosen by suffix), then environment variables,
// then command line flags bound with BindFlags.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Image names the code image the coordinator installs on shards. Path is
// read at startup and hashed into the image digest.
type Image struct {
	Label   string `json:"label" toml:"label" yaml:"label"`
	Version string `json:"version" toml:"version" yaml:"version"`
	Path    string `json:"path" toml:"path" yaml:"path"`
}

// Coordinator configures strata-coordinator.
type Coordinator struct {
	LogLevel        string   `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFormat       string   `json:"log_format" toml:"log_format" yaml:"log_format"`
	Listen          string   `json:"listen" toml:"listen" yaml:"listen"`
	PublicURL       string   `json:"public_url" toml:"public_url" yaml:"public_url"`
	Principal       string   `json:"principal" toml:"principal" yaml:"principal"`
	DataDir         string   `json:"data_dir" toml:"data_dir" yaml:"data_dir"`
	Compression     string   `json:"compression" toml:"compression" yaml:"compression"`
	Provisioner     string   `json:"provisioner" toml:"provisioner" yaml:"provisioner"`
	Kind            string   `json:"kind" toml:"kind" yaml:"kind"`
	ShardCapacity   int      `json:"shard_capacity" toml:"shard_capacity" yaml:"shard_capacity"`
	MaxChunkBytes   int      `json:"max_chunk_bytes" toml:"max_chunk_bytes" yaml:"max_chunk_bytes"`
	BackupChunkSize int      `json:"backup_chunk_size" toml:"backup_chunk_size" yaml:"backup_chunk_size"`
	FanOut          int      `json:"fan_out" toml:"fan_out" yaml:"fan_out"`
	InstallRetries  uint64   `json:"install_retries" toml:"install_retries" yaml:"install_retries"`
	InstallBackoff  Duration `json:"install_backoff" toml:"install_backoff" yaml:"install_backoff"`
	HealthInterval  Duration `json:"health_interval" toml:"health_interval" yaml:"health_interval"`
	RequestTimeout  Duration `json:"request_timeout" toml:"request_timeout" yaml:"request_timeout"`
	// MigrateTimeout bounds one close-and-migrate on the coordinator. Zero
	// derives it from the install retries and the request timeout.
	MigrateTimeout Duration `json:"migrate_timeout" toml:"migrate_timeout" yaml:"migrate_timeout"`
	// WriteTimeout bounds a write sent to a shard, which may wait for that
	// shard's close-and-migrate. Zero derives it from MigrateTimeout.
	WriteTimeout Duration `json:"write_timeout" toml:"write_timeout" yaml:"write_timeout"`
	Owners       []string `json:"owners" toml:"owners" yaml:"owners"`
	Image        Image    `json:"image" toml:"image" yaml:"image"`
}

// Node configures strata-node.
type Node struct {
	LogLevel         string   `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFormat        string   `json:"log_format" toml:"log_format" yaml:"log_format"`
	ID               string   `json:"id" toml:"id" yaml:"id"`
	Listen           string   `json:"listen" toml:"listen" yaml:"listen"`
	PublicURL        string   `json:"public_url" toml:"public_url" yaml:"public_url"`
	CoordinatorURL   string   `json:"coordinator_url" toml:"coordinator_url" yaml:"coordinator_url"`
	DataDir          string   `json:"data_dir" toml:"data_dir" yaml:"data_dir"`
	Compression      string   `json:"compression" toml:"compression" yaml:"compression"`
	MaxChunkBytes    int      `json:"max_chunk_bytes" toml:"max_chunk_bytes" yaml:"max_chunk_bytes"`
	BackupChunkSize  int      `json:"backup_chunk_size" toml:"backup_chunk_size" yaml:"backup_chunk_size"`
	RegisterAttempts uint64   `json:"register_attempts" toml:"register_attempts" yaml:"register_attempts"`
	RegisterBackoff  Duration `json:"register_backoff" toml:"register_backoff" yaml:"register_backoff"`
	RequestTimeout   Duration `json:"request_timeout" toml:"request_timeout" yaml:"request_timeout"`
	// ParentTimeout bounds the close_and_migrate call to the coordinator.
	// It must exceed the coordinator's migrate timeout.
	ParentTimeout Duration `json:"parent_timeout" toml:"parent_timeout" yaml:"parent_timeout"`
	Owners        []string `json:"owners" toml:"owners" yaml:"owners"`
}

// DefaultCoordinator returns the coordinator defaults.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		LogLevel:        "info",
		LogFormat:       "console",
		Listen:          ":8080",
		PublicURL:       "http://127.0.0.1:8080",
		Principal:       "coordinator",
		Compression:     "zstd",
		Provisioner:     "local",
		Kind:            "profile",
		ShardCapacity:   10_000,
		MaxChunkBytes:   2_000_000,
		BackupChunkSize: 1 << 20,
		FanOut:          8,
		InstallRetries:  5,
		InstallBackoff:  Duration{200 * time.Millisecond},
		HealthInterval:  Duration{5 * time.Second},
		RequestTimeout:  Duration{10 * time.Second},
		Image:           Image{Label: "strata-shard", Version: "1"},
	}
}

// DefaultNode returns the node defaults.
func DefaultNode() Node {
	return Node{
		LogLevel:         "info",
		LogFormat:        "console",
		Listen:           ":8081",
		PublicURL:        "http://127.0.0.1:8081",
		Compression:      "zstd",
		MaxChunkBytes:    2_000_000,
		BackupChunkSize:  1 << 20,
		RegisterAttempts: 10,
		RegisterBackoff:  Duration{400 * time.Millisecond},
		RequestTimeout:   Duration{10 * time.Second},
		ParentTimeout:    Duration{90 * time.Second},
	}
}

// MigrationBudget is how long the coordinator spends on one close-and-migrate:
// a create, every install attempt with its Fibonacci backoff, and the forward.
func (c Coordinator) MigrationBudget() time.Duration {
	if c.MigrateTimeout.Duration > 0 {
		return c.MigrateTimeout.Duration
	}
	var backoff time.Duration
	prev, cur := time.Duration(0), c.InstallBackoff.Duration
	for i := uint64(0); i < c.InstallRetries; i++ {
		backoff += cur
		prev, cur = cur, prev+cur
	}
	attempts := time.Duration(c.InstallRetries + 1)
	return (attempts+2)*c.RequestTimeout.Duration + backoff
}

// ParentTimeout bounds a local shard's close_and_migrate call. It outlasts
// the migration so the coordinator always answers first.
func (c Coordinator) ParentTimeout() time.Duration {
	return c.MigrationBudget() + c.RequestTimeout.Duration
}

// WriteBudget bounds a write sent to a shard. It outlasts ParentTimeout so
// a migrating write is never abandoned while its record may still land.
func (c Coordinator) WriteBudget() time.Duration {
	if c.WriteTimeout.Duration > 0 {
		return c.WriteTimeout.Duration
	}
	return c.ParentTimeout() + c.RequestTimeout.Duration
}

// decodeFile reads path into target according to its suffix.
func decodeFile(path string, target any) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open config %s", path)
	}
	defer file.Close()

	switch {
	case strings.HasSuffix(path, ".toml"):
		_, err = toml.NewDecoder(file).Decode(target)
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		err = yaml.NewDecoder(file).Decode(target)
	case strings.HasSuffix(path, ".json"):
		err = json.NewDecoder(file).Decode(target)
	default:
		return errors.Errorf("unknown config format type: %s. Use .toml, .yaml or .json suffix in filename", path)
	}
	return errors.Wrapf(err, "decode config %s", path)
}

// LoadCoordinator builds the coordinator configuration. An empty path skips
// the file. Flags set on fs, which must have been bound with BindFlags, win
// over every other source; fs may be nil.
func LoadCoordinator(path string, fs *pflag.FlagSet) (Coordinator, error) {
	cfg := DefaultCoordinator()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Coordinator{}, err
		}
	}
	cfg.applyEnv()
	if fs != nil {
		own := pflag.NewFlagSet("coordinator", pflag.ContinueOnError)
		cfg.BindFlags(own)
		if err := overlay(own, fs); err != nil {
			return Coordinator{}, err
		}
	}
	return cfg, cfg.Validate()
}

// LoadNode builds the node configuration the same way as LoadCoordinator.
func LoadNode(path string, fs *pflag.FlagSet) (Node, error) {
	cfg := DefaultNode()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Node{}, err
		}
	}
	cfg.applyEnv()
	if fs != nil {
		own := pflag.NewFlagSet("node", pflag.ContinueOnError)
		cfg.BindFlags(own)
		if err := overlay(own, fs); err != nil {
			return Node{}, err
		}
	}
	return cfg, cfg.Validate()
}

// overlay copies every flag that was set on src onto the same flag in dst.
func overlay(dst, src *pflag.FlagSet) error {
	var err error
	src.Visit(func(f *pflag.Flag) {
		if err != nil || dst.Lookup(f.Name) == nil {
			return
		}
		v := f.Value.String()
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			v = strings.Join(sv.GetSlice(), ",")
		}
		err = errors.Wrapf(dst.Set(f.Name, v), "flag --%s", f.Name)
	})
	return err
}

func (c *Coordinator) applyEnv() {
	c.Listen = getenv("COORDINATOR_ADDR", c.Listen)
	c.PublicURL = getenv("COORDINATOR_PUBLIC_URL", c.PublicURL)
	c.Principal = getenv("COORDINATOR_PRINCIPAL", c.Principal)
	c.DataDir = getenv("COORDINATOR_DATA_DIR", c.DataDir)
	c.Provisioner = getenv("COORDINATOR_PROVISIONER", c.Provisioner)
	c.ShardCapacity = getenvInt("SHARD_CAPACITY", c.ShardCapacity)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("LOG_FORMAT", c.LogFormat)
	if owners := getenv("OWNERS", ""); owners != "" {
		c.Owners = strings.Split(owners, ",")
	}
}

func (n *Node) applyEnv() {
	n.ID = getenv("NODE_ID", n.ID)
	n.Listen = getenv("NODE_LISTEN", n.Listen)
	n.PublicURL = getenv("NODE_ADDR", n.PublicURL)
	n.CoordinatorURL = getenv("COORDINATOR_ADDR", n.CoordinatorURL)
	n.DataDir = getenv("NODE_DATA_DIR", n.DataDir)
	n.LogLevel = getenv("LOG_LEVEL", n.LogLevel)
	n.LogFormat = getenv("LOG_FORMAT", n.LogFormat)
	if owners := getenv("OWNERS", ""); owners != "" {
		n.Owners = strings.Split(owners, ",")
	}
}

// Validate checks settings that have no usable default.
func (c Coordinator) Validate() error {
	switch c.Provisioner {
	case "local", "pool":
	default:
		return errors.Errorf("provisioner must be local or pool, got %q", c.Provisioner)
	}
	if c.Principal == "" {
		return errors.New("coordinator principal must be set")
	}
	if c.MaxChunkBytes <= 0 || c.BackupChunkSize <= 0 {
		return errors.New("chunk sizes must be positive")
	}
	if c.FanOut <= 0 {
		return errors.New("fan_out must be positive")
	}
	if c.RequestTimeout.Duration <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.WriteBudget() <= c.ParentTimeout() {
		return errors.Errorf("write_timeout %s must exceed the migrate timeout plus one request (%s)", c.WriteBudget(), c.ParentTimeout())
	}
	return nil
}

// Validate checks settings that have no usable default.
func (n Node) Validate() error {
	if n.ID == "" {
		return errors.New("node id must be set")
	}
	if n.MaxChunkBytes <= 0 || n.BackupChunkSize <= 0 {
		return errors.New("chunk sizes must be positive")
	}
	if n.ParentTimeout.Duration < n.RequestTimeout.Duration {
		return errors.New("parent_timeout must not be shorter than request_timeout")
	}
	return nil
}

// BindFlags registers the coordinator flags on fs, with c's values as
// defaults. Pass the parsed fs to LoadCoordinator to apply them.
func (c *Coordinator) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Listen, "listen", c.Listen, "listen address")
	fs.StringVar(&c.PublicURL, "public-url", c.PublicURL, "URL shards use to reach the coordinator")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory for registry and shard state")
	fs.StringVar(&c.Provisioner, "provisioner", c.Provisioner, "shard provisioner: local or pool")
	fs.IntVar(&c.ShardCapacity, "shard-capacity", c.ShardCapacity, "records per shard")
	fs.IntVar(&c.FanOut, "fan-out", c.FanOut, "shards queried in parallel")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
	fs.StringSliceVar(&c.Owners, "owner", c.Owners, "owner principal, repeatable")
}

// BindFlags registers flags that override the loaded values.
func (n *Node) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&n.ID, "id", n.ID, "node identifier")
	fs.StringVar(&n.Listen, "listen", n.Listen, "listen address")
	fs.StringVar(&n.PublicURL, "public-url", n.PublicURL, "URL the coordinator uses to reach this node")
	fs.StringVar(&n.CoordinatorURL, "coordinator", n.CoordinatorURL, "coordinator URL")
	fs.StringVar(&n.DataDir, "data-dir", n.DataDir, "directory for shard state")
	fs.StringVar(&n.LogLevel, "log-level", n.LogLevel, "log level")
	fs.StringSliceVar(&n.Owners, "owner", n.Owners, "owner principal, repeatable")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
