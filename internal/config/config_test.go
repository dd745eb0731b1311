package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCoordinatorFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"yaml", "coord.yaml", "listen: \":9090\"\nshard_capacity: 3\nhealth_interval: 2s\nowners: [ops]\nimage:\n  version: \"7\"\n"},
		{"toml", "coord.toml", "listen = \":9090\"\nshard_capacity = 3\nhealth_interval = \"2s\"\nowners = [\"ops\"]\n[image]\nversion = \"7\"\n"},
		{"json", "coord.json", `{"listen":":9090","shard_capacity":3,"health_interval":"2s","owners":["ops"],"image":{"version":"7"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadCoordinator(writeFile(t, tt.file, tt.body), nil)
			require.NoError(t, err)
			assert.Equal(t, ":9090", cfg.Listen)
			assert.Equal(t, 3, cfg.ShardCapacity)
			assert.Equal(t, 2*time.Second, cfg.HealthInterval.Duration)
			assert.Equal(t, []string{"ops"}, cfg.Owners)
			assert.Equal(t, "7", cfg.Image.Version)
			// untouched keys keep their defaults
			assert.Equal(t, "coordinator", cfg.Principal)
			assert.Equal(t, 8, cfg.FanOut)
		})
	}
}

func TestLoadRejectsUnknownSuffix(t *testing.T) {
	_, err := LoadCoordinator(writeFile(t, "coord.ini", "listen=:1"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config format type")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadNode(filepath.Join(t.TempDir(), "none.yaml"), nil)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NODE_ID", "node-9")
	t.Setenv("NODE_LISTEN", ":9999")
	t.Setenv("COORDINATOR_ADDR", "http://coord:8080")
	t.Setenv("OWNERS", "ops,admin")

	cfg, err := LoadNode("", nil)
	require.NoError(t, err)
	assert.Equal(t, "node-9", cfg.ID)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "http://coord:8080", cfg.CoordinatorURL)
	assert.Equal(t, []string{"ops", "admin"}, cfg.Owners)
}

func TestValidate(t *testing.T) {
	_, err := LoadNode("", nil)
	assert.Error(t, err, "node id is required")

	c := DefaultCoordinator()
	c.Provisioner = "cloud"
	assert.Error(t, c.Validate())

	c = DefaultCoordinator()
	c.FanOut = 0
	assert.Error(t, c.Validate())

	c = DefaultCoordinator()
	c.MigrateTimeout = Duration{time.Minute}
	c.WriteTimeout = Duration{time.Minute}
	assert.Error(t, c.Validate(), "a write must outlast the migration it may wait for")

	n := DefaultNode()
	n.ID = "n1"
	n.ParentTimeout = Duration{time.Second}
	assert.Error(t, n.Validate())

	assert.NoError(t, DefaultCoordinator().Validate())
}

func TestTimeoutBudgets(t *testing.T) {
	c := DefaultCoordinator()
	c.RequestTimeout = Duration{time.Second}
	c.InstallRetries = 3
	c.InstallBackoff = Duration{100 * time.Millisecond}

	// create, four install attempts and the forward, plus 100+100+200ms of backoff
	assert.Equal(t, 6*time.Second+400*time.Millisecond, c.MigrationBudget())
	assert.Equal(t, c.MigrationBudget()+time.Second, c.ParentTimeout())
	assert.Equal(t, c.ParentTimeout()+time.Second, c.WriteBudget())

	c.MigrateTimeout = Duration{30 * time.Second}
	c.WriteTimeout = Duration{time.Minute}
	assert.Equal(t, 30*time.Second, c.MigrationBudget())
	assert.Equal(t, 31*time.Second, c.ParentTimeout())
	assert.Equal(t, time.Minute, c.WriteBudget())
	assert.NoError(t, c.Validate())
}

func TestBindFlags(t *testing.T) {
	cfg := DefaultCoordinator()
	fs := pflag.NewFlagSet("coordinator", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--listen", ":7000", "--owner", "ops", "--shard-capacity", "5"}))
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, []string{"ops"}, cfg.Owners)
	assert.Equal(t, 5, cfg.ShardCapacity)
	assert.Equal(t, "local", cfg.Provisioner)
}

func TestLoadFlagsWin(t *testing.T) {
	t.Setenv("NODE_ID", "from-env")
	t.Setenv("OWNERS", "env-owner")

	var bound Node
	fs := pflag.NewFlagSet("node", pflag.ContinueOnError)
	bound.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--id", "from-flag", "--owner", "a", "--owner", "b"}))

	cfg, err := LoadNode(writeFile(t, "node.yaml", "id: from-file\nlisten: \":9000\"\n"), fs)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.ID)
	assert.Equal(t, []string{"a", "b"}, cfg.Owners)
	// flags that were not given leave the file value alone
	assert.Equal(t, ":9000", cfg.Listen)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
