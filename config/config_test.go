package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.BinariesPath)
	assert.Equal(t, 18730, cfg.BaseRPCPort)
	assert.Equal(t, 19730, cfg.BaseP2PPort)
	assert.Equal(t, 45, cfg.NumPeers)
	assert.Equal(t, 10*time.Second, cfg.TermTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.StartupCheck())
	assert.Equal(t, "octez-node", cfg.Binaries.Node)
	assert.Equal(t, "octez-endorser", cfg.Binaries.Endorser)
	assert.Equal(t, []string{"--connections", "3"}, cfg.Node.Params)
	assert.True(t, cfg.Node.Private)
	assert.Empty(t, cfg.DBPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	yamlContent := `
binaries_path: /opt/octez
base_rpc_port: 28730
num_peers: 10
node:
  params: ["--connections", "5"]
  private: false
identities:
  bootstrap1:
    identity: tz1KqTpEZ7Yob7QbPE4Hy4Wo8fHG8LhKxZSx
    public: edpkuBknW28nW72KG6RoHtYW7p12T6GKc7nAbwYX5m8Wd9sDVC9yav
    secret: unencrypted:edsk3gUfUPyBSfrS9CCgmCiQsTCHGkviBDusMxDJstFtojtc1zcpsh
`
	yamlPath := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlContent), 0644))

	cfg, err := Load(yamlPath)
	require.NoError(t, err)

	assert.Equal(t, "/opt/octez", cfg.BinariesPath)
	assert.Equal(t, 28730, cfg.BaseRPCPort)
	assert.Equal(t, 19730, cfg.BaseP2PPort)
	assert.Equal(t, 10, cfg.NumPeers)
	assert.Equal(t, []string{"--connections", "5"}, cfg.Node.Params)
	assert.False(t, cfg.Node.Private)
	require.Contains(t, cfg.Identities, "bootstrap1")
	assert.Equal(t, "tz1KqTpEZ7Yob7QbPE4Hy4Wo8fHG8LhKxZSx", cfg.Identities["bootstrap1"].Identity)
	assert.Equal(t, "octez-node", cfg.Binaries.Node)
}

func TestLoadYAMLMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/sandbox.yaml")
	require.NoError(t, err)
	assert.Equal(t, 18730, cfg.BaseRPCPort)
}

func TestLoadYAMLInvalid(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("{{{{invalid yaml"), 0644))

	_, err := Load(yamlPath)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	logDir := t.TempDir()
	t.Setenv("CHAINSANDBOX_BINARIES_PATH", "/usr/local/bin")
	t.Setenv("CHAINSANDBOX_LOG_DIR", logDir)
	t.Setenv("CHAINSANDBOX_DB_PATH", "/tmp/ledger.db")
	t.Setenv("CHAINSANDBOX_BASE_RPC_PORT", "30000")
	t.Setenv("CHAINSANDBOX_BASE_P2P_PORT", "31000")
	t.Setenv("CHAINSANDBOX_NUM_PEERS", "5")
	t.Setenv("CHAINSANDBOX_TERM_TIMEOUT_SECONDS", "3")
	t.Setenv("CHAINSANDBOX_STARTUP_CHECK_MS", "50")
	t.Setenv("CHAINSANDBOX_EXPECTED_POW", "26.5")
	t.Setenv("CHAINSANDBOX_SINGLEPROCESS", "true")
	t.Setenv("CHAINSANDBOX_GENESIS_PUBKEY", "edpkGenesis")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin", cfg.BinariesPath)
	assert.Equal(t, logDir, cfg.LogDir)
	assert.Equal(t, "/tmp/ledger.db", cfg.DBPath)
	assert.Equal(t, 30000, cfg.BaseRPCPort)
	assert.Equal(t, 31000, cfg.BaseP2PPort)
	assert.Equal(t, 5, cfg.NumPeers)
	assert.Equal(t, 3*time.Second, cfg.TermTimeout())
	assert.Equal(t, 50*time.Millisecond, cfg.StartupCheck())
	assert.Equal(t, 26.5, cfg.ExpectedPoW)
	assert.True(t, cfg.Singleprocess)
	assert.Equal(t, "edpkGenesis", cfg.GenesisPubkey)
}

func TestEnvOverridesYAML(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("base_rpc_port: 20000\nnum_peers: 7\n"), 0644))

	t.Setenv("CHAINSANDBOX_BASE_RPC_PORT", "21000")

	cfg, err := Load(yamlPath)
	require.NoError(t, err)

	assert.Equal(t, 21000, cfg.BaseRPCPort)
	assert.Equal(t, 7, cfg.NumPeers)
}

func TestEnvOverrideInvalidValues(t *testing.T) {
	t.Setenv("CHAINSANDBOX_NUM_PEERS", "many")
	t.Setenv("CHAINSANDBOX_EXPECTED_POW", "hard")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.NumPeers)
	assert.Equal(t, 0.0, cfg.ExpectedPoW)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"too many peers", func(c *Config) { c.NumPeers = 101 }, "num_peers"},
		{"no peers", func(c *Config) { c.NumPeers = 0 }, "num_peers"},
		{"rpc port overflow", func(c *Config) { c.BaseRPCPort = 65530 }, "base_rpc_port"},
		{"overlapping ranges", func(c *Config) { c.BaseP2PPort = c.BaseRPCPort + 10 }, "overlap"},
		{"negative timeout", func(c *Config) { c.TermTimeoutSeconds = -1 }, "term_timeout_seconds"},
		{"missing node binary", func(c *Config) { c.Binaries.Node = "" }, "binaries.node"},
		{"missing log dir", func(c *Config) { c.LogDir = "/nonexistent/logs" }, "log_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
