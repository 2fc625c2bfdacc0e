package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Binaries holds the base names of the executables looked up under
// BinariesPath. Protocol daemons get "-<proto>" appended.
type Binaries struct {
	Node        string `yaml:"node"`
	Client      string `yaml:"client"`
	AdminClient string `yaml:"admin_client"`
	Baker       string `yaml:"baker"`
	Endorser    string `yaml:"endorser"`
	Accuser     string `yaml:"accuser"`
}

// Identity is an account imported into every sandbox client.
type Identity struct {
	Identity string `yaml:"identity"`
	Public   string `yaml:"public"`
	Secret   string `yaml:"secret"`
}

type NodeDefaults struct {
	Params    []string          `yaml:"params"`
	Private   bool              `yaml:"private"`
	LogLevels map[string]string `yaml:"log_levels"`
}

type Config struct {
	BinariesPath       string              `yaml:"binaries_path"`
	LogDir             string              `yaml:"log_dir"`
	DBPath             string              `yaml:"db_path"`
	TmpDir             string              `yaml:"tmp_dir"`
	BaseRPCPort        int                 `yaml:"base_rpc_port"`
	BaseP2PPort        int                 `yaml:"base_p2p_port"`
	NumPeers           int                 `yaml:"num_peers"`
	TermTimeoutSeconds int                 `yaml:"term_timeout_seconds"`
	StartupCheckMs     int                 `yaml:"startup_check_ms"`
	ExpectedPoW        float64             `yaml:"expected_pow"`
	Singleprocess      bool                `yaml:"singleprocess"`
	GenesisPubkey      string              `yaml:"genesis_pubkey"`
	Binaries           Binaries            `yaml:"binaries"`
	Node               NodeDefaults        `yaml:"node"`
	Identities         map[string]Identity `yaml:"identities"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		BinariesPath:       ".",
		BaseRPCPort:        18730,
		BaseP2PPort:        19730,
		NumPeers:           45,
		TermTimeoutSeconds: 10,
		StartupCheckMs:     100,
		Binaries: Binaries{
			Node:        "octez-node",
			Client:      "octez-client",
			AdminClient: "octez-admin-client",
			Baker:       "octez-baker",
			Endorser:    "octez-endorser",
			Accuser:     "octez-accuser",
		},
		Node: NodeDefaults{
			Params:  []string{"--connections", "3"},
			Private: true,
		},
		Identities: make(map[string]Identity),
	}
}

func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// TermTimeout is the grace period given to daemons on teardown.
func (c *Config) TermTimeout() time.Duration {
	return time.Duration(c.TermTimeoutSeconds) * time.Second
}

// StartupCheck is how long to wait before checking a new daemon is alive.
func (c *Config) StartupCheck() time.Duration {
	return time.Duration(c.StartupCheckMs) * time.Millisecond
}

func (c *Config) Validate() error {
	if c.NumPeers < 1 || c.NumPeers > 100 {
		return fmt.Errorf("num_peers must be in [1, 100], got %d", c.NumPeers)
	}
	if err := checkPortRange("base_rpc_port", c.BaseRPCPort, c.NumPeers); err != nil {
		return err
	}
	if err := checkPortRange("base_p2p_port", c.BaseP2PPort, c.NumPeers); err != nil {
		return err
	}
	rpcEnd, p2pEnd := c.BaseRPCPort+c.NumPeers, c.BaseP2PPort+c.NumPeers
	if c.BaseRPCPort < p2pEnd && c.BaseP2PPort < rpcEnd {
		return fmt.Errorf("rpc ports [%d, %d) overlap p2p ports [%d, %d)",
			c.BaseRPCPort, rpcEnd, c.BaseP2PPort, p2pEnd)
	}
	if c.TermTimeoutSeconds < 0 {
		return fmt.Errorf("term_timeout_seconds must not be negative")
	}
	if c.StartupCheckMs < 0 {
		return fmt.Errorf("startup_check_ms must not be negative")
	}
	if c.Binaries.Node == "" || c.Binaries.Client == "" {
		return fmt.Errorf("binaries.node and binaries.client are required")
	}
	if c.LogDir != "" {
		fi, err := os.Stat(c.LogDir)
		if err != nil || !fi.IsDir() {
			return fmt.Errorf("log_dir %s is not a directory", c.LogDir)
		}
	}
	return nil
}

func checkPortRange(name string, base, n int) error {
	if base < 1 || base+n-1 > 65535 {
		return fmt.Errorf("%s %d with %d peers is outside the port range", name, base, n)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHAINSANDBOX_BINARIES_PATH"); v != "" {
		cfg.BinariesPath = v
	}
	if v := os.Getenv("CHAINSANDBOX_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("CHAINSANDBOX_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHAINSANDBOX_TMP_DIR"); v != "" {
		cfg.TmpDir = v
	}
	if v := os.Getenv("CHAINSANDBOX_BASE_RPC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BaseRPCPort = n
		}
	}
	if v := os.Getenv("CHAINSANDBOX_BASE_P2P_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BaseP2PPort = n
		}
	}
	if v := os.Getenv("CHAINSANDBOX_NUM_PEERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NumPeers = n
		}
	}
	if v := os.Getenv("CHAINSANDBOX_TERM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TermTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CHAINSANDBOX_STARTUP_CHECK_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StartupCheckMs = n
		}
	}
	if v := os.Getenv("CHAINSANDBOX_EXPECTED_POW"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ExpectedPoW = f
		}
	}
	if v := os.Getenv("CHAINSANDBOX_SINGLEPROCESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Singleprocess = b
		}
	}
	if v := os.Getenv("CHAINSANDBOX_GENESIS_PUBKEY"); v != "" {
		cfg.GenesisPubkey = v
	}
}
