package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/p-arndt/chainsandbox/internal/workdir"
	"github.com/p-arndt/chainsandbox/process"
)

const (
	DefaultNetwork = "sandbox"

	IdentityFile = "identity.json"
	ConfigFile   = "config.json"
	TLSCertFile  = "tezos.crt"
	TLSKeyFile   = "tezos.key"

	tempDirPrefix = "octez-node."
	logEnvVar     = "TEZOS_LOG"
)

var (
	ErrConfig             = errors.New("invalid node config")
	ErrAlreadyInitialized = errors.New("data directory already initialized")
	ErrIdentityMissing    = errors.New("identity not generated")
)

// DirAllocator creates and deletes owned temporary directories.
type DirAllocator interface {
	Create(prefix string) (string, error)
	Delete(dir string) error
}

// TLS holds the PEM certificate and key written next to the identity.
type TLS struct {
	Cert string
	Key  string
}

type Options struct {
	Executable string
	// DataDir is used as is and never deleted. When empty, a temporary
	// directory is allocated from Dirs and removed by Cleanup.
	DataDir     string
	Dirs        DirAllocator
	P2PPort     int
	RPCPort     int
	ExpectedPoW float64
	// Peers are p2p ports of nodes on 127.0.0.1.
	Peers         []int
	Params        []string
	Config        ConfigOverrides
	LogFile       string
	LogLevels     map[string]string
	Singleprocess bool
	// SandboxFile holds the genesis parameters passed to run as --sandbox.
	SandboxFile string
	Env         map[string]string
	TLS         *TLS
	Logger      *slog.Logger
}

// Node manages the data directory of one node and the process running it.
type Node struct {
	*process.Handle

	executable  string
	dataDir     string
	ownsDir     bool
	dirs        DirAllocator
	p2pPort     int
	rpcPort     int
	expectedPoW float64
	peers       []int
	params      []string
	config      ConfigOverrides
	tls         *TLS
	logger      *slog.Logger

	mu         sync.Mutex
	identity   bool
	configured bool
	cleaned    bool
}

func New(opts Options) (*Node, error) {
	if err := process.CheckExecutable(opts.Executable); err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		if err := process.CheckDir(opts.DataDir); err != nil {
			return nil, err
		}
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{
		executable:  opts.Executable,
		dataDir:     opts.DataDir,
		dirs:        opts.Dirs,
		p2pPort:     opts.P2PPort,
		rpcPort:     opts.RPCPort,
		expectedPoW: opts.ExpectedPoW,
		peers:       append([]int(nil), opts.Peers...),
		params:      withDefaultNetwork(opts.Params, opts.Config),
		config:      opts.Config,
		tls:         opts.TLS,
		logger:      logger.With("component", "node", "rpc_port", opts.RPCPort),
	}
	if n.dataDir == "" {
		if n.dirs == nil {
			n.dirs = workdir.New("")
		}
		dir, err := n.dirs.Create(tempDirPrefix)
		if err != nil {
			return nil, fmt.Errorf("allocating data dir: %w", err)
		}
		n.dataDir = dir
		n.ownsDir = true
	}

	args := []string{"run", "--data-dir", n.dataDir, "--no-bootstrap-peers"}
	if opts.Singleprocess {
		args = append(args, "--singleprocess")
	}
	if opts.SandboxFile != "" {
		args = append(args, "--sandbox", opts.SandboxFile)
	}
	args = append(args, n.params...)
	for _, p := range n.peers {
		args = append(args, "--peer", localAddr(p))
	}

	env := make(map[string]string, len(opts.Env)+1)
	for k, v := range opts.Env {
		env[k] = v
	}
	if len(opts.LogLevels) > 0 {
		env[logEnvVar] = FormatLogLevels(opts.LogLevels)
	}

	n.Handle = process.New(n.executable, args, process.Options{
		Env:     env,
		LogFile: opts.LogFile,
		Logger:  n.logger,
	})
	return n, nil
}

// withDefaultNetwork adds "--network sandbox" unless the caller selected
// a network through params or config.
func withDefaultNetwork(params []string, cfg ConfigOverrides) []string {
	out := append([]string(nil), params...)
	if cfg.Has("network") {
		return out
	}
	for _, p := range out {
		if p == "--network" || strings.HasPrefix(p, "--network=") {
			return out
		}
	}
	return append(out, "--network", DefaultNetwork)
}

// FormatLogLevels renders a component to level mapping for TEZOS_LOG.
func FormatLogLevels(levels map[string]string) string {
	keys := make([]string, 0, len(levels))
	for k := range levels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" -> "+levels[k])
	}
	return strings.Join(parts, "; ")
}

func localAddr(port int) string {
	return "127.0.0.1:" + strconv.Itoa(port)
}

func (n *Node) DataDir() string   { return n.dataDir }
func (n *Node) OwnsDataDir() bool { return n.ownsDir }
func (n *Node) P2PPort() int      { return n.p2pPort }
func (n *Node) RPCPort() int      { return n.rpcPort }
func (n *Node) Executable() string {
	return n.executable
}

// Peers returns the p2p ports the node was wired to.
func (n *Node) Peers() []int {
	return append([]int(nil), n.peers...)
}

// Params returns the pass-through parameters, including the default
// network when one was added.
func (n *Node) Params() []string {
	return append([]string(nil), n.params...)
}

func (n *Node) pow() string {
	return strconv.FormatFloat(n.expectedPoW, 'f', -1, 64)
}

func (n *Node) path(name string) string {
	return filepath.Join(n.dataDir, name)
}

func (n *Node) oneShot(ctx context.Context, args ...string) error {
	_, err := process.RunChecked(ctx, process.Command{Path: n.executable, Args: args}, n.logger)
	return err
}

// InitID generates the node identity and, when TLS is configured, writes
// the certificate and key. It runs once per data directory.
func (n *Node) InitID(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.identity || fileExists(n.path(IdentityFile)) {
		return fmt.Errorf("%w: %s exists in %s", ErrAlreadyInitialized, IdentityFile, n.dataDir)
	}
	if err := n.oneShot(ctx, "identity", "generate", n.pow(), "--data-dir", n.dataDir); err != nil {
		return err
	}
	if n.tls != nil {
		if err := os.WriteFile(n.path(TLSCertFile), []byte(n.tls.Cert), 0600); err != nil {
			return fmt.Errorf("writing tls certificate: %w", err)
		}
		if err := os.WriteFile(n.path(TLSKeyFile), []byte(n.tls.Key), 0600); err != nil {
			return fmt.Errorf("writing tls key: %w", err)
		}
	}
	n.identity = true
	return nil
}

// InitConfig generates config.json bound to the node's ports and merges
// the configured overrides into it.
func (n *Node) InitConfig(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.configured || fileExists(n.path(ConfigFile)) {
		return fmt.Errorf("%w: %s exists in %s", ErrAlreadyInitialized, ConfigFile, n.dataDir)
	}
	if n.tls != nil && !n.identity {
		return fmt.Errorf("%w: tls material must be written before config init", ErrIdentityMissing)
	}

	args := []string{
		"config", "init",
		"--data-dir", n.dataDir,
		"--net-addr", localAddr(n.p2pPort),
		"--rpc-addr", localAddr(n.rpcPort),
		"--expected-pow", n.pow(),
	}
	args = append(args, n.params...)
	if n.tls != nil {
		args = append(args, "--rpc-tls", n.path(TLSCertFile)+","+n.path(TLSKeyFile))
	}
	if err := n.oneShot(ctx, args...); err != nil {
		return err
	}

	if len(n.config) > 0 {
		if err := mergeConfigFile(n.path(ConfigFile), n.config); err != nil {
			return err
		}
	}
	n.configured = true
	return nil
}

// ReadConfig returns the node's current config.json.
func (n *Node) ReadConfig() (map[string]any, error) {
	return ReadConfigFile(n.path(ConfigFile))
}

func (n *Node) UpgradeStorage(ctx context.Context) error {
	return n.oneShot(ctx, "upgrade", "storage", "--data-dir", n.dataDir)
}

func (n *Node) SnapshotExport(ctx context.Context, file string, extra ...string) error {
	args := append([]string{"snapshot", "export", "--data-dir", n.dataDir}, extra...)
	return n.oneShot(ctx, append(args, file)...)
}

func (n *Node) SnapshotImport(ctx context.Context, file string, extra ...string) error {
	args := append([]string{"snapshot", "import", "--data-dir", n.dataDir}, extra...)
	return n.oneShot(ctx, append(args, file)...)
}

func (n *Node) Reconstruct(ctx context.Context, extra ...string) error {
	return n.oneShot(ctx, append([]string{"reconstruct", "--data-dir", n.dataDir}, extra...)...)
}

// Cleanup deletes the data directory if the node allocated it. A
// caller-supplied directory is left in place. Cleanup is idempotent.
func (n *Node) Cleanup() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cleaned || !n.ownsDir {
		return nil
	}
	if err := n.dirs.Delete(n.dataDir); err != nil {
		return err
	}
	n.cleaned = true
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
