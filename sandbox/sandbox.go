package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/p-arndt/chainsandbox/client"
	"github.com/p-arndt/chainsandbox/config"
	"github.com/p-arndt/chainsandbox/daemons"
	"github.com/p-arndt/chainsandbox/internal/reaper"
	"github.com/p-arndt/chainsandbox/internal/store"
	"github.com/p-arndt/chainsandbox/internal/workdir"
	"github.com/p-arndt/chainsandbox/node"
	"github.com/p-arndt/chainsandbox/process"
)

const (
	rootDirPrefix   = "chainsandbox."
	SandboxFileName = "sandbox_file.json"
)

// Branch selects the sub-directory of the binaries path holding the
// executables for a node, and the protocol its daemons run.
type Branch struct {
	Path  string `yaml:"path"`
	Proto string `yaml:"proto"`
}

type Option func(*Sandbox)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sandbox) {
		s.logger = logger
	}
}

// WithLedger records the sandbox in l instead of the database named by
// the config.
func WithLedger(l Ledger) Option {
	return func(s *Sandbox) {
		s.ledger = l
	}
}

// WithBranches maps node ids to branches, making every node, client and
// daemon executable resolve under its node's branch.
func WithBranches(branches map[int]Branch) Option {
	return func(s *Sandbox) {
		s.branches = make(map[int]Branch, len(branches))
		for id, b := range branches {
			s.branches[id] = b
		}
	}
}

type daemonKey struct {
	role   daemons.Role
	proto  string
	nodeID int
}

// Sandbox is a disposable local network of nodes, protocol daemons and
// clients addressed by small integer node ids. Close tears everything
// down and must be called on every path.
type Sandbox struct {
	id          string
	cfg         *config.Config
	branches    map[int]Branch
	logger      *slog.Logger
	rootDir     string
	sandboxFile string
	dirs        *workdir.Registry
	ledger      Ledger
	db          *store.Store
	rec         *recorder

	mu       sync.Mutex
	nodes    map[int]*node.Node
	clients  map[int]*client.Client
	daemons  map[daemonKey]*daemons.Daemon
	reserved map[int]struct{}
	// retired holds removed or failed handles still owed a final stop on Close.
	retired []*process.Handle
	counter int
	logs    []string
	closed  bool
}

// New validates cfg and creates the sandbox root directory. When a
// ledger is configured, orphans of crashed drivers are reaped first.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Sandbox, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", process.ErrInvalidArgument, err)
	}
	if err := process.CheckDir(cfg.BinariesPath); err != nil {
		return nil, err
	}

	s := &Sandbox{
		id:       uuid.NewString(),
		cfg:      cfg,
		nodes:    make(map[int]*node.Node),
		clients:  make(map[int]*client.Client),
		daemons:  make(map[daemonKey]*daemons.Daemon),
		reserved: make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("sandbox_id", s.id)

	for id, b := range s.branches {
		if err := process.CheckDir(filepath.Join(cfg.BinariesPath, b.Path)); err != nil {
			return nil, fmt.Errorf("branch for node %d: %w", id, err)
		}
	}

	if s.ledger == nil && cfg.DBPath != "" {
		st, err := store.New(cfg.DBPath, 0)
		if err != nil {
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
		s.db = st
		s.ledger = st
		if n := reaper.New(st, nil, 0, s.logger).ReapOrphans(ctx); n > 0 {
			s.logger.Info("reaped orphaned sandboxes", "count", n)
		}
	}

	if cfg.TmpDir != "" {
		if err := os.MkdirAll(cfg.TmpDir, 0755); err != nil {
			s.closeDB()
			return nil, fmt.Errorf("creating tmp dir: %w", err)
		}
	}
	root, err := os.MkdirTemp(cfg.TmpDir, rootDirPrefix)
	if err != nil {
		s.closeDB()
		return nil, fmt.Errorf("creating sandbox dir: %w", err)
	}
	s.rootDir = root
	s.dirs = workdir.New(root)

	if cfg.GenesisPubkey != "" {
		s.sandboxFile = filepath.Join(root, SandboxFileName)
		data, _ := json.Marshal(map[string]string{"genesis_pubkey": cfg.GenesisPubkey})
		if err := os.WriteFile(s.sandboxFile, data, 0644); err != nil {
			os.RemoveAll(root)
			s.closeDB()
			return nil, fmt.Errorf("writing sandbox file: %w", err)
		}
	}

	if s.ledger != nil {
		err := s.ledger.CreateSandbox(&store.Sandbox{
			ID:        s.id,
			OwnerPID:  os.Getpid(),
			RootDir:   root,
			Status:    store.SandboxOpen,
			CreatedAt: time.Now(),
		})
		if err != nil {
			os.RemoveAll(root)
			s.closeDB()
			return nil, fmt.Errorf("recording sandbox: %w", err)
		}
		s.rec = &recorder{ledger: s.ledger, sandboxID: s.id, logger: s.logger}
	}

	s.logger.Info("sandbox created", "root_dir", root, "base_rpc_port", cfg.BaseRPCPort, "base_p2p_port", cfg.BaseP2PPort)
	return s, nil
}

// NewMultiBranch creates a sandbox whose node ids each resolve their
// executables under a distinct branch of the binaries path.
func NewMultiBranch(ctx context.Context, cfg *config.Config, branches map[int]Branch, opts ...Option) (*Sandbox, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("%w: empty branch map", process.ErrInvalidArgument)
	}
	return New(ctx, cfg, append(opts, WithBranches(branches))...)
}

func (s *Sandbox) ID() string          { return s.id }
func (s *Sandbox) RootDir() string     { return s.rootDir }
func (s *Sandbox) SandboxFile() string { return s.sandboxFile }

// MultiBranch reports whether executables are resolved per node id.
func (s *Sandbox) MultiBranch() bool { return s.branches != nil }

// P2PPort is the p2p port allocated to node id.
func (s *Sandbox) P2PPort(id int) int { return s.cfg.BaseP2PPort + id }

// RPCPort is the rpc port allocated to node id.
func (s *Sandbox) RPCPort(id int) int { return s.cfg.BaseRPCPort + id }

// branch returns the binaries sub-directory and default protocol for id.
// An explicit branch is only allowed when no branch map is set.
func (s *Sandbox) branch(id int, explicit string) (Branch, error) {
	if s.branches == nil {
		return Branch{Path: explicit}, nil
	}
	if explicit != "" {
		return Branch{}, fmt.Errorf("%w: branch %q given for node %d of a multi-branch sandbox", process.ErrInvalidArgument, explicit, id)
	}
	b, ok := s.branches[id]
	if !ok {
		return Branch{}, fmt.Errorf("%w: %d", ErrUnknownBranch, id)
	}
	return b, nil
}

// binary resolves name, suffixed with "-proto" when proto is set, under
// branch and checks it is executable.
func (s *Sandbox) binary(name, branch, proto string) (string, error) {
	if proto != "" {
		name += "-" + proto
	}
	path := filepath.Join(s.cfg.BinariesPath, branch, name)
	if err := process.CheckExecutable(path); err != nil {
		return "", err
	}
	return path, nil
}

// nextLog returns the next log file path, or "" without a log dir.
// Callers hold s.mu.
func (s *Sandbox) nextLog(format string, args ...any) string {
	if s.cfg.LogDir == "" {
		return ""
	}
	name := fmt.Sprintf(format, append(args, s.counter)...)
	s.counter++
	path := filepath.Join(s.cfg.LogDir, name)
	s.logs = append(s.logs, path)
	return path
}

// Logs returns every log file allocated so far, in allocation order.
func (s *Sandbox) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs...)
}

// startupCheck waits the configured delay and fails if h already exited.
func (s *Sandbox) startupCheck(ctx context.Context, h *process.Handle, what string) error {
	if d := s.cfg.StartupCheck(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	st, err := h.Poll()
	if err != nil {
		return err
	}
	if st.Exited() {
		return fmt.Errorf("%w: %s exited with code %d", ErrStartup, what, st.ExitCode)
	}
	return nil
}

func (s *Sandbox) Node(id int) (*node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

func (s *Sandbox) Client(id int) (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return c, nil
}

// NodeIDs returns the registered node ids in increasing order.
func (s *Sandbox) NodeIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeIDsLocked()
}

func (s *Sandbox) nodeIDsLocked() []int {
	ids := make([]int, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AllNodes returns the registered nodes ordered by id.
func (s *Sandbox) AllNodes() []*node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*node.Node, 0, len(s.nodes))
	for _, id := range s.nodeIDsLocked() {
		out = append(out, s.nodes[id])
	}
	return out
}

// AllClients returns the clients of registered nodes ordered by id.
func (s *Sandbox) AllClients() []*client.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client.Client, 0, len(s.clients))
	for _, id := range s.nodeIDsLocked() {
		out = append(out, s.clients[id])
	}
	return out
}

// Failure describes a registered process that is no longer running.
type Failure struct {
	Role     string
	NodeID   int
	Proto    string
	ExitCode int
}

func (f Failure) String() string {
	if f.Proto == "" {
		return fmt.Sprintf("%s %d exited with code %d", f.Role, f.NodeID, f.ExitCode)
	}
	return fmt.Sprintf("%s %d for proto %s exited with code %d", f.Role, f.NodeID, f.Proto, f.ExitCode)
}

// Failures polls every registered node and daemon and lists those that
// have exited. Removed processes are not considered.
func (s *Sandbox) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Failure
	for _, id := range s.nodeIDsLocked() {
		if st, err := s.nodes[id].Poll(); err == nil && st.Exited() {
			out = append(out, Failure{Role: "node", NodeID: id, ExitCode: st.ExitCode})
		}
	}
	for _, key := range s.daemonKeysLocked() {
		if st, err := s.daemons[key].Poll(); err == nil && st.Exited() {
			out = append(out, Failure{Role: string(key.role), NodeID: key.nodeID, Proto: key.proto, ExitCode: st.ExitCode})
		}
	}
	return out
}

// AreDaemonsAlive reports whether every registered node and daemon is
// still running, logging each one that is not.
func (s *Sandbox) AreDaemonsAlive() bool {
	failures := s.Failures()
	for _, f := range failures {
		s.logger.Error("daemon has failed", "role", f.Role, "node_id", f.NodeID, "proto", f.Proto, "exit_code", f.ExitCode)
	}
	return len(failures) == 0
}

// Close stops every process concurrently, giving each the configured
// grace period before killing it, then removes all sandbox-owned
// directories. It is safe to call more than once.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := append([]*process.Handle(nil), s.retired...)
	for _, id := range s.nodeIDsLocked() {
		handles = append(handles, s.nodes[id].Handle)
	}
	for _, key := range s.daemonKeysLocked() {
		handles = append(handles, s.daemons[key].Handle)
	}
	nodes := make([]*node.Node, 0, len(s.nodes))
	for _, id := range s.nodeIDsLocked() {
		nodes = append(nodes, s.nodes[id])
	}
	clients := make([]*client.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	grace := s.cfg.TermTimeout()
	var g multierror.Group
	for _, h := range handles {
		h := h
		g.Go(func() error { return h.TerminateOrKill(grace) })
	}
	result := g.Wait()
	s.rec.drain(grace)

	for _, n := range nodes {
		if err := n.Cleanup(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, c := range clients {
		if err := c.Cleanup(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.dirs.DeleteAll(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := os.RemoveAll(s.rootDir); err != nil {
		result = multierror.Append(result, fmt.Errorf("removing %s: %w", s.rootDir, err))
	}

	if s.ledger != nil {
		if err := s.ledger.UpdateSandboxStatus(s.id, store.SandboxClosed); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.closeDB()

	s.logger.Info("sandbox closed", "processes", len(handles))
	return result.ErrorOrNil()
}

func (s *Sandbox) closeDB() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Sandbox) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}
