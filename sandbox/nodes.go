package sandbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/p-arndt/chainsandbox/client"
	"github.com/p-arndt/chainsandbox/node"
	"github.com/p-arndt/chainsandbox/process"
)

// NodeParams tune AddNode. The zero value starts a private node peered
// with every node already in the sandbox, using the configured defaults.
type NodeParams struct {
	// Peers are node ids. Nil means every registered node.
	Peers []int
	// Params replace the configured default node params when non-nil.
	Params    []string
	LogLevels map[string]string
	// Private overrides the configured private mode.
	Private *bool
	// SkipClientConfig leaves the client without config update and
	// without the configured identities.
	SkipClientConfig bool
	TLS              *node.TLS
	// Snapshot is imported before identity and config generation.
	Snapshot    string
	Reconstruct bool
	// Branch is the binaries sub-directory. It must be empty in a
	// multi-branch sandbox.
	Branch        string
	Config        node.ConfigOverrides
	ClientFactory client.Factory
}

// AddNode initializes and starts node id, then registers a client bound
// to it. The node's rpc and p2p ports are derived from id.
func (s *Sandbox) AddNode(ctx context.Context, id int, params NodeParams) (*node.Node, error) {
	peers, err := s.reserve(id, params.Peers)
	if err != nil {
		return nil, err
	}
	n, c, err := s.startNode(ctx, id, peers, params)
	if err != nil {
		s.mu.Lock()
		delete(s.reserved, id)
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	delete(s.reserved, id)
	if s.closed {
		s.mu.Unlock()
		n.TerminateOrKill(s.cfg.TermTimeout())
		n.Cleanup()
		c.Cleanup()
		return nil, ErrClosed
	}
	s.nodes[id] = n
	s.clients[id] = c
	s.mu.Unlock()
	s.logger.Info("node added", "node_id", id, "rpc_port", n.RPCPort(), "p2p_port", n.P2PPort(), "peers", peers)
	return n, nil
}

// reserve claims id and resolves the peer ports it will be started with.
func (s *Sandbox) reserve(id int, peerIDs []int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if id < 0 || id >= s.cfg.NumPeers {
		return nil, fmt.Errorf("%w: node id %d outside [0, %d)", process.ErrInvalidArgument, id, s.cfg.NumPeers)
	}
	if _, ok := s.nodes[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	if _, ok := s.reserved[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	if peerIDs == nil {
		peerIDs = s.nodeIDsLocked()
	}
	peers := make([]int, 0, len(peerIDs))
	for _, p := range peerIDs {
		if p < 0 || p >= s.cfg.NumPeers {
			return nil, fmt.Errorf("%w: peer id %d outside [0, %d)", process.ErrInvalidArgument, p, s.cfg.NumPeers)
		}
		if p == id {
			continue
		}
		peers = append(peers, s.P2PPort(p))
	}
	sort.Ints(peers)
	s.reserved[id] = struct{}{}
	return peers, nil
}

func (s *Sandbox) startNode(ctx context.Context, id int, peers []int, params NodeParams) (*node.Node, *client.Client, error) {
	branch, err := s.branch(id, params.Branch)
	if err != nil {
		return nil, nil, err
	}
	nodeBin, err := s.binary(s.cfg.Binaries.Node, branch.Path, "")
	if err != nil {
		return nil, nil, err
	}
	clientBin, err := s.binary(s.cfg.Binaries.Client, branch.Path, "")
	if err != nil {
		return nil, nil, err
	}
	var adminBin string
	if s.cfg.Binaries.AdminClient != "" {
		if adminBin, err = s.binary(s.cfg.Binaries.AdminClient, branch.Path, ""); err != nil {
			return nil, nil, err
		}
	}
	if params.Snapshot != "" {
		if err := process.CheckFile(params.Snapshot); err != nil {
			return nil, nil, err
		}
	}

	nodeParams := params.Params
	if nodeParams == nil {
		nodeParams = s.cfg.Node.Params
	}
	private := s.cfg.Node.Private
	if params.Private != nil {
		private = *params.Private
	}
	if private {
		nodeParams = append(append([]string(nil), nodeParams...), "--private-mode")
	}
	logLevels := params.LogLevels
	if logLevels == nil {
		logLevels = s.cfg.Node.LogLevels
	}

	s.mu.Lock()
	logFile := s.nextLog("node%d_%d.txt", id)
	s.mu.Unlock()

	logger := s.logger.With("node_id", id)
	n, err := node.New(node.Options{
		Executable:    nodeBin,
		Dirs:          s.dirs,
		P2PPort:       s.P2PPort(id),
		RPCPort:       s.RPCPort(id),
		ExpectedPoW:   s.cfg.ExpectedPoW,
		Peers:         peers,
		Params:        nodeParams,
		Config:        params.Config,
		LogFile:       logFile,
		LogLevels:     logLevels,
		Singleprocess: s.cfg.Singleprocess,
		SandboxFile:   s.sandboxFile,
		TLS:           params.TLS,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*node.Node, *client.Client, error) {
		n.TerminateOrKill(s.cfg.TermTimeout())
		n.Cleanup()
		return nil, nil, fmt.Errorf("adding node %d: %w", id, err)
	}

	if params.Snapshot != "" {
		var extra []string
		if params.Reconstruct {
			extra = append(extra, "--reconstruct")
		}
		if s.sandboxFile != "" {
			extra = append(extra, "--sandbox", s.sandboxFile)
		}
		if err := n.SnapshotImport(ctx, params.Snapshot, extra...); err != nil {
			return fail(err)
		}
	}
	if err := n.InitID(ctx); err != nil {
		return fail(err)
	}
	if err := n.InitConfig(ctx); err != nil {
		return fail(err)
	}

	s.rec.watch(n.Handle, "node", id, "")
	if err := n.Run(); err != nil {
		return fail(err)
	}

	factory := params.ClientFactory
	if factory == nil {
		factory = client.New
	}
	c, err := factory(client.Options{
		Executable:      clientBin,
		AdminExecutable: adminBin,
		RPCPort:         s.RPCPort(id),
		Dirs:            s.dirs,
		TLS:             params.TLS != nil,
		Logger:          logger,
	})
	if err != nil {
		return fail(fmt.Errorf("creating client: %w", err))
	}
	failWithClient := func(err error) (*node.Node, *client.Client, error) {
		c.Cleanup()
		return fail(err)
	}

	if err := s.startupCheck(ctx, n.Handle, "node"); err != nil {
		return failWithClient(err)
	}

	if !params.SkipClientConfig {
		if err := c.ConfigUpdate(ctx); err != nil {
			return failWithClient(err)
		}
		aliases := make([]string, 0, len(s.cfg.Identities))
		for alias := range s.cfg.Identities {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			if _, err := c.ImportSecretKey(ctx, alias, s.cfg.Identities[alias].Secret); err != nil {
				return failWithClient(err)
			}
		}
	}
	return n, c, nil
}

// RmNode kills node id and deletes its data and client directories.
// Daemons attached to it stay registered.
func (s *Sandbox) RmNode(id int) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	c := s.clients[id]
	delete(s.nodes, id)
	delete(s.clients, id)
	s.retired = append(s.retired, n.Handle)
	s.mu.Unlock()

	if err := n.Kill(); err != nil {
		return err
	}
	if _, err := n.Wait(context.Background()); err != nil {
		return err
	}
	if err := n.Cleanup(); err != nil {
		return err
	}
	s.logger.Info("node removed", "node_id", id)
	return c.Cleanup()
}
