package sandbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/p-arndt/chainsandbox/daemons"
	"github.com/p-arndt/chainsandbox/process"
)

// DaemonParams tune AddBaker, AddEndorser and AddAccuser.
type DaemonParams struct {
	Params []string
	// EndorsementDelay is used by endorsers only, in seconds.
	EndorsementDelay float64
	// Branch is the binaries sub-directory. It is ignored in a
	// multi-branch sandbox, where the node's branch applies.
	Branch string
}

// AddBaker starts a baker for proto baking for account on node id.
// An empty proto uses the branch protocol of a multi-branch sandbox.
func (s *Sandbox) AddBaker(ctx context.Context, id int, account, proto string, params DaemonParams) (*daemons.Daemon, error) {
	return s.addDaemon(ctx, daemons.RoleBaker, id, account, proto, params)
}

// AddEndorser starts an endorser for proto on node id. An empty account
// endorses for every known delegate.
func (s *Sandbox) AddEndorser(ctx context.Context, id int, account, proto string, params DaemonParams) (*daemons.Daemon, error) {
	return s.addDaemon(ctx, daemons.RoleEndorser, id, account, proto, params)
}

func (s *Sandbox) AddAccuser(ctx context.Context, id int, proto string, params DaemonParams) (*daemons.Daemon, error) {
	return s.addDaemon(ctx, daemons.RoleAccuser, id, "", proto, params)
}

func (s *Sandbox) addDaemon(ctx context.Context, role daemons.Role, id int, account, proto string, params DaemonParams) (*daemons.Daemon, error) {
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	c := s.clients[id]
	s.mu.Unlock()

	branch := Branch{Path: params.Branch}
	if s.branches != nil {
		b, ok := s.branches[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownBranch, id)
		}
		branch = b
	}
	if proto == "" {
		proto = branch.Proto
	}
	if proto == "" {
		return nil, fmt.Errorf("%w: %s for node %d needs a protocol", process.ErrInvalidArgument, role, id)
	}

	var base string
	switch role {
	case daemons.RoleBaker:
		base = s.cfg.Binaries.Baker
	case daemons.RoleEndorser:
		base = s.cfg.Binaries.Endorser
	default:
		base = s.cfg.Binaries.Accuser
	}
	exe, err := s.binary(base, branch.Path, proto)
	if err != nil {
		return nil, err
	}

	key := daemonKey{role: role, proto: proto, nodeID: id}
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if _, ok := s.daemons[key]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s for proto %s on node %d", ErrDuplicateDaemon, role, proto, id)
	}
	logFile := s.nextLog("%s-%s_%d_#%d.txt", role, proto, id)
	s.mu.Unlock()

	opts := daemons.Options{
		Executable:       exe,
		RPCPort:          n.RPCPort(),
		BaseDir:          c.BaseDir(),
		NodeDir:          n.DataDir(),
		Account:          account,
		Proto:            proto,
		Params:           params.Params,
		EndorsementDelay: params.EndorsementDelay,
		LogFile:          logFile,
		Logger:           s.logger.With("node_id", id),
	}
	var d *daemons.Daemon
	switch role {
	case daemons.RoleBaker:
		d, err = daemons.NewBaker(opts)
	case daemons.RoleEndorser:
		d, err = daemons.NewEndorser(opts)
	default:
		d, err = daemons.NewAccuser(opts)
	}
	if err != nil {
		return nil, err
	}

	s.rec.watch(d.Handle, string(role), id, proto)
	if err := d.Run(); err != nil {
		return nil, err
	}
	if err := s.startupCheck(ctx, d.Handle, string(role)); err != nil {
		d.TerminateOrKill(s.cfg.TermTimeout())
		s.mu.Lock()
		s.retired = append(s.retired, d.Handle)
		s.mu.Unlock()
		return nil, fmt.Errorf("adding %s for node %d: %w", role, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.daemons[key]; ok || s.closed {
		d.TerminateOrKill(s.cfg.TermTimeout())
		if s.closed {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %s for proto %s on node %d", ErrDuplicateDaemon, role, proto, id)
	}
	s.daemons[key] = d
	s.logger.Info("daemon added", "role", role, "proto", proto, "node_id", id, "account", account)
	return d, nil
}

func (s *Sandbox) daemon(role daemons.Role, id int, proto string) (*daemons.Daemon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.daemons[daemonKey{role: role, proto: proto, nodeID: id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s for proto %s on node %d", ErrUnknownDaemon, role, proto, id)
	}
	return d, nil
}

func (s *Sandbox) Baker(id int, proto string) (*daemons.Daemon, error) {
	return s.daemon(daemons.RoleBaker, id, proto)
}

func (s *Sandbox) Endorser(id int, proto string) (*daemons.Daemon, error) {
	return s.daemon(daemons.RoleEndorser, id, proto)
}

func (s *Sandbox) Accuser(id int, proto string) (*daemons.Daemon, error) {
	return s.daemon(daemons.RoleAccuser, id, proto)
}

// Daemons returns every registered daemon ordered by node id, role and
// protocol.
func (s *Sandbox) Daemons() []*daemons.Daemon {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.daemonKeysLocked()
	out := make([]*daemons.Daemon, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.daemons[k])
	}
	return out
}

func (s *Sandbox) daemonKeysLocked() []daemonKey {
	keys := make([]daemonKey, 0, len(s.daemons))
	for k := range s.daemons {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].nodeID != keys[j].nodeID {
			return keys[i].nodeID < keys[j].nodeID
		}
		if keys[i].role != keys[j].role {
			return keys[i].role < keys[j].role
		}
		return keys[i].proto < keys[j].proto
	})
	return keys
}

func (s *Sandbox) rmDaemon(role daemons.Role, id int, proto string) error {
	key := daemonKey{role: role, proto: proto, nodeID: id}
	s.mu.Lock()
	d, ok := s.daemons[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s for proto %s on node %d", ErrUnknownDaemon, role, proto, id)
	}
	delete(s.daemons, key)
	s.retired = append(s.retired, d.Handle)
	s.mu.Unlock()

	if err := d.Kill(); err != nil {
		return err
	}
	s.logger.Info("daemon removed", "role", role, "proto", proto, "node_id", id)
	return nil
}

func (s *Sandbox) RmBaker(id int, proto string) error {
	return s.rmDaemon(daemons.RoleBaker, id, proto)
}

func (s *Sandbox) RmEndorser(id int, proto string) error {
	return s.rmDaemon(daemons.RoleEndorser, id, proto)
}

func (s *Sandbox) RmAccuser(id int, proto string) error {
	return s.rmDaemon(daemons.RoleAccuser, id, proto)
}
