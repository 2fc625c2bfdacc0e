package daemons

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/p-arndt/chainsandbox/process"
)

// Role identifies the kind of protocol daemon.
type Role string

const (
	RoleBaker    Role = "baker"
	RoleEndorser Role = "endorser"
	RoleAccuser  Role = "accuser"
)

const defaultHost = "127.0.0.1"

type Options struct {
	Executable string
	Host       string
	RPCPort    int
	// BaseDir is the client base directory holding the signing keys.
	BaseDir string
	// NodeDir is the data directory of the node, used by bakers only.
	NodeDir string
	Account string
	Proto   string
	Params  []string
	// EndorsementDelay is passed to endorsers, in seconds.
	EndorsementDelay float64
	LogFile          string
	Logger           *slog.Logger
}

// Daemon is a baker, endorser or accuser attached to a node by address.
// Its arguments are fixed at construction; it is started with Run.
type Daemon struct {
	*process.Handle

	role    Role
	proto   string
	account string
	host    string
	rpcPort int
}

// NewBaker builds "<baker> -base-dir B -addr H -port P [params] run with
// local node NODE_DIR ACCOUNT".
func NewBaker(opts Options) (*Daemon, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}
	if err := process.CheckDir(opts.NodeDir); err != nil {
		return nil, err
	}
	if opts.Account == "" {
		return nil, fmt.Errorf("%w: baker requires an account", process.ErrInvalidArgument)
	}
	args := append(addrArgs(opts), opts.Params...)
	args = append(args, "run", "with", "local", "node", opts.NodeDir, opts.Account)
	return newDaemon(RoleBaker, opts, args), nil
}

// NewEndorser builds "<endorser> -base-dir B -addr H -port P [params] run
// [ACCOUNT] --endorsement-delay D". An empty account endorses for all
// known delegates.
func NewEndorser(opts Options) (*Daemon, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}
	args := append(addrArgs(opts), opts.Params...)
	args = append(args, "run")
	if opts.Account != "" {
		args = append(args, opts.Account)
	}
	args = append(args, "--endorsement-delay", strconv.FormatFloat(opts.EndorsementDelay, 'f', -1, 64))
	return newDaemon(RoleEndorser, opts, args), nil
}

// NewAccuser builds "<accuser> -base-dir B -endpoint http://H:P [params]".
func NewAccuser(opts Options) (*Daemon, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}
	args := []string{"-base-dir", opts.BaseDir, "-endpoint", fmt.Sprintf("http://%s:%d", host(opts), opts.RPCPort)}
	args = append(args, opts.Params...)
	return newDaemon(RoleAccuser, opts, args), nil
}

func validate(opts Options) error {
	if err := process.CheckExecutable(opts.Executable); err != nil {
		return err
	}
	if err := process.CheckDir(opts.BaseDir); err != nil {
		return err
	}
	if opts.RPCPort <= 0 || opts.RPCPort > 65535 {
		return fmt.Errorf("%w: rpc port %d", process.ErrInvalidArgument, opts.RPCPort)
	}
	return nil
}

func host(opts Options) string {
	if opts.Host == "" {
		return defaultHost
	}
	return opts.Host
}

func addrArgs(opts Options) []string {
	return []string{"-base-dir", opts.BaseDir, "-addr", host(opts), "-port", strconv.Itoa(opts.RPCPort)}
}

func newDaemon(role Role, opts Options, args []string) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", string(role), "proto", opts.Proto, "rpc_port", opts.RPCPort)
	return &Daemon{
		Handle: process.New(opts.Executable, args, process.Options{
			LogFile: opts.LogFile,
			Logger:  logger,
		}),
		role:    role,
		proto:   opts.Proto,
		account: opts.Account,
		host:    host(opts),
		rpcPort: opts.RPCPort,
	}
}

func (d *Daemon) Role() Role      { return d.role }
func (d *Daemon) Proto() string   { return d.proto }
func (d *Daemon) Account() string { return d.account }
func (d *Daemon) RPCPort() int    { return d.rpcPort }

// Node returns the address of the node the daemon talks to.
func (d *Daemon) Node() string {
	return d.host + ":" + strconv.Itoa(d.rpcPort)
}
