package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/p-arndt/chainsandbox/internal/workdir"
	"github.com/p-arndt/chainsandbox/process"
)

const (
	ModeClient = "client"
	ModeMockup = "mockup"

	disclaimerEnvVar = "TEZOS_CLIENT_UNSAFE_DISABLE_DISCLAIMER"
	tempDirPrefix    = "octez-client."
	defaultHost      = "127.0.0.1"
)

// DirAllocator creates and deletes owned temporary directories.
type DirAllocator interface {
	Create(prefix string) (string, error)
	Delete(dir string) error
}

type Options struct {
	Executable      string
	AdminExecutable string
	Host            string
	RPCPort         int
	// BaseDir is used as is and never deleted. When empty, a temporary
	// directory is allocated from Dirs and removed by Cleanup.
	BaseDir string
	Dirs    DirAllocator
	TLS     bool
	// Mode selects the client backend; mockup runs without a node.
	Mode           string
	KeepDisclaimer bool
	Capture        *Capture
	Logger         *slog.Logger
}

// Factory builds the client registered for a sandbox node.
type Factory func(opts Options) (*Client, error)

// Client invokes the client executables against one node. Every call
// is exactly one external invocation.
type Client struct {
	executable string
	admin      string
	host       string
	rpcPort    int
	baseDir    string
	ownsDir    bool
	dirs       DirAllocator
	tls        bool
	mode       string
	env        map[string]string
	logger     *slog.Logger

	mu      sync.Mutex
	capture *Capture
	http    *resty.Client
	cleaned bool
}

func New(opts Options) (*Client, error) {
	if err := process.CheckExecutable(opts.Executable); err != nil {
		return nil, err
	}
	if opts.AdminExecutable != "" {
		if err := process.CheckExecutable(opts.AdminExecutable); err != nil {
			return nil, err
		}
	}
	if opts.BaseDir != "" {
		if err := process.CheckDir(opts.BaseDir); err != nil {
			return nil, err
		}
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeClient
	}
	if mode != ModeClient && mode != ModeMockup {
		return nil, fmt.Errorf("%w: unknown client mode %q", process.ErrInvalidArgument, mode)
	}
	host := opts.Host
	if host == "" {
		host = defaultHost
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		executable: opts.Executable,
		admin:      opts.AdminExecutable,
		host:       host,
		rpcPort:    opts.RPCPort,
		baseDir:    opts.BaseDir,
		dirs:       opts.Dirs,
		tls:        opts.TLS,
		mode:       mode,
		logger:     logger.With("component", "client", "rpc_port", opts.RPCPort),
		capture:    opts.Capture,
	}
	if !opts.KeepDisclaimer {
		c.env = map[string]string{disclaimerEnvVar: "Y"}
	}
	if c.baseDir == "" {
		if c.dirs == nil {
			c.dirs = workdir.New("")
		}
		dir, err := c.dirs.Create(tempDirPrefix)
		if err != nil {
			return nil, fmt.Errorf("allocating base dir: %w", err)
		}
		c.baseDir = dir
		c.ownsDir = true
	}
	return c, nil
}

func (c *Client) BaseDir() string { return c.baseDir }
func (c *Client) RPCPort() int    { return c.rpcPort }
func (c *Client) Host() string    { return c.host }
func (c *Client) TLS() bool       { return c.tls }
func (c *Client) Mode() string    { return c.mode }

// SetCapture attaches a regression capture sink, or detaches it when nil.
func (c *Client) SetCapture(capture *Capture) {
	c.mu.Lock()
	c.capture = capture
	c.mu.Unlock()
}

func (c *Client) currentCapture() *Capture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture
}

// baseArgs returns the connection arguments shared by every invocation.
func (c *Client) baseArgs() []string {
	args := []string{"-base-dir", c.baseDir}
	if c.mode == ModeMockup {
		return append(args, "--mode", ModeMockup)
	}
	args = append(args, "-addr", c.host, "-port", strconv.Itoa(c.rpcPort))
	if c.tls {
		args = append(args, "-S")
	}
	return args
}

// RunOptions selects the executable and tracing for one invocation.
type RunOptions struct {
	Admin bool
	Trace bool
	Stdin io.Reader
}

func (c *Client) command(opts RunOptions, params []string) (process.Command, error) {
	exe := c.executable
	if opts.Admin {
		if c.admin == "" {
			return process.Command{}, fmt.Errorf("%w: no admin client configured", process.ErrInvalidArgument)
		}
		exe = c.admin
	}
	args := c.baseArgs()
	if opts.Trace {
		args = append(args, "-l")
	}
	args = append(args, params...)
	return process.Command{Path: exe, Args: args, Env: c.env, Stdin: opts.Stdin}, nil
}

// Exec runs the client once and returns its raw result.
func (c *Client) Exec(ctx context.Context, opts RunOptions, params ...string) *process.Result {
	cmd, err := c.command(opts, params)
	if err != nil {
		return &process.Result{Args: params, ExitCode: -1, SpawnErr: err}
	}
	res := process.Run(ctx, cmd, c.logger)
	if capture := c.currentCapture(); capture != nil {
		capture.Record(params, res)
	}
	return res
}

// Run invokes the client with params and returns stdout. A non-zero exit
// yields a *process.CommandError carrying the captured output.
func (c *Client) Run(ctx context.Context, params ...string) (string, error) {
	res := c.Exec(ctx, RunOptions{}, params...)
	return res.Stdout, res.Err()
}

// Admin invokes the admin client with params and returns stdout.
func (c *Client) Admin(ctx context.Context, params ...string) (string, error) {
	res := c.Exec(ctx, RunOptions{Admin: true}, params...)
	return res.Stdout, res.Err()
}

// Cleanup deletes the base directory if the client allocated it.
func (c *Client) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaned || !c.ownsDir {
		return nil
	}
	if err := c.dirs.Delete(c.baseDir); err != nil {
		return err
	}
	c.cleaned = true
	return nil
}
