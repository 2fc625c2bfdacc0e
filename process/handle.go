package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long TerminateOrKill waits after SIGTERM.
const DefaultGracePeriod = 10 * time.Second

// State is the lifecycle state of the process currently owned by a Handle.
type State int

const (
	NotStarted State = iota
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is a snapshot of a Handle's current process. ExitCode is only
// meaningful when State is Exited; a process killed by a signal reports
// the negated signal number.
type Status struct {
	State    State
	PID      int
	ExitCode int
}

func (s Status) Exited() bool { return s.State == Exited }

// Watcher is notified when a Handle's process starts or exits.
type Watcher func(h *Handle, st Status)

// Options configures a Handle. The zero value runs in the current
// directory with the inherited environment and discards output.
type Options struct {
	Dir     string
	Env     map[string]string
	LogFile string
	Logger  *slog.Logger
}

// Handle wraps one executable with a fixed argument vector. Each Run
// spawns a fresh process with the same arguments.
type Handle struct {
	path    string
	args    []string
	dir     string
	env     []string
	logFile string
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	runs     int
	watchers []Watcher
}

// New creates a handle. The executable is resolved at Run time.
func New(path string, args []string, opts Options) *Handle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		path:    path,
		args:    append([]string(nil), args...),
		dir:     opts.Dir,
		env:     mergeEnv(opts.Env),
		logFile: opts.LogFile,
		logger:  logger,
	}
}

func (h *Handle) Path() string    { return h.path }
func (h *Handle) LogFile() string { return h.logFile }

// Args returns a copy of the argument vector, without the executable.
func (h *Handle) Args() []string {
	return append([]string(nil), h.args...)
}

// Command returns the full command line as a string.
func (h *Handle) Command() string {
	return FormatCommand(append([]string{h.path}, h.args...))
}

// Watch registers w for start and exit notifications.
func (h *Handle) Watch(w Watcher) {
	h.mu.Lock()
	h.watchers = append(h.watchers, w)
	h.mu.Unlock()
}

// Run spawns the process and returns once it is started. The log file is
// truncated on the first run of the handle and appended to afterwards.
func (h *Handle) Run() error {
	h.mu.Lock()
	if h.state == Running {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, h.path)
	}

	out, err := h.openLog()
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: opening log %s: %v", ErrSpawn, h.logFile, err)
	}

	cmd := exec.Command(h.path, h.args...)
	cmd.Dir = h.dir
	cmd.Env = h.env
	cmd.SysProcAttr = sysProcAttr()
	if out != nil {
		cmd.Stdout = out
		cmd.Stderr = out
	}

	h.logger.Info(h.Command())

	if err := cmd.Start(); err != nil {
		if out != nil {
			out.Close()
		}
		h.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrSpawn, h.path, err)
	}

	done := make(chan struct{})
	h.runs++
	h.cmd = cmd
	h.done = done
	h.state = Running
	h.exitCode = 0
	st := Status{State: Running, PID: cmd.Process.Pid}
	watchers := append([]Watcher(nil), h.watchers...)
	h.mu.Unlock()

	for _, w := range watchers {
		w(h, st)
	}

	go h.wait(cmd, out, done)
	return nil
}

func (h *Handle) openLog() (*os.File, error) {
	if h.logFile == "" {
		return nil, nil
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if h.runs == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(h.logFile, flags, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(f, "# %s\n", h.Command()); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (h *Handle) wait(cmd *exec.Cmd, out io.Closer, done chan struct{}) {
	err := cmd.Wait()
	code := exitCode(cmd, err)
	if out != nil {
		out.Close()
	}

	h.mu.Lock()
	h.state = Exited
	h.exitCode = code
	st := Status{State: Exited, PID: cmd.Process.Pid, ExitCode: code}
	watchers := append([]Watcher(nil), h.watchers...)
	h.mu.Unlock()
	close(done)

	h.logger.Debug("process exited", "path", h.path, "pid", st.PID, "exit_code", code)
	for _, w := range watchers {
		w(h, st)
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if cmd.ProcessState == nil {
		return -1
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return cmd.ProcessState.ExitCode()
}

// Poll returns the current status without blocking.
func (h *Handle) Poll() (Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == NotStarted {
		return Status{}, fmt.Errorf("%w: %s", ErrNotStarted, h.path)
	}
	st := Status{State: h.state, PID: h.cmd.Process.Pid}
	if h.state == Exited {
		st.ExitCode = h.exitCode
	}
	return st, nil
}

// PID returns the pid of the current process, or 0 if never started.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Runs returns how many times the handle has spawned a process.
func (h *Handle) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

// running returns the pid and exit channel of a live process.
func (h *Handle) running() (int, chan struct{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Running {
		return 0, nil, false
	}
	return h.cmd.Process.Pid, h.done, true
}

// Terminate sends SIGTERM to the process group. No-op when nothing runs.
func (h *Handle) Terminate() error {
	pid, _, ok := h.running()
	if !ok {
		return nil
	}
	return terminateGroup(pid)
}

// Kill sends SIGKILL to the process group and returns once the process
// has been reaped, so Poll reports Exited afterwards. No-op when nothing
// runs.
func (h *Handle) Kill() error {
	pid, done, ok := h.running()
	if !ok {
		return nil
	}
	if err := killGroup(pid); err != nil {
		return err
	}
	<-done
	return nil
}

// TerminateOrKill sends SIGTERM, waits up to grace for the process to
// exit and sends SIGKILL if it has not. It returns once the process has
// exited. A grace of zero uses DefaultGracePeriod.
func (h *Handle) TerminateOrKill(grace time.Duration) error {
	pid, done, ok := h.running()
	if !ok {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	if err := terminateGroup(pid); err != nil {
		h.logger.Warn("terminate failed, killing", "path", h.path, "pid", pid, "error", err)
	} else {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
			return nil
		case <-timer.C:
			h.logger.Warn("process ignored SIGTERM, killing", "path", h.path, "pid", pid, "grace", grace)
		}
	}

	if err := killGroup(pid); err != nil {
		return fmt.Errorf("killing %s (pid %d): %w", h.path, pid, err)
	}
	<-done
	return nil
}

// Wait blocks until the current process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Status, error) {
	h.mu.Lock()
	if h.state == NotStarted {
		h.mu.Unlock()
		return Status{}, fmt.Errorf("%w: %s", ErrNotStarted, h.path)
	}
	done := h.done
	h.mu.Unlock()

	select {
	case <-done:
		return h.Poll()
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// FormatCommand renders argv the way it is logged.
func FormatCommand(argv []string) string {
	return strings.Join(argv, " ")
}

// mergeEnv returns the inherited environment with overrides applied, or
// nil when there are none.
func mergeEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}
	env := os.Environ()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
