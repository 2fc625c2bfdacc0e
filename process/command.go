package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// Command describes a blocking one-shot invocation.
type Command struct {
	Path  string
	Args  []string
	Dir   string
	Env   map[string]string
	Stdin io.Reader
}

func (c Command) argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// Result is the outcome of a one-shot command. SpawnErr is set when the
// process could not be started or waited for; otherwise ExitCode holds
// its exit status.
type Result struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	SpawnErr error
}

// Succeeded reports whether the command started and exited zero.
func (r *Result) Succeeded() bool {
	return r.SpawnErr == nil && r.ExitCode == 0
}

// Err converts the result to an error: the spawn error, a *CommandError
// on non-zero exit, or nil.
func (r *Result) Err() error {
	if r.SpawnErr != nil {
		return r.SpawnErr
	}
	if r.ExitCode != 0 {
		return &CommandError{
			Args:     r.Args,
			ExitCode: r.ExitCode,
			Stdout:   r.Stdout,
			Stderr:   r.Stderr,
		}
	}
	return nil
}

// Run executes c and waits for it to exit. The invocation is logged
// before it starts; on failure the captured output is logged as well.
func Run(ctx context.Context, c Command, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.Default()
	}
	res := &Result{Args: c.argv()}
	logger.Info("# " + FormatCommand(res.Args))

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(c.Env)
	cmd.Stdin = c.Stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitCode(cmd, err)
	default:
		res.SpawnErr = fmt.Errorf("%w: %s: %v", ErrSpawn, c.Path, err)
		res.ExitCode = -1
	}

	if !res.Succeeded() {
		logger.Error("command failed",
			"cmd", FormatCommand(res.Args),
			"exit_code", res.ExitCode,
			"stdout", res.Stdout,
			"stderr", res.Stderr,
		)
	}
	return res
}

// RunChecked runs c and returns its stdout, or the error from Result.Err.
func RunChecked(ctx context.Context, c Command, logger *slog.Logger) (string, error) {
	res := Run(ctx, c, logger)
	return res.Stdout, res.Err()
}
