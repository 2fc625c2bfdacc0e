package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
)

var ansiRegex = regexp.MustCompile("[\u001b\u009b][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?\u0007)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))")

// PromptDelay is how long RunTerminal waits before answering each prompt.
var PromptDelay = 100 * time.Millisecond

// CleanOutput normalizes line endings and strips ANSI escape sequences.
func CleanOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	return ansiRegex.ReplaceAllString(s, "")
}

// RunTerminal runs c attached to a pseudo-terminal, writing each input
// line after PromptDelay. The terminal merges both output streams, so the
// cleaned output is reported as Stdout, and as Stderr too on failure.
func RunTerminal(ctx context.Context, c Command, input []string, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.Default()
	}
	res := &Result{Args: c.argv()}
	logger.Info("# "+FormatCommand(res.Args), "terminal", true)

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(c.Env)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		res.SpawnErr = fmt.Errorf("%w: %s: %v", ErrSpawn, c.Path, err)
		res.ExitCode = -1
		return res
	}
	defer ptmx.Close()
	pty.Setsize(ptmx, &pty.Winsize{Rows: 40, Cols: 120})

	var (
		buf bytes.Buffer
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Reads fail with EIO once the child side is closed.
		io.Copy(&buf, ptmx)
	}()

	for _, line := range input {
		select {
		case <-ctx.Done():
		case <-time.After(PromptDelay):
		}
		if _, err := ptmx.Write([]byte(line + "\n")); err != nil {
			break
		}
	}

	err = cmd.Wait()
	wg.Wait()
	res.Stdout = CleanOutput(buf.String())

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitCode(cmd, err)
		res.Stderr = res.Stdout
	default:
		res.SpawnErr = fmt.Errorf("%w: %s: %v", ErrSpawn, c.Path, err)
		res.ExitCode = -1
	}
	if !res.Succeeded() {
		logger.Error("command failed",
			"cmd", FormatCommand(res.Args),
			"exit_code", res.ExitCode,
			"output", res.Stdout,
		)
	}
	return res
}
