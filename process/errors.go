package process

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSpawn           = errors.New("spawn failed")
	ErrNotStarted      = errors.New("process not started")
	ErrAlreadyRunning  = errors.New("process already running")
	ErrCommandFailed   = errors.New("command failed")
)

// CommandError is returned when a one-shot command exits non-zero.
// It keeps the captured output so callers can match expected failures.
type CommandError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: exit code %d", FormatCommand(e.Args), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + firstLine(s)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// Output returns stdout followed by stderr.
func (e *CommandError) Output() string {
	return e.Stdout + e.Stderr
}

// MatchFailure checks that err is a failed command whose output matches
// pattern. It returns nil on a match and a descriptive error otherwise.
func MatchFailure(err error, pattern string) error {
	if err == nil {
		return fmt.Errorf("expected command failure matching %q, got success", pattern)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return fmt.Errorf("expected command failure matching %q, got: %w", pattern, err)
	}
	re, rerr := regexp.Compile(pattern)
	if rerr != nil {
		return fmt.Errorf("%w: pattern %q: %v", ErrInvalidArgument, pattern, rerr)
	}
	if re.MatchString(cmdErr.Stdout) || re.MatchString(cmdErr.Stderr) {
		return nil
	}
	return fmt.Errorf("command output does not match %q:\nstdout: %s\nstderr: %s",
		pattern, cmdErr.Stdout, cmdErr.Stderr)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
