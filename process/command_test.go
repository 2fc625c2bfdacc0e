package process

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/p-arndt/chainsandbox/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	script := testutil.WriteScript(t, t.TempDir(), "ok", `echo "out $1"; echo "warn" >&2`)

	res := Run(context.Background(), Command{Path: script, Args: []string{"a"}}, testLogger())

	assert.True(t, res.Succeeded())
	assert.NoError(t, res.Err())
	assert.Equal(t, "out a\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Equal(t, []string{script, "a"}, res.Args)
}

func TestRunFailure(t *testing.T) {
	script := testutil.WriteScript(t, t.TempDir(), "fail", `echo "partial"; echo "Error: data dir missing" >&2; exit 4`)

	res := Run(context.Background(), Command{Path: script}, testLogger())

	assert.False(t, res.Succeeded())
	assert.Equal(t, 4, res.ExitCode)
	err := res.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 4, cmdErr.ExitCode)
	assert.Equal(t, "partial\n", cmdErr.Stdout)
	assert.Contains(t, cmdErr.Stderr, "data dir missing")
	assert.Contains(t, err.Error(), "exit code 4: Error: data dir missing")
}

func TestRunSpawnError(t *testing.T) {
	res := Run(context.Background(), Command{Path: filepath.Join(t.TempDir(), "nope")}, testLogger())

	assert.False(t, res.Succeeded())
	assert.ErrorIs(t, res.Err(), ErrSpawn)
}

func TestRunStdin(t *testing.T) {
	script := testutil.WriteScript(t, t.TempDir(), "cat", `read line; echo "got $line"`)

	out, err := RunChecked(context.Background(), Command{Path: script, Stdin: strings.NewReader("secret\n")}, testLogger())

	require.NoError(t, err)
	assert.Equal(t, "got secret\n", out)
}

func TestRunContextCancelled(t *testing.T) {
	script := testutil.WriteScript(t, t.TempDir(), "slow", `sleep 5`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run(ctx, Command{Path: script}, testLogger())

	assert.False(t, res.Succeeded())
	assert.Error(t, res.Err())
}

func TestMatchFailure(t *testing.T) {
	failing := &CommandError{Args: []string{"client", "transfer"}, ExitCode: 1, Stderr: "Error:\n  Balance too low\n"}

	assert.NoError(t, MatchFailure(failing, `Balance too low`))
	assert.NoError(t, MatchFailure(failing, `(?m)^\s+Balance`))
	assert.Error(t, MatchFailure(failing, `Unknown contract`))
	assert.Error(t, MatchFailure(nil, `anything`))
	assert.Error(t, MatchFailure(errors.New("boom"), `boom`))
	assert.ErrorIs(t, MatchFailure(failing, `(`), ErrInvalidArgument)
}

func TestCheckExecutable(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "tool", "exit 0\n")

	assert.NoError(t, CheckExecutable(script))
	assert.ErrorIs(t, CheckExecutable(filepath.Join(dir, "missing")), ErrInvalidArgument)
	assert.ErrorIs(t, CheckExecutable(dir), ErrInvalidArgument)
	assert.ErrorIs(t, CheckExecutable(""), ErrInvalidArgument)

	assert.NoError(t, CheckDir(dir))
	assert.ErrorIs(t, CheckDir(script), ErrInvalidArgument)

	assert.NoError(t, CheckFile(script))
	assert.ErrorIs(t, CheckFile(dir), ErrInvalidArgument)
	assert.ErrorIs(t, CheckFile(filepath.Join(dir, "missing")), ErrInvalidArgument)
}
