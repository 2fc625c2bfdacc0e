package process

import (
	"context"
	"testing"

	"github.com/p-arndt/chainsandbox/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanOutput(t *testing.T) {
	assert.Equal(t, "bold\nline\n", CleanOutput("\x1b[1mbold\x1b[0m\r\nline\r\n"))
	assert.Equal(t, "progress done", CleanOutput("progress\r done"))
}

func TestRunTerminal(t *testing.T) {
	script := testutil.WriteScript(t, t.TempDir(), "prompt", `
[ -t 0 ] || { echo "stdin is not a terminal"; exit 3; }
printf "Name: "
read name
printf "Password: "
read pw
echo "hello $name"
[ "$pw" = "secret" ] || { echo "bad password" >&2; exit 5; }
`)

	res := RunTerminal(context.Background(), Command{Path: script}, []string{"alice", "secret"}, testLogger())
	require.NoError(t, res.Err())
	assert.Contains(t, res.Stdout, "hello alice")
	assert.NotContains(t, res.Stdout, "\r")

	res = RunTerminal(context.Background(), Command{Path: script}, []string{"bob", "guess"}, testLogger())
	assert.Equal(t, 5, res.ExitCode)
	assert.NoError(t, MatchFailure(res.Err(), "bad password"))
}

func TestRunTerminalSpawnError(t *testing.T) {
	res := RunTerminal(context.Background(), Command{Path: "/nonexistent/binary"}, nil, testLogger())
	assert.ErrorIs(t, res.Err(), ErrSpawn)
	assert.Equal(t, -1, res.ExitCode)
}
