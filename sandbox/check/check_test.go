package check

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/p-arndt/chainsandbox/client"
	"github.com/p-arndt/chainsandbox/internal/testutil"
	"github.com/p-arndt/chainsandbox/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Retries: 2, Interval: 10 * time.Millisecond}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClients returns clients whose head is always at level 3 running
// ProtoALpha.
func fakeClients(t *testing.T, n int) []*client.Client {
	t.Helper()
	exe := testutil.WriteScript(t, t.TempDir(), "octez-client", testutil.FakeClientScript)
	out := make([]*client.Client, 0, n)
	for i := 0; i < n; i++ {
		c, err := client.New(client.Options{
			Executable: exe,
			RPCPort:    18730 + i,
			BaseDir:    t.TempDir(),
			Logger:     testLogger(),
		})
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fast, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fast, func(ctx context.Context) error {
		calls++
		return ErrNotReached
	})
	assert.ErrorIs(t, err, ErrNotReached)
	assert.Equal(t, 3, calls)
}

func TestRetryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, Policy{Retries: 5, Interval: time.Second}, func(ctx context.Context) error {
		return ErrNotReached
	})
	assert.Error(t, err)
}

func TestRetryInvalidPolicy(t *testing.T) {
	err := Retry(context.Background(), Policy{Retries: 1}, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestLevelChecks(t *testing.T) {
	ctx := context.Background()
	clients := fakeClients(t, 2)

	assert.NoError(t, Level(ctx, fast, clients, 3))
	assert.ErrorIs(t, Level(ctx, fast, clients, 4), ErrNotReached)
	assert.NoError(t, LevelAtLeast(ctx, fast, clients, 2))
	assert.ErrorIs(t, LevelAtLeast(ctx, fast, clients, 5), ErrNotReached)
	assert.NoError(t, Synchronized(ctx, fast, clients, 0))
	assert.NoError(t, Synchronized(ctx, fast, nil, 0))
}

func TestProtocol(t *testing.T) {
	ctx := context.Background()
	clients := fakeClients(t, 1)

	assert.NoError(t, Protocol(ctx, fast, clients, "ProtoALpha"))
	assert.ErrorIs(t, Protocol(ctx, fast, clients, "ProtoBeta"), ErrNotReached)
}

func TestLogsMatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "node0_0.txt")
	b := filepath.Join(dir, "baker-alpha_0_#1.txt")
	require.NoError(t, os.WriteFile(a, []byte("starting\nfatal error: disk\nok\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("Injected block\nfatal error: key\n"), 0644))

	matches, err := LogsMatch([]string{a, b}, `fatal error`)
	require.NoError(t, err)
	assert.Equal(t, []LogMatch{
		{File: a, Line: 2, Text: "fatal error: disk"},
		{File: b, Line: 2, Text: "fatal error: key"},
	}, matches)

	matches, err = LogsMatch([]string{a}, `double baking`)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = LogsMatch([]string{a}, `(`)
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
	_, err = LogsMatch([]string{filepath.Join(dir, "missing")}, `x`)
	assert.Error(t, err)
}
