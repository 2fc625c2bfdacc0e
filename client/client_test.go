package client

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/p-arndt/chainsandbox/internal/testutil"
	"github.com/p-arndt/chainsandbox/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, mutate ...func(*Options)) *Client {
	t.Helper()
	bin := t.TempDir()
	opts := Options{
		Executable:      testutil.WriteScript(t, bin, "octez-client", testutil.FakeClientScript),
		AdminExecutable: testutil.WriteScript(t, bin, "octez-admin-client", testutil.FakeClientScript),
		RPCPort:         18731,
		BaseDir:         t.TempDir(),
		Logger:          testLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func invocations(t *testing.T, c *Client) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(c.BaseDir(), "invocations.log"))
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestNewValidation(t *testing.T) {
	bin := t.TempDir()
	exe := testutil.WriteScript(t, bin, "octez-client", testutil.FakeClientScript)

	_, err := New(Options{Executable: filepath.Join(bin, "missing")})
	assert.ErrorIs(t, err, process.ErrInvalidArgument)

	_, err = New(Options{Executable: exe, AdminExecutable: filepath.Join(bin, "missing")})
	assert.ErrorIs(t, err, process.ErrInvalidArgument)

	_, err = New(Options{Executable: exe, BaseDir: filepath.Join(bin, "nope")})
	assert.ErrorIs(t, err, process.ErrInvalidArgument)

	_, err = New(Options{Executable: exe, Mode: "proxy", BaseDir: t.TempDir()})
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestConnectionArguments(t *testing.T) {
	ctx := context.Background()

	c := newTestClient(t)
	_, err := c.Run(ctx, "bootstrapped")
	require.NoError(t, err)

	tlsClient := newTestClient(t, func(o *Options) { o.TLS = true })
	_, err = tlsClient.Run(ctx, "bootstrapped")
	require.NoError(t, err)

	mockup := newTestClient(t, func(o *Options) { o.Mode = ModeMockup })
	_, err = mockup.Run(ctx, "bootstrapped")
	require.NoError(t, err)

	assert.Equal(t, []string{"-base-dir " + c.BaseDir() + " -addr 127.0.0.1 -port 18731 bootstrapped"}, invocations(t, c))
	assert.Equal(t, []string{"-base-dir " + tlsClient.BaseDir() + " -addr 127.0.0.1 -port 18731 -S bootstrapped"}, invocations(t, tlsClient))
	assert.Equal(t, []string{"-base-dir " + mockup.BaseDir() + " --mode mockup bootstrapped"}, invocations(t, mockup))
}

func TestTraceFlag(t *testing.T) {
	c := newTestClient(t)
	res := c.Exec(context.Background(), RunOptions{Trace: true}, "bootstrapped")
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"-base-dir " + c.BaseDir() + " -addr 127.0.0.1 -port 18731 -l bootstrapped"}, invocations(t, c))
}

func TestDisclaimerEnv(t *testing.T) {
	bin := t.TempDir()
	exe := testutil.WriteScript(t, bin, "octez-client", `echo "disclaimer=$TEZOS_CLIENT_UNSAFE_DISABLE_DISCLAIMER"`)

	c, err := New(Options{Executable: exe, BaseDir: t.TempDir(), RPCPort: 1, Logger: testLogger()})
	require.NoError(t, err)
	out, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "disclaimer=Y\n", out)

	c, err = New(Options{Executable: exe, BaseDir: t.TempDir(), RPCPort: 1, KeepDisclaimer: true, Logger: testLogger()})
	require.NoError(t, err)
	out, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, out, "disclaimer=Y")
}

func TestRunFailure(t *testing.T) {
	c := newTestClient(t)
	out, err := c.Run(context.Background(), "frobnicate")
	assert.Empty(t, out)

	var cmdErr *process.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.ErrorIs(t, err, process.ErrCommandFailed)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Stderr, "Unrecognized command")
	assert.NoError(t, process.MatchFailure(err, "Unrecognized command"))
}

func TestAdminWithoutExecutable(t *testing.T) {
	c := newTestClient(t, func(o *Options) { o.AdminExecutable = "" })
	_, err := c.Admin(context.Background(), "p2p", "stat")
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestOwnedBaseDirCleanup(t *testing.T) {
	c := newTestClient(t, func(o *Options) { o.BaseDir = "" })
	dir := c.BaseDir()
	require.DirExists(t, dir)
	assert.True(t, strings.HasPrefix(filepath.Base(dir), tempDirPrefix))

	require.NoError(t, c.Cleanup())
	assert.NoDirExists(t, dir)
	require.NoError(t, c.Cleanup())

	given := t.TempDir()
	c = newTestClient(t, func(o *Options) { o.BaseDir = given })
	require.NoError(t, c.Cleanup())
	assert.DirExists(t, given)
}

func TestOperations(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	op, err := c.Transfer(ctx, 10.5, "bootstrap1", "bootstrap2", "--burn-cap", "1")
	require.NoError(t, err)
	assert.Equal(t, &OperationResult{OperationHash: "ooTransfer1", Branch: "BLbranch1"}, op)

	_, err = c.SetDelegate(ctx, "alice", "bootstrap2")
	require.NoError(t, err)

	delegate, err := c.GetDelegate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "tz1Delegate", delegate)

	orig, err := c.Originate(ctx, "counter", 1000, "bootstrap1", "counter.tz", "--burn-cap", "10")
	require.NoError(t, err)
	assert.Equal(t, &OriginationResult{Contract: "KT1FakeContract", OperationHash: "opOrig1"}, orig)

	call, err := c.Call(ctx, "bootstrap1", "counter", "increment", "5")
	require.NoError(t, err)
	assert.Equal(t, "ooTransfer1", call.OperationHash)

	block, err := c.Bake(ctx, "bootstrap1")
	require.NoError(t, err)
	assert.Equal(t, "BLockFake1", block.BlockHash)

	endorsement, err := c.Endorse(ctx, "bootstrap2")
	require.NoError(t, err)
	assert.Equal(t, "onEndorse1", endorsement)

	balance, err := c.GetBalance(ctx, "bootstrap1")
	require.NoError(t, err)
	assert.Equal(t, 1000.5, balance)

	mutez, err := c.GetMutezBalance(ctx, "bootstrap1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000500000), mutez)

	receipt, err := c.GetReceipt(ctx, "ooTransfer1")
	require.NoError(t, err)
	assert.Equal(t, &ReceiptResult{Found: true, BlockHash: "BLincluded1"}, receipt)

	receipt, err = c.GetReceipt(ctx, "onMissing")
	require.NoError(t, err)
	assert.False(t, receipt.Found)

	incl, err := c.WaitForInclusion(ctx, "ooTransfer1", "BLbranch1")
	require.NoError(t, err)
	assert.Equal(t, "BLincluded1", incl.BlockHash)

	hash, err := c.Hash(ctx, "1", "int")
	require.NoError(t, err)
	assert.Equal(t, "exprFake", hash.Hash)
	packed, err := c.Pack(ctx, "1", "int")
	require.NoError(t, err)
	assert.Equal(t, "0x050001", packed)

	sig, err := c.Sign(ctx, "0x050001", "bootstrap1")
	require.NoError(t, err)
	assert.Equal(t, "edsigFake", sig)

	proposal, err := c.SubmitProposals(ctx, "bootstrap1", "ProtoALpha")
	require.NoError(t, err)
	assert.Equal(t, "opProposal1", proposal)

	protos, err := c.ListProtocols(ctx)
	require.NoError(t, err)
	assert.Len(t, protos, 2)

	require.NoError(t, c.ConfigUpdate(ctx))

	log := invocations(t, c)
	assert.Contains(t, log[0], "transfer 10.5 from bootstrap1 to bootstrap2 --burn-cap 1")
	assert.Contains(t, log[4], "transfer 0 from bootstrap1 to counter --entrypoint increment --arg 5")
	assert.Contains(t, log[11], "wait for ooTransfer1 to be included --check-previous 2 --branch BLbranch1")
	assert.Contains(t, log[len(log)-1], "-w none config update")
}

func TestScriptOperations(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	contract := filepath.Join(t.TempDir(), "id.tz")
	require.NoError(t, os.WriteFile(contract, []byte("parameter int;"), 0644))

	amount := 2.0
	res, err := c.RunScript(ctx, contract, "0", "42", &amount)
	require.NoError(t, err)
	assert.Equal(t, "42", res.Storage)
	assert.Contains(t, invocations(t, c)[0], "and input 42 -z 2")

	out, err := c.Typecheck(ctx, contract)
	require.NoError(t, err)
	assert.Contains(t, out, "Well typed")

	_, err = c.Typecheck(ctx, filepath.Join(t.TempDir(), "missing.tz"))
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestActivateProtocol(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	ts := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

	block, err := c.ActivateProtocolJSON(ctx, "ProtoALpha", map[string]any{"preserved_cycles": 2}, ActivateOptions{Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, "BMactivation", block.BlockHash)

	line := invocations(t, c)[0]
	assert.Contains(t, line, "-block genesis activate protocol ProtoALpha with fitness 1 and key activator and parameters ")
	assert.Contains(t, line, "--timestamp 2021-03-04T05:06:07Z")

	entries, err := os.ReadDir(c.BaseDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "parameters-"), "parameter file left behind")
	}

	_, err = c.ActivateProtocol(ctx, "ProtoALpha", "/nonexistent.json", ActivateOptions{})
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestRPC(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	level, err := c.GetLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, level)

	proto, err := c.GetProtocol(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ProtoALpha", proto)

	head, err := c.GetHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BLhead", head["hash"])

	empty, err := c.MempoolIsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	var answer struct {
		Accepted bool `json:"accepted"`
	}
	require.NoError(t, c.RPC(ctx, "POST", "/injection/operation", map[string]string{"data": "00"}, &answer))
	assert.True(t, answer.Accepted)
	assert.Contains(t, invocations(t, c)[4], `rpc post /injection/operation with {"data":"00"}`)

	require.NoError(t, c.BanPeer(ctx, 19731))
	assert.Contains(t, invocations(t, c)[5], "rpc get /network/points/127.0.0.1:19731/ban")

	err = c.RPC(ctx, "get", "/not-json", nil, nil)
	var outErr *OutputError
	require.ErrorAs(t, err, &outErr)
	assert.ErrorIs(t, err, ErrInvalidOutput)
	assert.Equal(t, "not json\n", outErr.Output)

	err = c.RPC(ctx, "trace", "/chains", nil, nil)
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestImportEncryptedSecretKey(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	out, err := c.ImportEncryptedSecretKey(ctx, "alice", "encrypted:edesk1", "hunter2")
	require.NoError(t, err)
	assert.Contains(t, out, "Enter password for encrypted key")
	assert.Contains(t, out, "Tezos address added: tz1alice")
	assert.NotContains(t, out, "\r")

	_, err = c.ImportEncryptedSecretKey(ctx, "bob", "encrypted:edesk2", "wrong")
	require.Error(t, err)
	assert.NoError(t, process.MatchFailure(err, "invalid password"))
}

func TestCapture(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	capture := NewCapture(&buf, Scrub(`BL\w+`, "[BLOCK_HASH]"))
	c := newTestClient(t, func(o *Options) { o.Capture = capture })

	_, err := c.Bake(ctx, "bootstrap1")
	require.NoError(t, err)
	_, err = c.Run(ctx, "frobnicate")
	require.Error(t, err)

	c.SetCapture(nil)
	_, err = c.Run(ctx, "bootstrapped")
	require.NoError(t, err)

	got := buf.String()
	assert.Contains(t, got, "# bake for bootstrap1\nInjected block [BLOCK_HASH] for bootstrap1\n\n")
	assert.Contains(t, got, "# frobnicate\n# exit code 1\nError:\n  Unrecognized command.")
	assert.NotContains(t, got, c.BaseDir())
	assert.NotContains(t, got, "bootstrapped")
}

func TestCaptureStripsTerminalNoise(t *testing.T) {
	var buf bytes.Buffer
	capture := NewCapture(&buf)
	capture.Record([]string{"show", "voting", "period"}, &process.Result{Stdout: "\x1b[1mCurrent period\x1b[0m\r\n"})
	assert.Equal(t, "# show voting period\nCurrent period\n\n", buf.String())
}
