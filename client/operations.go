package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/p-arndt/chainsandbox/process"
)

// RPC calls "rpc <method> <path> [with <json>]" through the client and
// decodes the JSON answer into out when out is non-nil.
func (c *Client) RPC(ctx context.Context, method, path string, data any, out any, params ...string) error {
	method = strings.ToLower(method)
	switch method {
	case "get", "post", "put", "patch", "delete":
	default:
		return fmt.Errorf("%w: rpc method %q", process.ErrInvalidArgument, method)
	}
	args := append(append([]string(nil), params...), "rpc", method, path)
	if data != nil {
		body, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("%w: encoding rpc body: %v", process.ErrInvalidArgument, err)
		}
		args = append(args, "with", string(body))
	}
	stdout, err := c.Run(ctx, args...)
	if err != nil {
		return err
	}
	return decodeRPC(stdout, out)
}

func decodeRPC(stdout string, out any) error {
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return &OutputError{Expected: "json", Output: stdout}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &OutputError{Expected: fmt.Sprintf("json matching %T", out), Output: stdout}
	}
	return nil
}

func (c *Client) Typecheck(ctx context.Context, contract string) (string, error) {
	if err := process.CheckFile(contract); err != nil {
		return "", err
	}
	return c.Run(ctx, "typecheck", "script", contract)
}

// RunScript runs contract on storage and input. A nil amount omits -z.
func (c *Client) RunScript(ctx context.Context, contract, storage, input string, amount *float64) (*RunScriptResult, error) {
	if err := process.CheckFile(contract); err != nil {
		return nil, err
	}
	args := []string{"run", "script", contract, "on", "storage", storage, "and", "input", input}
	if amount != nil {
		args = append(args, "-z", formatTez(*amount))
	}
	out, err := c.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseRunScript(out)
}

func (c *Client) GenKey(ctx context.Context, alias string, extra ...string) (string, error) {
	return c.Run(ctx, append([]string{"gen", "keys", alias}, extra...)...)
}

func (c *Client) ImportSecretKey(ctx context.Context, name, secret string) (string, error) {
	return c.Run(ctx, "import", "secret", "key", name, secret)
}

// ConfigUpdate writes the connection settings into the base dir without
// waiting for confirmations.
func (c *Client) ConfigUpdate(ctx context.Context) error {
	_, err := c.Run(ctx, "-w", "none", "config", "update")
	return err
}

// ActivateOptions tune protocol activation. Zero values use fitness 1,
// key "activator" and the current time.
type ActivateOptions struct {
	Fitness   string
	Key       string
	Timestamp time.Time
}

func (c *Client) ActivateProtocol(ctx context.Context, protocol, parameterFile string, opts ActivateOptions) (*BlockResult, error) {
	if err := process.CheckFile(parameterFile); err != nil {
		return nil, err
	}
	if opts.Fitness == "" {
		opts.Fitness = "1"
	}
	if opts.Key == "" {
		opts.Key = "activator"
	}
	if opts.Timestamp.IsZero() {
		opts.Timestamp = time.Now()
	}
	out, err := c.Run(ctx,
		"-block", "genesis", "activate", "protocol", protocol,
		"with", "fitness", opts.Fitness,
		"and", "key", opts.Key,
		"and", "parameters", parameterFile,
		"--timestamp", opts.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
	)
	if err != nil {
		return nil, err
	}
	return ParseActivation(out)
}

// ActivateProtocolJSON writes parameters to a file in the base dir and
// activates protocol with it.
func (c *Client) ActivateProtocolJSON(ctx context.Context, protocol string, parameters any, opts ActivateOptions) (*BlockResult, error) {
	data, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding parameters: %v", process.ErrInvalidArgument, err)
	}
	f, err := os.CreateTemp(c.baseDir, "parameters-*.json")
	if err != nil {
		return nil, fmt.Errorf("writing parameters: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing parameters: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing parameters: %w", err)
	}
	return c.ActivateProtocol(ctx, protocol, f.Name(), opts)
}

func (c *Client) Bake(ctx context.Context, account string, extra ...string) (*BlockResult, error) {
	out, err := c.Run(ctx, append([]string{"bake", "for", account}, extra...)...)
	if err != nil {
		return nil, err
	}
	return ParseBake(out)
}

func (c *Client) Endorse(ctx context.Context, account string) (string, error) {
	out, err := c.Run(ctx, "endorse", "for", account)
	if err != nil {
		return "", err
	}
	return ParseOperationHash(out)
}

func (c *Client) Originate(ctx context.Context, name string, amount float64, sender, contract string, extra ...string) (*OriginationResult, error) {
	args := []string{"originate", "contract", name, "transferring", formatTez(amount), "from", sender, "running", contract}
	out, err := c.Run(ctx, append(args, extra...)...)
	if err != nil {
		return nil, err
	}
	return ParseOrigination(out)
}

func (c *Client) Transfer(ctx context.Context, amount float64, from, to string, extra ...string) (*OperationResult, error) {
	args := []string{"transfer", formatTez(amount), "from", from, "to", to}
	out, err := c.Run(ctx, append(args, extra...)...)
	if err != nil {
		return nil, err
	}
	return ParseOperation(out)
}

// Call invokes contract entrypoint with arg by a zero-tez transfer.
func (c *Client) Call(ctx context.Context, from, contract, entrypoint, arg string, extra ...string) (*OperationResult, error) {
	args := []string{"--entrypoint", entrypoint, "--arg", arg}
	if entrypoint == "" {
		args = []string{"--arg", arg}
	}
	return c.Transfer(ctx, 0, from, contract, append(args, extra...)...)
}

func (c *Client) SetDelegate(ctx context.Context, account, delegate string, extra ...string) (*OperationResult, error) {
	args := []string{"set", "delegate", "for", account, "to", delegate}
	out, err := c.Run(ctx, append(args, extra...)...)
	if err != nil {
		return nil, err
	}
	return ParseOperation(out)
}

func (c *Client) GetDelegate(ctx context.Context, account string, extra ...string) (string, error) {
	out, err := c.Run(ctx, append([]string{"get", "delegate", "for", account}, extra...)...)
	if err != nil {
		return "", err
	}
	return ParseDelegate(out)
}

func (c *Client) WithdrawDelegate(ctx context.Context, account string, extra ...string) (string, error) {
	return c.Run(ctx, append([]string{"withdraw", "delegate", "from", account}, extra...)...)
}

func (c *Client) Hash(ctx context.Context, data, typ string) (*HashResult, error) {
	out, err := c.Run(ctx, "hash", "data", data, "of", "type", typ)
	if err != nil {
		return nil, err
	}
	return ParseHash(out)
}

// Pack returns the packed bytes of data as a 0x-prefixed hex string.
func (c *Client) Pack(ctx context.Context, data, typ string) (string, error) {
	res, err := c.Hash(ctx, data, typ)
	if err != nil {
		return "", err
	}
	return res.Packed, nil
}

func (c *Client) Sign(ctx context.Context, data, identity string) (string, error) {
	out, err := c.Run(ctx, "sign", "bytes", data, "for", identity)
	if err != nil {
		return "", err
	}
	return ParseSignature(out)
}

// GetBalance returns the balance of account in tez.
func (c *Client) GetBalance(ctx context.Context, account string) (float64, error) {
	out, err := c.Run(ctx, "get", "balance", "for", account)
	if err != nil {
		return 0, err
	}
	return ExtractBalance(out)
}

// GetMutezBalance returns the balance of account in mutez.
func (c *Client) GetMutezBalance(ctx context.Context, account string) (int64, error) {
	tez, err := c.GetBalance(ctx, account)
	if err != nil {
		return 0, err
	}
	return int64(tez*1e6 + 0.5), nil
}

func (c *Client) GetReceipt(ctx context.Context, operation string, extra ...string) (*ReceiptResult, error) {
	out, err := c.Run(ctx, append([]string{"get", "receipt", "for", operation}, extra...)...)
	if err != nil {
		return nil, err
	}
	return ParseReceipt(out)
}

// WaitForInclusion blocks in the client until operation is included.
// An empty branch lets the client pick the head.
func (c *Client) WaitForInclusion(ctx context.Context, operation, branch string, extra ...string) (*BlockResult, error) {
	args := []string{"wait", "for", operation, "to", "be", "included", "--check-previous", "2"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	out, err := c.Run(ctx, append(args, extra...)...)
	if err != nil {
		return nil, err
	}
	return ParseInclusion(out)
}

func (c *Client) GetHead(ctx context.Context) (map[string]any, error) {
	var head map[string]any
	if err := c.RPC(ctx, "get", "/chains/main/blocks/head", nil, &head); err != nil {
		return nil, err
	}
	return head, nil
}

func (c *Client) GetBlock(ctx context.Context, block string) (map[string]any, error) {
	var b map[string]any
	if err := c.RPC(ctx, "get", "/chains/main/blocks/"+block, nil, &b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Client) GetLevel(ctx context.Context, params ...string) (int, error) {
	var header struct {
		Level int `json:"level"`
	}
	if err := c.RPC(ctx, "get", "/chains/main/blocks/head/header/shell", nil, &header, params...); err != nil {
		return 0, err
	}
	return header.Level, nil
}

func (c *Client) GetProtocol(ctx context.Context, params ...string) (string, error) {
	var meta struct {
		Protocol string `json:"protocol"`
	}
	if err := c.RPC(ctx, "get", "/chains/main/blocks/head/metadata", nil, &meta, params...); err != nil {
		return "", err
	}
	return meta.Protocol, nil
}

// Mempool lists pending operations by classification.
type Mempool struct {
	Applied       []json.RawMessage `json:"applied"`
	Refused       []json.RawMessage `json:"refused"`
	BranchRefused []json.RawMessage `json:"branch_refused"`
	BranchDelayed []json.RawMessage `json:"branch_delayed"`
	Unprocessed   []json.RawMessage `json:"unprocessed"`
}

func (m *Mempool) Empty() bool {
	return len(m.Applied) == 0 && len(m.Refused) == 0 && len(m.BranchRefused) == 0 &&
		len(m.BranchDelayed) == 0 && len(m.Unprocessed) == 0
}

func (c *Client) GetMempool(ctx context.Context) (*Mempool, error) {
	var m Mempool
	if err := c.RPC(ctx, "get", "/chains/main/mempool/pending_operations", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) MempoolIsEmpty(ctx context.Context) (bool, error) {
	m, err := c.GetMempool(ctx)
	if err != nil {
		return false, err
	}
	return m.Empty(), nil
}

func (c *Client) Bootstrapped(ctx context.Context) (string, error) {
	return c.Run(ctx, "bootstrapped")
}

func (c *Client) ShowVotingPeriod(ctx context.Context) (string, error) {
	return c.Run(ctx, "show", "voting", "period")
}

func (c *Client) SubmitProposals(ctx context.Context, account string, protos ...string) (string, error) {
	out, err := c.Run(ctx, append([]string{"submit", "proposals", "for", account}, protos...)...)
	if err != nil {
		return "", err
	}
	return ParseOperationHash(out)
}

func (c *Client) SubmitBallot(ctx context.Context, account, proto, vote string) (string, error) {
	return c.Run(ctx, "submit", "ballot", "for", account, proto, vote)
}

func (c *Client) InjectProtocol(ctx context.Context, dir string) (string, error) {
	return c.Admin(ctx, "inject", "protocol", dir)
}

func (c *Client) ListProtocols(ctx context.Context) ([]string, error) {
	out, err := c.Admin(ctx, "list", "protocols")
	if err != nil {
		return nil, err
	}
	return ExtractProtocols(out), nil
}

func (c *Client) P2PStat(ctx context.Context) (string, error) {
	return c.Admin(ctx, "p2p", "stat")
}

func (c *Client) pointRPC(ctx context.Context, port int, action string) error {
	return c.RPC(ctx, "get", "/network/points/127.0.0.1:"+strconv.Itoa(port)+"/"+action, nil, nil)
}

func (c *Client) BanPeer(ctx context.Context, port int) error {
	return c.pointRPC(ctx, port, "ban")
}

func (c *Client) UnbanPeer(ctx context.Context, port int) error {
	return c.pointRPC(ctx, port, "unban")
}

func (c *Client) TrustPeer(ctx context.Context, port int) error {
	return c.pointRPC(ctx, port, "trust")
}

func (c *Client) UntrustPeer(ctx context.Context, port int) error {
	return c.pointRPC(ctx, port, "untrust")
}

func formatTez(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
