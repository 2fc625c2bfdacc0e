package client

import (
	"context"

	"github.com/p-arndt/chainsandbox/process"
)

// RunInteractive runs the client on a pseudo-terminal and answers its
// prompts with input, one line each.
func (c *Client) RunInteractive(ctx context.Context, input []string, params ...string) (string, error) {
	cmd, err := c.command(RunOptions{}, params)
	if err != nil {
		return "", err
	}
	res := process.RunTerminal(ctx, cmd, input, c.logger)
	if capture := c.currentCapture(); capture != nil {
		capture.Record(params, res)
	}
	return res.Stdout, res.Err()
}

// ImportEncryptedSecretKey imports an encrypted secret key, answering the
// password prompt.
func (c *Client) ImportEncryptedSecretKey(ctx context.Context, name, secret, password string) (string, error) {
	return c.RunInteractive(ctx, []string{password}, "import", "encrypted", "secret", "key", name, secret)
}
