package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/p-arndt/chainsandbox/process"
)

const httpTimeout = 30 * time.Second

// RPCError is a non-2xx answer from the node RPC server.
type RPCError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RPCError) Error() string {
	body := strings.TrimSpace(e.Body)
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[:i]
	}
	return fmt.Sprintf("%s %s: status %d: %s", strings.ToUpper(e.Method), e.Path, e.StatusCode, body)
}

func (e *RPCError) Unwrap() error {
	return process.ErrCommandFailed
}

func (c *Client) httpClient() (*resty.Client, error) {
	if c.mode == ModeMockup {
		return nil, fmt.Errorf("%w: no rpc endpoint in mockup mode", process.ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http == nil {
		scheme := "http"
		if c.tls {
			scheme = "https"
		}
		c.http = resty.New().
			SetBaseURL(scheme+"://"+c.host+":"+strconv.Itoa(c.rpcPort)).
			SetTimeout(httpTimeout).
			SetHeader("Content-Type", "application/json")
		if c.tls {
			// Sandbox nodes serve self-signed certificates.
			c.http.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
		}
	}
	return c.http, nil
}

// HTTPRPC calls the node RPC server directly instead of going through
// the client executable. data is sent as JSON when non-nil and the answer
// is decoded into out when out is non-nil.
func (c *Client) HTTPRPC(ctx context.Context, method, path string, data any, out any) error {
	hc, err := c.httpClient()
	if err != nil {
		return err
	}
	req := hc.R().SetContext(ctx)
	if data != nil {
		req.SetBody(data)
	}
	c.logger.Debug("http rpc", "method", method, "path", path)
	resp, err := req.Execute(strings.ToUpper(method), path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToUpper(method), path, err)
	}
	if resp.IsError() {
		return &RPCError{Method: method, Path: path, StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &OutputError{Expected: fmt.Sprintf("json matching %T", out), Output: string(resp.Body())}
	}
	return nil
}
