// Package sandboxtest scopes a sandbox to a test.
package sandboxtest

import (
	"context"
	"testing"

	"github.com/p-arndt/chainsandbox/config"
	"github.com/p-arndt/chainsandbox/sandbox"
)

// New creates a sandbox that is closed when t finishes, whether the test
// passed, failed or panicked. Nodes or daemons found dead at that point
// are reported as test errors before teardown.
func New(t testing.TB, cfg *config.Config, opts ...sandbox.Option) *sandbox.Sandbox {
	t.Helper()
	s, err := sandbox.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("creating sandbox: %v", err)
	}
	t.Cleanup(func() { closeAndReport(t, s) })
	return s
}

// NewMultiBranch is New for a sandbox with per-node binaries branches.
func NewMultiBranch(t testing.TB, cfg *config.Config, branches map[int]sandbox.Branch, opts ...sandbox.Option) *sandbox.Sandbox {
	t.Helper()
	s, err := sandbox.NewMultiBranch(context.Background(), cfg, branches, opts...)
	if err != nil {
		t.Fatalf("creating sandbox: %v", err)
	}
	t.Cleanup(func() { closeAndReport(t, s) })
	return s
}

func closeAndReport(t testing.TB, s *sandbox.Sandbox) {
	for _, f := range s.Failures() {
		t.Errorf("sandbox: %s", f)
	}
	if err := s.Close(); err != nil {
		t.Errorf("closing sandbox: %v", err)
	}
}
