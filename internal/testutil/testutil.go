package testutil

import (
	"path/filepath"
	"testing"

	"github.com/p-arndt/chainsandbox/config"
	"github.com/p-arndt/chainsandbox/internal/store"
)

// Test identities imported into every sandbox client.
var TestIdentities = map[string]config.Identity{
	"bootstrap1": {
		Identity: "tz1KqTpEZ7Yob7QbPE4Hy4Wo8fHG8LhKxZSx",
		Public:   "edpkuBknW28nW72KG6RoHtYW7p12T6GKc7nAbwYX5m8Wd9sDVC9yav",
		Secret:   "unencrypted:edsk3gUfUPyBSfrS9CCgmCiQsTCHGkviBDusMxDJstFtojtc1zcpsh",
	},
	"bootstrap2": {
		Identity: "tz1gjaF81ZRRvdzjobyfVNsAeSC6PScjfQwN",
		Public:   "edpktzNbDAUjUk697W7gYg2CRuBQjyPxbEg8dLccYYwKSKvkPvjtV9",
		Secret:   "unencrypted:edsk39qAm1fiMjgmPkw1EgQYkMzkJezLNewd7PLNHTkr6w9XA2zdfo",
	},
}

// TestConfig returns a Config with fast timings pointing at binariesPath,
// typically a directory filled by FakeBinaries.
func TestConfig(t *testing.T, binariesPath string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BinariesPath = binariesPath
	cfg.LogDir = t.TempDir()
	cfg.TmpDir = t.TempDir()
	cfg.NumPeers = 5
	cfg.TermTimeoutSeconds = 5
	cfg.StartupCheckMs = 50
	cfg.Identities = make(map[string]config.Identity, len(TestIdentities))
	for alias, id := range TestIdentities {
		cfg.Identities[alias] = id
	}
	return cfg
}

// NewTestStore creates a file-backed SQLite ledger in a temp dir.
func NewTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	st, err := store.New(path, 0)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, path
}
