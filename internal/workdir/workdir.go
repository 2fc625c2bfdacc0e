package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Registry tracks the temporary directories a sandbox created so that
// only those are ever deleted.
type Registry struct {
	root string

	mu    sync.Mutex
	owned map[string]struct{}
}

// New returns a registry creating directories under root, or under the
// system temp dir when root is empty.
func New(root string) *Registry {
	return &Registry{root: root, owned: make(map[string]struct{})}
}

func (r *Registry) Root() string { return r.root }

// Create makes a new uniquely named directory with the given prefix.
func (r *Registry) Create(prefix string) (string, error) {
	if r.root != "" {
		if err := os.MkdirAll(r.root, 0755); err != nil {
			return "", fmt.Errorf("creating root %s: %w", r.root, err)
		}
	}
	dir, err := os.MkdirTemp(r.root, prefix)
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	dir = filepath.Clean(dir)

	r.mu.Lock()
	r.owned[dir] = struct{}{}
	r.mu.Unlock()
	return dir, nil
}

// Owns reports whether dir was created by this registry and not yet deleted.
func (r *Registry) Owns(dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owned[filepath.Clean(dir)]
	return ok
}

// List returns the owned directories in lexical order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	dirs := make([]string, 0, len(r.owned))
	for d := range r.owned {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// Delete removes dir if the registry owns it. Deleting a directory that
// is not owned, or already deleted, is a no-op.
func (r *Registry) Delete(dir string) error {
	dir = filepath.Clean(dir)
	r.mu.Lock()
	_, ok := r.owned[dir]
	delete(r.owned, dir)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	return nil
}

// DeleteAll removes every owned directory, attempting all of them.
func (r *Registry) DeleteAll() error {
	var result *multierror.Error
	for _, dir := range r.List() {
		if err := r.Delete(dir); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
