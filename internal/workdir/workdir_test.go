package workdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndDelete(t *testing.T) {
	reg := New(t.TempDir())

	dir, err := reg.Create("octez-node.")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "octez-node."))
	assert.DirExists(t, dir)
	assert.True(t, reg.Owns(dir))

	require.NoError(t, reg.Delete(dir))
	assert.NoDirExists(t, dir)
	assert.False(t, reg.Owns(dir))

	// second delete is a no-op
	require.NoError(t, reg.Delete(dir))
}

func TestDeleteNotOwned(t *testing.T) {
	reg := New(t.TempDir())
	foreign := t.TempDir()

	require.NoError(t, reg.Delete(foreign))
	assert.DirExists(t, foreign)
}

func TestCreateMakesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	reg := New(root)

	dir, err := reg.Create("x.")
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(dir))
}

func TestDeleteAll(t *testing.T) {
	reg := New(t.TempDir())
	var dirs []string
	for i := 0; i < 3; i++ {
		dir, err := reg.Create("client.")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0644))
		dirs = append(dirs, dir)
	}
	assert.Len(t, reg.List(), 3)

	require.NoError(t, reg.DeleteAll())
	for _, d := range dirs {
		assert.NoDirExists(t, d)
	}
	assert.Empty(t, reg.List())
}
