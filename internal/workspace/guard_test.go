package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Contained(t *testing.T) {
	root := t.TempDir()
	g, err := NewGuard(root)
	require.NoError(t, err)

	resolved, err := g.Resolve("notes/todo.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(g.Root(), "notes", "todo.md"), resolved)
}

func TestResolve_RejectsNulByte(t *testing.T) {
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)

	_, err = g.Resolve("foo\x00bar")
	assert.ErrorIs(t, err, ErrWorkspacePath)
}

func TestResolve_RejectsAbsolute(t *testing.T) {
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)

	_, err = g.Resolve("/etc/passwd")
	assert.ErrorIs(t, err, ErrWorkspacePath)
}

func TestResolve_RejectsTraversal(t *testing.T) {
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)

	_, err = g.Resolve("../outside")
	assert.ErrorIs(t, err, ErrWorkspacePath)

	_, err = g.Resolve("a/../../outside")
	assert.ErrorIs(t, err, ErrWorkspacePath)
}

func TestResolve_DefeatsSymlinkedAncestor(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "root")
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))

	// root/escape -> ../outside
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	g, err := NewGuard(root)
	require.NoError(t, err)

	_, err = g.Resolve("escape/secret.txt")
	assert.ErrorIs(t, err, ErrWorkspacePath)
}

func TestResolve_NonStrictFinalComponent(t *testing.T) {
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)

	// The final component need not exist.
	_, err = g.Resolve("does/not/exist/yet.txt")
	assert.NoError(t, err)
}
