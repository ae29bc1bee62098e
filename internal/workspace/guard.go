// Package workspace enforces filesystem containment for tool handlers that
// read or write inside a configured root directory.
package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrWorkspacePath is the sentinel kind for every containment failure. It is
// never converted into a missing-file error: callers that need to
// distinguish "outside the workspace" from "file does not exist" must check
// for this before attempting the operation.
var ErrWorkspacePath = errors.New("workspace path")

// PathError wraps ErrWorkspacePath with the offending path and a reason.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("workspace path %q: %s", e.Path, e.Reason)
}

func (e *PathError) Unwrap() error { return ErrWorkspacePath }

func pathErr(path, reason string) error {
	return &PathError{Path: path, Reason: reason}
}

// Guard resolves user-supplied paths against a root directory, rejecting
// anything that would escape it.
type Guard struct {
	root string
}

// NewGuard builds a Guard rooted at root. root is made absolute immediately;
// it need not exist yet.
func NewGuard(root string) (*Guard, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	return &Guard{root: filepath.Clean(abs)}, nil
}

// Root returns the guard's resolved root directory.
func (g *Guard) Root() string { return g.root }

// Resolve produces the absolute path for a user-supplied candidate if and
// only if it is contained within the guard's root. Resolution is
// non-strict: the final path component need not exist. Rules, applied in
// order, mirror the containment invariant exactly:
//
//  1. reject any candidate containing a NUL byte
//  2. reject absolute paths and paths carrying a drive/volume prefix
//  3. join to root and clean (lexically, not touching the filesystem)
//  4. reject if the cleaned path is not a descendant of root
//  5. re-resolve every existing ancestor of the candidate up to root,
//     following symlinks, and re-check containment at each step — this
//     defeats a symlinked intermediate directory that would otherwise
//     walk the final path outside the root after the lexical check above
//     already passed.
func (g *Guard) Resolve(candidate string) (string, error) {
	if strings.ContainsRune(candidate, 0) {
		return "", pathErr(candidate, "contains a NUL byte")
	}
	if filepath.IsAbs(candidate) || hasVolumePrefix(candidate) {
		return "", pathErr(candidate, "absolute paths are not allowed")
	}

	joined := filepath.Join(g.root, candidate)
	cleaned := filepath.Clean(joined)

	if !isDescendant(g.root, cleaned) {
		return "", pathErr(candidate, "escapes the workspace root")
	}

	if err := g.checkAncestorSymlinks(candidate, cleaned); err != nil {
		return "", err
	}

	return cleaned, nil
}

// checkAncestorSymlinks walks every existing ancestor directory of resolved,
// from the root downward, resolving symlinks at each step and re-checking
// containment. A symlinked intermediate directory that points outside the
// root is rejected even though the lexical join above already passed.
func (g *Guard) checkAncestorSymlinks(candidate, resolved string) error {
	rel, err := filepath.Rel(g.root, resolved)
	if err != nil {
		return pathErr(candidate, "escapes the workspace root")
	}
	if rel == "." {
		return nil
	}

	parts := strings.Split(rel, string(filepath.Separator))
	walked := g.root
	for _, part := range parts {
		next := filepath.Join(walked, part)
		real, err := filepath.EvalSymlinks(next)
		if err != nil {
			// Ancestor doesn't exist yet (expected for the final
			// component of a write target); nothing further to
			// check once we stop finding real entries.
			return nil
		}
		if !isDescendant(g.root, real) {
			return pathErr(candidate, "escapes the workspace root via a symlink")
		}
		walked = next
	}
	return nil
}

func isDescendant(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// hasVolumePrefix reports whether p carries a Windows-style drive or UNC
// volume prefix (e.g. "C:\" or "\\host\share"), which filepath.IsAbs does
// not catch on non-Windows build targets.
func hasVolumePrefix(p string) bool {
	return filepath.VolumeName(p) != "" || strings.HasPrefix(p, `\\`)
}
