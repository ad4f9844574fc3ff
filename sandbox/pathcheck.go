// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/burrow/service"
)

// PathEscapeError reports a mount source that, after symlink and dot
// normalization, lies outside every allowed root. This is treated as a
// configuration-driven escape attempt rather than an ordinary bad
// path.
type PathEscapeError struct {
	Path     string       // the configured source
	Resolved string       // after normalization
	Origin   service.Kind // contributing service
}

func (e *PathEscapeError) Error() string {
	if e.Resolved != e.Path {
		return fmt.Sprintf("service %q: path %q resolves to %q outside the allowed roots", e.Origin, e.Path, e.Resolved)
	}
	return fmt.Sprintf("service %q: path %q is outside the allowed roots", e.Origin, e.Path)
}

// allowedRoots is the set of host trees a bind source may live under:
// the instance home, the read-only system trees, device and display
// paths, the user runtime directory, and the host home directory that
// filesystem grants are expressed against.
func allowedRoots(instanceHome string, env service.RuntimeEnv) []string {
	roots := []string{
		instanceHome,
		"/usr", "/etc", "/opt", "/sys", "/dev",
		"/tmp/.X11-unix",
	}
	if env.RuntimeDir != "" {
		roots = append(roots, env.RuntimeDir)
	}
	if env.HostHome != "" {
		roots = append(roots, env.HostHome)
	}
	// Roots are normalized too, so a symlinked home directory (as on
	// ostree systems) still prefix-matches its resolved sources.
	for i, root := range roots {
		roots[i] = normalizePath(root)
	}
	return roots
}

// normalizePath resolves symlinks and dot components. A nonexistent
// path is resolved through its deepest existing ancestor so a symlink
// in the middle of the path cannot smuggle the tail elsewhere.
func normalizePath(path string) string {
	clean := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		return resolved
	}
	dir := clean
	var tail string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return clean
		}
		tail = filepath.Join(filepath.Base(dir), tail)
		dir = parent
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, tail)
		}
	}
}

// checkMountSource validates one bind source against the allowed
// roots, returning the normalized path to mount.
func checkMountSource(source string, roots []string, origin service.Kind) (string, error) {
	resolved := normalizePath(source)
	for _, root := range roots {
		if resolved == root || strings.HasPrefix(resolved, root+"/") {
			return resolved, nil
		}
	}
	return "", &PathEscapeError{Path: source, Resolved: resolved, Origin: origin}
}
