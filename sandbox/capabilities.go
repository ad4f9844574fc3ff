// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Capabilities describes what sandboxing features this host supports.
type Capabilities struct {
	// BwrapAvailable is true if bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the path to bwrap if available.
	BwrapPath string

	// BwrapVersion is the bwrap version string.
	BwrapVersion string

	// UserNamespacesEnabled is true if unprivileged user namespaces
	// work.
	UserNamespacesEnabled bool

	// HelperAvailable is true if the in-sandbox helper binary was
	// found.
	HelperAvailable bool

	// HelperPath is the path to the helper if available.
	HelperPath string
}

// DetectCapabilities probes the host.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}

	if path, err := LocateBwrap(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
	}

	caps.UserNamespacesEnabled = checkUserNamespaces(caps.BwrapPath)

	if path, err := LocateHelper(); err == nil {
		caps.HelperAvailable = true
		caps.HelperPath = path
	}

	return caps
}

// CanRun returns true if sandbox launches are possible at all.
func (c *Capabilities) CanRun() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled && c.HelperAvailable
}

// SkipReason returns why sandboxing is unavailable, or "" if it is.
func (c *Capabilities) SkipReason() string {
	switch {
	case !c.BwrapAvailable:
		return "bubblewrap not installed"
	case !c.UserNamespacesEnabled:
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	case !c.HelperAvailable:
		return "burrow-helper binary not found"
	}
	return ""
}

// LocateBwrap finds the bubblewrap executable.
func LocateBwrap() (string, error) {
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if path, err := exec.LookPath("bwrap"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("bwrap not found")
}

// LocateHelper finds the helper binary, preferring one installed next
// to the running executable so a development build uses its own
// helper.
func LocateHelper() (string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "burrow-helper")
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	if path, err := exec.LookPath("burrow-helper"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("burrow-helper not found")
}

// checkUserNamespaces tests whether unprivileged user namespaces work
// by actually creating one with bwrap.
func checkUserNamespaces(bwrapPath string) bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	// The sysctl missing usually means namespaces are allowed;
	// confirm with a real creation.
	if bwrapPath == "" {
		return false
	}
	cmd := exec.Command(bwrapPath, "--unshare-user", "--ro-bind", "/", "/", "--", "true")
	return cmd.Run() == nil
}
