// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"os"
	"strconv"
)

// Kind identifies a service variant. The set of kinds is closed: every
// kind is declared in this package, registered in the kinds table, and
// handled explicitly wherever kind-specific behavior exists (merge
// policy here, mount compilation in the sandbox package, syscall
// contribution in the seccomp package).
type Kind string

// Service kinds.
const (
	KindFilesystem   Kind = "filesystem"
	KindNetwork      Kind = "network"
	KindSound        Kind = "sound"
	KindX11          Kind = "x11"
	KindWayland      Kind = "wayland"
	KindDBus         Kind = "dbus"
	KindGPU          Kind = "gpu"
	KindNotification Kind = "notification"
	KindSystray      Kind = "systray"
	KindNamespaces   Kind = "namespaces"
)

// kinds maps a kind name to a factory for its zero-value service.
// Parsing consults this table; an absent name is ErrUnknownService.
var kinds = map[Kind]func() Service{
	KindFilesystem:   func() Service { return &Filesystem{} },
	KindNetwork:      func() Service { return &Network{} },
	KindSound:        func() Service { return &Sound{} },
	KindX11:          func() Service { return &X11{} },
	KindWayland:      func() Service { return &Wayland{} },
	KindDBus:         func() Service { return &DBus{} },
	KindGPU:          func() Service { return &GPU{} },
	KindNotification: func() Service { return &Notification{} },
	KindSystray:      func() Service { return &Systray{} },
	KindNamespaces:   func() Service { return &Namespaces{} },
}

// Service is one declarative unit of sandbox capability. A service
// contributes namespace requirements, mounts, and environment
// variables to the resolved configuration; its syscall contribution
// lives in the seccomp package's table, keyed by Kind.
//
// The merge method is unexported so the variant set stays closed to
// this package.
type Service interface {
	// Kind returns the service's variant tag.
	Kind() Kind

	// Validate checks option values. Called at load time, never at
	// compile time: a misconfigured service must fail before any
	// launch plan is built.
	Validate() error

	// Namespaces returns the service's namespace requirements.
	Namespaces() NamespaceSet

	// Mounts returns the mount entries the service contributes, in
	// the order they must be passed to the containment primitive.
	Mounts(env RuntimeEnv) []Mount

	// Environ returns environment variables the service sets inside
	// the sandbox.
	Environ(env RuntimeEnv) map[string]string

	// merge applies an override of the same kind. List-valued options
	// concatenate and de-duplicate; scalar options are replaced by
	// the override value.
	merge(override Service) (Service, error)
}

// Namespace names the Linux namespaces the containment primitive can
// unshare.
type Namespace string

// Namespaces, in the fixed order they are compiled to unshare flags.
const (
	NamespaceUser   Namespace = "user"
	NamespacePID    Namespace = "pid"
	NamespaceNet    Namespace = "net"
	NamespaceIPC    Namespace = "ipc"
	NamespaceUTS    Namespace = "uts"
	NamespaceCgroup Namespace = "cgroup"
)

// AllNamespaces is the canonical namespace ordering. Iteration over
// namespace sets always uses this slice so compiled output is
// deterministic.
var AllNamespaces = []Namespace{
	NamespaceUser,
	NamespacePID,
	NamespaceNet,
	NamespaceIPC,
	NamespaceUTS,
	NamespaceCgroup,
}

// NamespacePolicy is a service's requirement for one namespace.
type NamespacePolicy int8

const (
	// NamespaceDefault means the service has no requirement; the
	// baseline (unshare everything) applies.
	NamespaceDefault NamespacePolicy = iota

	// NamespaceShare requires the namespace to be shared with the
	// host (the unshare flag is suppressed).
	NamespaceShare

	// NamespaceIsolate requires the namespace to be unshared. A
	// service declaring this conflicts with any service declaring
	// NamespaceShare for the same namespace.
	NamespaceIsolate
)

// NamespaceSet maps namespaces to policies. A nil set means all
// defaults.
type NamespaceSet map[Namespace]NamespacePolicy

// Mount is one filesystem directive for the containment primitive.
// Source and Dest are absolute paths; Source is empty for tmpfs.
type Mount struct {
	Source   string
	Dest     string
	Mode     string // MountModeRO or MountModeRW (bind mounts only)
	Type     string // MountTypeBind, MountTypeDevBind, MountTypeTmpfs
	Optional bool   // skip silently when the source does not exist
	Origin   Kind   // contributing service, for diagnostics
}

// Mount types.
const (
	MountTypeBind    = ""         // default: bind mount
	MountTypeDevBind = "dev-bind" // device node bind
	MountTypeTmpfs   = "tmpfs"    // tmpfs mount
)

// Mount modes.
const (
	MountModeRO = "ro"
	MountModeRW = "rw"
)

// SandboxHome is where the instance home directory appears inside the
// sandbox. Host paths under the user's home directory are remapped
// below this root.
const SandboxHome = "/home/user"

// RuntimeEnv carries the host-side values services need to locate
// their resources: display sockets, the user runtime directory, the
// real home directory for ~ expansion.
type RuntimeEnv struct {
	UID            int
	HostHome       string // host $HOME, for expanding ~/ paths
	RuntimeDir     string // host XDG_RUNTIME_DIR
	Display        string // host $DISPLAY
	WaylandDisplay string // host $WAYLAND_DISPLAY
	XAuthority     string // host $XAUTHORITY
}

// CurrentRuntimeEnv reads the runtime environment from the calling
// process's environment. Missing values get the conventional defaults.
func CurrentRuntimeEnv() RuntimeEnv {
	env := RuntimeEnv{
		UID:            os.Getuid(),
		HostHome:       os.Getenv("HOME"),
		RuntimeDir:     os.Getenv("XDG_RUNTIME_DIR"),
		Display:        os.Getenv("DISPLAY"),
		WaylandDisplay: os.Getenv("WAYLAND_DISPLAY"),
		XAuthority:     os.Getenv("XAUTHORITY"),
	}
	if env.RuntimeDir == "" {
		env.RuntimeDir = "/run/user/" + strconv.Itoa(env.UID)
	}
	if env.Display == "" {
		env.Display = ":0"
	}
	if env.WaylandDisplay == "" {
		env.WaylandDisplay = "wayland-0"
	}
	return env
}

// expandHome expands a leading "~/" against the host home directory.
// Other paths are returned unchanged.
func expandHome(path string, env RuntimeEnv) string {
	if len(path) >= 2 && path[0] == '~' && path[1] == '/' {
		return env.HostHome + path[1:]
	}
	return path
}

// sandboxDest maps a host path to its destination inside the sandbox.
// Paths under the host home directory move below SandboxHome; all
// other paths keep their host location.
func sandboxDest(hostPath string, env RuntimeEnv) string {
	if env.HostHome != "" && len(hostPath) > len(env.HostHome) &&
		hostPath[:len(env.HostHome)] == env.HostHome &&
		hostPath[len(env.HostHome)] == '/' {
		return SandboxHome + hostPath[len(env.HostHome):]
	}
	return hostPath
}

// mergeStringLists concatenates base and override, dropping duplicates
// while preserving first-occurrence order.
func mergeStringLists(base, override []string) []string {
	seen := make(map[string]bool, len(base)+len(override))
	merged := make([]string, 0, len(base)+len(override))
	for _, v := range base {
		if !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	for _, v := range override {
		if !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	return merged
}

// mergeKindMismatch is the shared guard for merge implementations.
func mergeKindMismatch(base, override Service) error {
	if base.Kind() != override.Kind() {
		return fmt.Errorf("cannot merge %s override into %s service", override.Kind(), base.Kind())
	}
	return nil
}
