// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Filesystem grants access to individual host paths. Paths under the
// host home directory are remapped below SandboxHome; everything else
// keeps its host location. Each list keeps declaration order, and the
// compiled binds are emitted read-write first, then read-only, then
// device binds, so a later read-only entry can shadow part of an
// earlier read-write grant.
type Filesystem struct {
	ReadWrite []string `toml:"read_write,omitempty"`
	ReadOnly  []string `toml:"read_only,omitempty"`
	Devices   []string `toml:"devices,omitempty"`
}

func (f *Filesystem) Kind() Kind { return KindFilesystem }

func (f *Filesystem) Validate() error {
	for _, list := range [][]string{f.ReadWrite, f.ReadOnly, f.Devices} {
		for _, path := range list {
			if !filepath.IsAbs(path) && !strings.HasPrefix(path, "~/") {
				return fmt.Errorf("path %q must be absolute or begin with ~/", path)
			}
			if path == "~/" || path == "/" {
				return fmt.Errorf("path %q grants the entire tree; list specific paths", path)
			}
		}
	}
	return nil
}

func (f *Filesystem) Namespaces() NamespaceSet { return nil }

func (f *Filesystem) Mounts(env RuntimeEnv) []Mount {
	var mounts []Mount
	for _, path := range f.ReadWrite {
		source := expandHome(path, env)
		mounts = append(mounts, Mount{
			Source: source,
			Dest:   sandboxDest(source, env),
			Mode:   MountModeRW,
			Origin: KindFilesystem,
		})
	}
	for _, path := range f.ReadOnly {
		source := expandHome(path, env)
		mounts = append(mounts, Mount{
			Source: source,
			Dest:   sandboxDest(source, env),
			Mode:   MountModeRO,
			Origin: KindFilesystem,
		})
	}
	for _, path := range f.Devices {
		mounts = append(mounts, Mount{
			Source: path,
			Dest:   path,
			Type:   MountTypeDevBind,
			Origin: KindFilesystem,
		})
	}
	return mounts
}

func (f *Filesystem) Environ(RuntimeEnv) map[string]string { return nil }

func (f *Filesystem) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(f, override); err != nil {
		return nil, err
	}
	other := override.(*Filesystem)
	return &Filesystem{
		ReadWrite: mergeStringLists(f.ReadWrite, other.ReadWrite),
		ReadOnly:  mergeStringLists(f.ReadOnly, other.ReadOnly),
		Devices:   mergeStringLists(f.Devices, other.Devices),
	}, nil
}

// Network shares the host network namespace. With Isolate set the
// service instead pins the network namespace unshared, which conflicts
// with any service requiring host network access.
type Network struct {
	Isolate bool `toml:"isolate,omitempty"`
}

func (n *Network) Kind() Kind      { return KindNetwork }
func (n *Network) Validate() error { return nil }

func (n *Network) Namespaces() NamespaceSet {
	if n.Isolate {
		return NamespaceSet{NamespaceNet: NamespaceIsolate}
	}
	return NamespaceSet{NamespaceNet: NamespaceShare}
}

func (n *Network) Mounts(RuntimeEnv) []Mount {
	if n.Isolate {
		return nil
	}
	return []Mount{
		{Source: "/etc/resolv.conf", Dest: "/etc/resolv.conf", Mode: MountModeRO, Optional: true, Origin: KindNetwork},
	}
}

func (n *Network) Environ(RuntimeEnv) map[string]string { return nil }

func (n *Network) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(n, override); err != nil {
		return nil, err
	}
	other := override.(*Network)
	return &Network{Isolate: other.Isolate}, nil
}

// Sound servers selectable for the Sound service.
const (
	SoundServerPulse    = "pulse"
	SoundServerPipewire = "pipewire"
)

// Sound grants access to the user audio server socket.
type Sound struct {
	Server string `toml:"server,omitempty"`
}

func (s *Sound) Kind() Kind { return KindSound }

func (s *Sound) Validate() error {
	switch s.Server {
	case "", SoundServerPulse, SoundServerPipewire:
		return nil
	}
	return fmt.Errorf("server %q must be %q or %q", s.Server, SoundServerPulse, SoundServerPipewire)
}

func (s *Sound) Namespaces() NamespaceSet { return nil }

func (s *Sound) socketPath(env RuntimeEnv) string {
	if s.Server == SoundServerPipewire {
		return filepath.Join(env.RuntimeDir, "pipewire-0")
	}
	return filepath.Join(env.RuntimeDir, "pulse", "native")
}

func (s *Sound) Mounts(env RuntimeEnv) []Mount {
	socket := s.socketPath(env)
	return []Mount{
		{Source: socket, Dest: socket, Mode: MountModeRW, Origin: KindSound},
	}
}

func (s *Sound) Environ(env RuntimeEnv) map[string]string {
	if s.Server == SoundServerPipewire {
		return nil
	}
	return map[string]string{"PULSE_SERVER": "unix:" + s.socketPath(env)}
}

func (s *Sound) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(s, override); err != nil {
		return nil, err
	}
	other := override.(*Sound)
	merged := &Sound{Server: s.Server}
	if other.Server != "" {
		merged.Server = other.Server
	}
	return merged, nil
}

// X11 grants access to the host X server. The X socket directory and
// the Xauthority cookie are bound read-only. X11 requires the host IPC
// namespace for the MIT-SHM extension.
type X11 struct{}

func (x *X11) Kind() Kind      { return KindX11 }
func (x *X11) Validate() error { return nil }

func (x *X11) Namespaces() NamespaceSet {
	return NamespaceSet{NamespaceIPC: NamespaceShare}
}

func (x *X11) Mounts(env RuntimeEnv) []Mount {
	mounts := []Mount{
		{Source: "/tmp/.X11-unix", Dest: "/tmp/.X11-unix", Mode: MountModeRO, Origin: KindX11},
	}
	if env.XAuthority != "" {
		mounts = append(mounts, Mount{
			Source:   env.XAuthority,
			Dest:     SandboxHome + "/.Xauthority",
			Mode:     MountModeRO,
			Optional: true,
			Origin:   KindX11,
		})
	}
	return mounts
}

func (x *X11) Environ(env RuntimeEnv) map[string]string {
	environ := map[string]string{"DISPLAY": env.Display}
	if env.XAuthority != "" {
		environ["XAUTHORITY"] = SandboxHome + "/.Xauthority"
	}
	return environ
}

func (x *X11) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(x, override); err != nil {
		return nil, err
	}
	return &X11{}, nil
}

// Wayland grants access to the host Wayland compositor socket.
type Wayland struct{}

func (w *Wayland) Kind() Kind               { return KindWayland }
func (w *Wayland) Validate() error          { return nil }
func (w *Wayland) Namespaces() NamespaceSet { return nil }

func (w *Wayland) Mounts(env RuntimeEnv) []Mount {
	socket := filepath.Join(env.RuntimeDir, env.WaylandDisplay)
	return []Mount{
		{Source: socket, Dest: socket, Mode: MountModeRW, Origin: KindWayland},
	}
}

func (w *Wayland) Environ(env RuntimeEnv) map[string]string {
	return map[string]string{"WAYLAND_DISPLAY": env.WaylandDisplay}
}

func (w *Wayland) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(w, override); err != nil {
		return nil, err
	}
	return &Wayland{}, nil
}

// DBus grants access to the user session bus. The See/Talk/Own name
// lists are the filtering policy for the bus proxy collaborator; this
// core records them and binds the (proxied) bus socket.
type DBus struct {
	See  []string `toml:"see,omitempty"`
	Talk []string `toml:"talk,omitempty"`
	Own  []string `toml:"own,omitempty"`
}

func (d *DBus) Kind() Kind { return KindDBus }

func (d *DBus) Validate() error {
	for _, list := range [][]string{d.See, d.Talk, d.Own} {
		for _, name := range list {
			if name == "" || strings.ContainsAny(name, " \t") {
				return fmt.Errorf("bus name %q is not a valid D-Bus name", name)
			}
		}
	}
	return nil
}

func (d *DBus) Namespaces() NamespaceSet { return nil }

func (d *DBus) Mounts(env RuntimeEnv) []Mount {
	return []Mount{sessionBusMount(env, KindDBus)}
}

func (d *DBus) Environ(env RuntimeEnv) map[string]string {
	return sessionBusEnviron(env)
}

func (d *DBus) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(d, override); err != nil {
		return nil, err
	}
	other := override.(*DBus)
	return &DBus{
		See:  mergeStringLists(d.See, other.See),
		Talk: mergeStringLists(d.Talk, other.Talk),
		Own:  mergeStringLists(d.Own, other.Own),
	}, nil
}

// GPU grants direct rendering access: the DRI device nodes plus the
// sysfs entries Mesa reads for device discovery.
type GPU struct{}

func (g *GPU) Kind() Kind               { return KindGPU }
func (g *GPU) Validate() error          { return nil }
func (g *GPU) Namespaces() NamespaceSet { return nil }

func (g *GPU) Mounts(RuntimeEnv) []Mount {
	return []Mount{
		{Source: "/dev/dri", Dest: "/dev/dri", Type: MountTypeDevBind, Origin: KindGPU},
		{Source: "/sys/dev/char", Dest: "/sys/dev/char", Mode: MountModeRO, Optional: true, Origin: KindGPU},
		{Source: "/sys/devices", Dest: "/sys/devices", Mode: MountModeRO, Optional: true, Origin: KindGPU},
	}
}

func (g *GPU) Environ(RuntimeEnv) map[string]string { return nil }

func (g *GPU) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(g, override); err != nil {
		return nil, err
	}
	return &GPU{}, nil
}

// Notification grants desktop notifications: session bus access scoped
// (by the bus proxy collaborator) to org.freedesktop.Notifications.
type Notification struct{}

// NotificationBusName is the well-known name this service talks to.
const NotificationBusName = "org.freedesktop.Notifications"

func (n *Notification) Kind() Kind               { return KindNotification }
func (n *Notification) Validate() error          { return nil }
func (n *Notification) Namespaces() NamespaceSet { return nil }

func (n *Notification) Mounts(env RuntimeEnv) []Mount {
	return []Mount{sessionBusMount(env, KindNotification)}
}

func (n *Notification) Environ(env RuntimeEnv) map[string]string {
	return sessionBusEnviron(env)
}

func (n *Notification) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(n, override); err != nil {
		return nil, err
	}
	return &Notification{}, nil
}

// Systray grants a status notifier item: session bus access scoped to
// org.kde.StatusNotifierWatcher.
type Systray struct{}

// SystrayBusName is the well-known name this service talks to.
const SystrayBusName = "org.kde.StatusNotifierWatcher"

func (s *Systray) Kind() Kind               { return KindSystray }
func (s *Systray) Validate() error          { return nil }
func (s *Systray) Namespaces() NamespaceSet { return nil }

func (s *Systray) Mounts(env RuntimeEnv) []Mount {
	return []Mount{sessionBusMount(env, KindSystray)}
}

func (s *Systray) Environ(env RuntimeEnv) map[string]string {
	return sessionBusEnviron(env)
}

func (s *Systray) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(s, override); err != nil {
		return nil, err
	}
	return &Systray{}, nil
}

// Namespaces tunes the namespace and nested-sandbox policy. Isolate
// pins the named namespaces unshared even if another service would
// share them (the resolver reports the conflict). AllowNested permits
// the sandboxed application to create its own user namespaces, which
// the seccomp filter forbids by default; browsers with internal
// sandboxes need this.
type Namespaces struct {
	AllowNested bool     `toml:"allow_nested,omitempty"`
	Isolate     []string `toml:"isolate,omitempty"`
}

func (n *Namespaces) Kind() Kind { return KindNamespaces }

func (n *Namespaces) Validate() error {
	for _, name := range n.Isolate {
		if !validNamespace(Namespace(name)) {
			return fmt.Errorf("isolate entry %q is not a namespace name", name)
		}
	}
	return nil
}

func (n *Namespaces) Namespaces() NamespaceSet {
	if len(n.Isolate) == 0 {
		return nil
	}
	set := make(NamespaceSet, len(n.Isolate))
	for _, name := range n.Isolate {
		set[Namespace(name)] = NamespaceIsolate
	}
	return set
}

func (n *Namespaces) Mounts(RuntimeEnv) []Mount            { return nil }
func (n *Namespaces) Environ(RuntimeEnv) map[string]string { return nil }

func (n *Namespaces) merge(override Service) (Service, error) {
	if err := mergeKindMismatch(n, override); err != nil {
		return nil, err
	}
	other := override.(*Namespaces)
	return &Namespaces{
		AllowNested: other.AllowNested,
		Isolate:     mergeStringLists(n.Isolate, other.Isolate),
	}, nil
}

// sessionBusMount is the session bus socket bind shared by the dbus,
// notification, and systray services. Identical entries from multiple
// services de-duplicate at compile time.
func sessionBusMount(env RuntimeEnv, origin Kind) Mount {
	socket := filepath.Join(env.RuntimeDir, "bus")
	return Mount{Source: socket, Dest: socket, Mode: MountModeRW, Origin: origin}
}

func sessionBusEnviron(env RuntimeEnv) map[string]string {
	return map[string]string{
		"DBUS_SESSION_BUS_ADDRESS": "unix:path=" + filepath.Join(env.RuntimeDir, "bus"),
	}
}

func validNamespace(name Namespace) bool {
	for _, ns := range AllNamespaces {
		if ns == name {
			return true
		}
	}
	return false
}
