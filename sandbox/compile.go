// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/bureau-foundation/burrow/lib/unixsocket"
	"github.com/bureau-foundation/burrow/seccomp"
	"github.com/bureau-foundation/burrow/service"
)

// Child-side descriptor numbers. ExtraFiles[n] becomes fd 3+n in the
// child, so the argument vector references these as literals.
const (
	seccompChildFD = 3
	helperChildFD  = 4
)

// Paths inside the sandbox.
const (
	// HelperSandboxPath is where the helper binary is bound read-only.
	HelperSandboxPath = "/run/burrow/helper"

	// GrantDir is where the helper materializes dynamically passed
	// file descriptors.
	GrantDir = "/run/burrow/grants"
)

// Options configures one compilation.
type Options struct {
	// InstanceHome is the host path of the per-instance home
	// directory, bound read-write at service.SandboxHome.
	InstanceHome string

	// HelperPath is the host path of the helper binary.
	HelperPath string

	// Command is the application argument vector run by the helper.
	Command []string

	// Env carries the host-side runtime values services resolve
	// their sockets and paths against.
	Env service.RuntimeEnv

	// Logger for skipped mounts and security diagnostics. Defaults
	// to slog.Default.
	Logger *slog.Logger
}

// Compile turns a resolved configuration and its syscall filter into a
// LaunchPlan. A plan is built fresh for every launch attempt and owns
// its descriptors; compiling the same inputs twice yields the same
// argument order.
func Compile(resolved *service.Resolved, filter *seccomp.Program, opts Options) (*LaunchPlan, error) {
	if opts.InstanceHome == "" {
		return nil, fmt.Errorf("instance home is required")
	}
	if opts.HelperPath == "" {
		return nil, fmt.Errorf("helper path is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &argvBuilder{
		roots:  allowedRoots(opts.InstanceHome, opts.Env),
		logger: logger,
	}

	b.namespaceFlags(resolved.Namespaces())
	b.args = append(b.args, "--die-with-parent", "--new-session")

	// New root: the instance home, then the read-only system tree.
	b.args = append(b.args, "--bind", opts.InstanceHome, service.SandboxHome)
	b.systemMounts(opts)

	// Per-service mounts, in resolved service order. Later entries
	// may shadow earlier ones; that ordering is how a narrow grant
	// overrides a broader one.
	env := make(map[string]string)
	for _, svc := range resolved.Services() {
		for _, mount := range svc.Mounts(opts.Env) {
			if err := b.mount(mount); err != nil {
				return nil, err
			}
		}
		for key, value := range svc.Environ(opts.Env) {
			env[key] = value
		}
	}

	b.environment(env, opts)
	b.args = append(b.args, "--seccomp", strconv.Itoa(seccompChildFD))

	// bwrap's child is the helper, which spawns the application.
	b.args = append(b.args, "--", HelperSandboxPath,
		"--socket-fd", strconv.Itoa(helperChildFD), "--")
	b.args = append(b.args, opts.Command...)

	return newLaunchPlan(b.args, filter)
}

type argvBuilder struct {
	args   []string
	roots  []string
	logger *slog.Logger
}

// namespaceFlags emits the unshare flags in the canonical namespace
// order. The baseline isolates everything; only an explicit share
// suppresses a flag, and the user namespace is always unshared since
// unprivileged bwrap cannot operate without it.
func (b *argvBuilder) namespaceFlags(set service.NamespaceSet) {
	for _, ns := range service.AllNamespaces {
		if ns != service.NamespaceUser && set[ns] == service.NamespaceShare {
			continue
		}
		b.args = append(b.args, "--unshare-"+string(ns))
	}
}

// etcEntries is the /etc subset every sandbox sees. Entries missing on
// the host are skipped.
var etcEntries = []string{
	"/etc/ld.so.cache",
	"/etc/ld.so.conf",
	"/etc/ld.so.conf.d",
	"/etc/alternatives",
	"/etc/fonts",
	"/etc/localtime",
	"/etc/ssl",
	"/etc/ca-certificates",
	"/etc/xdg",
}

// systemMounts emits the unconditional base tree: read-only /usr with
// merged-usr symlinks, the /etc subset, fresh /proc /dev /tmp /run,
// the sandbox runtime directory, and the helper binary.
func (b *argvBuilder) systemMounts(opts Options) {
	b.args = append(b.args, "--ro-bind", "/usr", "/usr")
	for _, link := range []string{"bin", "sbin", "lib", "lib64"} {
		b.args = append(b.args, "--symlink", "usr/"+link, "/"+link)
	}
	for _, entry := range etcEntries {
		if _, err := os.Stat(entry); err != nil {
			continue
		}
		b.args = append(b.args, "--ro-bind", entry, entry)
	}
	if _, err := os.Stat("/opt"); err == nil {
		b.args = append(b.args, "--ro-bind", "/opt", "/opt")
	}

	b.args = append(b.args, "--proc", "/proc")
	b.args = append(b.args, "--dev", "/dev")
	b.args = append(b.args, "--tmpfs", "/tmp")
	b.args = append(b.args, "--tmpfs", "/run")
	b.args = append(b.args, "--dir", "/run/user/"+strconv.Itoa(opts.Env.UID))
	b.args = append(b.args, "--dir", GrantDir)
	b.args = append(b.args, "--ro-bind", opts.HelperPath, HelperSandboxPath)
}

// mount emits one service mount directive. Bind sources pass the
// escape check first; optional mounts with a missing source are
// skipped quietly.
func (b *argvBuilder) mount(m service.Mount) error {
	if m.Type == service.MountTypeTmpfs {
		b.args = append(b.args, "--tmpfs", m.Dest)
		return nil
	}

	source, err := checkMountSource(m.Source, b.roots, m.Origin)
	if err != nil {
		b.logger.Error("mount source escapes allowed roots",
			"service", m.Origin, "path", m.Source, "security", true)
		return err
	}
	if m.Optional {
		if _, err := os.Stat(source); err != nil {
			b.logger.Debug("skipping optional mount", "service", m.Origin, "path", source)
			return nil
		}
	}

	switch {
	case m.Type == service.MountTypeDevBind:
		b.args = append(b.args, "--dev-bind", source, m.Dest)
	case m.Mode == service.MountModeRO:
		b.args = append(b.args, "--ro-bind", source, m.Dest)
	default:
		b.args = append(b.args, "--bind", source, m.Dest)
	}
	return nil
}

// environment emits --clearenv followed by sorted --setenv pairs. The
// base variables are fixed; service variables override them, matching
// the order services were resolved in for duplicate keys.
func (b *argvBuilder) environment(serviceEnv map[string]string, opts Options) {
	env := map[string]string{
		"HOME":            service.SandboxHome,
		"XDG_RUNTIME_DIR": "/run/user/" + strconv.Itoa(opts.Env.UID),
		"PATH":            "/usr/local/bin:/usr/bin:/bin",
	}
	for key, value := range serviceEnv {
		env[key] = value
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	b.args = append(b.args, "--clearenv")
	for _, key := range keys {
		b.args = append(b.args, "--setenv", key, env[key])
	}
}

// LaunchPlan is one compiled launch attempt: the bwrap argument vector
// and the files the child inherits (the seccomp filter at fd 3, the
// helper channel at fd 4). Plans are single-use; the descriptors
// belong to exactly one spawn.
type LaunchPlan struct {
	Argv []string

	// ExtraFiles is passed to the child in order starting at fd 3.
	ExtraFiles []*os.File

	hostSocket *unixsocket.Socket
}

func newLaunchPlan(argv []string, filter *seccomp.Program) (*LaunchPlan, error) {
	filterFile, err := filter.Export()
	if err != nil {
		return nil, fmt.Errorf("export seccomp filter: %w", err)
	}

	host, child, err := unixsocket.Pair()
	if err != nil {
		filterFile.Close()
		return nil, fmt.Errorf("create helper channel: %w", err)
	}
	childFile, err := child.File()
	child.Close()
	if err != nil {
		filterFile.Close()
		host.Close()
		return nil, fmt.Errorf("detach helper channel: %w", err)
	}

	return &LaunchPlan{
		Argv:       argv,
		ExtraFiles: []*os.File{filterFile, childFile},
		hostSocket: host,
	}, nil
}

// HostSocket returns the supervisor's end of the helper channel. The
// plan retains ownership until Launch hands it to the Handle.
func (p *LaunchPlan) HostSocket() *unixsocket.Socket {
	return p.hostSocket
}

// CloseChildFiles releases the parent's copies of the inherited
// descriptors. Called after a successful spawn; the child holds its
// own duplicates.
func (p *LaunchPlan) CloseChildFiles() {
	for _, f := range p.ExtraFiles {
		f.Close()
	}
	p.ExtraFiles = nil
}

// Close releases everything the plan owns. For abandoning an
// uncompiled-but-never-launched plan; after Launch, the Handle owns
// the host socket.
func (p *LaunchPlan) Close() error {
	p.CloseChildFiles()
	if p.hostSocket != nil {
		err := p.hostSocket.Close()
		p.hostSocket = nil
		return err
	}
	return nil
}
