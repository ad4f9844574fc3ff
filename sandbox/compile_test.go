// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/bureau-foundation/burrow/seccomp"
	"github.com/bureau-foundation/burrow/service"
)

func testEnv(t *testing.T) service.RuntimeEnv {
	t.Helper()
	return service.RuntimeEnv{
		UID:            1000,
		HostHome:       t.TempDir(),
		RuntimeDir:     "/run/user/1000",
		Display:        ":0",
		WaylandDisplay: "wayland-0",
	}
}

func compileProfile(t *testing.T, services []service.Service, opts Options) (*LaunchPlan, error) {
	t.Helper()
	resolved, err := service.Resolve(services, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	filter, err := seccomp.Synthesize(resolved)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if opts.InstanceHome == "" {
		opts.InstanceHome = t.TempDir()
	}
	if opts.HelperPath == "" {
		opts.HelperPath = "/usr/bin/true"
	}
	if len(opts.Command) == 0 {
		opts.Command = []string{"app", "--flag"}
	}
	return Compile(resolved, filter, opts)
}

// argIndex returns the index of the first occurrence of a flag
// followed by the given operands, or -1.
func argIndex(args []string, want ...string) int {
	for i := 0; i+len(want) <= len(args); i++ {
		if slices.Equal(args[i:i+len(want)], want) {
			return i
		}
	}
	return -1
}

func TestCompilePhaseOrder(t *testing.T) {
	env := testEnv(t)
	for _, dir := range []string{"Downloads", "Pictures"} {
		if err := os.Mkdir(filepath.Join(env.HostHome, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	home := t.TempDir()
	plan, err := compileProfile(t, []service.Service{
		&service.Network{},
		&service.Filesystem{
			ReadWrite: []string{"~/Downloads"},
			ReadOnly:  []string{"~/Pictures"},
		},
	}, Options{Env: env, InstanceHome: home})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer plan.Close()
	args := plan.Argv

	unshareUser := argIndex(args, "--unshare-user")
	if unshareUser != 0 {
		t.Errorf("--unshare-user at %d, want first", unshareUser)
	}
	if argIndex(args, "--unshare-net") != -1 {
		t.Error("network service present but net namespace unshared")
	}
	for _, ns := range []string{"--unshare-pid", "--unshare-ipc", "--unshare-uts", "--unshare-cgroup"} {
		if argIndex(args, ns) == -1 {
			t.Errorf("missing %s", ns)
		}
	}

	homeBind := argIndex(args, "--bind", home, service.SandboxHome)
	usrBind := argIndex(args, "--ro-bind", "/usr", "/usr")
	downloads := argIndex(args, "--bind", filepath.Join(env.HostHome, "Downloads"))
	pictures := argIndex(args, "--ro-bind", filepath.Join(env.HostHome, "Pictures"))
	seccompFlag := argIndex(args, "--seccomp", "3")
	switch {
	case homeBind == -1, usrBind == -1, downloads == -1, pictures == -1, seccompFlag == -1:
		t.Fatalf("missing phase in argv: %v", args)
	case homeBind > usrBind:
		t.Error("instance home bound after system tree")
	case usrBind > downloads:
		t.Error("service mounts emitted before system tree")
	case downloads > pictures:
		t.Error("filesystem grants out of declaration order")
	}

	tail := argIndex(args, "--", HelperSandboxPath, "--socket-fd", "4", "--", "app", "--flag")
	if tail == -1 {
		t.Fatalf("helper invocation tail missing: %v", args)
	}
	if seccompFlag > tail {
		t.Error("--seccomp emitted after the command separator")
	}

	if argIndex(args, "--clearenv") == -1 {
		t.Error("environment not cleared")
	}
	if argIndex(args, "--setenv", "HOME", service.SandboxHome) == -1 {
		t.Error("HOME not set to the sandbox home")
	}
}

func TestCompileDeterministic(t *testing.T) {
	env := testEnv(t)
	home := t.TempDir()
	services := []service.Service{
		&service.Wayland{},
		&service.Sound{Server: "pulse"},
		&service.Filesystem{ReadWrite: []string{"~/Music"}},
	}
	opts := Options{Env: env, InstanceHome: home}

	first, err := compileProfile(t, services, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer first.Close()
	second, err := compileProfile(t, services, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer second.Close()

	if !slices.Equal(first.Argv, second.Argv) {
		t.Errorf("argv differs between compilations:\n%v\n%v", first.Argv, second.Argv)
	}
}

func TestCompilePathEscape(t *testing.T) {
	env := testEnv(t)

	t.Run("path outside allowed roots", func(t *testing.T) {
		_, err := compileProfile(t, []service.Service{
			&service.Filesystem{ReadWrite: []string{"/var/lib/secrets"}},
		}, Options{Env: env})
		var escape *PathEscapeError
		if !errors.As(err, &escape) {
			t.Fatalf("err = %v, want PathEscapeError", err)
		}
		if escape.Origin != service.KindFilesystem {
			t.Errorf("Origin = %q, want filesystem", escape.Origin)
		}
	})

	t.Run("symlink out of home", func(t *testing.T) {
		outside := t.TempDir()
		link := filepath.Join(env.HostHome, "Escape")
		if err := os.Symlink(outside, link); err != nil {
			t.Fatal(err)
		}
		_, err := compileProfile(t, []service.Service{
			&service.Filesystem{ReadWrite: []string{"~/Escape"}},
		}, Options{Env: env})
		var escape *PathEscapeError
		if !errors.As(err, &escape) {
			t.Fatalf("err = %v, want PathEscapeError", err)
		}
		if escape.Resolved != outside {
			t.Errorf("Resolved = %q, want %q", escape.Resolved, outside)
		}
	})
}

func TestCompileSkipsMissingOptionalMounts(t *testing.T) {
	env := testEnv(t)
	env.XAuthority = filepath.Join(env.HostHome, ".Xauthority")

	plan, err := compileProfile(t, []service.Service{&service.X11{}}, Options{Env: env})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer plan.Close()

	if argIndex(plan.Argv, "--ro-bind", "/tmp/.X11-unix", "/tmp/.X11-unix") == -1 {
		t.Error("display socket directory not bound")
	}
	if i := argIndex(plan.Argv, service.SandboxHome + "/.Xauthority"); i != -1 {
		t.Errorf("missing optional Xauthority still mounted at %d", i)
	}
}

func TestCompileOwnsDescriptors(t *testing.T) {
	plan, err := compileProfile(t, nil, Options{Env: testEnv(t)})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(plan.ExtraFiles) != 2 {
		t.Fatalf("ExtraFiles = %d, want 2 (filter, helper channel)", len(plan.ExtraFiles))
	}
	if plan.HostSocket() == nil {
		t.Fatal("no host end of the helper channel")
	}
	if err := plan.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if plan.HostSocket() != nil {
		t.Error("host socket survived Close")
	}
}
