// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// burrow launches desktop applications inside named, persistent
// bubblewrap sandboxes.
//
// Usage:
//
//	burrow run <instance> [-- <command> [args...]]
//	burrow compile <instance> [-- <command> [args...]]
//	burrow create <instance> --profile <name>
//	burrow list
//	burrow list-profiles
//	burrow show-profile <name>
//	burrow capabilities
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/burrow/helper"
	"github.com/bureau-foundation/burrow/instance"
	"github.com/bureau-foundation/burrow/lib/process"
	"github.com/bureau-foundation/burrow/lib/version"
	"github.com/bureau-foundation/burrow/profile"
	"github.com/bureau-foundation/burrow/sandbox"
	"github.com/bureau-foundation/burrow/seccomp"
	"github.com/bureau-foundation/burrow/service"
)

// handshakeTimeout bounds the wait for the helper's hello. Failure
// degrades dynamic grants; the sandbox keeps running.
const handshakeTimeout = 10 * time.Second

// terminateGrace is how long a user-requested termination waits for a
// clean exit before SIGKILL.
const terminateGrace = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("BURROW_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		var status sandbox.ExitStatus
		status, err = runCmd(args, logger)
		if err == nil {
			if status.Signal != 0 {
				os.Exit(128 + int(status.Signal))
			}
			os.Exit(status.Code)
		}
	case "compile":
		err = compileCmd(args, logger)
	case "create":
		err = createCmd(args)
	case "list":
		err = listCmd(args)
	case "list-profiles":
		err = listProfilesCmd(logger)
	case "show-profile":
		err = showProfileCmd(args, logger)
	case "capabilities":
		err = capabilitiesCmd()
	case "version", "--version":
		fmt.Printf("burrow %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Print(`burrow - sandbox desktop applications with bubblewrap

USAGE
    burrow <command> [flags] [-- <args>...]

COMMANDS
    run            Launch an instance's sandbox
    compile        Print the bwrap invocation without launching
    create         Create a new sandbox instance
    list           List instances
    list-profiles  List available profiles
    show-profile   Show a profile's services
    capabilities   Probe host sandboxing support
    version        Show version

ENVIRONMENT
    BURROW_DEBUG   Enable debug logging
`)
}

// loadRegistry loads built-in profiles, then the system directory,
// then the user directory. Later loads win on name collisions, so a
// user profile overrides a system one of the same name.
func loadRegistry(logger *slog.Logger) (*profile.Registry, error) {
	registry := profile.NewRegistry(logger)
	if err := registry.LoadBuiltin(); err != nil {
		return nil, err
	}
	if err := registry.LoadDirectory("/usr/share/burrow/profiles"); err != nil {
		return nil, err
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	if err := registry.LoadDirectory(filepath.Join(configDir, "burrow", "profiles")); err != nil {
		return nil, err
	}
	return registry, nil
}

// resolveConfig loads an instance's overrides and resolves them
// against its profile. A launch path must hold the instance lock
// before calling this.
func resolveConfig(inst *instance.Instance, logger *slog.Logger) (*service.Resolved, error) {
	overrides, err := inst.LoadOverrides()
	if err != nil {
		return nil, err
	}

	var base []service.Service
	if overrides.Profile != "" {
		registry, err := loadRegistry(logger)
		if err != nil {
			return nil, err
		}
		prof, err := registry.Lookup(overrides.Profile)
		if err != nil {
			return nil, err
		}
		base = prof.Services()
	}
	return service.Resolve(base, overrides)
}

// resolveInstance opens an instance and resolves its configuration
// against its profile. For read-only paths; launches lock first and
// use resolveConfig directly.
func resolveInstance(name string, logger *slog.Logger) (*instance.Instance, *service.Resolved, error) {
	mgr := instance.NewManager(instance.DefaultRoot())
	inst, err := mgr.Open(name)
	if err != nil {
		return nil, nil, err
	}
	resolved, err := resolveConfig(inst, logger)
	if err != nil {
		return nil, nil, err
	}
	return inst, resolved, nil
}

// compilePlan builds the launch plan for an instance: seccomp filter,
// helper channel, bwrap argument vector.
func compilePlan(inst *instance.Instance, resolved *service.Resolved, command []string, logger *slog.Logger) (*sandbox.LaunchPlan, error) {
	filter, err := seccomp.Synthesize(resolved)
	if err != nil {
		return nil, err
	}
	helperPath, err := sandbox.LocateHelper()
	if err != nil {
		return nil, err
	}
	return sandbox.Compile(resolved, filter, sandbox.Options{
		InstanceHome: inst.Home(),
		HelperPath:   helperPath,
		Command:      command,
		Env:          service.CurrentRuntimeEnv(),
		Logger:       logger,
	})
}

// commandOrShell returns the trailing command arguments, defaulting to
// an interactive shell when attached to a terminal.
func commandOrShell(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return []string{"/bin/sh"}, nil
	}
	return nil, fmt.Errorf("no command given and stdin is not a terminal")
}

func runCmd(args []string, logger *slog.Logger) (sandbox.ExitStatus, error) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return sandbox.ExitStatus{}, err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return sandbox.ExitStatus{}, fmt.Errorf("usage: burrow run <instance> [-- <command>...]")
	}
	command, err := commandOrShell(rest[1:])
	if err != nil {
		return sandbox.ExitStatus{}, err
	}

	mgr := instance.NewManager(instance.DefaultRoot())
	inst, err := mgr.Open(rest[0])
	if err != nil {
		return sandbox.ExitStatus{}, err
	}

	// The lock is taken before the configuration is read and held
	// through exit, so no concurrent launch resolves or compiles
	// against a config this one is using.
	lock, err := inst.Lock()
	if err != nil {
		return sandbox.ExitStatus{}, err
	}
	defer lock.Release()

	resolved, err := resolveConfig(inst, logger)
	if err != nil {
		return sandbox.ExitStatus{}, err
	}

	plan, err := compilePlan(inst, resolved, command, logger)
	if err != nil {
		return sandbox.ExitStatus{}, err
	}

	handle, err := sandbox.Launch(plan, sandbox.LaunchConfig{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	})
	if err != nil {
		plan.Close()
		return sandbox.ExitStatus{}, err
	}

	session := helper.NewSession(handle.Socket(), logger)
	hsCtx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	if err := session.Handshake(hsCtx); err != nil {
		logger.Warn("helper handshake failed, dynamic grants disabled", "error", err)
	}
	cancel()

	// SIGINT/SIGTERM become a clean termination request.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	status, err := handle.Wait(ctx)
	if err == nil {
		session.Close()
		return status, nil
	}

	logger.Info("terminating sandbox", "instance", inst.Name())
	termCtx, cancel := context.WithTimeout(context.Background(), terminateGrace)
	defer cancel()
	status, err = handle.Terminate(termCtx)
	session.Close()
	return status, err
}

func compileCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("compile", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: burrow compile <instance> [-- <command>...]")
	}
	command, err := commandOrShell(rest[1:])
	if err != nil {
		return err
	}

	inst, resolved, err := resolveInstance(rest[0], logger)
	if err != nil {
		return err
	}
	plan, err := compilePlan(inst, resolved, command, logger)
	if err != nil {
		return err
	}
	defer plan.Close()

	fmt.Println("bwrap \\\n  " + strings.Join(plan.Argv, " \\\n  "))
	return nil
}

func createCmd(args []string) error {
	fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
	profileName := fs.String("profile", "", "base profile for the instance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: burrow create <instance> --profile <name>")
	}

	mgr := instance.NewManager(instance.DefaultRoot())
	inst, err := mgr.Create(fs.Arg(0), *profileName)
	if err != nil {
		return err
	}
	fmt.Printf("created instance %s at %s\n", inst.Name(), inst.Path())
	return nil
}

func listCmd(args []string) error {
	mgr := instance.NewManager(instance.DefaultRoot())
	names, err := mgr.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func listProfilesCmd(logger *slog.Logger) error {
	registry, err := loadRegistry(logger)
	if err != nil {
		return err
	}
	for _, name := range registry.Names() {
		prof, err := registry.Lookup(name)
		if err != nil {
			continue
		}
		fmt.Printf("%-16s %s\n", name, prof.Description())
	}
	return nil
}

func showProfileCmd(args []string, logger *slog.Logger) error {
	if len(args) < 1 {
		return fmt.Errorf("profile name required")
	}
	registry, err := loadRegistry(logger)
	if err != nil {
		return err
	}
	prof, err := registry.Lookup(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Profile: %s\n", prof.Name())
	if prof.Description() != "" {
		fmt.Printf("Description: %s\n", prof.Description())
	}
	fmt.Println("Services:")
	for _, svc := range prof.Services() {
		fmt.Printf("  %s\n", svc.Kind())
	}
	return nil
}

func capabilitiesCmd() error {
	caps := sandbox.DetectCapabilities()
	report := func(name string, ok bool, detail string) {
		mark := "ok"
		if !ok {
			mark = "missing"
		}
		if detail != "" {
			fmt.Printf("  %-24s %-8s %s\n", name, mark, detail)
		} else {
			fmt.Printf("  %-24s %s\n", name, mark)
		}
	}
	fmt.Println("Host sandboxing support:")
	report("bubblewrap", caps.BwrapAvailable, caps.BwrapVersion)
	report("user namespaces", caps.UserNamespacesEnabled, "")
	report("helper binary", caps.HelperAvailable, caps.HelperPath)
	if reason := caps.SkipReason(); reason != "" {
		return fmt.Errorf("sandboxing unavailable: %s", reason)
	}
	fmt.Println("ready")
	return nil
}
