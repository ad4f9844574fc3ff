// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/burrow/lib/unixsocket"
)

// LaunchError is a spawn failure. Launch is never retried
// automatically; partial namespace setup is not safe to retry blindly.
type LaunchError struct {
	Stage string
	Err   error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch: %s: %v", e.Stage, e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// ExitStatus is the sandboxed process's terminal state. A non-zero
// code or a signal is an observed outcome, not a supervisor error.
type ExitStatus struct {
	Code   int
	Signal syscall.Signal // 0 when the process exited normally
}

func (s ExitStatus) String() string {
	if s.Signal != 0 {
		return "terminated by signal " + s.Signal.String()
	}
	return fmt.Sprintf("exit status %d", s.Code)
}

// LaunchConfig configures one spawn.
type LaunchConfig struct {
	// Primitive is the containment executable. Located via
	// LocateBwrap when empty.
	Primitive string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// Handle owns a running sandboxed process. The reaper goroutine runs
// from spawn to exit; the process can never be leaked as a zombie.
type Handle struct {
	cmd    *exec.Cmd
	socket *unixsocket.Socket
	logger *slog.Logger

	done    chan struct{}
	status  ExitStatus
	waitErr error

	closeOnce sync.Once
}

// Launch spawns the containment primitive for a compiled plan. The
// caller must hold the instance lock. On success the Handle takes
// ownership of the plan's host socket; the plan's child-side
// descriptors are released in the parent.
func Launch(plan *LaunchPlan, cfg LaunchConfig) (*Handle, error) {
	primitive := cfg.Primitive
	if primitive == "" {
		path, err := LocateBwrap()
		if err != nil {
			return nil, &LaunchError{Stage: "locate primitive", Err: err}
		}
		primitive = path
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(primitive)
	cmd.Args = append([]string{primitive}, plan.Argv...)
	cmd.ExtraFiles = plan.ExtraFiles
	cmd.Stdin = cfg.Stdin
	cmd.Stdout = cfg.Stdout
	cmd.Stderr = cfg.Stderr

	// The primitive's own environment is scrubbed, not just the
	// sandbox's: with an inherited environment the child could read
	// host secrets back out of /proc/<primitive-pid>/environ even
	// though the argument vector clears the sandboxed environment.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"TERM=" + os.Getenv("TERM"),
	}

	// Own process group, so termination signals the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Stage: "spawn", Err: err}
	}
	plan.CloseChildFiles()

	h := &Handle{
		cmd:    cmd,
		socket: plan.hostSocket,
		logger: logger,
		done:   make(chan struct{}),
	}
	plan.hostSocket = nil
	go h.reap()

	logger.Info("sandbox launched", "pid", cmd.Process.Pid)
	return h, nil
}

// PID returns the containment primitive's process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Socket returns the host end of the helper channel, or nil if the
// plan was compiled without one.
func (h *Handle) Socket() *unixsocket.Socket { return h.socket }

func (h *Handle) reap() {
	err := h.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		h.status = ExitStatus{Code: 0}
	case errors.As(err, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			h.status = ExitStatus{Signal: ws.Signal()}
		} else {
			h.status = ExitStatus{Code: exitErr.ExitCode()}
		}
	default:
		h.waitErr = err
	}
	close(h.done)
}

// Wait blocks until the sandboxed process exits or ctx is done. A ctx
// expiry leaves the process running and the reaper in place.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	case <-h.done:
		return h.status, h.waitErr
	}
}

// Signal delivers sig to the sandbox's process group.
func (h *Handle) Signal(sig syscall.Signal) error {
	return unix.Kill(-h.cmd.Process.Pid, sig)
}

// Terminate requests shutdown and reaps. The three steps are
// independent: the process group is signaled, the helper channel is
// closed, and the exit is awaited even when the earlier steps fail.
// When ctx expires before the process exits it is killed outright and
// the reap still completes.
func (h *Handle) Terminate(ctx context.Context) (ExitStatus, error) {
	var errs []error
	if err := h.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		errs = append(errs, fmt.Errorf("signal: %w", err))
	}
	if err := h.closeSocket(); err != nil {
		errs = append(errs, fmt.Errorf("close helper channel: %w", err))
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		h.logger.Warn("sandbox did not exit on SIGTERM, killing", "pid", h.cmd.Process.Pid)
		if err := h.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("kill: %w", err))
		}
		<-h.done
	}

	if h.waitErr != nil {
		errs = append(errs, h.waitErr)
	}
	return h.status, errors.Join(errs...)
}

// Close releases the helper channel without touching the process.
func (h *Handle) Close() error {
	return h.closeSocket()
}

func (h *Handle) closeSocket() error {
	var err error
	h.closeOnce.Do(func() {
		if h.socket != nil {
			err = h.socket.Close()
		}
	})
	return err
}
