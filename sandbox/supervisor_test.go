// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

// launchShell runs a shell command through the supervisor, standing in
// for the containment primitive so the lifetime machinery is testable
// without bubblewrap.
func launchShell(t *testing.T, script string) *Handle {
	t.Helper()
	plan := &LaunchPlan{Argv: []string{"-c", script}}
	h, err := Launch(plan, LaunchConfig{Primitive: "/bin/sh"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	return h
}

func TestLaunchReportsExitCode(t *testing.T) {
	h := launchShell(t, "exit 7")
	status, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status.Code != 7 || status.Signal != 0 {
		t.Errorf("status = %v, want exit status 7", status)
	}
}

func TestLaunchReportsSignal(t *testing.T) {
	h := launchShell(t, "kill -TERM $$")
	status, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status.Signal != syscall.SIGTERM {
		t.Errorf("status = %v, want termination by SIGTERM", status)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	h := launchShell(t, "sleep 60")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait err = %v, want deadline exceeded", err)
	}

	// The process is still running and still supervised.
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := h.Terminate(ctx)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if status.Signal != syscall.SIGTERM {
		t.Errorf("status = %v, want termination by SIGTERM", status)
	}
}

func TestTerminateReapsAfterExit(t *testing.T) {
	h := launchShell(t, "exit 0")
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// Terminating an already-exited sandbox is not an error; the
	// status is simply reported again.
	status, err := h.Terminate(context.Background())
	if err != nil {
		t.Fatalf("Terminate after exit: %v", err)
	}
	if status.Code != 0 {
		t.Errorf("status = %v, want exit status 0", status)
	}
}

func TestLaunchFailureIsLaunchError(t *testing.T) {
	plan := &LaunchPlan{Argv: []string{"-c", "true"}}
	_, err := Launch(plan, LaunchConfig{Primitive: "/nonexistent/bwrap"})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("err = %v, want LaunchError", err)
	}
	if launchErr.Stage != "spawn" {
		t.Errorf("Stage = %q, want spawn", launchErr.Stage)
	}
}
