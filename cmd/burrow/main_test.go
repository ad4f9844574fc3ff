// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/bureau-foundation/burrow/instance"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// A launch must take the instance lock before it reads the
// configuration. With the lock already held, run has to fail with the
// lock error even when the config is unreadable: seeing the config
// error instead would mean the configuration was resolved outside the
// lock.
func TestRunLocksBeforeResolving(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	mgr := instance.NewManager(instance.DefaultRoot())
	inst, err := mgr.Create("locked", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.WriteFile(inst.ConfigPath(), []byte("not toml ["), 0o600); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}

	lock, err := inst.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer lock.Release()

	_, err = runCmd([]string{"locked", "true"}, discardLogger())
	if !errors.Is(err, instance.ErrAlreadyRunning) {
		t.Fatalf("run against a locked instance: got %v, want ErrAlreadyRunning", err)
	}
}
