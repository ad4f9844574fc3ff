// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"errors"
	"os"
	"testing"

	"github.com/bureau-foundation/burrow/service"
)

func TestCreateAndOpen(t *testing.T) {
	manager := NewManager(t.TempDir())

	inst, err := manager.Create("browser", "web-browser")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := os.Stat(inst.Home()); err != nil {
		t.Errorf("home directory missing: %v", err)
	}

	reopened, err := manager.Open("browser")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	overrides, err := reopened.LoadOverrides()
	if err != nil {
		t.Fatalf("LoadOverrides failed: %v", err)
	}
	if overrides.Profile != "web-browser" {
		t.Errorf("Profile = %q, want web-browser", overrides.Profile)
	}

	if _, err := manager.Create("browser", ""); err == nil {
		t.Error("Create of an existing instance should fail")
	}
}

func TestOpenRefusesRemovedInstance(t *testing.T) {
	manager := NewManager(t.TempDir())
	if _, err := manager.Open("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open of missing instance: error = %v, want ErrNotFound", err)
	}

	// A directory without a configuration is a half-deleted instance.
	inst, err := manager.Create("broken", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.Remove(inst.ConfigPath()); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Open("broken"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open of config-less instance: error = %v, want ErrNotFound", err)
	}
}

func TestOpenRejectsPathNames(t *testing.T) {
	manager := NewManager(t.TempDir())
	for _, name := range []string{"", ".", "..", "a/b"} {
		if _, err := manager.Open(name); err == nil {
			t.Errorf("Open(%q) should fail", name)
		}
	}
}

func TestLoadOverridesCorruptConfig(t *testing.T) {
	manager := NewManager(t.TempDir())
	inst, err := manager.Create("corrupt", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.WriteFile(inst.ConfigPath(), []byte("profile = [broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := inst.LoadOverrides(); !errors.Is(err, service.ErrMalformedDocument) {
		t.Errorf("error = %v, want ErrMalformedDocument", err)
	}
}

func TestSaveOverridesRoundTrip(t *testing.T) {
	manager := NewManager(t.TempDir())
	inst, err := manager.Create("edit", "terminal")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	want := &service.Overrides{
		Profile: "terminal",
		Services: []service.Service{
			&service.Wayland{},
			&service.Filesystem{ReadOnly: []string{"~/Documents"}},
		},
		Removed: []service.Kind{service.KindNetwork},
	}
	if err := inst.SaveOverrides(want); err != nil {
		t.Fatalf("SaveOverrides failed: %v", err)
	}

	got, err := inst.LoadOverrides()
	if err != nil {
		t.Fatalf("LoadOverrides failed: %v", err)
	}
	if got.Profile != want.Profile {
		t.Errorf("Profile = %q, want %q", got.Profile, want.Profile)
	}
	if len(got.Services) != 2 ||
		got.Services[0].Kind() != service.KindWayland ||
		got.Services[1].Kind() != service.KindFilesystem {
		t.Errorf("unexpected service sequence after round trip: %v", got.Services)
	}
	if len(got.Removed) != 1 || got.Removed[0] != service.KindNetwork {
		t.Errorf("Removed = %v", got.Removed)
	}
}

func TestLockContention(t *testing.T) {
	manager := NewManager(t.TempDir())
	inst, err := manager.Create("locked", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	lock, err := inst.Lock()
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer lock.Release()

	// A second launch attempt must surface contention immediately,
	// without disturbing the holder's lock.
	other, err := manager.Open("locked")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := other.Lock(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Lock: error = %v, want ErrAlreadyRunning", err)
	}

	// The original holder still holds; after release the lock is
	// available again.
	lock.Release()
	relock, err := other.Lock()
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	relock.Release()
	relock.Release() // double release is safe
}
