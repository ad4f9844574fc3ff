// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package instance manages named, persistent sandboxes on disk. An
// instance directory holds the sandbox's home directory and its TOML
// configuration; an advisory lock serializes launches of the same
// instance.
//
// The directory contract is deliberately small: config.toml (the
// override document read by the resolver), home/ (bind-mounted as the
// sandbox's home), and lock (the advisory lock file). Everything else
// about instance bookkeeping (desktop entries, MIME registrations,
// removal of the directory tree) belongs to external collaborators.
// This package only refuses to act on an instance whose directory or
// configuration is missing or corrupt.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/burrow/service"
)

// Instance directory members.
const (
	configFile = "config.toml"
	homeDir    = "home"
	lockFile   = "lock"
)

// ErrNotFound reports an instance whose directory or configuration no
// longer exists. The caller must treat the instance as removed.
var ErrNotFound = errors.New("instance not found")

// Manager locates instances under a root directory, conventionally
// ~/.local/share/burrow/instances.
type Manager struct {
	root string
}

// NewManager creates a manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{root: dir}
}

// DefaultRoot returns the conventional instance root for the current
// user.
func DefaultRoot() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "burrow", "instances")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "burrow", "instances")
}

// validName rejects names that would escape the instance root or
// collide with directory structure.
func validName(name string) error {
	if name == "" {
		return errors.New("instance name is empty")
	}
	if strings.ContainsAny(name, "/\x00") || name == "." || name == ".." {
		return fmt.Errorf("instance name %q contains path elements", name)
	}
	return nil
}

// Create provisions a new instance: directory, empty home, and a
// configuration referencing the given profile (empty for none). Fails
// if the instance already exists.
func (m *Manager) Create(name, profileName string) (*Instance, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(m.root, name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("instance %s already exists", name)
	}
	if err := os.MkdirAll(filepath.Join(path, homeDir), 0o700); err != nil {
		return nil, fmt.Errorf("create instance %s: %w", name, err)
	}

	inst := &Instance{name: name, path: path}
	overrides := &service.Overrides{Profile: profileName}
	if err := inst.SaveOverrides(overrides); err != nil {
		return nil, err
	}
	return inst, nil
}

// Open returns the named instance, verifying that its directory and
// configuration still exist. A removed or half-deleted instance is
// ErrNotFound; acting on it would launch a sandbox from unknown state.
func (m *Manager) Open(name string) (*Instance, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(m.root, name)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, err := os.Stat(filepath.Join(path, configFile)); err != nil {
		return nil, fmt.Errorf("%w: %s has no configuration", ErrNotFound, name)
	}
	return &Instance{name: name, path: path}, nil
}

// List returns the names of all instances under the root, sorted by
// the directory listing order (lexical).
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read instance root: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Instance is one named sandbox on disk.
type Instance struct {
	name string
	path string
}

// Name returns the instance name.
func (i *Instance) Name() string { return i.name }

// Path returns the instance directory.
func (i *Instance) Path() string { return i.path }

// Home returns the instance's persistent home directory, the only
// host directory a sandbox may write by default.
func (i *Instance) Home() string { return filepath.Join(i.path, homeDir) }

// ConfigPath returns the instance configuration file path.
func (i *Instance) ConfigPath() string { return filepath.Join(i.path, configFile) }

// LoadOverrides reads and parses the instance configuration. A
// missing file is ErrNotFound; a malformed file carries the service
// package's parse taxonomy.
func (i *Instance) LoadOverrides() (*service.Overrides, error) {
	data, err := os.ReadFile(i.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s has no configuration", ErrNotFound, i.name)
		}
		return nil, fmt.Errorf("read %s: %w", i.ConfigPath(), err)
	}
	overrides, err := service.ParseOverrides(data)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", i.name, err)
	}
	return overrides, nil
}

// SaveOverrides writes the configuration atomically (temp file and
// rename). This is the only write path the core has to instance
// state, and it is invoked only by explicit edit operations, never
// during a launch.
func (i *Instance) SaveOverrides(overrides *service.Overrides) error {
	data, err := service.EncodeOverrides(overrides)
	if err != nil {
		return fmt.Errorf("instance %s: %w", i.name, err)
	}
	tmp, err := os.CreateTemp(i.path, configFile+".*")
	if err != nil {
		return fmt.Errorf("instance %s: %w", i.name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("instance %s: %w", i.name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("instance %s: %w", i.name, err)
	}
	if err := os.Rename(tmp.Name(), i.ConfigPath()); err != nil {
		return fmt.Errorf("instance %s: %w", i.name, err)
	}
	return nil
}
