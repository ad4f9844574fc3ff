// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile loads the read-only profile templates that instances
// base their configuration on. Profiles come from built-in defaults, a
// system directory, and a user directory, in that precedence order.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/bureau-foundation/burrow/service"
)

// Profile is a read-only, named template of services for a class of
// application. Profiles are immutable once loaded; instances layer
// their overrides on top at resolve time and never mutate the
// template.
type Profile struct {
	name         string
	description  string
	desktopEntry string
	mimeTypes    []string
	services     []service.Service
}

// Name returns the profile's name.
func (p *Profile) Name() string { return p.name }

// Description returns the human-readable description.
func (p *Profile) Description() string { return p.description }

// DesktopEntry returns the desktop entry file this profile is
// associated with, or empty. Copying the entry into place is the
// desktop-integration collaborator's job.
func (p *Profile) DesktopEntry() string { return p.desktopEntry }

// MimeTypes returns the MIME types the profiled application handles.
func (p *Profile) MimeTypes() []string {
	types := make([]string, len(p.mimeTypes))
	copy(types, p.mimeTypes)
	return types
}

// Services returns the profile's service sequence in declaration
// order. The slice is a copy; the services are shared and immutable.
func (p *Profile) Services() []service.Service {
	services := make([]service.Service, len(p.services))
	copy(services, p.services)
	return services
}

// profileDoc is the on-disk shape of a profile document. Service
// tables share their schema with instance configurations.
type profileDoc struct {
	Name         string                    `toml:"name"`
	Description  string                    `toml:"description,omitempty"`
	DesktopEntry string                    `toml:"desktop_entry,omitempty"`
	MimeTypes    []string                  `toml:"mime_types,omitempty"`
	Service      map[string]toml.Primitive `toml:"service,omitempty"`
}

// Parse parses one profile document. Parse errors carry the service
// package's sentinel taxonomy.
func Parse(data []byte) (*Profile, error) {
	var doc profileDoc
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrMalformedDocument, err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("%w: profile document has no name", service.ErrInvalidOptionValue)
	}

	services, err := service.DecodeServices(&md, doc.Service)
	if err != nil {
		return nil, err
	}
	if err := service.UndecodedError(&md); err != nil {
		return nil, err
	}

	return &Profile{
		name:         doc.Name,
		description:  doc.Description,
		desktopEntry: doc.DesktopEntry,
		mimeTypes:    doc.MimeTypes,
		services:     services,
	}, nil
}

// Registry holds loaded profiles. It is populated once at process
// start and read-only afterwards, so concurrent instance launches can
// share it without locking.
type Registry struct {
	profiles map[string]*Profile
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger disables load
// logging.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		profiles: make(map[string]*Profile),
		logger:   logger,
	}
}

// LoadBuiltin loads the built-in default profiles.
func (r *Registry) LoadBuiltin() error {
	for _, doc := range builtinProfiles {
		p, err := Parse([]byte(doc))
		if err != nil {
			return fmt.Errorf("built-in profile: %w", err)
		}
		r.profiles[p.Name()] = p
	}
	r.log("loaded built-in profiles", "count", len(builtinProfiles))
	return nil
}

// LoadDirectory loads every .toml file in dir. A missing directory is
// not an error. Load directories from lowest to highest precedence: a
// later load of the same profile name replaces the earlier one, which
// is how a user profile overrides a system profile.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read profile directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read profile %s: %w", path, err)
		}
		p, err := Parse(data)
		if err != nil {
			return fmt.Errorf("profile %s: %w", path, err)
		}
		if _, replaced := r.profiles[p.Name()]; replaced {
			r.log("profile overridden", "name", p.Name(), "path", path)
		}
		r.profiles[p.Name()] = p
	}
	return nil
}

// Lookup returns the named profile, or an error listing it as unknown.
func (r *Registry) Lookup(name string) (*Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile not found: %s", name)
	}
	return p, nil
}

// Names returns all profile names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) log(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
