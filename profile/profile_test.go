// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/burrow/service"
)

func TestParse(t *testing.T) {
	doc := `
name = "image-viewer"
description = "View images from the Pictures directory"
desktop_entry = "viewer.desktop"
mime_types = ["image/png", "image/jpeg"]

[service.wayland]

[service.filesystem]
read_only = ["~/Pictures"]
`
	p, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Name() != "image-viewer" {
		t.Errorf("Name = %q", p.Name())
	}
	if p.DesktopEntry() != "viewer.desktop" {
		t.Errorf("DesktopEntry = %q", p.DesktopEntry())
	}
	if len(p.MimeTypes()) != 2 {
		t.Errorf("MimeTypes = %v", p.MimeTypes())
	}
	services := p.Services()
	if len(services) != 2 || services[0].Kind() != service.KindWayland || services[1].Kind() != service.KindFilesystem {
		t.Errorf("unexpected service sequence: %v", services)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"missing name", "[service.network]\n", service.ErrInvalidOptionValue},
		{"unknown service", "name = \"p\"\n[service.webcam]\n", service.ErrUnknownService},
		{"unknown option", "name = \"p\"\n[service.wayland]\nmonitor = 2\n", service.ErrUnknownOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRegistryBuiltin(t *testing.T) {
	registry := NewRegistry(nil)
	if err := registry.LoadBuiltin(); err != nil {
		t.Fatalf("LoadBuiltin failed: %v", err)
	}

	p, err := registry.Lookup("web-browser")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if p.Services()[0].Kind() != service.KindNetwork {
		t.Errorf("web-browser should lead with the network service")
	}
	if _, err := registry.Lookup("nonexistent"); err == nil {
		t.Error("Lookup of unknown profile should fail")
	}
}

func TestRegistryUserOverridesSystem(t *testing.T) {
	systemDir := t.TempDir()
	userDir := t.TempDir()

	systemDoc := "name = \"editor\"\ndescription = \"system\"\n"
	userDoc := "name = \"editor\"\ndescription = \"user\"\n[service.wayland]\n"
	if err := os.WriteFile(filepath.Join(systemDir, "editor.toml"), []byte(systemDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(userDir, "editor.toml"), []byte(userDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	registry := NewRegistry(nil)
	if err := registry.LoadDirectory(systemDir); err != nil {
		t.Fatalf("LoadDirectory(system) failed: %v", err)
	}
	if err := registry.LoadDirectory(userDir); err != nil {
		t.Fatalf("LoadDirectory(user) failed: %v", err)
	}

	p, err := registry.Lookup("editor")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if p.Description() != "user" {
		t.Errorf("Description = %q, user profile must win the name collision", p.Description())
	}
}

func TestRegistryMissingDirectory(t *testing.T) {
	registry := NewRegistry(nil)
	if err := registry.LoadDirectory("/nonexistent/profiles"); err != nil {
		t.Errorf("missing directory should not be an error, got %v", err)
	}
}
