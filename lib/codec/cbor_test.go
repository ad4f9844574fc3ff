// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{
		"zeta":  "last",
		"alpha": 1,
		"mid":   []string{"a", "b"},
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("repeated Marshal produced different bytes:\n%x\n%x", first, second)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type narrow struct {
		Name string `cbor:"name"`
	}

	data, err := Marshal(map[string]any{
		"name":    "helper",
		"unknown": "from a newer build",
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got narrow
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Name != "helper" {
		t.Errorf("Name = %q, want %q", got.Name, "helper")
	}
}
