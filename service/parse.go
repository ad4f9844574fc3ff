// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// overridesDoc is the on-disk shape of an instance configuration.
// Service tables are decoded in a second pass so unknown service names
// and unknown options fail loudly instead of being dropped.
type overridesDoc struct {
	Profile string                    `toml:"profile,omitempty"`
	Removed []string                  `toml:"removed_services,omitempty"`
	Service map[string]toml.Primitive `toml:"service,omitempty"`
}

// ParseOverrides parses an instance configuration document. The error
// wraps exactly one of the parse sentinels (ErrMalformedDocument,
// ErrUnknownService, ErrUnknownOption, ErrInvalidOptionValue) and
// names the offending service and option. A failed parse is never
// partially applied.
func ParseOverrides(data []byte) (*Overrides, error) {
	var doc overridesDoc
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	services, err := DecodeServices(&md, doc.Service)
	if err != nil {
		return nil, err
	}
	if err := UndecodedError(&md); err != nil {
		return nil, err
	}

	removed := make([]Kind, 0, len(doc.Removed))
	for _, name := range doc.Removed {
		kind := Kind(name)
		if _, ok := kinds[kind]; !ok {
			return nil, fmt.Errorf("%w: removed_services entry %q", ErrUnknownService, name)
		}
		removed = append(removed, kind)
	}

	return &Overrides{
		Profile:  doc.Profile,
		Services: services,
		Removed:  removed,
	}, nil
}

// DecodeServices decodes the [service.*] tables of a document into
// typed services, in document order. Shared by instance configurations
// and profile documents, which carry the same table shape.
func DecodeServices(md *toml.MetaData, tables map[string]toml.Primitive) ([]Service, error) {
	services := make([]Service, 0, len(tables))
	for _, name := range serviceTableOrder(md) {
		prim, ok := tables[name]
		if !ok {
			continue
		}
		factory, ok := kinds[Kind(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownService, name)
		}
		svc := factory()
		if err := md.PrimitiveDecode(prim, svc); err != nil {
			return nil, fmt.Errorf("%w: service %s: %v", ErrInvalidOptionValue, name, err)
		}
		if err := svc.Validate(); err != nil {
			return nil, fmt.Errorf("%w: service %s: %v", ErrInvalidOptionValue, name, err)
		}
		services = append(services, svc)
	}
	return services, nil
}

// serviceTableOrder extracts service table names in the order they
// appear in the document. TOML maps are unordered after decoding, but
// MetaData.Keys preserves document order, and override-declaration
// order is a contract of the resolver.
func serviceTableOrder(md *toml.MetaData) []string {
	var order []string
	seen := make(map[string]bool)
	for _, key := range md.Keys() {
		if len(key) < 2 || key[0] != "service" {
			continue
		}
		name := key[1]
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	return order
}

// UndecodedError converts leftover undecoded keys into an
// ErrUnknownOption naming the offending service and option. Returns
// nil when every key in the document was consumed by a schema.
func UndecodedError(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	key := undecoded[0]
	if len(key) >= 3 && key[0] == "service" {
		return fmt.Errorf("%w: service %s has no option %q", ErrUnknownOption, key[1], strings.Join(key[2:], "."))
	}
	return fmt.Errorf("%w: %q", ErrUnknownOption, key.String())
}

// EncodeOverrides serializes an override set back to its document
// form. Service declaration order is preserved so that re-parsing
// yields a resolver-equivalent configuration.
func EncodeOverrides(o *Overrides) ([]byte, error) {
	var buf bytes.Buffer

	if o.Profile != "" {
		fmt.Fprintf(&buf, "profile = %s\n", strconv.Quote(o.Profile))
	}
	if len(o.Removed) > 0 {
		names := make([]string, len(o.Removed))
		for i, kind := range o.Removed {
			names[i] = strconv.Quote(string(kind))
		}
		fmt.Fprintf(&buf, "removed_services = [%s]\n", strings.Join(names, ", "))
	}

	for _, svc := range o.Services {
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "[service.%s]\n", svc.Kind())
		encoder := toml.NewEncoder(&buf)
		if err := encoder.Encode(svc); err != nil {
			return nil, fmt.Errorf("encode service %s: %w", svc.Kind(), err)
		}
	}

	return buf.Bytes(), nil
}
