// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"fmt"
)

// Parse error sentinels. Every configuration load failure wraps
// exactly one of these, with context naming the offending service and
// option, so a misconfiguration is diagnosable without reading source.
var (
	// ErrMalformedDocument reports a document that is not valid TOML.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrUnknownService reports a service table whose name is not a
	// registered kind. A misspelled service is a hard failure: it
	// must neither silently drop intended access nor grant unintended
	// access.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownOption reports an option key no service schema
	// declares.
	ErrUnknownOption = errors.New("unknown option")

	// ErrInvalidOptionValue reports an option value outside its
	// schema (non-absolute path, unknown enum value, wrong type).
	ErrInvalidOptionValue = errors.New("invalid option value")
)

// ConflictError reports two services asserting mutually exclusive
// requirements. Resolution fails; no sandbox is launched.
type ConflictError struct {
	First  Kind
	Second Kind

	// Namespace is set for contradictory namespace requirements
	// (one service shares it with the host, the other isolates it).
	Namespace Namespace

	// Dest is set when two services claim the same mount target with
	// different sources or modes.
	Dest string
}

func (e *ConflictError) Error() string {
	if e.Namespace != "" {
		return fmt.Sprintf("service conflict: %s shares the %s namespace with the host but %s isolates it",
			e.First, e.Namespace, e.Second)
	}
	return fmt.Sprintf("service conflict: %s and %s both claim mount target %s with different grants",
		e.First, e.Second, e.Dest)
}
