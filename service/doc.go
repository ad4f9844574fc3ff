// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service defines the declarative capability model for burrow
// sandboxes and the resolver that flattens it.
//
// A [Service] is one unit of sandbox capability: filesystem paths, host
// network access, the audio server socket, a display server, the
// session bus, direct rendering. The variant set is closed: every kind
// is declared in this package and dispatched exhaustively wherever
// kind-specific behavior exists: the merge policy here, mount
// compilation in the sandbox package, and syscall contribution in the
// seccomp package. Adding a kind is a compile-visible change in each.
//
// Services are declared in TOML documents: profile documents (read-only
// templates, see the profile package) and per-instance configurations
// ([ParseOverrides]). Parsing is strict: an unknown service name or
// option key is a hard failure, because a misspelled grant must neither
// silently drop intended access nor silently widen it.
//
// [Resolve] merges a profile's service list with an instance's
// [Overrides] into a [Resolved] configuration: profile order preserved,
// same-kind overrides merged by per-kind policy (lists concatenate and
// de-duplicate, scalars are replaced), removed kinds dropped, new kinds
// appended in declaration order. Resolution is a pure function of its
// inputs and fails with [ConflictError] when two services assert
// mutually exclusive namespace or mount-target requirements.
package service
