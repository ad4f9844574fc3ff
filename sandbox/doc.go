// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox compiles resolved configurations into bubblewrap
// invocations and supervises the resulting sandboxed process.
//
// Compile produces a LaunchPlan: the exact ordered argument vector for
// bwrap plus the file descriptors it inherits (the seccomp filter and
// the helper channel). Argument order is a correctness invariant, not
// cosmetic. Namespace flags come first, then the instance home bind,
// then the read-only system tree, then per-service mounts in service
// order (later mounts may shadow earlier ones), then environment
// assignments. Every bind source is normalized and checked against the
// allowed roots before it reaches the argument vector; a path that
// escapes them is a security violation, never a warning.
//
// Launch spawns the plan and returns a Handle owning the child's
// lifetime. Whatever goes wrong after the spawn, the child is reaped;
// Terminate signals the process group, closes the helper channel, and
// still waits.
package sandbox
