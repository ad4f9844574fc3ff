// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for burrow
// binaries: fatal error reporting to stderr before the structured
// logger exists, and process exit after an unrecoverable error in
// main(). All other output in burrow binaries goes through log/slog.
package process
