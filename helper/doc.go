// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package helper implements both ends of the control protocol between
// the host supervisor and the process living inside the sandbox.
//
// The channel is a SEQPACKET socketpair inherited across the
// containment boundary; neither side ever connects by name, since the
// sandbox cannot see host paths. Messages are length-prefixed CBOR
// envelopes, with file descriptors carried as ancillary data. The
// protocol is non-pipelined: the host keeps at most one
// request outstanding, so request/response pairing is auditable by
// inspection.
//
// Session is the host side, an explicit state machine
// (Connecting, Ready, AwaitingAck, Closing, Closed). Server is the
// sandbox side: it spawns the application after the handshake, reaps
// every child, materializes dynamically granted descriptors, and exits
// when the application does.
package helper
