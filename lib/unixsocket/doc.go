// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package unixsocket provides a SOCK_SEQPACKET Unix socketpair with
// SCM_RIGHTS file descriptor passing.
//
// This is the transport under the helper channel: the supervisor
// creates a [Pair] before launching the containment primitive, keeps
// one end, and passes the other into the sandbox by descriptor
// inheritance. SEQPACKET gives reliable, ordered, message-delimited
// delivery, so each protocol frame maps to exactly one Send/Recv and
// descriptors arrive attached to the frame that describes them.
package unixsocket
