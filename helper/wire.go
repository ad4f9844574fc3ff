// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/burrow/lib/codec"
	"github.com/bureau-foundation/burrow/lib/unixsocket"
)

// ProtocolVersion is declared in the hello message. The wire format
// must stay backward compatible within a major version; unknown fields
// are ignored on decode so either end may be the newer build.
const ProtocolVersion = 1

// maxPayload bounds one message. Control messages are tiny; anything
// larger is a desynchronized or hostile peer.
const maxPayload = 64 * 1024

// Kind tags a message.
type Kind string

// Request kinds (host to helper) and response kinds (helper to host).
const (
	KindHello    Kind = "hello"
	KindPassFD   Kind = "pass_fd"
	KindStatus   Kind = "query_status"
	KindRun      Kind = "run_command"
	KindShutdown Kind = "shutdown"
	KindOK       Kind = "ok"
	KindError    Kind = "error"
)

// Envelope is one protocol message: an identifier pairing requests
// with responses, a kind tag, and the kind-specific body.
type Envelope struct {
	ID   uint64 `cbor:"id"`
	Kind Kind   `cbor:"kind"`

	Hello  *Hello  `cbor:"hello,omitempty"`
	PassFD *PassFD `cbor:"pass_fd,omitempty"`
	Status *Status `cbor:"status,omitempty"`
	Run    *Run    `cbor:"run,omitempty"`
	Error  string  `cbor:"error,omitempty"`
}

// Hello is the helper's startup handshake.
type Hello struct {
	Version int `cbor:"version"`
	PID     int `cbor:"pid"`
}

// PassFD accompanies a descriptor carried as ancillary data.
type PassFD struct {
	// Purpose says why the descriptor is being granted, for the
	// helper's log.
	Purpose string `cbor:"purpose"`

	// PathHint is the name the descriptor is materialized under in
	// the grant directory. A bare name, no path separators.
	PathHint string `cbor:"path_hint"`
}

// Run asks the helper to start an additional command inside the live
// sandbox, alongside the application.
type Run struct {
	Command []string `cbor:"command"`
}

// Status reports the supervised application's state.
type Status struct {
	Running bool `cbor:"running"`
	PID     int  `cbor:"pid"`
}

// ErrMalformed reports a frame that violates the wire format. The
// session cannot continue past one; there is no way to resynchronize.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string { return "malformed message: " + e.Reason }

// sendFrame writes one length-prefixed message, with descriptors
// attached as ancillary data.
func sendFrame(sock *unixsocket.Socket, env *Envelope, fds []int) error {
	payload, err := codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", env.Kind, err)
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%s message exceeds frame limit", env.Kind)
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return sock.Send(frame, fds)
}

// recvFrame reads one message. SEQPACKET preserves boundaries, so the
// length prefix must account for exactly the rest of the datagram.
func recvFrame(sock *unixsocket.Socket) (*Envelope, []int, error) {
	buf := make([]byte, 4+maxPayload)
	n, fds, err := sock.Recv(buf)
	if err != nil {
		return nil, nil, err
	}
	if n == 0 && len(fds) == 0 {
		// A zero-length datagram with no descriptors is how the
		// peer's close surfaces on SEQPACKET.
		return nil, nil, io.EOF
	}
	if n < 4 {
		return nil, fds, &ErrMalformed{Reason: "short frame"}
	}
	length := binary.BigEndian.Uint32(buf)
	if length > maxPayload {
		return nil, fds, &ErrMalformed{Reason: "length prefix exceeds frame limit"}
	}
	if int(length) != n-4 {
		return nil, fds, &ErrMalformed{Reason: fmt.Sprintf("length prefix %d for %d payload bytes", length, n-4)}
	}
	var env Envelope
	if err := codec.Unmarshal(buf[4:n], &env); err != nil {
		return nil, fds, &ErrMalformed{Reason: err.Error()}
	}
	return &env, fds, nil
}
