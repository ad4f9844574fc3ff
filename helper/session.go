// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/burrow/lib/unixsocket"
)

// State is a session's position in its lifecycle.
type State int

const (
	// StateConnecting means the helper's handshake has not arrived.
	StateConnecting State = iota

	// StateReady means the session is idle and can carry a request.
	StateReady

	// StateAwaitingAck means exactly one request is outstanding. The
	// protocol is non-pipelined; a second request is rejected, never
	// queued.
	StateAwaitingAck

	// StateClosing means the channel is spent (desync, end of
	// stream, or acknowledged shutdown) but the sandboxed process
	// has not been confirmed reaped.
	StateClosing

	// StateClosed means the process is reaped and the descriptor
	// released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session faults. A helper fault degrades the dynamic-grant feature;
// it never kills the running application by itself.
var (
	// ErrHelperTimeout means the helper did not respond within the
	// caller's deadline. The session is closed.
	ErrHelperTimeout = errors.New("helper did not respond in time")

	// ErrProtocolDesync means a response carried the wrong request
	// identifier. The session is closing; its ordering guarantee is
	// gone.
	ErrProtocolDesync = errors.New("helper response identifier mismatch")

	// ErrRequestPending rejects an overlapping request.
	ErrRequestPending = errors.New("a request is already outstanding")

	// ErrSessionClosed rejects requests on a spent session.
	ErrSessionClosed = errors.New("helper session is closed")
)

// RemoteError is a failure reported by the helper itself; the session
// stays usable.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "helper: " + e.Message }

// Session is the host end of the helper channel. One per running
// sandbox; safe for concurrent use, with overlapping requests rejected
// rather than serialized.
type Session struct {
	socket *unixsocket.Socket
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	nextID uint64
	peer   Hello
}

// NewSession wraps the supervisor's end of the helper channel. The
// session starts in Connecting; call Handshake before anything else.
func NewSession(socket *unixsocket.Socket, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{socket: socket, logger: logger}
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peer returns the helper's handshake record. Valid after Handshake.
func (s *Session) Peer() Hello {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Handshake waits for the helper's hello. Failure closes the session
// but is recoverable for the caller: the sandbox keeps running without
// dynamic grants.
func (s *Session) Handshake(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("handshake in state %v", s.state)
	}
	s.mu.Unlock()

	env, fds, err := s.receive(ctx)
	closeAll(fds)
	if err != nil {
		return err
	}
	if env.Kind != KindHello || env.Hello == nil {
		s.abandon(StateClosing)
		return &ErrMalformed{Reason: fmt.Sprintf("expected hello, got %s", env.Kind)}
	}

	s.mu.Lock()
	s.peer = *env.Hello
	s.state = StateReady
	s.mu.Unlock()
	s.logger.Debug("helper handshake complete",
		"helper_pid", env.Hello.PID, "helper_version", env.Hello.Version)
	return nil
}

// PassFile grants the running sandbox access to an open file. The
// descriptor travels as ancillary data; the helper materializes it in
// the grant directory under hint.
func (s *Session) PassFile(ctx context.Context, file *os.File, purpose, hint string) error {
	env := &Envelope{
		Kind:   KindPassFD,
		PassFD: &PassFD{Purpose: purpose, PathHint: hint},
	}
	_, err := s.roundTrip(ctx, env, []int{int(file.Fd())})
	return err
}

// QueryStatus asks the helper for the application's state.
func (s *Session) QueryStatus(ctx context.Context) (*Status, error) {
	resp, err := s.roundTrip(ctx, &Envelope{Kind: KindStatus}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		s.abandon(StateClosing)
		return nil, &ErrMalformed{Reason: "status response without status body"}
	}
	return resp.Status, nil
}

// Run starts an additional command inside the live sandbox. The
// returned status carries the spawned process id; the helper reaps it
// like any other child, and its exit does not end the sandbox.
func (s *Session) Run(ctx context.Context, command []string) (*Status, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	resp, err := s.roundTrip(ctx, &Envelope{
		Kind: KindRun,
		Run:  &Run{Command: command},
	}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		s.abandon(StateClosing)
		return nil, &ErrMalformed{Reason: "run response without status body"}
	}
	return resp.Status, nil
}

// Shutdown asks the helper to terminate the application cleanly. An
// acknowledged shutdown moves the session to Closing; the supervisor's
// reap completes the transition to Closed.
func (s *Session) Shutdown(ctx context.Context) error {
	if _, err := s.roundTrip(ctx, &Envelope{Kind: KindShutdown}, nil); err != nil {
		return err
	}
	s.abandon(StateClosing)
	return nil
}

// Close releases the channel descriptor and finishes the lifecycle.
// Called by the supervisor once the sandboxed process is reaped.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	return s.socket.Close()
}

// roundTrip performs one request/response exchange. The one-
// outstanding-request discipline is enforced here, not by caller
// convention.
func (s *Session) roundTrip(ctx context.Context, env *Envelope, fds []int) (*Envelope, error) {
	s.mu.Lock()
	switch s.state {
	case StateAwaitingAck:
		s.mu.Unlock()
		return nil, ErrRequestPending
	case StateReady:
	default:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.nextID++
	id := s.nextID
	s.state = StateAwaitingAck
	s.mu.Unlock()

	env.ID = id
	if err := sendFrame(s.socket, env, fds); err != nil {
		s.abandon(StateClosing)
		return nil, fmt.Errorf("send %s request: %w", env.Kind, err)
	}

	resp, respFDs, err := s.receive(ctx)
	closeAll(respFDs)
	if err != nil {
		return nil, err
	}
	if resp.ID != id {
		s.abandon(StateClosing)
		s.logger.Error("helper protocol desync",
			"expected_id", id, "received_id", resp.ID)
		return nil, ErrProtocolDesync
	}
	if resp.Kind == KindError {
		s.setState(StateReady)
		return nil, &RemoteError{Message: resp.Error}
	}

	s.setState(StateReady)
	return resp, nil
}

// receive reads one frame under the context deadline. A timeout or a
// malformed frame spends the session. The caller owns any received
// descriptors.
func (s *Session) receive(ctx context.Context) (*Envelope, []int, error) {
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Time{}
	}
	if err := s.socket.SetReadDeadline(deadline); err != nil {
		return nil, nil, err
	}
	// Cancellation without a deadline must still unblock the read;
	// expiring the deadline surfaces it as a timeout below.
	stop := context.AfterFunc(ctx, func() {
		s.socket.SetReadDeadline(time.Now())
	})
	defer stop()

	env, fds, err := recvFrame(s.socket)
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		closeAll(fds)
		// No response within the bound: the channel is dead. The
		// application itself is left alone.
		s.abandon(StateClosed)
		s.socket.Close()
		return nil, nil, ErrHelperTimeout
	case err != nil:
		closeAll(fds)
		s.abandon(StateClosing)
		return nil, nil, err
	}
	return env, fds, nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// abandon moves to a terminal-side state unless already Closed.
func (s *Session) abandon(state State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = state
	}
	s.mu.Unlock()
}

func closeAll(fds []int) {
	for _, fd := range fds {
		os.NewFile(uintptr(fd), "discarded").Close()
	}
}
