// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/burrow/lib/unixsocket"
)

// newSessionPair returns a session and the scripted peer's end of the
// channel. Both ends are closed at test cleanup.
func newSessionPair(t *testing.T) (*Session, *unixsocket.Socket) {
	t.Helper()
	host, peer, err := unixsocket.Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	t.Cleanup(func() {
		host.Close()
		peer.Close()
	})
	return NewSession(host, nil), peer
}

func sendHello(t *testing.T, peer *unixsocket.Socket) {
	t.Helper()
	err := sendFrame(peer, &Envelope{
		Kind:  KindHello,
		Hello: &Hello{Version: ProtocolVersion, PID: 42},
	}, nil)
	if err != nil {
		t.Fatalf("send hello: %v", err)
	}
}

func readyCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHandshake(t *testing.T) {
	session, peer := newSessionPair(t)
	if session.State() != StateConnecting {
		t.Fatalf("initial state = %v, want connecting", session.State())
	}
	sendHello(t, peer)
	if err := session.Handshake(readyCtx(t)); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if session.State() != StateReady {
		t.Errorf("state = %v, want ready", session.State())
	}
	if peer := session.Peer(); peer.PID != 42 || peer.Version != ProtocolVersion {
		t.Errorf("peer = %+v", peer)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	session, _ := newSessionPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := session.Handshake(ctx); !errors.Is(err, ErrHelperTimeout) {
		t.Fatalf("Handshake err = %v, want ErrHelperTimeout", err)
	}
	if session.State() != StateClosed {
		t.Errorf("state = %v, want closed", session.State())
	}
}

// A cancelable context with no deadline must still unblock a pending
// read; a silent helper cannot hang the supervisor.
func TestCancellationUnblocksRequest(t *testing.T) {
	session, peer := newSessionPair(t)
	sendHello(t, peer)
	if err := session.Handshake(readyCtx(t)); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := session.QueryStatus(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrHelperTimeout) {
			t.Fatalf("QueryStatus err = %v, want ErrHelperTimeout", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("QueryStatus still blocked after cancellation")
	}
	if session.State() != StateClosed {
		t.Errorf("state = %v, want closed", session.State())
	}
}

func TestPassFileTimeoutClosesSession(t *testing.T) {
	session, peer := newSessionPair(t)
	sendHello(t, peer)
	if err := session.Handshake(readyCtx(t)); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	file, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	// The peer never answers.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = session.PassFile(ctx, file, "test", "grant")
	if !errors.Is(err, ErrHelperTimeout) {
		t.Fatalf("PassFile err = %v, want ErrHelperTimeout", err)
	}
	if session.State() != StateClosed {
		t.Errorf("state = %v, want closed", session.State())
	}

	// The session is spent; further requests fail fast.
	if _, err := session.QueryStatus(readyCtx(t)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("QueryStatus on closed session err = %v, want ErrSessionClosed", err)
	}
}

func TestMismatchedResponseID(t *testing.T) {
	session, peer := newSessionPair(t)
	sendHello(t, peer)
	if err := session.Handshake(readyCtx(t)); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	go func() {
		env, _, err := recvFrame(peer)
		if err != nil {
			return
		}
		sendFrame(peer, &Envelope{ID: env.ID + 17, Kind: KindOK}, nil)
	}()

	_, err := session.QueryStatus(readyCtx(t))
	if !errors.Is(err, ErrProtocolDesync) {
		t.Fatalf("QueryStatus err = %v, want ErrProtocolDesync", err)
	}
	if session.State() != StateClosing {
		t.Errorf("state = %v, want closing", session.State())
	}
}

func TestOverlappingRequestsRejected(t *testing.T) {
	session, peer := newSessionPair(t)
	sendHello(t, peer)
	if err := session.Handshake(readyCtx(t)); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	// The peer delays its answer long enough for a second request to
	// arrive in the middle.
	release := make(chan struct{})
	go func() {
		env, _, err := recvFrame(peer)
		if err != nil {
			return
		}
		<-release
		sendFrame(peer, &Envelope{ID: env.ID, Kind: KindOK, Status: &Status{Running: true, PID: 1}}, nil)
	}()

	firstDone := make(chan error, 1)
	go func() {
		_, err := session.QueryStatus(readyCtx(t))
		firstDone <- err
	}()

	// Wait for the first request to be in flight.
	deadline := time.Now().Add(2 * time.Second)
	for session.State() != StateAwaitingAck {
		if time.Now().After(deadline) {
			t.Fatal("first request never reached awaiting-ack")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := session.QueryStatus(readyCtx(t)); !errors.Is(err, ErrRequestPending) {
		t.Fatalf("overlapping request err = %v, want ErrRequestPending", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if session.State() != StateReady {
		t.Errorf("state = %v, want ready", session.State())
	}
}

func TestRemoteErrorKeepsSessionUsable(t *testing.T) {
	session, peer := newSessionPair(t)
	sendHello(t, peer)
	if err := session.Handshake(readyCtx(t)); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	go func() {
		env, _, err := recvFrame(peer)
		if err != nil {
			return
		}
		sendFrame(peer, &Envelope{ID: env.ID, Kind: KindError, Error: "no such thing"}, nil)
	}()

	_, err := session.QueryStatus(readyCtx(t))
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("QueryStatus err = %v, want RemoteError", err)
	}
	if session.State() != StateReady {
		t.Errorf("state = %v, want ready after a remote error", session.State())
	}
}

func TestShutdownMovesToClosing(t *testing.T) {
	session, peer := newSessionPair(t)
	sendHello(t, peer)
	if err := session.Handshake(readyCtx(t)); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	go func() {
		env, _, err := recvFrame(peer)
		if err != nil {
			return
		}
		sendFrame(peer, &Envelope{ID: env.ID, Kind: KindOK}, nil)
	}()

	if err := session.Shutdown(readyCtx(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if session.State() != StateClosing {
		t.Errorf("state = %v, want closing", session.State())
	}
	if err := session.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if session.State() != StateClosed {
		t.Errorf("state = %v, want closed", session.State())
	}
}
