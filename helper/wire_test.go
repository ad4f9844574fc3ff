// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/bureau-foundation/burrow/lib/codec"
	"github.com/bureau-foundation/burrow/lib/unixsocket"
)

func wirePair(t *testing.T) (*unixsocket.Socket, *unixsocket.Socket) {
	t.Helper()
	a, b, err := unixsocket.Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestFrameRoundTrip(t *testing.T) {
	a, b := wirePair(t)
	sent := &Envelope{
		ID:     7,
		Kind:   KindPassFD,
		PassFD: &PassFD{Purpose: "file picker", PathHint: "chosen.pdf"},
	}
	if err := sendFrame(a, sent, nil); err != nil {
		t.Fatalf("sendFrame: %v", err)
	}
	got, fds, err := recvFrame(b)
	if err != nil {
		t.Fatalf("recvFrame: %v", err)
	}
	if len(fds) != 0 {
		t.Errorf("unexpected descriptors: %v", fds)
	}
	if got.ID != 7 || got.Kind != KindPassFD || got.PassFD == nil || got.PassFD.PathHint != "chosen.pdf" {
		t.Errorf("decoded envelope = %+v", got)
	}
}

func TestFrameLengthMismatch(t *testing.T) {
	a, b := wirePair(t)
	payload, err := codec.Marshal(&Envelope{ID: 1, Kind: KindOK})
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)+3))
	copy(frame[4:], payload)
	if err := a.Send(frame, nil); err != nil {
		t.Fatal(err)
	}

	_, _, err = recvFrame(b)
	var malformed *ErrMalformed
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestFrameIgnoresUnknownFields(t *testing.T) {
	a, b := wirePair(t)
	// A newer peer may add fields; they must not break decoding.
	payload, err := codec.Marshal(map[string]any{
		"id":           uint64(3),
		"kind":         "ok",
		"future_field": "ignored",
	})
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if err := a.Send(frame, nil); err != nil {
		t.Fatal(err)
	}

	env, _, err := recvFrame(b)
	if err != nil {
		t.Fatalf("recvFrame: %v", err)
	}
	if env.ID != 3 || env.Kind != KindOK {
		t.Errorf("envelope = %+v", env)
	}
}
