// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package unixsocket

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestPairRoundTrip(t *testing.T) {
	a, b, err := Pair()
	if err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	defer a.Close()
	defer b.Close()

	want := []byte("one message")
	if err := a.Send(want, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	buf := make([]byte, 64)
	n, fds, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("Recv = %q, want %q", buf[:n], want)
	}
	if len(fds) != 0 {
		t.Errorf("Recv returned %d unexpected fds", len(fds))
	}
}

func TestPairPreservesMessageBoundaries(t *testing.T) {
	a, b, err := Pair()
	if err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	defer a.Close()
	defer b.Close()

	if err := a.Send([]byte("first"), nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := a.Send([]byte("second"), nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(buf[:n]) != "first" {
		t.Errorf("first Recv = %q, want %q", buf[:n], "first")
	}
	n, _, err = b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(buf[:n]) != "second" {
		t.Errorf("second Recv = %q, want %q", buf[:n], "second")
	}
}

func TestSendReceiveFD(t *testing.T) {
	a, b, err := Pair()
	if err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	defer a.Close()
	defer b.Close()

	path := filepath.Join(t.TempDir(), "grant.txt")
	if err := os.WriteFile(path, []byte("granted content"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer file.Close()

	if err := a.Send([]byte("pass"), []int{int(file.Fd())}); err != nil {
		t.Fatalf("Send with fd failed: %v", err)
	}

	buf := make([]byte, 16)
	_, fds, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if len(fds) != 1 {
		t.Fatalf("received %d fds, want 1", len(fds))
	}

	received := os.NewFile(uintptr(fds[0]), "received")
	defer received.Close()
	data := make([]byte, 32)
	n, err := received.Read(data)
	if err != nil {
		t.Fatalf("read received fd: %v", err)
	}
	if string(data[:n]) != "granted content" {
		t.Errorf("received fd content = %q, want %q", data[:n], "granted content")
	}
}
