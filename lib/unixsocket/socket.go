// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package unixsocket

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// oobCapacity is the ancillary data buffer size for Recv. One page is
// far more than the handful of descriptors a pass_fd request carries.
const oobCapacity = 4096

// Socket is a SOCK_SEQPACKET Unix socket that can carry file
// descriptors as SCM_RIGHTS ancillary data. SEQPACKET preserves
// message boundaries, so one Send corresponds to exactly one Recv and
// ancillary data is unambiguously attached to its message.
type Socket struct {
	*net.UnixConn
}

// Pair creates a connected SEQPACKET socketpair. Both ends are
// close-on-exec; an end crosses an exec boundary only when explicitly
// inherited (via exec.Cmd.ExtraFiles or equivalent).
func Pair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	first, err := FromFD(fds[0], "socketpair-0")
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	second, err := FromFD(fds[1], "socketpair-1")
	if err != nil {
		first.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return first, second, nil
}

// FromFD wraps an existing socket descriptor. The descriptor is
// duplicated into the Go runtime's ownership; the original fd is
// closed. Returns an error if fd is not a SEQPACKET Unix socket.
func FromFD(fd int, name string) (*Socket, error) {
	unix.CloseOnExec(fd)
	file := os.NewFile(uintptr(fd), name)
	if file == nil {
		return nil, fmt.Errorf("fd %d is not a valid descriptor", fd)
	}
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("fd %d: %w", fd, err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("fd %d is not a unix socket", fd)
	}
	return &Socket{unixConn}, nil
}

// File returns a duplicate of the socket as an *os.File, suitable for
// exec.Cmd.ExtraFiles. The socket remains usable; the caller owns the
// returned file.
func (s *Socket) File() (*os.File, error) {
	return s.UnixConn.File()
}

// Send writes one message with optional file descriptors attached as
// SCM_RIGHTS ancillary data.
func (s *Socket) Send(b []byte, fds []int) error {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	_, _, err := s.WriteMsgUnix(b, oob, nil)
	return err
}

// Recv reads one message into b. Returns the number of payload bytes
// and any file descriptors received with the message. Received
// descriptors are marked close-on-exec; the caller owns them.
func (s *Socket) Recv(b []byte) (int, []int, error) {
	oob := make([]byte, oobCapacity)
	n, oobn, _, _, err := s.ReadMsgUnix(b, oob)
	if err != nil {
		return 0, nil, err
	}
	if oobn == 0 {
		return n, nil, nil
	}

	messages, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return n, nil, fmt.Errorf("parse control message: %w", err)
	}
	var fds []int
	for _, m := range messages {
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		received, err := unix.ParseUnixRights(&m)
		if err != nil {
			return n, nil, fmt.Errorf("parse unix rights: %w", err)
		}
		for _, fd := range received {
			unix.CloseOnExec(fd)
		}
		fds = append(fds, received...)
	}
	return n, fds, nil
}
