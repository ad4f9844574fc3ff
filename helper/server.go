// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/burrow/lib/unixsocket"
)

// DefaultGrantDir is where passed descriptors are materialized inside
// the sandbox.
const DefaultGrantDir = "/run/burrow/grants"

// termGrace is how long the application gets to exit on SIGTERM
// before the shutdown escalates to SIGKILL.
const termGrace = 5 * time.Second

// ServerConfig configures the in-sandbox endpoint.
type ServerConfig struct {
	// Socket is the helper end of the channel, inherited across the
	// containment boundary.
	Socket *unixsocket.Socket

	// Command is the application argument vector to spawn after the
	// handshake.
	Command []string

	// GrantDir overrides DefaultGrantDir. Tests point it elsewhere.
	GrantDir string

	// ReadyFD, when non-negative, is a descriptor the server reads
	// one byte from before spawning the application. Lets the host
	// finish setup that must precede the application.
	ReadyFD int

	Logger *slog.Logger
}

// Server runs inside the sandbox: it spawns the application, answers
// the host's requests, reaps every child, and exits when the
// application is gone.
type Server struct {
	socket   *unixsocket.Socket
	command  []string
	grantDir string
	readyFD  int
	logger   *slog.Logger

	appPID    int
	appExited bool
	appStatus unix.WaitStatus

	// held keeps granted descriptors open so their /proc/self/fd
	// materializations stay valid for the server's lifetime.
	held []*os.File
}

// NewServer builds a server from its configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Socket == nil {
		return nil, errors.New("helper channel socket is required")
	}
	if len(cfg.Command) == 0 {
		return nil, errors.New("application command is required")
	}
	grantDir := cfg.GrantDir
	if grantDir == "" {
		grantDir = DefaultGrantDir
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socket:   cfg.Socket,
		command:  cfg.Command,
		grantDir: grantDir,
		readyFD:  cfg.ReadyFD,
		logger:   logger,
	}, nil
}

type inbound struct {
	env *Envelope
	fds []int
	err error
}

// Run drives the server to completion and returns the application's
// exit code (128+signal for a signaled exit). The server exits when
// the application does, when a shutdown request completes, or when
// ctx is canceled.
func (s *Server) Run(ctx context.Context) (int, error) {
	defer s.releaseGrants()

	if s.readyFD >= 0 {
		gate := os.NewFile(uintptr(s.readyFD), "ready-fd")
		buf := make([]byte, 1)
		if _, err := gate.Read(buf); err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("ready gate: %w", err)
		}
		gate.Close()
	}

	// Child exits are observed through SIGCHLD and a wait loop, not
	// per-process waiters: orphans inside the sandbox reparent to
	// this process and must be reaped too.
	sigchld := make(chan os.Signal, 1)
	signal.Notify(sigchld, unix.SIGCHLD)
	defer signal.Stop(sigchld)

	if err := sendFrame(s.socket, &Envelope{
		Kind:  KindHello,
		Hello: &Hello{Version: ProtocolVersion, PID: os.Getpid()},
	}, nil); err != nil {
		return 0, fmt.Errorf("send handshake: %w", err)
	}

	if err := s.spawn(); err != nil {
		return 0, err
	}
	s.logger.Info("application started", "pid", s.appPID, "command", strings.Join(s.command, " "))

	frames := make(chan inbound)
	go func() {
		for {
			env, fds, err := recvFrame(s.socket)
			frames <- inbound{env: env, fds: fds, err: err}
			if err != nil {
				return
			}
		}
	}()

	var killTimer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			s.terminate()
			return s.exitCode(), ctx.Err()

		case <-sigchld:
			s.reapChildren()
			if s.appExited {
				s.logger.Info("application exited", "status", s.exitCode())
				return s.exitCode(), nil
			}

		case <-killTimer:
			s.logger.Warn("application ignored SIGTERM, killing", "pid", s.appPID)
			unix.Kill(-s.appPID, unix.SIGKILL)

		case in := <-frames:
			if in.err != nil {
				if errors.Is(in.err, io.EOF) {
					// Host gone: terminate the application and
					// drain.
					s.terminate()
					return s.exitCode(), nil
				}
				s.logger.Error("channel read failed", "error", in.err)
				s.terminate()
				return s.exitCode(), in.err
			}
			shutdown := s.handle(in)
			if shutdown && killTimer == nil {
				unix.Kill(-s.appPID, unix.SIGTERM)
				killTimer = time.After(termGrace)
			}
		}
	}
}

// spawn starts the application in its own process group so shutdown
// signals reach its whole subtree.
func (s *Server) spawn() error {
	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn application: %w", err)
	}
	s.appPID = cmd.Process.Pid
	// The wait loop owns reaping; drop the exec.Cmd bookkeeping.
	cmd.Process.Release()
	return nil
}

// handle answers one request. Returns true when the request asks for
// shutdown.
func (s *Server) handle(in inbound) bool {
	env := in.env
	switch env.Kind {
	case KindPassFD:
		if err := s.acceptGrant(env, in.fds); err != nil {
			closeAll(in.fds)
			s.respondError(env.ID, err)
			return false
		}
		s.respond(&Envelope{ID: env.ID, Kind: KindOK})
		return false

	case KindStatus:
		closeAll(in.fds)
		s.respond(&Envelope{
			ID:     env.ID,
			Kind:   KindOK,
			Status: &Status{Running: !s.appExited, PID: s.appPID},
		})
		return false

	case KindRun:
		closeAll(in.fds)
		pid, err := s.runCommand(env)
		if err != nil {
			s.respondError(env.ID, err)
			return false
		}
		s.respond(&Envelope{
			ID:     env.ID,
			Kind:   KindOK,
			Status: &Status{Running: true, PID: pid},
		})
		return false

	case KindShutdown:
		closeAll(in.fds)
		s.respond(&Envelope{ID: env.ID, Kind: KindOK})
		return true

	default:
		closeAll(in.fds)
		s.respondError(env.ID, fmt.Errorf("unsupported request kind %q", env.Kind))
		return false
	}
}

// runCommand spawns an additional command requested over the channel.
// The wait loop reaps it like any other child; only the application's
// exit ends the server.
func (s *Server) runCommand(env *Envelope) (int, error) {
	if env.Run == nil || len(env.Run.Command) == 0 {
		return 0, errors.New("run request without a command")
	}
	cmd := exec.Command(env.Run.Command[0], env.Run.Command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn command: %w", err)
	}
	pid := cmd.Process.Pid
	cmd.Process.Release()
	s.logger.Info("command started", "pid", pid, "command", strings.Join(env.Run.Command, " "))
	return pid, nil
}

// acceptGrant materializes a passed descriptor in the grant directory
// via a /proc/self/fd symlink, holding the descriptor open so the link
// stays live.
func (s *Server) acceptGrant(env *Envelope, fds []int) error {
	if env.PassFD == nil {
		return errors.New("pass_fd request without metadata")
	}
	if len(fds) != 1 {
		return fmt.Errorf("pass_fd request carried %d descriptors, want 1", len(fds))
	}
	hint := env.PassFD.PathHint
	if hint == "" || hint != filepath.Base(hint) || hint == "." || hint == ".." {
		return fmt.Errorf("invalid path hint %q", hint)
	}

	if err := os.MkdirAll(s.grantDir, 0o700); err != nil {
		return err
	}
	file := os.NewFile(uintptr(fds[0]), hint)
	target := filepath.Join(s.grantDir, hint)
	os.Remove(target)
	if err := os.Symlink("/proc/self/fd/"+strconv.Itoa(fds[0]), target); err != nil {
		file.Close()
		return err
	}
	s.held = append(s.held, file)
	s.logger.Info("descriptor granted",
		"purpose", env.PassFD.Purpose, "path", target)
	return nil
}

func (s *Server) respond(env *Envelope) {
	if err := sendFrame(s.socket, env, nil); err != nil {
		s.logger.Error("send response failed", "kind", env.Kind, "error", err)
	}
}

func (s *Server) respondError(id uint64, cause error) {
	s.respond(&Envelope{ID: id, Kind: KindError, Error: cause.Error()})
}

// reapChildren collects every exited child, recording the
// application's status when it is among them.
func (s *Server) reapChildren() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		if pid == s.appPID {
			s.appExited = true
			s.appStatus = ws
		}
	}
}

// terminate force-stops the application: SIGTERM, a bounded wait,
// then SIGKILL, then a final synchronous reap.
func (s *Server) terminate() {
	if s.appExited || s.appPID == 0 {
		return
	}
	unix.Kill(-s.appPID, unix.SIGTERM)
	deadline := time.Now().Add(termGrace)
	for time.Now().Before(deadline) {
		s.reapChildren()
		if s.appExited {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	unix.Kill(-s.appPID, unix.SIGKILL)
	for !s.appExited {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(s.appPID, &ws, 0, nil)
		if err != nil {
			return
		}
		if pid == s.appPID {
			s.appExited = true
			s.appStatus = ws
		}
	}
}

func (s *Server) exitCode() int {
	if !s.appExited {
		return 0
	}
	if s.appStatus.Signaled() {
		return 128 + int(s.appStatus.Signal())
	}
	return s.appStatus.ExitStatus()
}

func (s *Server) releaseGrants() {
	for _, file := range s.held {
		file.Close()
	}
	s.held = nil
}
