// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// burrow-helper runs inside the sandbox as bubblewrap's child. It
// answers the supervisor over an inherited socket descriptor, spawns
// the application, reaps children, and exits when the application
// does.
//
// Usage:
//
//	burrow-helper --socket-fd <fd> [--ready-fd <fd>] -- <command> [args...]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/burrow/helper"
	"github.com/bureau-foundation/burrow/lib/process"
	"github.com/bureau-foundation/burrow/lib/unixsocket"
	"github.com/bureau-foundation/burrow/lib/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("burrow-helper %s\n", version.Info())
		return
	}
	code, err := run()
	if err != nil {
		process.Fatal(err)
	}
	os.Exit(code)
}

func run() (int, error) {
	fs := pflag.NewFlagSet("burrow-helper", pflag.ContinueOnError)
	socketFD := fs.Int("socket-fd", -1, "inherited helper channel descriptor")
	readyFD := fs.Int("ready-fd", -1, "optional descriptor gating application start")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 0, err
	}
	if *socketFD < 0 {
		return 0, fmt.Errorf("--socket-fd is required")
	}
	command := fs.Args()
	if len(command) == 0 {
		return 0, fmt.Errorf("no application command after --")
	}

	logLevel := slog.LevelInfo
	if os.Getenv("BURROW_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	socket, err := unixsocket.FromFD(*socketFD, "helper-channel")
	if err != nil {
		return 0, fmt.Errorf("helper channel: %w", err)
	}
	defer socket.Close()

	server, err := helper.NewServer(helper.ServerConfig{
		Socket:  socket,
		Command: command,
		ReadyFD: *readyFD,
		Logger:  logger,
	})
	if err != nil {
		return 0, err
	}
	return server.Run(context.Background())
}
