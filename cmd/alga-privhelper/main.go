// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Alga-privhelper is the small elevated companion to alga-agent. It
// owns a privileged capture backend (one that can see secure desktops)
// and serves it to the unprivileged agent over a local socket with the
// privilege-bridge protocol. It holds no keys and talks to no network.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nine-minds/alga-remote/capture"
	"github.com/nine-minds/alga-remote/capture/privbridge"
)

// statePollInterval is how often the helper re-checks the desktop
// state to push transitions to the agent.
const statePollInterval = 500 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socketPath string
		display    string
		logLevel   string
	)
	pflag.StringVar(&socketPath, "socket", "/run/alga/privhelper.sock", "local socket to serve the bridge on")
	pflag.StringVar(&display, "display", "", "capture display (platform default when empty)")
	pflag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	backend := capture.NewBackend()
	if err := backend.Open(display); err != nil {
		return fmt.Errorf("opening capture backend: %w", err)
	}
	defer backend.Close()

	os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer listener.Close()
	// Owner-only: the agent runs as the same service account.
	os.Chmod(socketPath, 0o600)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	server := privbridge.NewServer(backend, logger)
	logger.Info("privhelper listening", "socket", socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logger.Info("agent connected")

		// Push desktop-state transitions while the connection serves.
		connCtx, cancel := context.WithCancel(ctx)
		go pushDesktopState(connCtx, server, conn, backend, logger)

		if err := server.Serve(conn); err != nil {
			logger.Warn("bridge connection ended", "error", err)
		}
		cancel()
	}
}

// pushDesktopState polls the backend and pushes transitions to the
// agent so the pipeline can hand off promptly.
func pushDesktopState(ctx context.Context, server *privbridge.Server, conn net.Conn, backend capture.Backend, logger *slog.Logger) {
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()

	last := capture.DesktopNormal
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := backend.DesktopState()
			if err != nil || state == last {
				continue
			}
			last = state
			if err := server.PushDesktopState(conn, state == capture.DesktopSecure); err != nil {
				logger.Debug("pushing desktop state failed", "error", err)
				return
			}
		}
	}
}
