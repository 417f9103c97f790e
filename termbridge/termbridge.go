// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Package termbridge runs the session's interactive shell: one pty
// child per session, bytes streamed raw in both directions over the
// terminal data channel. The bridge carries no framing of its own; the
// viewer's terminal emulator interprets the stream.
package termbridge

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

// ErrTerminalDenied is returned when Open is called without the
// terminal-access capability.
var ErrTerminalDenied = errors.New("termbridge: terminal access not granted")

// ErrUnsupported is returned on platforms without a pty
// implementation.
var ErrUnsupported = errors.New("termbridge: terminals unsupported on this platform")

// Bridge is one session's shell. Closed exactly once, on session end
// or when the child exits on its own.
type Bridge struct {
	logger *slog.Logger

	mu     sync.Mutex
	shell  *shell
	closed bool
}

// Open spawns the platform shell on a fresh pty. granted is the
// session's terminal-access capability check; the child is never
// spawned without it.
func Open(granted bool, logger *slog.Logger) (*Bridge, error) {
	if !granted {
		return nil, ErrTerminalDenied
	}
	sh, err := startShell()
	if err != nil {
		return nil, err
	}
	logger.Info("terminal opened", "shell", sh.path)
	return &Bridge{logger: logger, shell: sh}, nil
}

// Stream copies bytes between the pty and the peer stream until either
// side ends. The child exiting closes the stream; the session itself
// stays up.
func (b *Bridge) Stream(peer io.ReadWriter) error {
	b.mu.Lock()
	sh := b.shell
	b.mu.Unlock()
	if sh == nil {
		return ErrTerminalDenied
	}

	tty := sh.stream()
	done := make(chan error, 2)
	go func() {
		_, err := io.Copy(tty, peer)
		done <- err
	}()
	go func() {
		_, err := io.Copy(peer, tty)
		done <- err
	}()

	err := <-done
	b.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Resize applies a viewer resize to the pty.
func (b *Bridge) Resize(cols, rows uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shell == nil || b.closed {
		return nil
	}
	return b.shell.resize(cols, rows)
}

// Close tears down the pty and reaps the child. Idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.shell == nil {
		return nil
	}
	b.closed = true
	err := b.shell.close()
	if err != nil {
		b.logger.Debug("terminal teardown", "error", err)
	}
	b.logger.Info("terminal closed")
	return nil
}
