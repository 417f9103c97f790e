// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package termbridge

import (
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// shell is one pty child.
type shell struct {
	path string
	pty  *os.File
	cmd  *exec.Cmd
}

func startShell() (*shell, error) {
	path := os.Getenv("SHELL")
	if path == "" {
		path = "/bin/sh"
	}
	cmd := exec.Command(path, "-l")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	return &shell{path: path, pty: ptmx, cmd: cmd}, nil
}

func (s *shell) stream() io.ReadWriter { return s.pty }

func (s *shell) resize(cols, rows uint16) error {
	return pty.Setsize(s.pty, &pty.Winsize{Cols: cols, Rows: rows})
}

func (s *shell) close() error {
	s.pty.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
