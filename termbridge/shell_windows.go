// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package termbridge

import "io"

// ConPTY support needs the pseudoconsole API wiring; until then
// Windows agents decline terminal-access at the capability layer.
type shell struct {
	path string
}

func (s *shell) stream() io.ReadWriter { return nil }

func startShell() (*shell, error) {
	return nil, ErrUnsupported
}

func (s *shell) resize(cols, rows uint16) error { return ErrUnsupported }
func (s *shell) close() error                   { return ErrUnsupported }
