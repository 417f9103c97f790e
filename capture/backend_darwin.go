// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

//go:build darwin

package capture

// darwinBackend reports capture as unavailable. ScreenCaptureKit
// requires a cgo bridge and per-app TCC consent; until that lands the
// agent on macOS serves terminal sessions only.
type darwinBackend struct{}

// NewBackend returns the platform capture backend.
func NewBackend() Backend {
	return &darwinBackend{}
}

func (b *darwinBackend) Open(display string) error               { return ErrCaptureUnavailable }
func (b *darwinBackend) CaptureFrame() (*Frame, error)           { return nil, ErrCaptureUnavailable }
func (b *darwinBackend) DesktopState() (DesktopState, error)     { return DesktopNormal, nil }
func (b *darwinBackend) InjectPointer(x, y int) error            { return ErrCaptureUnavailable }
func (b *darwinBackend) InjectButton(PointerButton, bool) error  { return ErrCaptureUnavailable }
func (b *darwinBackend) InjectKey(code uint32, down bool) error  { return ErrCaptureUnavailable }
func (b *darwinBackend) Close() error                            { return nil }
