// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Package capture produces the device's screen frame stream and
// applies remote input, behind a per-platform Backend selected once at
// startup. The Pipeline paces capture, compresses frames, and enforces
// the session's input-control gate; it never sees platform details.
package capture

import (
	"errors"
	"time"
)

// PixelFormatBGRA is the only frame pixel format the pipeline emits:
// 32-bit BGRA, the native layout of every supported capture path.
const PixelFormatBGRA = "bgra8888"

// Frame is one captured screen image, uncompressed.
type Frame struct {
	Width  int
	Height int
	Stride int
	Data   []byte
	At     time.Time
}

// DesktopState classifies what the capture target is showing.
type DesktopState int

const (
	// DesktopNormal is the interactive user desktop.
	DesktopNormal DesktopState = iota
	// DesktopSecure is an elevated or secure context (UAC prompt, lock
	// screen) that an unprivileged capture path cannot see.
	DesktopSecure
)

func (s DesktopState) String() string {
	if s == DesktopSecure {
		return "secure"
	}
	return "normal"
}

// ErrCaptureUnavailable reports that the platform capture path cannot
// produce frames at all (no display, missing permission, unsupported
// platform). The pipeline fails the session on it rather than
// retrying.
var ErrCaptureUnavailable = errors.New("capture: capture unavailable")

// PointerCoordMax is the upper bound of the normalized pointer
// coordinate space. Injected pointer positions are fixed-point
// fractions of the screen: 0 is the left/top edge, PointerCoordMax the
// right/bottom edge, regardless of the host resolution. Backends map
// them to device coordinates.
const PointerCoordMax = 65535

// PointerButton identifies a pointer button in injection calls.
type PointerButton int

const (
	ButtonLeft PointerButton = iota
	ButtonRight
	ButtonMiddle
)

// Backend is the per-platform capture and injection surface. Backends
// are not safe for concurrent use; the Pipeline serializes access.
type Backend interface {
	// Open prepares the backend for the named display. An empty
	// display selects the platform default.
	Open(display string) error

	// CaptureFrame grabs the current screen contents. It returns
	// ErrCaptureUnavailable when the platform path is permanently
	// unable to produce frames.
	CaptureFrame() (*Frame, error)

	// DesktopState reports whether the capture target is the normal
	// desktop or a secure context.
	DesktopState() (DesktopState, error)

	// InjectPointer moves the pointer. x and y are normalized to
	// [0, PointerCoordMax] per axis; the backend scales them to the
	// host resolution.
	InjectPointer(x, y int) error

	// InjectButton presses or releases a pointer button.
	InjectButton(button PointerButton, pressed bool) error

	// InjectKey presses or releases a key, identified by platform
	// scan code.
	InjectKey(code uint32, pressed bool) error

	Close() error
}
