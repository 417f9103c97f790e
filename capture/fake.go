// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"sync"
	"time"
)

// FakeBackend is an in-memory Backend for tests: it serves a fixed
// test pattern, records every injection, and lets tests flip the
// desktop state or force a capture failure.
type FakeBackend struct {
	mu sync.Mutex

	width  int
	height int
	serial byte

	state      DesktopState
	captureErr error

	PointerMoves [][2]int
	ButtonEvents []ButtonEvent
	KeyEvents    []KeyEvent
}

// ButtonEvent is one recorded InjectButton call.
type ButtonEvent struct {
	Button  PointerButton
	Pressed bool
}

// KeyEvent is one recorded InjectKey call.
type KeyEvent struct {
	Code    uint32
	Pressed bool
}

// NewFakeBackend returns a backend serving width x height frames.
func NewFakeBackend(width, height int) *FakeBackend {
	return &FakeBackend{width: width, height: height}
}

func (b *FakeBackend) Open(display string) error { return nil }

func (b *FakeBackend) CaptureFrame() (*Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.captureErr != nil {
		return nil, b.captureErr
	}
	b.serial++
	data := make([]byte, b.width*b.height*4)
	for i := range data {
		data[i] = b.serial
	}
	return &Frame{
		Width:  b.width,
		Height: b.height,
		Stride: b.width * 4,
		Data:   data,
		At:     time.Now(),
	}, nil
}

func (b *FakeBackend) DesktopState() (DesktopState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, nil
}

// SetDesktopState flips what DesktopState reports.
func (b *FakeBackend) SetDesktopState(state DesktopState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
}

// FailCapture makes every subsequent CaptureFrame return err.
func (b *FakeBackend) FailCapture(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captureErr = err
}

func (b *FakeBackend) InjectPointer(x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PointerMoves = append(b.PointerMoves, [2]int{x, y})
	return nil
}

func (b *FakeBackend) InjectButton(button PointerButton, pressed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ButtonEvents = append(b.ButtonEvents, ButtonEvent{Button: button, Pressed: pressed})
	return nil
}

func (b *FakeBackend) InjectKey(code uint32, pressed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.KeyEvents = append(b.KeyEvents, KeyEvent{Code: code, Pressed: pressed})
	return nil
}

func (b *FakeBackend) Close() error { return nil }
