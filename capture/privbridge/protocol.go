// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Package privbridge carries capture and injection across the
// privilege boundary: the unprivileged agent talks to a small elevated
// helper over a local stream socket with length-prefixed CBOR
// messages. Message passing only; the two processes share no memory,
// so a compromised agent cannot reach into the helper.
package privbridge

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nine-minds/alga-remote/lib/codec"
)

// ProtocolVersion is negotiated in the hello exchange. Both sides must
// match exactly; the helper ships with the agent.
const ProtocolVersion = 1

// maxMessageSize caps one framed message. Covers a 4K BGRA frame with
// headroom.
const maxMessageSize = 16 << 20

// MsgType discriminates bridge messages.
type MsgType uint8

const (
	MsgHello MsgType = iota + 1
	MsgHelloAck
	MsgDesktopState
	MsgStartCapture
	MsgStopCapture
	MsgFrame
	MsgInject
	MsgError
)

// Message is the bridge frame. Exactly one payload field is set,
// matching Type.
type Message struct {
	Type MsgType `cbor:"1,keyasint"`

	Hello        *Hello        `cbor:"2,keyasint,omitempty"`
	HelloAck     *HelloAck     `cbor:"3,keyasint,omitempty"`
	DesktopState *DesktopState `cbor:"4,keyasint,omitempty"`
	Frame        *FramePayload `cbor:"5,keyasint,omitempty"`
	Inject       *Inject       `cbor:"6,keyasint,omitempty"`
	Error        *Error        `cbor:"7,keyasint,omitempty"`
}

// Hello opens the exchange from the agent side.
type Hello struct {
	Version int `cbor:"1,keyasint"`
}

// HelloAck confirms the version from the helper side.
type HelloAck struct {
	Version int `cbor:"1,keyasint"`
}

// DesktopState is pushed by the helper whenever the desktop changes
// between normal and secure.
type DesktopState struct {
	Secure bool `cbor:"1,keyasint"`
}

// FramePayload is one captured frame from the helper's privileged
// capture path. Pixels are raw BGRA; compression happens in the
// pipeline, once, next to the network.
type FramePayload struct {
	Width  int    `cbor:"1,keyasint"`
	Height int    `cbor:"2,keyasint"`
	Stride int    `cbor:"3,keyasint"`
	Data   []byte `cbor:"4,keyasint"`
	At     int64  `cbor:"5,keyasint"` // Unix milliseconds
}

// Inject operation names.
const (
	InjectPointer = "pointer"
	InjectButton  = "button"
	InjectKey     = "key"
)

// Inject forwards one input event to the helper for the secure
// desktop. Pointer coordinates are normalized 0..65535 per axis, the
// same fixed-point space the capture backends consume.
type Inject struct {
	Op      string `cbor:"1,keyasint"`
	X       int    `cbor:"2,keyasint,omitempty"`
	Y       int    `cbor:"3,keyasint,omitempty"`
	Button  int    `cbor:"4,keyasint,omitempty"`
	Code    uint32 `cbor:"5,keyasint,omitempty"`
	Pressed bool   `cbor:"6,keyasint,omitempty"`
}

// Error reports a helper-side failure.
type Error struct {
	Detail string `cbor:"1,keyasint"`
}

// WriteMessage frames and writes one message: 4-byte big-endian
// length, then CBOR.
func WriteMessage(w io.Writer, m *Message) error {
	payload, err := codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("privbridge: encoding message: %w", err)
	}
	if len(payload) > maxMessageSize {
		return fmt.Errorf("privbridge: message of %d bytes exceeds limit", len(payload))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage reads one framed message, enforcing the size cap before
// allocating.
func ReadMessage(r io.Reader) (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxMessageSize {
		return nil, fmt.Errorf("privbridge: message of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var m Message
	if err := codec.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("privbridge: decoding message: %w", err)
	}
	if m.Type == 0 {
		return nil, fmt.Errorf("privbridge: message missing type")
	}
	return &m, nil
}
