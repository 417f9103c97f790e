// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nine-minds/alga-remote/lib/codec"
)

// Input event types carried on the input data channel. These ride the
// established peer transport, not the signaling channel; the transport
// itself is authenticated end to end by DTLS.
const (
	InputPointerMove = "pointer-move"
	InputButton      = "button"
	InputKey         = "key"
)

// InputEvent is one remote input action from the viewer. Pointer
// coordinates are normalized fixed-point: 0..65535 per axis spanning
// the remote screen, independent of either side's resolution.
type InputEvent struct {
	Type    string `cbor:"1,keyasint"`
	X       int    `cbor:"2,keyasint,omitempty"`
	Y       int    `cbor:"3,keyasint,omitempty"`
	Button  int    `cbor:"4,keyasint,omitempty"`
	Code    uint32 `cbor:"5,keyasint,omitempty"`
	Pressed bool   `cbor:"6,keyasint,omitempty"`
}

// maxInputEvent bounds one encoded event; input events are tiny and
// anything larger is garbage.
const maxInputEvent = 1 << 10

// WriteInputEvent frames one event: 2-byte big-endian length + CBOR.
func WriteInputEvent(w io.Writer, event *InputEvent) error {
	payload, err := codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("wire: encoding input event: %w", err)
	}
	if len(payload) > maxInputEvent {
		return fmt.Errorf("wire: input event of %d bytes exceeds limit", len(payload))
	}
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadInputEvent reads one framed event.
func ReadInputEvent(r io.Reader) (*InputEvent, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(prefix[:])
	if length > maxInputEvent {
		return nil, fmt.Errorf("wire: input event of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var event InputEvent
	if err := codec.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("wire: decoding input event: %w", err)
	}
	return &event, nil
}
