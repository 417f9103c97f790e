// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"time"

	"github.com/nine-minds/alga-remote/lib/codec"
)

// Kind identifies a signaling message type. The set is closed: the hub
// rejects envelopes carrying any other value before authentication is
// even attempted.
type Kind string

const (
	KindSessionRequest Kind = "session-request"
	KindSessionAccept  Kind = "session-accept"
	KindSessionDeny    Kind = "session-deny"
	KindOffer          Kind = "offer"
	KindAnswer         Kind = "answer"
	KindICECandidate   Kind = "ice-candidate"
	KindControl        Kind = "control"
	KindTerminate      Kind = "terminate"
)

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindSessionRequest, KindSessionAccept, KindSessionDeny,
		KindOffer, KindAnswer, KindICECandidate, KindControl, KindTerminate:
		return true
	}
	return false
}

// Envelope is the unit of exchange on the signaling channel. It is
// never persisted beyond transient queueing for a disconnected peer.
//
// The Signature field is an integrity tag computed over the
// deterministic CBOR encoding of the envelope with Signature set to
// nil (see SigningBytes). Devices tag with Ed25519; engineer clients
// tag with HMAC-SHA256 keyed by their session token (see integrity.go).
// An envelope must verify against the claimed sender's key material
// before any component acts on it.
type Envelope struct {
	Kind      Kind             `cbor:"1,keyasint"`
	SessionID string           `cbor:"2,keyasint"`
	Sender    string           `cbor:"3,keyasint"`
	Payload   codec.RawMessage `cbor:"4,keyasint,omitempty"`
	Timestamp int64            `cbor:"5,keyasint"` // Unix milliseconds
	Signature []byte           `cbor:"6,keyasint,omitempty"`
}

// New builds an unsigned envelope with the payload CBOR-encoded and
// the timestamp set from now.
func New(kind Kind, sessionID, sender string, payload any, now time.Time) (*Envelope, error) {
	var raw codec.RawMessage
	if payload != nil {
		encoded, err := codec.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding %s payload: %w", kind, err)
		}
		raw = encoded
	}
	return &Envelope{
		Kind:      kind,
		SessionID: sessionID,
		Sender:    sender,
		Payload:   raw,
		Timestamp: now.UnixMilli(),
	}, nil
}

// SigningBytes returns the deterministic CBOR encoding of the envelope
// with the Signature field cleared. Both tag schemes sign and verify
// over exactly these bytes.
func (e *Envelope) SigningBytes() ([]byte, error) {
	unsigned := *e
	unsigned.Signature = nil
	data, err := codec.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding envelope for signing: %w", err)
	}
	return data, nil
}

// DecodePayload decodes the envelope payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("wire: %s envelope has no payload", e.Kind)
	}
	if err := codec.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("wire: decoding %s payload: %w", e.Kind, err)
	}
	return nil
}

// Marshal encodes the envelope for the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	return codec.Marshal(e)
}

// Decode parses an envelope from wire bytes and validates the kind.
// It does not verify the integrity tag; that requires the sender's key
// material and happens in the signaling hub.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := codec.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("wire: decoding envelope: %w", err)
	}
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("wire: unknown message kind %q", e.Kind)
	}
	if e.SessionID == "" {
		return nil, fmt.Errorf("wire: %s envelope missing session id", e.Kind)
	}
	return &e, nil
}
