// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func signedEnvelope(t *testing.T, key ed25519.PrivateKey) *Envelope {
	t.Helper()
	envelope, err := New(KindOffer, "s-1", "dev-1", &SDP{SDP: "v=0"}, testTime)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := SignEd25519(key, envelope); err != nil {
		t.Fatalf("SignEd25519: %v", err)
	}
	return envelope
}

func TestEd25519TagRoundTrip(t *testing.T) {
	t.Parallel()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	envelope := signedEnvelope(t, private)

	data, err := envelope.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := VerifyEd25519(public, decoded); err != nil {
		t.Fatalf("VerifyEd25519: %v", err)
	}

	var sdp SDP
	if err := decoded.DecodePayload(&sdp); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if sdp.SDP != "v=0" {
		t.Errorf("payload SDP = %q, want %q", sdp.SDP, "v=0")
	}
	if decoded.Timestamp != testTime.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", decoded.Timestamp, testTime.UnixMilli())
	}
}

func TestEd25519TagRejectsTampering(t *testing.T) {
	t.Parallel()
	public, private, _ := ed25519.GenerateKey(rand.Reader)
	_, otherKey, _ := ed25519.GenerateKey(rand.Reader)

	tests := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"payload swapped", func(e *Envelope) {
			fresh, _ := New(KindOffer, "s-1", "dev-1", &SDP{SDP: "v=1 evil"}, testTime)
			e.Payload = fresh.Payload
		}},
		{"sender swapped", func(e *Envelope) { e.Sender = "dev-2" }},
		{"session swapped", func(e *Envelope) { e.SessionID = "s-2" }},
		{"kind swapped", func(e *Envelope) { e.Kind = KindAnswer }},
		{"signature truncated", func(e *Envelope) { e.Signature = e.Signature[:16] }},
		{"signed by another key", func(e *Envelope) { SignEd25519(otherKey, e) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			envelope := signedEnvelope(t, private)
			tt.mutate(envelope)
			if err := VerifyEd25519(public, envelope); !errors.Is(err, ErrBadIntegrityTag) {
				t.Fatalf("VerifyEd25519 error = %v, want %v", err, ErrBadIntegrityTag)
			}
		})
	}
}

func TestHMACTagRoundTrip(t *testing.T) {
	t.Parallel()
	key := []byte("short-lived operator token")
	envelope, err := New(KindControl, "s-1", "alice", &Control{Op: ControlHeartbeat}, testTime)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := TagHMAC(key, envelope); err != nil {
		t.Fatalf("TagHMAC: %v", err)
	}
	if err := VerifyHMAC(key, envelope); err != nil {
		t.Fatalf("VerifyHMAC: %v", err)
	}

	if err := VerifyHMAC([]byte("another token"), envelope); !errors.Is(err, ErrBadIntegrityTag) {
		t.Errorf("wrong key error = %v, want %v", err, ErrBadIntegrityTag)
	}
	envelope.Signature = envelope.Signature[:8]
	if err := VerifyHMAC(key, envelope); !errors.Is(err, ErrBadIntegrityTag) {
		t.Errorf("truncated tag error = %v, want %v", err, ErrBadIntegrityTag)
	}
}

func TestDecodeValidation(t *testing.T) {
	t.Parallel()
	missingSession, _ := (&Envelope{Kind: KindOffer, Sender: "dev-1"}).Marshal()
	unknownKind, _ := (&Envelope{Kind: "carrier-pigeon", SessionID: "s-1", Sender: "dev-1"}).Marshal()

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage bytes", []byte("definitely not cbor")},
		{"empty input", nil},
		{"unknown kind", unknownKind},
		{"missing session id", missingSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.data); err == nil {
				t.Fatal("Decode accepted invalid input")
			}
		})
	}
}

func TestKindClosedSet(t *testing.T) {
	t.Parallel()
	valid := []Kind{
		KindSessionRequest, KindSessionAccept, KindSessionDeny,
		KindOffer, KindAnswer, KindICECandidate, KindControl, KindTerminate,
	}
	for _, k := range valid {
		if !k.Valid() {
			t.Errorf("Kind %q should be valid", k)
		}
	}
	for _, k := range []Kind{"", "heartbeat", "session-request "} {
		if k.Valid() {
			t.Errorf("Kind %q should not be valid", k)
		}
	}
}

func TestRoleOther(t *testing.T) {
	t.Parallel()
	if RoleAgent.Other() != RoleEngineer {
		t.Error("agent's counterpart should be engineer")
	}
	if RoleEngineer.Other() != RoleAgent {
		t.Error("engineer's counterpart should be agent")
	}
}

func TestInputEventRoundTrip(t *testing.T) {
	t.Parallel()
	events := []InputEvent{
		{Type: InputPointerMove, X: 640, Y: 360},
		{Type: InputButton, Button: 1, Pressed: true},
		{Type: InputKey, Code: 0x1c, Pressed: false},
	}

	var buffer bytes.Buffer
	for i := range events {
		if err := WriteInputEvent(&buffer, &events[i]); err != nil {
			t.Fatalf("WriteInputEvent: %v", err)
		}
	}
	for i := range events {
		got, err := ReadInputEvent(&buffer)
		if err != nil {
			t.Fatalf("ReadInputEvent %d: %v", i, err)
		}
		if *got != events[i] {
			t.Errorf("event %d = %+v, want %+v", i, got, events[i])
		}
	}
	if _, err := ReadInputEvent(&buffer); err != io.EOF {
		t.Errorf("read past end error = %v, want %v", err, io.EOF)
	}
}

func TestReadInputEventTruncated(t *testing.T) {
	t.Parallel()
	var buffer bytes.Buffer
	if err := WriteInputEvent(&buffer, &InputEvent{Type: InputPointerMove, X: 1, Y: 2}); err != nil {
		t.Fatalf("WriteInputEvent: %v", err)
	}
	truncated := buffer.Bytes()[:buffer.Len()-1]
	if _, err := ReadInputEvent(bytes.NewReader(truncated)); err == nil {
		t.Fatal("ReadInputEvent accepted truncated frame")
	}
}
