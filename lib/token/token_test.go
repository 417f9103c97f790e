// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func mintTestToken(t *testing.T, key ed25519.PrivateKey, tok *Token) []byte {
	t.Helper()
	raw, err := Mint(key, tok)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return raw
}

func TestMintVerifyRoundTrip(t *testing.T) {
	t.Parallel()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	raw := mintTestToken(t, private, &Token{
		Subject:   "alice",
		Audience:  Audience,
		ID:        NewID(),
		IssuedAt:  testTime.Unix(),
		ExpiresAt: testTime.Add(time.Hour).Unix(),
	})

	verified, err := Verify(public, raw, testTime)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.Subject != "alice" {
		t.Errorf("subject = %q, want %q", verified.Subject, "alice")
	}
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	good := Token{
		Subject:   "alice",
		Audience:  Audience,
		ID:        NewID(),
		IssuedAt:  testTime.Unix(),
		ExpiresAt: testTime.Add(time.Hour).Unix(),
	}

	expired := good
	expired.ExpiresAt = testTime.Add(-time.Minute).Unix()
	wrongAudience := good
	wrongAudience.Audience = "file-sync"

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"too short", []byte("tiny"), ErrTokenTooShort},
		{"forged signer", mintTestToken(t, otherKey, &good), ErrInvalidSignature},
		{"expired", mintTestToken(t, private, &expired), ErrTokenExpired},
		{"wrong audience", mintTestToken(t, private, &wrongAudience), ErrAudienceMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Verify(public, tt.raw, testTime); !errors.Is(err, tt.want) {
				t.Errorf("Verify error = %v, want %v", err, tt.want)
			}
		})
	}

	// Tampering with the payload invalidates the signature.
	raw := mintTestToken(t, private, &good)
	raw[0] ^= 0xff
	if _, err := Verify(public, raw, testTime); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered payload error = %v, want %v", err, ErrInvalidSignature)
	}
}

func TestExpiryBoundary(t *testing.T) {
	t.Parallel()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	raw := mintTestToken(t, private, &Token{
		Subject:   "alice",
		Audience:  Audience,
		ID:        NewID(),
		IssuedAt:  testTime.Unix(),
		ExpiresAt: testTime.Add(time.Hour).Unix(),
	})

	// A token is dead at its exact expiry instant, not one past it.
	if _, err := Verify(public, raw, testTime.Add(time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("at-expiry error = %v, want %v", err, ErrTokenExpired)
	}
	if _, err := Verify(public, raw, testTime.Add(time.Hour-time.Second)); err != nil {
		t.Errorf("just-before-expiry error = %v, want nil", err)
	}
}

func TestNewIDUnique(t *testing.T) {
	t.Parallel()
	first := NewID()
	second := NewID()
	if len(first) != 32 {
		t.Errorf("id length = %d, want 32 hex chars", len(first))
	}
	if first == second {
		t.Error("consecutive ids collided")
	}
}
