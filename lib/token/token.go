// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Package token implements the short-lived operator token presented by
// engineer clients. The external identity provider mints a token when
// the operator signs in; the session core only verifies. The wire
// format is a CBOR payload followed by a 64-byte Ed25519 signature
// from the provider's signing key.
package token

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nine-minds/alga-remote/lib/codec"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize

// Audience is the audience value for remote-session tokens. A token
// minted for another product surface cannot be used here.
const Audience = "remote-session"

// Token is the CBOR-encoded payload of an operator token.
type Token struct {
	// Subject is the operator's principal identifier.
	Subject string `cbor:"1,keyasint"`

	// Audience scopes the token to a product surface.
	Audience string `cbor:"2,keyasint"`

	// ID is a unique token identifier (hex string), usable for
	// emergency revocation lists.
	ID string `cbor:"3,keyasint"`

	// IssuedAt and ExpiresAt are Unix timestamps (seconds).
	IssuedAt  int64 `cbor:"4,keyasint"`
	ExpiresAt int64 `cbor:"5,keyasint"`
}

// Errors returned by Verify.
var (
	ErrTokenTooShort    = errors.New("token: too short for signature")
	ErrInvalidSignature = errors.New("token: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("token: expired")
	ErrAudienceMismatch = errors.New("token: audience does not match")
)

// Mint signs a Token with the identity provider's private key and
// returns the raw wire bytes: CBOR payload followed by the signature.
func Mint(privateKey ed25519.PrivateKey, t *Token) ([]byte, error) {
	payload, err := codec.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("token: encoding payload: %w", err)
	}
	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)
	return result, nil
}

// Verify splits the raw token bytes, verifies the Ed25519 signature,
// decodes the payload, and checks audience and expiry against now.
func Verify(publicKey ed25519.PublicKey, tokenBytes []byte, now time.Time) (*Token, error) {
	if len(tokenBytes) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	splitPoint := len(tokenBytes) - signatureSize
	payload := tokenBytes[:splitPoint]
	signature := tokenBytes[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var t Token
	if err := codec.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("token: decoding payload: %w", err)
	}
	if t.Audience != Audience {
		return nil, fmt.Errorf("%w: got %q", ErrAudienceMismatch, t.Audience)
	}
	if now.Unix() >= t.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &t, nil
}

// NewID returns a fresh random token identifier.
func NewID() string {
	var buffer [16]byte
	readRandom(buffer[:])
	return hex.EncodeToString(buffer[:])
}
