// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// ErrBadIntegrityTag is returned when an envelope's integrity tag does
// not verify against the sender's key material. Callers drop the
// envelope and record a security audit event; the error is never
// surfaced to the unverified sender.
var ErrBadIntegrityTag = errors.New("wire: integrity tag verification failed")

// SignEd25519 computes the envelope's integrity tag with a device's
// long-lived Ed25519 key and stores it in Signature.
func SignEd25519(privateKey ed25519.PrivateKey, e *Envelope) error {
	message, err := e.SigningBytes()
	if err != nil {
		return err
	}
	e.Signature = ed25519.Sign(privateKey, message)
	return nil
}

// VerifyEd25519 checks the envelope's integrity tag against a device's
// registered public key.
func VerifyEd25519(publicKey ed25519.PublicKey, e *Envelope) error {
	if len(e.Signature) != ed25519.SignatureSize {
		return ErrBadIntegrityTag
	}
	message, err := e.SigningBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(publicKey, message, e.Signature) {
		return ErrBadIntegrityTag
	}
	return nil
}

// TagHMAC computes the envelope's integrity tag with HMAC-SHA256.
// Engineer clients hold no long-lived keypair; their tag key is the
// raw bytes of the short-lived session token they presented at
// connect, which the hub also holds.
func TagHMAC(key []byte, e *Envelope) error {
	message, err := e.SigningBytes()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	e.Signature = mac.Sum(nil)
	return nil
}

// VerifyHMAC checks an HMAC-SHA256 integrity tag.
func VerifyHMAC(key []byte, e *Envelope) error {
	if len(e.Signature) != sha256.Size {
		return ErrBadIntegrityTag
	}
	message, err := e.SigningBytes()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	if !hmac.Equal(mac.Sum(nil), e.Signature) {
		return ErrBadIntegrityTag
	}
	return nil
}
