// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"time"

	"github.com/zeebo/blake3"
)

// HostClass is the operating-system family of an enrolled device. The
// set is closed; the capture pipeline selects its platform backend
// from it at agent startup, and nothing else branches on it.
type HostClass string

const (
	HostWindows HostClass = "windows"
	HostDarwin  HostClass = "darwin"
	HostLinux   HostClass = "linux"
)

// Device is a previously enrolled agent host. Devices are created by
// the enrollment subsystem (external to this core) and mutated here
// only on connect/disconnect heartbeats. This core never deletes them.
type Device struct {
	ID          string
	PublicKey   ed25519.PublicKey
	Fingerprint string
	HostClass   HostClass
	Tenant      string
	Online      bool
	LastSeen    time.Time
}

// Errors returned by Store implementations.
var (
	ErrUnknownDevice = errors.New("identity: unknown device")
	ErrBadChallenge  = errors.New("identity: challenge signature verification failed")
)

// Store is the device identity interface consumed by the session core.
// The store is authoritative and read-only from the core's perspective
// except for the online/last-seen heartbeat mutation.
type Store interface {
	// Device returns the enrolled device record, or ErrUnknownDevice.
	Device(deviceID string) (*Device, error)

	// PublicKey returns the device's registered Ed25519 public key,
	// or ErrUnknownDevice.
	PublicKey(deviceID string) (ed25519.PublicKey, error)

	// VerifyChallengeResponse checks that signature is a valid
	// Ed25519 signature of challenge by the device's registered key.
	// Returns ErrUnknownDevice or ErrBadChallenge on failure.
	VerifyChallengeResponse(deviceID string, challenge, signature []byte) error

	// SetOnline records a connect or disconnect heartbeat, updating
	// the online flag and last-seen timestamp.
	SetOnline(deviceID string, online bool, at time.Time) error
}

// Fingerprint computes the canonical fingerprint of a device public
// key: the first 16 bytes of its BLAKE3 hash, hex encoded. This is
// what operators compare against the enrollment record.
func Fingerprint(publicKey ed25519.PublicKey) string {
	sum := blake3.Sum256(publicKey)
	return hex.EncodeToString(sum[:16])
}

// verifyChallenge is the shared challenge-response check.
func verifyChallenge(publicKey ed25519.PublicKey, challenge, signature []byte) error {
	if len(signature) != ed25519.SignatureSize {
		return ErrBadChallenge
	}
	if !ed25519.Verify(publicKey, challenge, signature) {
		return ErrBadChallenge
	}
	return nil
}
