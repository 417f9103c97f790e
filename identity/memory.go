// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store. Production deployments back it
// with the enrollment database through a sync loop; tests populate it
// directly with Add.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]*Device)}
}

// Add registers a device record. The fingerprint is derived from the
// public key; any caller-supplied value is overwritten.
func (s *MemoryStore) Add(device *Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	device.Fingerprint = Fingerprint(device.PublicKey)
	s.devices[device.ID] = device
}

func (s *MemoryStore) Device(deviceID string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrUnknownDevice
	}
	copied := *device
	return &copied, nil
}

func (s *MemoryStore) PublicKey(deviceID string) (ed25519.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrUnknownDevice
	}
	return device.PublicKey, nil
}

func (s *MemoryStore) VerifyChallengeResponse(deviceID string, challenge, signature []byte) error {
	publicKey, err := s.PublicKey(deviceID)
	if err != nil {
		return err
	}
	return verifyChallenge(publicKey, challenge, signature)
}

func (s *MemoryStore) SetOnline(deviceID string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return ErrUnknownDevice
	}
	device.Online = online
	device.LastSeen = at
	return nil
}
