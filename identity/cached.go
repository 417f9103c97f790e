// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/nine-minds/alga-remote/lib/clock"
)

// Compile-time interface check.
var _ Store = (*CachedStore)(nil)

// CachedStore wraps a Store with a short-TTL public-key cache. Public
// keys are immutable for the life of an enrollment, so the only
// staleness risk is serving a key briefly after an administrative
// re-enrollment; the TTL bounds that window. Every other call passes
// through.
type CachedStore struct {
	inner Store
	ttl   time.Duration
	clock clock.Clock

	mu    sync.Mutex
	cache map[string]cachedKey
}

type cachedKey struct {
	key     ed25519.PublicKey
	expires time.Time
}

// NewCachedStore wraps inner with a public-key cache. A ttl of 30
// seconds is typical.
func NewCachedStore(inner Store, ttl time.Duration, clk clock.Clock) *CachedStore {
	return &CachedStore{
		inner: inner,
		ttl:   ttl,
		clock: clk,
		cache: make(map[string]cachedKey),
	}
}

func (s *CachedStore) Device(deviceID string) (*Device, error) {
	return s.inner.Device(deviceID)
}

func (s *CachedStore) PublicKey(deviceID string) (ed25519.PublicKey, error) {
	now := s.clock.Now()

	s.mu.Lock()
	entry, ok := s.cache[deviceID]
	s.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.key, nil
	}

	key, err := s.inner.PublicKey(deviceID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[deviceID] = cachedKey{key: key, expires: now.Add(s.ttl)}
	s.mu.Unlock()
	return key, nil
}

func (s *CachedStore) VerifyChallengeResponse(deviceID string, challenge, signature []byte) error {
	publicKey, err := s.PublicKey(deviceID)
	if err != nil {
		return err
	}
	return verifyChallenge(publicKey, challenge, signature)
}

func (s *CachedStore) SetOnline(deviceID string, online bool, at time.Time) error {
	return s.inner.SetOnline(deviceID, online, at)
}
