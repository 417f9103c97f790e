// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/nine-minds/alga-remote/lib/clock"
)

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func addTestDevice(t *testing.T, store *MemoryStore, id string) ed25519.PrivateKey {
	t.Helper()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	store.Add(&Device{ID: id, PublicKey: public, HostClass: HostLinux})
	return private
}

func TestMemoryStoreChallengeResponse(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	private := addTestDevice(t, store, "dev-1")

	challenge := []byte("32 bytes of server-chosen nonce.")
	signature := ed25519.Sign(private, challenge)

	if err := store.VerifyChallengeResponse("dev-1", challenge, signature); err != nil {
		t.Fatalf("VerifyChallengeResponse: %v", err)
	}
	if err := store.VerifyChallengeResponse("dev-1", []byte("different challenge"), signature); !errors.Is(err, ErrBadChallenge) {
		t.Errorf("replayed signature error = %v, want %v", err, ErrBadChallenge)
	}
	if err := store.VerifyChallengeResponse("dev-1", challenge, signature[:10]); !errors.Is(err, ErrBadChallenge) {
		t.Errorf("truncated signature error = %v, want %v", err, ErrBadChallenge)
	}
	if err := store.VerifyChallengeResponse("dev-2", challenge, signature); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device error = %v, want %v", err, ErrUnknownDevice)
	}
}

func TestMemoryStoreOnlineTracking(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	addTestDevice(t, store, "dev-1")

	if err := store.SetOnline("dev-1", true, testTime); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	device, err := store.Device("dev-1")
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if !device.Online || !device.LastSeen.Equal(testTime) {
		t.Errorf("device = (online=%v, seen=%v), want (true, %v)", device.Online, device.LastSeen, testTime)
	}

	later := testTime.Add(time.Minute)
	store.SetOnline("dev-1", false, later)
	device, _ = store.Device("dev-1")
	if device.Online || !device.LastSeen.Equal(later) {
		t.Errorf("device = (online=%v, seen=%v), want (false, %v)", device.Online, device.LastSeen, later)
	}

	if err := store.SetOnline("dev-9", true, testTime); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device error = %v, want %v", err, ErrUnknownDevice)
	}
}

func TestFingerprintAssignedOnAdd(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	addTestDevice(t, store, "dev-1")

	device, err := store.Device("dev-1")
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if device.Fingerprint != Fingerprint(device.PublicKey) {
		t.Errorf("fingerprint = %q, want %q", device.Fingerprint, Fingerprint(device.PublicKey))
	}
	if len(device.Fingerprint) != 32 {
		t.Errorf("fingerprint length = %d, want 32 hex chars", len(device.Fingerprint))
	}

	addTestDevice(t, store, "dev-2")
	second, _ := store.Device("dev-2")
	if second.Fingerprint == device.Fingerprint {
		t.Error("distinct keys produced the same fingerprint")
	}
}

// countingStore wraps a MemoryStore and counts PublicKey lookups.
type countingStore struct {
	*MemoryStore
	lookups int
}

func (s *countingStore) PublicKey(deviceID string) (ed25519.PublicKey, error) {
	s.lookups++
	return s.MemoryStore.PublicKey(deviceID)
}

func TestCachedStorePublicKeyTTL(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(testTime)
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	private := addTestDevice(t, inner.MemoryStore, "dev-1")
	cached := NewCachedStore(inner, 30*time.Second, clk)

	for i := 0; i < 3; i++ {
		if _, err := cached.PublicKey("dev-1"); err != nil {
			t.Fatalf("PublicKey: %v", err)
		}
	}
	if inner.lookups != 1 {
		t.Errorf("inner lookups within TTL = %d, want 1", inner.lookups)
	}

	clk.Advance(31 * time.Second)
	if _, err := cached.PublicKey("dev-1"); err != nil {
		t.Fatalf("PublicKey after expiry: %v", err)
	}
	if inner.lookups != 2 {
		t.Errorf("inner lookups after expiry = %d, want 2", inner.lookups)
	}

	// Challenge verification flows through the cache.
	challenge := []byte("another server-chosen nonce data")
	if err := cached.VerifyChallengeResponse("dev-1", challenge, ed25519.Sign(private, challenge)); err != nil {
		t.Errorf("VerifyChallengeResponse through cache: %v", err)
	}

	if _, err := cached.PublicKey("dev-404"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device error = %v, want %v", err, ErrUnknownDevice)
	}
}
