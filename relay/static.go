// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nine-minds/alga-remote/lib/clock"
)

// Compile-time interface check.
var _ Issuer = (*StaticIssuer)(nil)

// StaticIssuer returns a fixed server list with no credentials. Used
// for LAN-only deployments (host candidates suffice) and tests. An
// empty server list is valid: pion gathers host candidates only.
type StaticIssuer struct {
	Servers []webrtc.ICEServer
	Clock   clock.Clock

	mu      sync.Mutex
	issued  map[string]int
	revoked map[string]bool
}

func (i *StaticIssuer) Issue(sessionID string, ttl time.Duration) (Credentials, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.revoked[sessionID] {
		return Credentials{}, ErrRevoked
	}
	if i.issued == nil {
		i.issued = make(map[string]int)
	}
	i.issued[sessionID]++

	if ttl <= 0 {
		ttl = defaultTTL
	}
	return Credentials{
		ICEServers: i.Servers,
		ExpiresAt:  i.Clock.Now().Add(ttl),
	}, nil
}

func (i *StaticIssuer) Revoke(sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.revoked == nil {
		i.revoked = make(map[string]bool)
	}
	i.revoked[sessionID] = true
}

// IssueCount reports how many times sessionID received credentials.
func (i *StaticIssuer) IssueCount(sessionID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.issued[sessionID]
}

// Revoked reports whether sessionID was revoked.
func (i *StaticIssuer) Revoked(sessionID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.revoked[sessionID]
}
