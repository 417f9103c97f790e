// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nine-minds/alga-remote/lib/clock"
)

// Compile-time interface check.
var _ Issuer = (*TURNIssuer)(nil)

// defaultTTL bounds credential lifetime when the session has no
// duration cap.
const defaultTTL = 4 * time.Hour

// TURNIssuer implements the TURN REST credential scheme (coturn's
// use-auth-secret mode): the username is "<expiry>:<sessionID>" and
// the password is base64(HMAC-SHA1(secret, username)). The TURN server
// validates credentials with the same shared secret, so issuance needs
// no round-trip. SHA1 here is the scheme's MAC, fixed by the coturn
// protocol, not a content hash.
type TURNIssuer struct {
	uris     []string
	stunURIs []string
	secret   []byte
	clock    clock.Clock

	// revoked tracks sessions whose credentials were withdrawn before
	// expiry. The TURN server itself honors credentials until expiry;
	// the transport layer checks this set before using them, and the
	// short TTL bounds the residual window.
	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewTURNIssuer creates an issuer for the given TURN URIs
// (e.g. "turn:relay.example.com:3478?transport=udp") and shared
// secret. stunURIs are plain address-discovery servers included ahead
// of the TURN entries; they need no credentials.
func NewTURNIssuer(uris, stunURIs []string, secret []byte, clk clock.Clock) *TURNIssuer {
	return &TURNIssuer{
		uris:     uris,
		stunURIs: stunURIs,
		secret:   secret,
		clock:    clk,
		revoked:  make(map[string]time.Time),
	}
}

func (i *TURNIssuer) Issue(sessionID string, ttl time.Duration) (Credentials, error) {
	i.mu.Lock()
	_, wasRevoked := i.revoked[sessionID]
	i.mu.Unlock()
	if wasRevoked {
		return Credentials{}, ErrRevoked
	}

	if ttl <= 0 || ttl > defaultTTL {
		ttl = defaultTTL
	}
	expiresAt := i.clock.Now().Add(ttl)

	username := fmt.Sprintf("%d:%s", expiresAt.Unix(), sessionID)
	mac := hmac.New(sha1.New, i.secret)
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	servers := make([]webrtc.ICEServer, 0, 2)
	if len(i.stunURIs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: i.stunURIs})
	}
	if len(i.uris) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       i.uris,
			Username:   username,
			Credential: password,
		})
	}

	return Credentials{ICEServers: servers, ExpiresAt: expiresAt}, nil
}

func (i *TURNIssuer) Revoke(sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.revoked[sessionID] = i.clock.Now()

	// Drop revocation records once any credential they could refer to
	// has expired anyway.
	cutoff := i.clock.Now().Add(-defaultTTL)
	for id, at := range i.revoked {
		if at.Before(cutoff) {
			delete(i.revoked, id)
		}
	}
}
