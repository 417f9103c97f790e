// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Package relay issues and revokes the short-lived transport
// credentials handed to both peers when a session becomes active. The
// credentials scope STUN/TURN access to a single session identifier
// and expire no later than the session's maximum duration.
package relay

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

// Credentials is the connectivity-assist bundle for one session.
type Credentials struct {
	// ICEServers is the STUN/TURN server list for candidate
	// gathering, in priority order.
	ICEServers []webrtc.ICEServer

	// ExpiresAt is when the relay stops honoring the credentials.
	ExpiresAt time.Time
}

// ErrRevoked is returned by Issue for a session whose credentials were
// already revoked.
var ErrRevoked = errors.New("relay: credentials revoked for session")

// Issuer supplies per-session transport credentials.
type Issuer interface {
	// Issue returns credentials scoped to sessionID. ttl caps the
	// credential lifetime; implementations may issue shorter, never
	// longer.
	Issue(sessionID string, ttl time.Duration) (Credentials, error)

	// Revoke invalidates any outstanding credentials for sessionID.
	// Idempotent; revoking an unknown session is a no-op.
	Revoke(sessionID string)
}
