// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/nine-minds/alga-remote/policy"
	"github.com/nine-minds/alga-remote/relay"
)

// State is the session lifecycle state. Transitions only move forward:
// REQUESTED → PENDING_CONSENT → ACTIVE → ENDED, with side exits DENIED
// (from PENDING_CONSENT) and FAILED (from PENDING_CONSENT or ACTIVE).
// Terminal sessions are immutable and retained for audit.
type State string

const (
	StateRequested      State = "REQUESTED"
	StatePendingConsent State = "PENDING_CONSENT"
	StateActive         State = "ACTIVE"
	StateEnded          State = "ENDED"
	StateDenied         State = "DENIED"
	StateFailed         State = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateDenied || s == StateFailed
}

// End-reason codes recorded on terminal sessions. Spelled as wire
// strings because they travel in terminate envelopes and audit
// metadata.
const (
	ReasonOperatorRequest     = "operator-request"
	ReasonAgentRequest        = "agent-request"
	ReasonConsentDenied       = "consent-denied"
	ReasonConsentTimeout      = "consent-timeout"
	ReasonInactivityTimeout   = "timeout"
	ReasonDurationCap         = "duration-cap-exceeded"
	ReasonTimeWindow          = "time-window-violated"
	ReasonNegotiationTimeout  = "transport-negotiation-timeout"
	ReasonCaptureUnavailable  = "capture-unavailable"
	ReasonRelayUnavailable    = "relay-unavailable"
)

// Transport modes negotiated by the peers.
const (
	TransportDirect  = "direct"
	TransportRelayed = "relayed"
)

// Session is the central entity. Mutated exclusively by the Manager
// under the per-session lock; the Manager hands out copies only.
type Session struct {
	ID           string
	Principal    string
	DeviceID     string
	Capabilities policy.CapabilitySet
	State        State

	Created         time.Time
	ConsentDeadline time.Time
	Started         time.Time
	Ended           time.Time
	EndReason       string

	// TransportMode is empty until the peers report a connected
	// transport, then "direct" or "relayed".
	TransportMode string

	// Credentials is the short-lived transport credential material
	// issued at activation. Zero before ACTIVE and after revocation.
	Credentials relay.Credentials
}

// Request-path errors. These surface to the requester immediately; no
// session state is created when they are returned.
var (
	// ErrPolicyDenied covers missing capabilities, time-window
	// violations, and retry cooldowns.
	ErrPolicyDenied = errors.New("session: policy denied")

	// ErrDeviceBusy is the single-active-session invariant: at most
	// one non-terminal session per device.
	ErrDeviceBusy = errors.New("session: device already has an active session")

	// ErrDeviceOffline rejects requests against devices that are not
	// connected to the signaling channel.
	ErrDeviceOffline = errors.New("session: device offline")

	// ErrUnknownSession is returned for operations against session
	// identifiers the manager has never seen.
	ErrUnknownSession = errors.New("session: unknown session")

	// ErrNotPendingConsent is returned by RecordConsent when the
	// session already left PENDING_CONSENT (decision raced a
	// deadline, or consent arrived twice).
	ErrNotPendingConsent = errors.New("session: not awaiting consent")

	// ErrWrongDevice is returned when a consent message is bound to a
	// session that targets a different device.
	ErrWrongDevice = errors.New("session: consent from wrong device")
)

// newSessionID returns an opaque, unguessable session identifier.
func newSessionID() string {
	var buffer [16]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		panic("session: system random source unavailable: " + err.Error())
	}
	return hex.EncodeToString(buffer[:])
}
