// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nine-minds/alga-remote/audit"
	"github.com/nine-minds/alga-remote/identity"
	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/policy"
	"github.com/nine-minds/alga-remote/relay"
	"github.com/nine-minds/alga-remote/wire"
)

// Notifier delivers session-control envelopes to a session's peers
// through the signaling channel. Implementations must not block and
// must not call back into the Manager: Notify runs inside the
// per-session critical section, and delivery to a disconnected peer is
// the signaling channel's bounded queueing problem, not the state
// machine's. The full session snapshot is passed so the channel can
// route to the agent by device identity without a lookup.
type Notifier interface {
	Notify(s Session, role wire.Role, kind wire.Kind, payload any)
}

// Config holds the policy-configurable timers.
type Config struct {
	// ConsentTimeout bounds how long a session waits in
	// PENDING_CONSENT. Default 30s.
	ConsentTimeout time.Duration

	// HeartbeatGrace ends an ACTIVE session that has not seen a
	// heartbeat from either peer. Default 45s.
	HeartbeatGrace time.Duration

	// NegotiationTimeout fails an ACTIVE session whose peers never
	// report a connected transport. Default 15s.
	NegotiationTimeout time.Duration

	// OnEnd, when set, runs once per session after it reaches a
	// terminal state. Called on its own goroutine; teardown failures
	// are the callee's to log.
	OnEnd func(Session)
}

func (c *Config) applyDefaults() {
	if c.ConsentTimeout <= 0 {
		c.ConsentTimeout = 30 * time.Second
	}
	if c.HeartbeatGrace <= 0 {
		c.HeartbeatGrace = 45 * time.Second
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 15 * time.Second
	}
}

// Manager owns every Session. All mutation happens under the
// per-session lock; independent sessions make progress in parallel.
// The manager's table lock covers only the session and device indexes,
// never a state transition.
type Manager struct {
	identity identity.Store
	policy   policy.Service
	relay    relay.Issuer
	audit    audit.Sink
	notify   Notifier
	clock    clock.Clock
	logger   *slog.Logger
	config   Config

	mu           sync.Mutex
	sessions     map[string]*entry
	deviceActive map[string]string    // deviceID → non-terminal session ID
	cooldowns    map[string]time.Time // principal\x00deviceID → not-before

	scheduler *scheduler
}

// entry pairs a Session with its exclusive lock and the volatile
// bookkeeping that never leaves the manager.
type entry struct {
	mu sync.Mutex
	s  Session

	lastHeartbeat time.Time
	transportUp   bool

	// retryCooldown and maxDuration are copied from the Permission at
	// request time so later transitions need no policy round-trip.
	retryCooldown time.Duration
	maxDuration   time.Duration
}

// NewManager wires the state machine to its collaborators and starts
// the deadline scheduler.
func NewManager(ids identity.Store, pol policy.Service, issuer relay.Issuer, sink audit.Sink, notify Notifier, clk clock.Clock, logger *slog.Logger, config Config) *Manager {
	config.applyDefaults()
	m := &Manager{
		identity:     ids,
		policy:       pol,
		relay:        issuer,
		audit:        sink,
		notify:       notify,
		clock:        clk,
		logger:       logger,
		config:       config,
		sessions:     make(map[string]*entry),
		deviceActive: make(map[string]string),
		cooldowns:    make(map[string]time.Time),
	}
	m.scheduler = newScheduler(clk, m.handleDeadline)
	return m
}

// Close stops the deadline scheduler. Sessions are left as-is; callers
// end them explicitly during shutdown.
func (m *Manager) Close() {
	m.scheduler.close()
}

// RequestSession validates the request against policy and the device's
// connectivity, creates a Session, and either dispatches a consent
// request to the device or (for unattended access) activates
// immediately. Rejections return before any state is created.
func (m *Manager) RequestSession(principal, deviceID string, requested policy.CapabilitySet) (Session, error) {
	now := m.clock.Now()

	permission, err := m.policy.GetPermission(principal, deviceID)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrPolicyDenied, err)
	}
	if !permission.Capabilities.Contains(requested) {
		return Session{}, fmt.Errorf("%w: capability not granted", ErrPolicyDenied)
	}
	if !permission.InWindow(now) {
		return Session{}, fmt.Errorf("%w: outside allowed time window", ErrPolicyDenied)
	}

	device, err := m.identity.Device(deviceID)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrPolicyDenied, err)
	}
	if !device.Online {
		return Session{}, ErrDeviceOffline
	}

	cooldownKey := principal + "\x00" + deviceID

	m.mu.Lock()
	if until, ok := m.cooldowns[cooldownKey]; ok && now.Before(until) {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("%w: retry cooldown until %s", ErrPolicyDenied, until.Format(time.RFC3339))
	}
	if _, busy := m.deviceActive[deviceID]; busy {
		m.mu.Unlock()
		return Session{}, ErrDeviceBusy
	}

	ent := &entry{
		s: Session{
			ID:           newSessionID(),
			Principal:    principal,
			DeviceID:     deviceID,
			Capabilities: requested,
			State:        StateRequested,
			Created:      now,
		},
		retryCooldown: permission.RetryCooldown,
		maxDuration:   permission.MaxDuration,
	}
	m.sessions[ent.s.ID] = ent
	m.deviceActive[deviceID] = ent.s.ID
	m.mu.Unlock()

	ent.mu.Lock()
	defer ent.mu.Unlock()

	m.audit.Record(audit.Event{
		SessionID: ent.s.ID,
		Kind:      audit.KindSessionRequested,
		Actor:     principal,
		Time:      now,
		Meta: map[string]string{
			"device":       deviceID,
			"capabilities": fmt.Sprint(requested.List()),
		},
	})

	ent.s.State = StatePendingConsent
	if permission.RequireConsent {
		ent.s.ConsentDeadline = now.Add(m.config.ConsentTimeout)
		m.notify.Notify(ent.s, wire.RoleAgent, wire.KindSessionRequest, &wire.SessionRequest{
			Principal:       principal,
			DeviceID:        deviceID,
			Capabilities:    requested.List(),
			ConsentDeadline: ent.s.ConsentDeadline.UnixMilli(),
		})
		m.scheduler.schedule(ent.s.ID, deadlineConsent, ent.s.ConsentDeadline)
	} else {
		// Unattended access: policy waived consent, so the device's
		// acceptance is synthesized here.
		m.notify.Notify(ent.s, wire.RoleAgent, wire.KindSessionRequest, &wire.SessionRequest{
			Principal:    principal,
			DeviceID:     deviceID,
			Capabilities: requested.List(),
		})
		if err := m.activateLocked(ent, permission.MaxDuration); err != nil {
			return ent.s, err
		}
	}

	return ent.s, nil
}

// RecordConsent applies the device's consent decision. The signaling
// channel authenticates that the message originated from the session's
// target device before this is called; deviceID re-checks the binding.
// Late or repeated calls are no-ops reporting the session's current
// (usually terminal) state.
func (m *Manager) RecordConsent(sessionID, deviceID string, accepted bool) (Session, error) {
	ent, err := m.entryFor(sessionID)
	if err != nil {
		return Session{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.s.DeviceID != deviceID {
		return ent.s, ErrWrongDevice
	}
	now := m.clock.Now()
	if ent.s.State != StatePendingConsent || (!ent.s.ConsentDeadline.IsZero() && now.After(ent.s.ConsentDeadline)) {
		return ent.s, ErrNotPendingConsent
	}

	if !accepted {
		m.terminateLocked(ent, StateDenied, ReasonConsentDenied, deviceID)
		return ent.s, nil
	}

	if err := m.activateLocked(ent, ent.maxDuration); err != nil {
		return ent.s, err
	}
	return ent.s, nil
}

// activateLocked issues transport credentials and moves the session to
// ACTIVE. Caller holds ent.mu.
func (m *Manager) activateLocked(ent *entry, maxDuration time.Duration) error {
	now := m.clock.Now()

	credentials, err := m.relay.Issue(ent.s.ID, maxDuration)
	if err != nil {
		m.terminateLocked(ent, StateFailed, ReasonRelayUnavailable, "relay")
		return fmt.Errorf("session: issuing transport credentials: %w", err)
	}

	ent.s.State = StateActive
	ent.s.Started = now
	ent.s.Credentials = credentials
	ent.lastHeartbeat = now

	m.scheduler.schedule(ent.s.ID, deadlineNegotiation, now.Add(m.config.NegotiationTimeout))
	m.scheduler.schedule(ent.s.ID, deadlineInactivity, now.Add(m.config.HeartbeatGrace))
	if maxDuration > 0 {
		m.scheduler.schedule(ent.s.ID, deadlineDuration, now.Add(maxDuration))
	}

	m.audit.Record(audit.Event{
		SessionID: ent.s.ID,
		Kind:      audit.KindSessionStarted,
		Actor:     ent.s.DeviceID,
		Time:      now,
	})

	bootstrap := bootstrapPayload(ent.s.Credentials)
	m.notify.Notify(ent.s, wire.RoleEngineer, wire.KindSessionAccept, bootstrap)
	m.notify.Notify(ent.s, wire.RoleAgent, wire.KindSessionAccept, bootstrap)
	return nil
}

// Heartbeat resets the inactivity timer. Either peer may call it; the
// signaling channel maps control/heartbeat envelopes here.
func (m *Manager) Heartbeat(sessionID string) error {
	ent, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.s.State != StateActive {
		return nil
	}
	now := m.clock.Now()
	ent.lastHeartbeat = now
	m.scheduler.schedule(ent.s.ID, deadlineInactivity, now.Add(m.config.HeartbeatGrace))
	return nil
}

// MarkTransportConnected records that the peers established a media
// path, clearing the negotiation timeout. mode is "direct" or
// "relayed".
func (m *Manager) MarkTransportConnected(sessionID, mode string) error {
	ent, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.s.State != StateActive {
		return nil
	}
	ent.transportUp = true
	ent.s.TransportMode = mode
	return nil
}

// EndSession moves the session to ENDED. Idempotent: ending a terminal
// session is a no-op and emits no second audit event. Teardown
// (credential revocation, peer notification, OnEnd hook) is
// best-effort and bounded; the session is terminal immediately.
func (m *Manager) EndSession(sessionID, reason, actor string) error {
	ent, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	m.terminateLocked(ent, StateEnded, reason, actor)
	return nil
}

// FailSession moves the session to FAILED with the given reason. Used
// for protocol faults reported by peers, such as capture-unavailable.
// Idempotent like EndSession.
func (m *Manager) FailSession(sessionID, reason, actor string) error {
	ent, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	m.terminateLocked(ent, StateFailed, reason, actor)
	return nil
}

// Get returns a copy of the session.
func (m *Manager) Get(sessionID string) (Session, error) {
	ent, err := m.entryFor(sessionID)
	if err != nil {
		return Session{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.s, nil
}

// ActiveSessionForDevice returns the non-terminal session targeting
// the device, if any.
func (m *Manager) ActiveSessionForDevice(deviceID string) (Session, bool) {
	m.mu.Lock()
	sessionID, ok := m.deviceActive[deviceID]
	m.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	s, err := m.Get(sessionID)
	if err != nil {
		return Session{}, false
	}
	return s, true
}

func (m *Manager) entryFor(sessionID string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return ent, nil
}

// handleDeadline runs on the scheduler goroutine. Every firing
// re-validates state under the per-session lock: a deadline that lost
// its race (consent arrived, a heartbeat landed, the session already
// ended) is a no-op.
func (m *Manager) handleDeadline(d deadline) {
	m.mu.Lock()
	ent, ok := m.sessions[d.sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	now := m.clock.Now()
	switch d.kind {
	case deadlineConsent:
		if ent.s.State == StatePendingConsent && !now.Before(ent.s.ConsentDeadline) {
			m.terminateLocked(ent, StateFailed, ReasonConsentTimeout, "policy")
		}
	case deadlineNegotiation:
		if ent.s.State == StateActive && !ent.transportUp {
			m.terminateLocked(ent, StateFailed, ReasonNegotiationTimeout, "policy")
		}
	case deadlineInactivity:
		if ent.s.State == StateActive && now.Sub(ent.lastHeartbeat) >= m.config.HeartbeatGrace {
			m.terminateLocked(ent, StateEnded, ReasonInactivityTimeout, "policy")
		}
	case deadlineDuration:
		if ent.s.State == StateActive {
			m.terminateLocked(ent, StateEnded, ReasonDurationCap, "policy")
		}
	}
}

// terminateLocked performs the single terminal transition. Caller
// holds ent.mu. Safe to call on an already-terminal session (no-op).
func (m *Manager) terminateLocked(ent *entry, state State, reason, actor string) {
	if ent.s.State.Terminal() {
		return
	}
	now := m.clock.Now()

	ent.s.State = state
	ent.s.Ended = now
	ent.s.EndReason = reason
	ent.s.Credentials = relay.Credentials{}
	ent.transportUp = false

	m.relay.Revoke(ent.s.ID)

	m.mu.Lock()
	if m.deviceActive[ent.s.DeviceID] == ent.s.ID {
		delete(m.deviceActive, ent.s.DeviceID)
	}
	if ent.retryCooldown > 0 && (reason == ReasonConsentDenied || reason == ReasonConsentTimeout) {
		m.cooldowns[ent.s.Principal+"\x00"+ent.s.DeviceID] = now.Add(ent.retryCooldown)
	}
	m.mu.Unlock()

	kind := audit.KindSessionEnded
	switch state {
	case StateDenied:
		kind = audit.KindSessionDenied
	case StateFailed:
		kind = audit.KindSessionFailed
	}
	m.audit.Record(audit.Event{
		SessionID: ent.s.ID,
		Kind:      kind,
		Actor:     actor,
		Time:      now,
		Meta:      map[string]string{"reason": reason},
	})

	terminate := &wire.Terminate{Reason: reason, Actor: actor}
	m.notify.Notify(ent.s, wire.RoleEngineer, wire.KindTerminate, terminate)
	m.notify.Notify(ent.s, wire.RoleAgent, wire.KindTerminate, terminate)

	m.logger.Info("session terminal",
		"session", ent.s.ID,
		"state", string(state),
		"reason", reason,
		"actor", actor,
	)

	if m.config.OnEnd != nil {
		snapshot := ent.s
		go m.config.OnEnd(snapshot)
	}
}

// bootstrapPayload flattens relay credentials into the wire payload.
func bootstrapPayload(credentials relay.Credentials) *wire.TransportBootstrap {
	bootstrap := &wire.TransportBootstrap{
		ExpiresAt: credentials.ExpiresAt.Unix(),
	}
	for _, server := range credentials.ICEServers {
		info := wire.ICEServerInfo{URLs: server.URLs, Username: server.Username}
		if credential, ok := server.Credential.(string); ok {
			info.Credential = credential
		}
		bootstrap.Servers = append(bootstrap.Servers, info)
	}
	return bootstrap
}
