// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"crypto/ed25519"
	"log/slog"
	"sync"
	"time"

	"github.com/nine-minds/alga-remote/audit"
	"github.com/nine-minds/alga-remote/identity"
	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/session"
	"github.com/nine-minds/alga-remote/wire"
)

// Link is an attached peer connection. Deliver hands the peer one
// encoded envelope; it must not block beyond a small write buffer.
// Close tears the connection down (used when a peer exceeds the
// malformed-message strike limit).
type Link interface {
	Deliver(data []byte) error
	Close() error
}

// Config holds the hub's bounded-delivery and abuse parameters.
type Config struct {
	// QueueLimit is the per-session, per-role cap on envelopes queued
	// for a disconnected peer. Default 16.
	QueueLimit int

	// Staleness is how long a queued envelope survives before it is
	// dropped and the sender notified of delivery failure. Default 60s.
	Staleness time.Duration

	// StrikeLimit disconnects a peer after this many malformed or
	// unauthenticated messages. Default 8.
	StrikeLimit int

	// OnDeliveryFailure, when set, is called once per envelope dropped
	// from a stale queue.
	OnDeliveryFailure func(sessionID string, role wire.Role, kind wire.Kind)
}

func (c *Config) applyDefaults() {
	if c.QueueLimit <= 0 {
		c.QueueLimit = 16
	}
	if c.Staleness <= 0 {
		c.Staleness = 60 * time.Second
	}
	if c.StrikeLimit <= 0 {
		c.StrikeLimit = 8
	}
}

// Hub is the signaling channel: authenticated, low-latency delivery of
// wire envelopes between the two peers of each session, plus the
// consent and negotiation traffic that flows before a transport
// exists. It implements session.Notifier for the state machine's
// outbound messages.
//
// Agents attach once per device and carry every session targeting that
// device; engineer clients attach per session. Inbound envelopes are
// authenticated against the sender's key material before the session
// manager or the opposite peer sees them; failures are dropped and
// recorded as security audit events, never answered.
type Hub struct {
	identity   identity.Store
	manager    *session.Manager
	audit      audit.Sink
	clock      clock.Clock
	logger     *slog.Logger
	config     Config
	signingKey ed25519.PrivateKey

	mu        sync.Mutex
	agents    map[string]*peer // keyed by device ID
	engineers map[string]*peer // keyed by session ID
	queues    map[queueKey][]queuedEnvelope

	closed bool
	done   chan struct{}
}

type queueKey struct {
	sessionID string
	role      wire.Role
}

type queuedEnvelope struct {
	data []byte
	kind wire.Kind
	at   time.Time
}

// peer is one attached connection.
type peer struct {
	link    Link
	sender  string // device ID or principal
	hmacKey []byte // engineer token bytes; nil for agents
	strikes int
}

// senderID is the envelope sender identity used for hub-originated
// messages. Peers verify these with the hub's published public key.
const senderID = "sessiond"

// NewHub creates the hub and starts its stale-queue janitor.
func NewHub(ids identity.Store, sink audit.Sink, clk clock.Clock, logger *slog.Logger, signingKey ed25519.PrivateKey, config Config) *Hub {
	config.applyDefaults()
	h := &Hub{
		identity:   ids,
		audit:      sink,
		clock:      clk,
		logger:     logger,
		config:     config,
		signingKey: signingKey,
		agents:     make(map[string]*peer),
		engineers:  make(map[string]*peer),
		queues:     make(map[queueKey][]queuedEnvelope),
		done:       make(chan struct{}),
	}
	go h.janitor()
	return h
}

// SetManager wires the session manager after construction. The hub and
// manager reference each other (the manager notifies through the hub,
// the hub dispatches inbound envelopes to the manager), so one side
// attaches late.
func (h *Hub) SetManager(m *session.Manager) { h.manager = m }

// Close stops the janitor and detaches every peer.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	agents := h.agents
	engineers := h.engineers
	h.agents = make(map[string]*peer)
	h.engineers = make(map[string]*peer)
	h.mu.Unlock()

	for _, p := range agents {
		p.link.Close()
	}
	for _, p := range engineers {
		p.link.Close()
	}
}

// AttachAgent registers a device's connection after its
// challenge-response handshake succeeded, marks the device online, and
// flushes any queued envelopes for its sessions.
func (h *Hub) AttachAgent(deviceID string, link Link) {
	h.mu.Lock()
	if existing, ok := h.agents[deviceID]; ok {
		existing.link.Close()
	}
	h.agents[deviceID] = &peer{link: link, sender: deviceID}
	h.mu.Unlock()

	if err := h.identity.SetOnline(deviceID, true, h.clock.Now()); err != nil {
		h.logger.Warn("marking device online failed", "device", deviceID, "error", err)
	}
	h.flushFor(wire.RoleAgent, func(_ queueKey, s session.Session) bool {
		return s.DeviceID == deviceID
	})
}

// DetachAgent removes the device's connection and marks it offline.
func (h *Hub) DetachAgent(deviceID string, link Link) {
	h.mu.Lock()
	if current, ok := h.agents[deviceID]; ok && current.link == link {
		delete(h.agents, deviceID)
	}
	h.mu.Unlock()

	if err := h.identity.SetOnline(deviceID, false, h.clock.Now()); err != nil {
		h.logger.Warn("marking device offline failed", "device", deviceID, "error", err)
	}
}

// AttachEngineer registers the engineer client for a session. tokenKey
// is the raw operator token; it doubles as the HMAC key for the
// client's envelope integrity tags.
func (h *Hub) AttachEngineer(sessionID, principal string, tokenKey []byte, link Link) {
	h.mu.Lock()
	if existing, ok := h.engineers[sessionID]; ok {
		existing.link.Close()
	}
	h.engineers[sessionID] = &peer{link: link, sender: principal, hmacKey: tokenKey}
	h.mu.Unlock()

	h.flushFor(wire.RoleEngineer, func(key queueKey, _ session.Session) bool {
		return key.sessionID == sessionID
	})
}

// DetachEngineer removes the engineer connection for a session.
func (h *Hub) DetachEngineer(sessionID string, link Link) {
	h.mu.Lock()
	if current, ok := h.engineers[sessionID]; ok && current.link == link {
		delete(h.engineers, sessionID)
	}
	h.mu.Unlock()
}

// Notify implements session.Notifier: sign and send a hub-originated
// envelope to one peer of the session. Never blocks; undeliverable
// envelopes go to the bounded queue.
func (h *Hub) Notify(s session.Session, role wire.Role, kind wire.Kind, payload any) {
	envelope, err := wire.New(kind, s.ID, senderID, payload, h.clock.Now())
	if err != nil {
		h.logger.Error("building envelope failed", "kind", string(kind), "error", err)
		return
	}
	if err := wire.SignEd25519(h.signingKey, envelope); err != nil {
		h.logger.Error("signing envelope failed", "kind", string(kind), "error", err)
		return
	}
	h.deliver(s, role, envelope)
}

// Forward relays an already-verified peer envelope to the opposite
// peer of the session. The hub re-tags it with its own key: peers hold
// no key material for each other, only for the hub, so the hub's
// verification is what the receiving side relies on. Sender is
// preserved so the receiver knows who originated the message.
func (h *Hub) Forward(s session.Session, to wire.Role, envelope *wire.Envelope) {
	if err := wire.SignEd25519(h.signingKey, envelope); err != nil {
		h.logger.Error("re-tagging forwarded envelope failed", "kind", string(envelope.Kind), "error", err)
		return
	}
	h.deliver(s, to, envelope)
}

func (h *Hub) deliver(s session.Session, role wire.Role, envelope *wire.Envelope) {
	data, err := envelope.Marshal()
	if err != nil {
		h.logger.Error("encoding envelope failed", "kind", string(envelope.Kind), "error", err)
		return
	}

	h.mu.Lock()
	target := h.linkLocked(s, role)
	if target == nil {
		h.enqueueLocked(queueKey{sessionID: s.ID, role: role}, queuedEnvelope{
			data: data,
			kind: envelope.Kind,
			at:   h.clock.Now(),
		})
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if err := target.link.Deliver(data); err != nil {
		h.logger.Warn("envelope delivery failed",
			"session", s.ID,
			"role", string(role),
			"kind", string(envelope.Kind),
			"error", err,
		)
	}
}

// linkLocked resolves the attached peer for a session role. Caller
// holds h.mu.
func (h *Hub) linkLocked(s session.Session, role wire.Role) *peer {
	if role == wire.RoleAgent {
		return h.agents[s.DeviceID]
	}
	return h.engineers[s.ID]
}

// enqueueLocked appends to a bounded queue, dropping the oldest entry
// on overflow. Caller holds h.mu.
func (h *Hub) enqueueLocked(key queueKey, item queuedEnvelope) {
	queue := h.queues[key]
	if len(queue) >= h.config.QueueLimit {
		dropped := queue[0]
		queue = queue[1:]
		h.notifyDrop(key, dropped.kind)
	}
	h.queues[key] = append(queue, item)
}

// flushFor drains matching queues to their now-attached peers,
// discarding entries older than the staleness window. Session lookups
// must happen outside h.mu: the manager notifies through the hub while
// holding the per-session lock, so a lookup under h.mu would deadlock
// against any session transitioning during a reconnect.
func (h *Hub) flushFor(role wire.Role, match func(key queueKey, s session.Session) bool) {
	h.mu.Lock()
	candidates := make([]queueKey, 0, len(h.queues))
	for key := range h.queues {
		if key.role == role {
			candidates = append(candidates, key)
		}
	}
	h.mu.Unlock()

	now := h.clock.Now()
	for _, key := range candidates {
		s, ok := h.sessionFor(key.sessionID)
		if !ok {
			h.mu.Lock()
			delete(h.queues, key)
			h.mu.Unlock()
			continue
		}
		if !match(key, s) {
			continue
		}

		h.mu.Lock()
		target := h.linkLocked(s, role)
		if target == nil {
			h.mu.Unlock()
			continue
		}
		queue := h.queues[key]
		delete(h.queues, key)
		h.mu.Unlock()

		for _, item := range queue {
			if now.Sub(item.at) > h.config.Staleness {
				h.notifyDrop(key, item.kind)
				continue
			}
			if err := target.link.Deliver(item.data); err != nil {
				h.logger.Warn("queued envelope delivery failed", "error", err)
				break
			}
		}
	}
}

// janitor periodically drops stale queued envelopes so senders learn
// about delivery failure within a bounded window even if the peer
// never reconnects.
func (h *Hub) janitor() {
	ticker := h.clock.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.sweepStale()
		}
	}
}

func (h *Hub) sweepStale() {
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	for key, queue := range h.queues {
		kept := queue[:0]
		for _, item := range queue {
			if now.Sub(item.at) > h.config.Staleness {
				h.notifyDrop(key, item.kind)
			} else {
				kept = append(kept, item)
			}
		}
		if len(kept) == 0 {
			delete(h.queues, key)
		} else {
			h.queues[key] = kept
		}
	}
}

func (h *Hub) notifyDrop(key queueKey, kind wire.Kind) {
	if h.config.OnDeliveryFailure != nil {
		h.config.OnDeliveryFailure(key.sessionID, key.role, kind)
	}
}

// sessionFor looks up a session snapshot, tolerating a nil manager
// (unit tests exercise the hub standalone).
func (h *Hub) sessionFor(sessionID string) (session.Session, bool) {
	if h.manager == nil {
		return session.Session{ID: sessionID}, true
	}
	s, err := h.manager.Get(sessionID)
	if err != nil {
		return session.Session{}, false
	}
	return s, true
}
