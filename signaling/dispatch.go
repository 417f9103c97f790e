// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"errors"

	"github.com/nine-minds/alga-remote/audit"
	"github.com/nine-minds/alga-remote/session"
	"github.com/nine-minds/alga-remote/wire"
)

// HandleAgentEnvelope authenticates and dispatches one raw envelope
// received on a device's connection. It returns false when the device
// has exceeded the strike limit and the connection should be closed.
//
// Failures never produce a response on the wire: a forged or malformed
// message learns nothing from us. They do produce a security-drop
// audit event and a strike against the connection.
func (h *Hub) HandleAgentEnvelope(deviceID string, data []byte) bool {
	envelope, err := wire.Decode(data)
	if err != nil {
		return h.strike(wire.RoleAgent, deviceID, "", "malformed envelope")
	}
	if envelope.Sender != deviceID {
		return h.strike(wire.RoleAgent, deviceID, envelope.SessionID, "sender does not match authenticated device")
	}
	key, err := h.identity.PublicKey(deviceID)
	if err != nil {
		return h.strike(wire.RoleAgent, deviceID, envelope.SessionID, "unknown device key")
	}
	if err := wire.VerifyEd25519(key, envelope); err != nil {
		return h.strike(wire.RoleAgent, deviceID, envelope.SessionID, "bad signature")
	}

	s, err := h.manager.Get(envelope.SessionID)
	if err != nil {
		return h.strike(wire.RoleAgent, deviceID, envelope.SessionID, "unknown session")
	}
	if s.DeviceID != deviceID {
		return h.strike(wire.RoleAgent, deviceID, envelope.SessionID, "session belongs to another device")
	}

	if err := h.dispatch(s, wire.RoleAgent, deviceID, envelope); err != nil {
		return h.strike(wire.RoleAgent, deviceID, envelope.SessionID, err.Error())
	}
	return true
}

// HandleEngineerEnvelope authenticates and dispatches one raw envelope
// received on an engineer client's connection for the given session.
// Returns false when the connection should be closed.
func (h *Hub) HandleEngineerEnvelope(sessionID, principal string, data []byte) bool {
	h.mu.Lock()
	p := h.engineers[sessionID]
	h.mu.Unlock()
	if p == nil {
		return false
	}

	envelope, err := wire.Decode(data)
	if err != nil {
		return h.strike(wire.RoleEngineer, principal, sessionID, "malformed envelope")
	}
	if envelope.SessionID != sessionID {
		return h.strike(wire.RoleEngineer, principal, sessionID, "envelope addressed to another session")
	}
	if envelope.Sender != principal {
		return h.strike(wire.RoleEngineer, principal, sessionID, "sender does not match authenticated principal")
	}
	if err := wire.VerifyHMAC(p.hmacKey, envelope); err != nil {
		return h.strike(wire.RoleEngineer, principal, sessionID, "bad integrity tag")
	}

	s, err := h.manager.Get(sessionID)
	if err != nil {
		return h.strike(wire.RoleEngineer, principal, sessionID, "unknown session")
	}
	if s.Principal != principal {
		return h.strike(wire.RoleEngineer, principal, sessionID, "session belongs to another principal")
	}

	if err := h.dispatch(s, wire.RoleEngineer, principal, envelope); err != nil {
		return h.strike(wire.RoleEngineer, principal, sessionID, err.Error())
	}
	return true
}

// dispatch routes one authenticated envelope. Negotiation and control
// traffic relays to the opposite peer; lifecycle kinds go to the
// session manager.
func (h *Hub) dispatch(s session.Session, from wire.Role, sender string, envelope *wire.Envelope) error {
	switch envelope.Kind {
	case wire.KindSessionRequest:
		// Sessions are created through the sessiond API, never by a
		// peer envelope.
		return errors.New("session-request not accepted from peers")

	case wire.KindSessionAccept, wire.KindSessionDeny:
		if from != wire.RoleAgent {
			return errors.New("consent from non-agent peer")
		}
		var consent wire.Consent
		if err := envelope.DecodePayload(&consent); err != nil {
			return errors.New("malformed consent payload")
		}
		accepted := envelope.Kind == wire.KindSessionAccept && consent.Accepted
		if _, err := h.manager.RecordConsent(s.ID, sender, accepted); err != nil {
			// A consent decision racing a timeout loses quietly; the
			// terminate envelope is already on its way.
			h.logger.Debug("consent not recorded", "session", s.ID, "error", err)
		}
		return nil

	case wire.KindOffer, wire.KindAnswer, wire.KindICECandidate:
		h.Forward(s, from.Other(), envelope)
		return nil

	case wire.KindControl:
		var control wire.Control
		if err := envelope.DecodePayload(&control); err != nil {
			return errors.New("malformed control payload")
		}
		switch control.Op {
		case wire.ControlHeartbeat:
			if err := h.manager.Heartbeat(s.ID); err != nil {
				h.logger.Debug("heartbeat ignored", "session", s.ID, "error", err)
			}
		case wire.ControlTransportUp:
			if err := h.manager.MarkTransportConnected(s.ID, control.TransportMode); err != nil {
				h.logger.Debug("transport report ignored", "session", s.ID, "error", err)
			}
		default:
			h.Forward(s, from.Other(), envelope)
		}
		return nil

	case wire.KindTerminate:
		var terminate wire.Terminate
		if err := envelope.DecodePayload(&terminate); err != nil {
			return errors.New("malformed terminate payload")
		}
		// Agents report structural failures (capture path gone, relay
		// refused) through terminate; those fail the session instead
		// of ending it cleanly.
		switch terminate.Reason {
		case session.ReasonCaptureUnavailable, session.ReasonRelayUnavailable:
			if err := h.manager.FailSession(s.ID, terminate.Reason, sender); err != nil {
				h.logger.Debug("terminate ignored", "session", s.ID, "error", err)
			}
		default:
			reason := session.ReasonOperatorRequest
			if from == wire.RoleAgent {
				reason = session.ReasonAgentRequest
			}
			if err := h.manager.EndSession(s.ID, reason, sender); err != nil {
				h.logger.Debug("terminate ignored", "session", s.ID, "error", err)
			}
		}
		return nil
	}
	return errors.New("unhandled envelope kind")
}

// strike records a dropped message against a connection and reports
// whether the connection may stay open.
func (h *Hub) strike(role wire.Role, sender, sessionID, detail string) bool {
	h.audit.Record(audit.Event{
		Kind:      audit.KindSecurityDrop,
		SessionID: sessionID,
		Actor:     sender,
		Time:      h.clock.Now(),
		Meta:      map[string]string{"reason": detail},
	})
	h.logger.Warn("dropped signaling message",
		"role", string(role),
		"sender", sender,
		"session", sessionID,
		"reason", detail,
	)

	h.mu.Lock()
	defer h.mu.Unlock()
	var p *peer
	if role == wire.RoleAgent {
		p = h.agents[sender]
	} else {
		p = h.engineers[sessionID]
	}
	if p == nil {
		return false
	}
	p.strikes++
	return p.strikes < h.config.StrikeLimit
}
