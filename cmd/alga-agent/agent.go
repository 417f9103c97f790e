// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"log/slog"
	"sync"

	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/policy"
	"github.com/nine-minds/alga-remote/session"
	"github.com/nine-minds/alga-remote/signaling"
	"github.com/nine-minds/alga-remote/wire"
)

// agent owns the device's signaling connection and the set of live
// session runtimes. Envelope handling runs on the signaling read loop;
// everything long-lived happens on runtime goroutines.
type agent struct {
	cfg       *config
	deviceKey ed25519.PrivateKey
	clock     clock.Clock
	logger    *slog.Logger
	client    *signaling.Client

	mu       sync.Mutex
	pending  map[string]wire.SessionRequest // awaiting consent outcome
	sessions map[string]*sessionRuntime
}

func newAgent(cfg *config, deviceKey ed25519.PrivateKey, clk clock.Clock, logger *slog.Logger) *agent {
	return &agent{
		cfg:       cfg,
		deviceKey: deviceKey,
		clock:     clk,
		logger:    logger,
		pending:   make(map[string]wire.SessionRequest),
		sessions:  make(map[string]*sessionRuntime),
	}
}

// send wraps a payload in a signed envelope and queues it.
func (a *agent) send(kind wire.Kind, sessionID string, payload any) {
	envelope, err := wire.New(kind, sessionID, a.cfg.DeviceID, payload, a.clock.Now())
	if err != nil {
		a.logger.Error("building envelope failed", "kind", string(kind), "error", err)
		return
	}
	if err := a.client.Send(envelope); err != nil {
		a.logger.Warn("sending envelope failed", "kind", string(kind), "error", err)
	}
}

// handleEnvelope dispatches one verified inbound envelope. Runs on the
// signaling read loop; must not block.
func (a *agent) handleEnvelope(envelope *wire.Envelope) {
	switch envelope.Kind {
	case wire.KindSessionRequest:
		a.handleSessionRequest(envelope)
	case wire.KindSessionAccept:
		a.handleSessionStart(envelope)
	case wire.KindOffer:
		if rt := a.runtime(envelope.SessionID); rt != nil {
			go rt.handleOffer(envelope)
		}
	case wire.KindICECandidate:
		if rt := a.runtime(envelope.SessionID); rt != nil {
			var candidate wire.ICECandidate
			if err := envelope.DecodePayload(&candidate); err != nil {
				a.logger.Warn("malformed candidate payload", "error", err)
				return
			}
			go rt.handleCandidate(candidate)
		}
	case wire.KindControl:
		a.handleControl(envelope)
	case wire.KindTerminate:
		var terminate wire.Terminate
		if err := envelope.DecodePayload(&terminate); err == nil {
			a.logger.Info("session terminated", "session", envelope.SessionID, "reason", terminate.Reason)
		}
		a.endRuntime(envelope.SessionID)
	default:
		a.logger.Warn("unexpected envelope kind", "kind", string(envelope.Kind))
	}
}

// handleSessionRequest answers the consent prompt. With auto-consent
// the request is accepted immediately (unattended hosts); otherwise it
// is denied, because this binary carries no prompt UI and silence
// would just burn the consent timeout.
func (a *agent) handleSessionRequest(envelope *wire.Envelope) {
	var request wire.SessionRequest
	if err := envelope.DecodePayload(&request); err != nil {
		a.logger.Warn("malformed session request", "error", err)
		return
	}
	a.logger.Info("session requested",
		"session", envelope.SessionID,
		"principal", request.Principal,
		"capabilities", request.Capabilities,
	)

	accepted := a.cfg.AutoConsent
	kind := wire.KindSessionDeny
	if accepted {
		kind = wire.KindSessionAccept
		a.mu.Lock()
		a.pending[envelope.SessionID] = request
		a.mu.Unlock()
	}
	a.send(kind, envelope.SessionID, wire.Consent{DeviceID: a.cfg.DeviceID, Accepted: accepted})
}

// handleSessionStart launches the runtime once the sessiond confirms
// activation with the transport bootstrap.
func (a *agent) handleSessionStart(envelope *wire.Envelope) {
	var bootstrap wire.TransportBootstrap
	if err := envelope.DecodePayload(&bootstrap); err != nil {
		a.logger.Warn("malformed transport bootstrap", "error", err)
		return
	}

	a.mu.Lock()
	request, ok := a.pending[envelope.SessionID]
	delete(a.pending, envelope.SessionID)
	if _, exists := a.sessions[envelope.SessionID]; exists {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	if !ok {
		a.logger.Warn("activation for unknown session", "session", envelope.SessionID)
		return
	}

	capabilities := make([]policy.Capability, 0, len(request.Capabilities))
	for _, capability := range request.Capabilities {
		capabilities = append(capabilities, policy.Capability(capability))
	}

	rt, err := newSessionRuntime(a, envelope.SessionID, policy.NewCapabilitySet(capabilities...), bootstrap)
	if err != nil {
		a.logger.Error("starting session runtime failed", "session", envelope.SessionID, "error", err)
		a.send(wire.KindTerminate, envelope.SessionID, wire.Terminate{
			Reason: session.ReasonCaptureUnavailable,
			Actor:  a.cfg.DeviceID,
		})
		return
	}

	a.mu.Lock()
	a.sessions[envelope.SessionID] = rt
	a.mu.Unlock()
	go rt.run()
}

func (a *agent) handleControl(envelope *wire.Envelope) {
	var control wire.Control
	if err := envelope.DecodePayload(&control); err != nil {
		a.logger.Warn("malformed control payload", "error", err)
		return
	}
	rt := a.runtime(envelope.SessionID)
	if rt == nil {
		return
	}
	switch control.Op {
	case wire.ControlResize:
		rt.resize(control.Cols, control.Rows)
	case wire.ControlQuality:
		rt.setQuality(control.TargetFPS)
	}
}

func (a *agent) runtime(sessionID string) *sessionRuntime {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[sessionID]
}

// endRuntime tears down a session's runtime if it exists.
func (a *agent) endRuntime(sessionID string) {
	a.mu.Lock()
	rt := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	delete(a.pending, sessionID)
	a.mu.Unlock()
	if rt != nil {
		rt.close()
	}
}

// shutdown ends every runtime on agent exit.
func (a *agent) shutdown() {
	a.mu.Lock()
	runtimes := make([]*sessionRuntime, 0, len(a.sessions))
	for _, rt := range a.sessions {
		runtimes = append(runtimes, rt)
	}
	a.sessions = make(map[string]*sessionRuntime)
	a.mu.Unlock()
	for _, rt := range runtimes {
		rt.close()
	}
}
