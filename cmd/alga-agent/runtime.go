// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nine-minds/alga-remote/capture"
	"github.com/nine-minds/alga-remote/capture/privbridge"
	"github.com/nine-minds/alga-remote/policy"
	"github.com/nine-minds/alga-remote/session"
	"github.com/nine-minds/alga-remote/termbridge"
	"github.com/nine-minds/alga-remote/transport"
	"github.com/nine-minds/alga-remote/wire"
)

// heartbeatInterval keeps the session's inactivity deadline fed. A
// third of the default 45s grace.
const heartbeatInterval = 15 * time.Second

// sessionRuntime serves one active session on the agent: the WebRTC
// peer, the capture pipeline on the frames channel, injection from the
// input channel, and the shell bridge on the terminal channel.
type sessionRuntime struct {
	agent        *agent
	id           string
	capabilities policy.CapabilitySet

	peer     *transport.Peer
	backend  capture.Backend
	pipeline *capture.Pipeline
	bridge   atomic.Pointer[termbridge.Bridge]
	privhelp *privbridge.Client

	active atomic.Bool
	cancel context.CancelFunc
	ctx    context.Context
}

// envelopeSignaler sends negotiation messages as signed envelopes
// through the agent's signaling connection.
type envelopeSignaler struct {
	agent     *agent
	sessionID string
}

func (s envelopeSignaler) SendDescription(kind wire.Kind, sdp string) error {
	s.agent.send(kind, s.sessionID, wire.SDP{SDP: sdp})
	return nil
}

func (s envelopeSignaler) SendCandidate(candidate wire.ICECandidate) error {
	s.agent.send(wire.KindICECandidate, s.sessionID, candidate)
	return nil
}

func newSessionRuntime(a *agent, sessionID string, capabilities policy.CapabilitySet, bootstrap wire.TransportBootstrap) (*sessionRuntime, error) {
	rt := &sessionRuntime{
		agent:        a,
		id:           sessionID,
		capabilities: capabilities,
	}
	rt.ctx, rt.cancel = context.WithCancel(context.Background())

	if capabilities.Has(policy.CapScreenView) {
		backend := capture.NewBackend()
		if err := backend.Open(a.cfg.Display); err != nil {
			rt.cancel()
			return nil, fmt.Errorf("opening capture backend: %w", err)
		}
		rt.backend = backend

		var elevated capture.ElevatedSource
		if a.cfg.PrivhelperSocket != "" && capabilities.Has(policy.CapPrivilegeElevation) {
			client, err := rt.dialPrivhelper(a.cfg.PrivhelperSocket)
			if err != nil {
				a.logger.Warn("privilege helper unavailable", "error", err)
			} else {
				rt.privhelp = client
				elevated = client
			}
		}

		rt.pipeline = capture.NewPipeline(backend, elevated, rt.inputAllowed, a.clock, a.logger, capture.PipelineConfig{})
		rt.pipeline.AllowElevated(rt.privhelp != nil)
	}

	servers := make([]webrtc.ICEServer, 0, len(bootstrap.Servers))
	for _, server := range bootstrap.Servers {
		ice := webrtc.ICEServer{URLs: server.URLs, Username: server.Username}
		if server.Credential != "" {
			ice.Credential = server.Credential
		}
		servers = append(servers, ice)
	}

	peer, err := transport.NewPeer(wire.RoleAgent, sessionID, servers, envelopeSignaler{agent: a, sessionID: sessionID}, a.clock, a.logger)
	if err != nil {
		rt.cancel()
		if rt.backend != nil {
			rt.backend.Close()
		}
		return nil, err
	}
	rt.peer = peer
	return rt, nil
}

// inputAllowed is the pipeline's injection gate.
func (rt *sessionRuntime) inputAllowed() bool {
	return rt.active.Load() && rt.capabilities.Has(policy.CapInputControl)
}

// run drives the session until it ends. Each concern runs on its own
// goroutine; run itself waits for transport connection, reports it,
// and keeps heartbeats flowing.
func (rt *sessionRuntime) run() {
	defer rt.agent.endRuntime(rt.id)

	select {
	case <-rt.peer.Connected():
	case <-rt.peer.Done():
		return
	case <-rt.ctx.Done():
		return
	}

	rt.active.Store(true)
	mode := session.TransportDirect
	if rt.peer.Relayed() {
		mode = session.TransportRelayed
	}
	rt.agent.logger.Info("transport connected", "session", rt.id, "mode", mode)
	rt.agent.send(wire.KindControl, rt.id, wire.Control{Op: wire.ControlTransportUp, TransportMode: mode})

	if rt.pipeline != nil {
		go rt.serveFrames()
		go rt.serveInput()
	}
	if rt.capabilities.Has(policy.CapTerminalAccess) {
		go rt.serveTerminal()
	}

	ticker := rt.agent.clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rt.ctx.Done():
			return
		case <-rt.peer.Done():
			return
		case <-ticker.C:
			rt.agent.send(wire.KindControl, rt.id, wire.Control{Op: wire.ControlHeartbeat})
		}
	}
}

func (rt *sessionRuntime) serveFrames() {
	conn, err := rt.peer.AcceptChannel(rt.ctx, transport.ChannelFrames)
	if err != nil {
		rt.agent.logger.Warn("frames channel unavailable", "session", rt.id, "error", err)
		return
	}
	err = rt.pipeline.Run(rt.ctx, conn)
	if errors.Is(err, capture.ErrCaptureUnavailable) {
		rt.agent.logger.Error("capture path failed", "session", rt.id, "error", err)
		rt.agent.send(wire.KindTerminate, rt.id, wire.Terminate{
			Reason: session.ReasonCaptureUnavailable,
			Actor:  rt.agent.cfg.DeviceID,
		})
	}
}

func (rt *sessionRuntime) serveInput() {
	conn, err := rt.peer.AcceptChannel(rt.ctx, transport.ChannelInput)
	if err != nil {
		rt.agent.logger.Warn("input channel unavailable", "session", rt.id, "error", err)
		return
	}
	for {
		event, err := wire.ReadInputEvent(conn)
		if err != nil {
			return
		}
		switch event.Type {
		case wire.InputPointerMove:
			rt.pipeline.InjectPointer(event.X, event.Y)
		case wire.InputButton:
			rt.pipeline.InjectButton(capture.PointerButton(event.Button), event.Pressed)
		case wire.InputKey:
			rt.pipeline.InjectKey(event.Code, event.Pressed)
		}
	}
}

func (rt *sessionRuntime) serveTerminal() {
	conn, err := rt.peer.AcceptChannel(rt.ctx, transport.ChannelTerminal)
	if err != nil {
		rt.agent.logger.Warn("terminal channel unavailable", "session", rt.id, "error", err)
		return
	}
	bridge, err := termbridge.Open(rt.capabilities.Has(policy.CapTerminalAccess), rt.agent.logger)
	if err != nil {
		rt.agent.logger.Warn("terminal bridge failed", "session", rt.id, "error", err)
		conn.Close()
		return
	}
	rt.bridge.Store(bridge)
	if err := bridge.Stream(conn); err != nil {
		rt.agent.logger.Debug("terminal stream ended", "session", rt.id, "error", err)
	}
}

func (rt *sessionRuntime) handleOffer(envelope *wire.Envelope) {
	var sdp wire.SDP
	if err := envelope.DecodePayload(&sdp); err != nil {
		rt.agent.logger.Warn("malformed offer payload", "session", rt.id, "error", err)
		return
	}
	if err := rt.peer.HandleDescription(wire.KindOffer, sdp.SDP); err != nil {
		rt.agent.logger.Warn("applying offer failed", "session", rt.id, "error", err)
	}
}

func (rt *sessionRuntime) handleCandidate(candidate wire.ICECandidate) {
	if err := rt.peer.HandleCandidate(candidate); err != nil {
		rt.agent.logger.Warn("applying candidate failed", "session", rt.id, "error", err)
	}
}

func (rt *sessionRuntime) resize(cols, rows uint16) {
	if bridge := rt.bridge.Load(); bridge != nil {
		if err := bridge.Resize(cols, rows); err != nil {
			rt.agent.logger.Debug("terminal resize failed", "session", rt.id, "error", err)
		}
	}
}

func (rt *sessionRuntime) setQuality(targetFPS int) {
	if rt.pipeline != nil {
		rt.pipeline.SetTargetFPS(targetFPS)
	}
}

// dialPrivhelper connects to the elevated helper's local socket.
func (rt *sessionRuntime) dialPrivhelper(socket string) (*privbridge.Client, error) {
	conn, err := net.DialTimeout("unix", socket, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return privbridge.NewClient(conn, rt.agent.logger)
}

// close tears the runtime down. Idempotent through the context.
func (rt *sessionRuntime) close() {
	rt.active.Store(false)
	rt.cancel()
	if bridge := rt.bridge.Load(); bridge != nil {
		bridge.Close()
	}
	if rt.privhelp != nil {
		rt.privhelp.Close()
	}
	rt.peer.Close()
	if rt.backend != nil {
		rt.backend.Close()
	}
}
