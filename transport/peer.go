// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/wire"
)

// Channel labels for the session data channels. The engineer side
// opens all of them when it offers; the agent side accepts.
const (
	ChannelFrames   = "frames"
	ChannelInput    = "input"
	ChannelTerminal = "terminal"
	ChannelControl  = "control"
)

var sessionChannels = []string{ChannelFrames, ChannelInput, ChannelTerminal, ChannelControl}

// channelOpenTimeout bounds how long AcceptChannel and the offerer's
// open wait block before the negotiation is considered dead.
const channelOpenTimeout = 30 * time.Second

// Signaler carries negotiation messages to the session peer, normally
// by wrapping them in signed envelopes on the signaling channel.
// Implementations must be safe for concurrent use: candidate trickling
// races the answer exchange.
type Signaler interface {
	SendDescription(kind wire.Kind, sdp string) error
	SendCandidate(candidate wire.ICECandidate) error
}

// Peer is one session's WebRTC endpoint. The engineer side calls
// Offer; the agent side waits for HandleDescription with the remote
// offer and answers. Both sides feed remote candidates in as they
// trickle through the signaling channel, and read the session's data
// channels as net.Conn streams once connected.
type Peer struct {
	role     wire.Role
	session  string
	signaler Signaler
	clock    clock.Clock
	logger   *slog.Logger

	pc *webrtc.PeerConnection

	mu       sync.Mutex
	channels map[string]net.Conn
	waiters  map[string]chan net.Conn
	// pendingCandidates buffers remote candidates that arrive before
	// the remote description is set; pion rejects them otherwise.
	pendingCandidates []wire.ICECandidate
	remoteSet         bool

	connected     chan struct{}
	connectedOnce sync.Once
	closed        chan struct{}
	closeOnce     sync.Once
}

// NewPeer builds the PeerConnection with the session's relay-issued
// ICE servers. Data channel detach is enabled so channels surface as
// byte streams, and loopback candidates are included so two endpoints
// on one machine (tests, LAN support bench) can pair.
func NewPeer(role wire.Role, sessionID string, servers []webrtc.ICEServer, signaler Signaler, clk clock.Clock, logger *slog.Logger) (*Peer, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("transport: creating peer connection: %w", err)
	}

	p := &Peer{
		role:      role,
		session:   sessionID,
		signaler:  signaler,
		clock:     clk,
		logger:    logger,
		pc:        pc,
		channels:  make(map[string]net.Conn),
		waiters:   make(map[string]chan net.Conn),
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		out := wire.ICECandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			out.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			out.SDPMLineIndex = *init.SDPMLineIndex
		}
		if err := signaler.SendCandidate(out); err != nil {
			logger.Warn("trickling ICE candidate failed", "session", sessionID, "error", err)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("ICE state change", "session", sessionID, "state", state.String())
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			p.connectedOnce.Do(func() { close(p.connected) })
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			p.Close()
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.adoptChannel(dc)
	})

	return p, nil
}

// Offer creates the session data channels, publishes the SDP offer,
// and returns. Candidates trickle as they are gathered; the answer
// arrives later through HandleDescription.
func (p *Peer) Offer(ctx context.Context) error {
	if p.role != wire.RoleEngineer {
		return fmt.Errorf("transport: %s side does not offer", p.role)
	}
	ordered := true
	for _, label := range sessionChannels {
		dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return fmt.Errorf("transport: creating %s channel: %w", label, err)
		}
		p.adoptChannel(dc)
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("transport: creating offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("transport: setting local description: %w", err)
	}
	if err := p.signaler.SendDescription(wire.KindOffer, offer.SDP); err != nil {
		return fmt.Errorf("transport: sending offer: %w", err)
	}
	return nil
}

// HandleDescription applies a remote offer or answer. On the agent
// side an offer triggers the answer exchange; on the engineer side the
// answer completes it. Buffered remote candidates are applied once the
// description is in place.
func (p *Peer) HandleDescription(kind wire.Kind, sdp string) error {
	var remote webrtc.SessionDescription
	switch kind {
	case wire.KindOffer:
		if p.role != wire.RoleAgent {
			return fmt.Errorf("transport: %s side received an offer", p.role)
		}
		remote = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	case wire.KindAnswer:
		if p.role != wire.RoleEngineer {
			return fmt.Errorf("transport: %s side received an answer", p.role)
		}
		remote = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	default:
		return fmt.Errorf("transport: %s is not a session description", kind)
	}

	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("transport: setting remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.mu.Unlock()
	for _, candidate := range pending {
		if err := p.addCandidate(candidate); err != nil {
			p.logger.Warn("applying buffered candidate failed", "session", p.session, "error", err)
		}
	}

	if kind == wire.KindOffer {
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("transport: creating answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("transport: setting local description: %w", err)
		}
		if err := p.signaler.SendDescription(wire.KindAnswer, answer.SDP); err != nil {
			return fmt.Errorf("transport: sending answer: %w", err)
		}
	}
	return nil
}

// HandleCandidate applies a trickled remote candidate, buffering it if
// the remote description has not arrived yet.
func (p *Peer) HandleCandidate(candidate wire.ICECandidate) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.addCandidate(candidate)
}

func (p *Peer) addCandidate(candidate wire.ICECandidate) error {
	init := webrtc.ICECandidateInit{Candidate: candidate.Candidate}
	if candidate.SDPMid != "" {
		mid := candidate.SDPMid
		init.SDPMid = &mid
	}
	index := candidate.SDPMLineIndex
	init.SDPMLineIndex = &index
	return p.pc.AddICECandidate(init)
}

// Connected is closed when ICE reaches the connected state.
func (p *Peer) Connected() <-chan struct{} { return p.connected }

// Done is closed when the peer shuts down.
func (p *Peer) Done() <-chan struct{} { return p.closed }

// Relayed reports whether the selected candidate pair runs through a
// TURN relay rather than directly between the endpoints. Valid only
// after Connected.
func (p *Peer) Relayed() bool {
	sctp := p.pc.SCTP()
	if sctp == nil {
		return false
	}
	dtls := sctp.Transport()
	if dtls == nil {
		return false
	}
	ice := dtls.ICETransport()
	if ice == nil {
		return false
	}
	pair, err := ice.GetSelectedCandidatePair()
	if err != nil || pair == nil {
		return false
	}
	return pair.Local.Typ == webrtc.ICECandidateTypeRelay ||
		pair.Remote.Typ == webrtc.ICECandidateTypeRelay
}

// AcceptChannel returns the named data channel as a net.Conn, waiting
// for the peer to open it if necessary.
func (p *Peer) AcceptChannel(ctx context.Context, label string) (net.Conn, error) {
	p.mu.Lock()
	if conn, ok := p.channels[label]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	waiter, ok := p.waiters[label]
	if !ok {
		waiter = make(chan net.Conn, 1)
		p.waiters[label] = waiter
	}
	p.mu.Unlock()

	select {
	case conn := <-waiter:
		return conn, nil
	case <-p.clock.After(channelOpenTimeout):
		return nil, fmt.Errorf("transport: %s channel did not open within %s", label, channelOpenTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, net.ErrClosed
	}
}

// Close tears down the PeerConnection and every channel.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return p.pc.Close()
}

// adoptChannel registers a data channel and, once it opens, detaches
// it into a StreamConn handed to any waiting AcceptChannel caller.
func (p *Peer) adoptChannel(dc *webrtc.DataChannel) {
	label := dc.Label()
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			p.logger.Error("detaching data channel failed", "session", p.session, "channel", label, "error", err)
			return
		}
		conn := NewStreamConn(raw, label, p.session)

		p.mu.Lock()
		p.channels[label] = conn
		waiter := p.waiters[label]
		delete(p.waiters, label)
		p.mu.Unlock()

		p.logger.Debug("data channel open", "session", p.session, "channel", label)
		if waiter != nil {
			waiter <- conn
		}
	})
}
