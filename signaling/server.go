// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nine-minds/alga-remote/identity"
	"github.com/nine-minds/alga-remote/lib/codec"
	"github.com/nine-minds/alga-remote/policy"
)

const (
	challengeSize     = 32
	handshakeDeadline = 10 * time.Second
	writeDeadline     = 10 * time.Second

	// maxMessageSize bounds a single signaling frame. Signaling carries
	// SDP blobs and ICE candidates, never media.
	maxMessageSize = 256 << 10
)

// agentHello opens the agent handshake.
type agentHello struct {
	DeviceID string `cbor:"1,keyasint"`
}

// agentChallenge is the server's response to a hello.
type agentChallenge struct {
	Nonce []byte `cbor:"1,keyasint"`
}

// agentProof completes the handshake: the challenge nonce signed with
// the device's enrolled Ed25519 key.
type agentProof struct {
	Signature []byte `cbor:"1,keyasint"`
}

// Server terminates the WebSocket endpoints for both peer roles and
// feeds authenticated connections into the hub.
//
// Agents connect to /v1/agent and prove possession of their enrolled
// device key with a challenge-response handshake before any envelope
// is accepted. Engineer clients connect to /v1/sessions/{id}/ws with
// their operator token; the token authenticates them and keys their
// envelope integrity tags.
type Server struct {
	hub      *Hub
	identity identity.Store
	policy   policy.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer builds the server. CheckOrigin is left permissive; the
// deployment fronts this with its own ingress authentication and the
// protocol authenticates every connection itself.
func NewServer(hub *Hub, ids identity.Store, pol policy.Service, logger *slog.Logger) *Server {
	return &Server{
		hub:      hub,
		identity: ids,
		policy:   pol,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register installs the WebSocket routes on a mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/agent", s.handleAgent)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleEngineer)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("agent upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	deviceID, err := s.agentHandshake(conn)
	if err != nil {
		s.logger.Warn("agent handshake failed", "remote", r.RemoteAddr, "error", err)
		conn.Close()
		return
	}

	link := newWSLink(conn, s.logger)
	s.hub.AttachAgent(deviceID, link)
	s.logger.Info("agent connected", "device", deviceID, "remote", r.RemoteAddr)

	defer func() {
		s.hub.DetachAgent(deviceID, link)
		link.Close()
		s.logger.Info("agent disconnected", "device", deviceID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.hub.HandleAgentEnvelope(deviceID, data) {
			s.logger.Warn("agent exceeded strike limit", "device", deviceID)
			return
		}
	}
}

// agentHandshake runs hello, challenge, proof. The device is trusted
// only after its signature over our fresh nonce verifies against the
// enrolled key.
func (s *Server) agentHandshake(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeDeadline))
	defer conn.SetReadDeadline(time.Time{})

	var hello agentHello
	if err := readCBOR(conn, &hello); err != nil {
		return "", fmt.Errorf("reading hello: %w", err)
	}
	if hello.DeviceID == "" {
		return "", fmt.Errorf("hello missing device id")
	}
	if _, err := s.identity.Device(hello.DeviceID); err != nil {
		return "", fmt.Errorf("device %s: %w", hello.DeviceID, err)
	}

	nonce := make([]byte, challengeSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	if err := writeCBOR(conn, agentChallenge{Nonce: nonce}); err != nil {
		return "", fmt.Errorf("sending challenge: %w", err)
	}

	var proof agentProof
	if err := readCBOR(conn, &proof); err != nil {
		return "", fmt.Errorf("reading proof: %w", err)
	}
	if err := s.identity.VerifyChallengeResponse(hello.DeviceID, nonce, proof.Signature); err != nil {
		return "", fmt.Errorf("device %s: %w", hello.DeviceID, err)
	}
	return hello.DeviceID, nil
}

func (s *Server) handleEngineer(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	tokenBytes, err := BearerToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	principal, err := s.policy.Authenticate(tokenBytes)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sess, err := s.hub.manager.Get(sessionID)
	if err != nil || sess.Principal != principal {
		// Same status for a missing session and a wrong principal: no
		// probing for live session IDs.
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("engineer upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	link := newWSLink(conn, s.logger)
	s.hub.AttachEngineer(sessionID, principal, tokenBytes, link)
	s.logger.Info("engineer connected", "session", sessionID, "principal", principal)

	defer func() {
		s.hub.DetachEngineer(sessionID, link)
		link.Close()
		s.logger.Info("engineer disconnected", "session", sessionID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.hub.HandleEngineerEnvelope(sessionID, principal, data) {
			s.logger.Warn("engineer exceeded strike limit", "session", sessionID, "principal", principal)
			return
		}
	}
}

// BearerToken extracts the raw operator token from the Authorization
// header: "Bearer " followed by the base64url token bytes.
func BearerToken(r *http.Request) ([]byte, error) {
	header := r.Header.Get("Authorization")
	encoded, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, fmt.Errorf("missing bearer token")
	}
	tokenBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed bearer token: %w", err)
	}
	return tokenBytes, nil
}

func readCBOR(conn *websocket.Conn, v any) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, v)
}

func writeCBOR(conn *websocket.Conn, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// wsLink adapts a websocket connection to the hub's Link interface
// with a bounded outbound buffer drained by a single writer goroutine,
// so Deliver never blocks on a slow peer.
type wsLink struct {
	conn   *websocket.Conn
	out    chan []byte
	done   chan struct{}
	logger *slog.Logger
}

func newWSLink(conn *websocket.Conn, logger *slog.Logger) *wsLink {
	l := &wsLink{
		conn:   conn,
		out:    make(chan []byte, 32),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.writer()
	return l
}

func (l *wsLink) writer() {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.out:
			l.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := l.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				l.logger.Debug("websocket write failed", "error", err)
				l.conn.Close()
				return
			}
		}
	}
}

func (l *wsLink) Deliver(data []byte) error {
	select {
	case l.out <- data:
		return nil
	case <-l.done:
		return fmt.Errorf("signaling: link closed")
	default:
		return fmt.Errorf("signaling: outbound buffer full")
	}
}

func (l *wsLink) Close() error {
	select {
	case <-l.done:
		return nil
	default:
	}
	close(l.done)
	return l.conn.Close()
}
