// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/wire"
)

// Client is the agent side of the signaling channel: it dials the
// sessiond, completes the device challenge-response handshake, and
// then exchanges signed envelopes until the connection drops or the
// context ends. Reconnection with backoff is handled by Run.
type Client struct {
	url        string
	deviceID   string
	privateKey ed25519.PrivateKey
	serverKey  ed25519.PublicKey
	handler    func(*wire.Envelope)
	clock      clock.Clock
	logger     *slog.Logger

	dialer *websocket.Dialer

	sendQ chan []byte
}

// NewClient builds a client. handler receives every verified inbound
// envelope; it runs on the read loop and must not block.
func NewClient(url, deviceID string, privateKey ed25519.PrivateKey, serverKey ed25519.PublicKey, handler func(*wire.Envelope), clk clock.Clock, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		deviceID:   deviceID,
		privateKey: privateKey,
		serverKey:  serverKey,
		handler:    handler,
		clock:      clk,
		logger:     logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeDeadline,
		},
		sendQ: make(chan []byte, 32),
	}
}

// Send signs an envelope with the device key and queues it. Returns an
// error if the outbound queue is full (the connection is down or badly
// congested; signaling traffic is not worth buffering beyond that).
func (c *Client) Send(envelope *wire.Envelope) error {
	if err := wire.SignEd25519(c.privateKey, envelope); err != nil {
		return err
	}
	data, err := envelope.Marshal()
	if err != nil {
		return err
	}
	select {
	case c.sendQ <- data:
		return nil
	default:
		return fmt.Errorf("signaling: send queue full")
	}
}

// Run connects and serves the channel until ctx ends, reconnecting
// with capped exponential backoff after each failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("signaling connection lost", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	if err := c.handshake(conn); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	c.logger.Info("signaling connected", "url", c.url)

	writeDone := make(chan error, 1)
	go func() { writeDone <- c.writeLoop(ctx, conn) }()

	readDone := make(chan error, 1)
	go func() { readDone <- c.readLoop(conn) }()

	select {
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case err := <-readDone:
		conn.Close()
		return err
	case err := <-writeDone:
		conn.Close()
		return err
	}
}

func (c *Client) handshake(conn *websocket.Conn) error {
	if err := writeCBOR(conn, agentHello{DeviceID: c.deviceID}); err != nil {
		return err
	}
	var challenge agentChallenge
	if err := readCBOR(conn, &challenge); err != nil {
		return err
	}
	if len(challenge.Nonce) != challengeSize {
		return fmt.Errorf("challenge nonce has %d bytes", len(challenge.Nonce))
	}
	signature := ed25519.Sign(c.privateKey, challenge.Nonce)
	return writeCBOR(conn, agentProof{Signature: signature})
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendQ:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return err
			}
		}
	}
}

// readLoop decodes and verifies inbound envelopes. Everything arriving
// here was originated or re-tagged by the sessiond, so every envelope
// must verify against its Ed25519 key; anything else is dropped.
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		envelope, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}
		if err := wire.VerifyEd25519(c.serverKey, envelope); err != nil {
			c.logger.Warn("dropping envelope with bad tag", "kind", string(envelope.Kind))
			continue
		}
		c.handler(envelope)
	}
}
