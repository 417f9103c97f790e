// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// StreamConn wraps a detached pion data channel as a net.Conn. SCTP
// handles fragmentation and reassembly underneath, so the wrapper
// behaves like a TCP connection for the stream protocols layered on
// top (the terminal bridge, the frame pipeline's length-prefixed
// records).
//
// Deadlines close the underlying stream to unblock pending I/O; once a
// deadline fires the conn is permanently broken. That is sufficient
// for the session core, which treats a stalled channel as a dead
// transport.
type StreamConn struct {
	rwc     io.ReadWriteCloser
	channel string
	session string

	mu         sync.Mutex
	readTimer  *time.Timer
	writeTimer *time.Timer
	broken     bool
}

var _ net.Conn = (*StreamConn)(nil)

// NewStreamConn wraps a detached data channel. channel is the data
// channel label, session the owning session ID; both only feed
// addresses and logs.
func NewStreamConn(rwc io.ReadWriteCloser, channel, session string) *StreamConn {
	return &StreamConn{rwc: rwc, channel: channel, session: session}
}

func (c *StreamConn) Read(buffer []byte) (int, error)  { return c.rwc.Read(buffer) }
func (c *StreamConn) Write(buffer []byte) (int, error) { return c.rwc.Write(buffer) }

func (c *StreamConn) Close() error {
	c.mu.Lock()
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
	c.mu.Unlock()
	return c.rwc.Close()
}

func (c *StreamConn) LocalAddr() net.Addr  { return channelAddr{c.session + "/" + c.channel} }
func (c *StreamConn) RemoteAddr() net.Addr { return channelAddr{c.session + "/" + c.channel + "/peer"} }

func (c *StreamConn) SetDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.armLocked(c.readTimer, deadline)
	c.writeTimer = c.armLocked(c.writeTimer, deadline)
	return nil
}

func (c *StreamConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.armLocked(c.readTimer, deadline)
	return nil
}

func (c *StreamConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeTimer = c.armLocked(c.writeTimer, deadline)
	return nil
}

// armLocked replaces a deadline timer. A zero deadline clears it; a
// past deadline breaks the conn immediately. Caller holds c.mu.
func (c *StreamConn) armLocked(timer *time.Timer, deadline time.Time) *time.Timer {
	if timer != nil {
		timer.Stop()
	}
	if deadline.IsZero() || c.broken {
		return nil
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		c.breakLocked()
		return nil
	}
	return time.AfterFunc(wait, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.breakLocked()
	})
}

func (c *StreamConn) breakLocked() {
	if c.broken {
		return
	}
	c.broken = true
	c.rwc.Close()
}

// channelAddr is a synthetic net.Addr for data channel streams.
type channelAddr struct {
	label string
}

func (a channelAddr) Network() string { return "webrtc" }
func (a channelAddr) String() string  { return a.label }
