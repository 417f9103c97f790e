// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"net"
	"testing"
	"time"
)

func TestStreamConnReadWrite(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	conn := NewStreamConn(local, ChannelTerminal, "s-1")
	defer conn.Close()
	defer remote.Close()

	go remote.Write([]byte("hello"))

	buffer := make([]byte, 16)
	n, err := conn.Read(buffer)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buffer[:n]) != "hello" {
		t.Errorf("read %q, want %q", buffer[:n], "hello")
	}

	go func() {
		n, _ := remote.Read(buffer)
		_ = n
	}()
	if _, err := conn.Write([]byte("back")); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestStreamConnAddrs(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	defer remote.Close()
	conn := NewStreamConn(local, ChannelFrames, "s-7")
	defer conn.Close()

	if got := conn.LocalAddr().Network(); got != "webrtc" {
		t.Errorf("network = %q, want %q", got, "webrtc")
	}
	if got := conn.LocalAddr().String(); got != "s-7/frames" {
		t.Errorf("local addr = %q, want %q", got, "s-7/frames")
	}
	if got := conn.RemoteAddr().String(); got != "s-7/frames/peer" {
		t.Errorf("remote addr = %q, want %q", got, "s-7/frames/peer")
	}
}

func TestStreamConnReadDeadlineBreaksConn(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	defer remote.Close()
	conn := NewStreamConn(local, ChannelControl, "s-1")

	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("Read returned without data after deadline")
	}

	// A fired deadline breaks the conn permanently; clearing it does
	// not resurrect the stream.
	conn.SetReadDeadline(time.Time{})
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("Read succeeded on a broken conn")
	}
}

func TestStreamConnPastDeadline(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	defer remote.Close()
	conn := NewStreamConn(local, ChannelControl, "s-1")

	conn.SetDeadline(time.Now().Add(-time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("Read succeeded despite an already-expired deadline")
	}
}

func TestStreamConnClearedDeadline(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	defer remote.Close()
	conn := NewStreamConn(local, ChannelInput, "s-1")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Hour))
	conn.SetReadDeadline(time.Time{})

	go remote.Write([]byte("x"))
	if _, err := conn.Read(make([]byte, 1)); err != nil {
		t.Fatalf("Read after clearing deadline: %v", err)
	}
}

func TestStreamConnCloseUnblocksRead(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	defer remote.Close()
	conn := NewStreamConn(local, ChannelControl, "s-1")

	done := make(chan error, 1)
	go func() {
		_, err := conn.Read(make([]byte, 1))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	conn.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Read returned no error after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read still blocked after Close")
	}
}
