// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/wire"
)

// recordingSignaler captures outbound negotiation messages.
type recordingSignaler struct {
	mu           sync.Mutex
	descriptions []wire.Kind
	candidates   []wire.ICECandidate
}

func (s *recordingSignaler) SendDescription(kind wire.Kind, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptions = append(s.descriptions, kind)
	return nil
}

func (s *recordingSignaler) SendCandidate(candidate wire.ICECandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, candidate)
	return nil
}

func newTestPeer(t *testing.T, role wire.Role) (*Peer, *recordingSignaler, *clock.FakeClock) {
	t.Helper()
	signaler := &recordingSignaler{}
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	peer, err := NewPeer(role, "s-1", nil, signaler, clk, logger)
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return peer, signaler, clk
}

func TestOfferRequiresEngineerRole(t *testing.T) {
	t.Parallel()
	peer, _, _ := newTestPeer(t, wire.RoleAgent)
	if err := peer.Offer(context.Background()); err == nil {
		t.Fatal("agent-side Offer did not fail")
	}
}

func TestOfferPublishesDescription(t *testing.T) {
	t.Parallel()
	peer, signaler, _ := newTestPeer(t, wire.RoleEngineer)
	if err := peer.Offer(context.Background()); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	signaler.mu.Lock()
	defer signaler.mu.Unlock()
	if len(signaler.descriptions) != 1 || signaler.descriptions[0] != wire.KindOffer {
		t.Errorf("published descriptions = %v, want one offer", signaler.descriptions)
	}
}

func TestHandleDescriptionRoleMismatch(t *testing.T) {
	t.Parallel()
	engineer, _, _ := newTestPeer(t, wire.RoleEngineer)
	if err := engineer.HandleDescription(wire.KindOffer, "v=0"); err == nil {
		t.Error("engineer side accepted an offer")
	}

	agent, _, _ := newTestPeer(t, wire.RoleAgent)
	if err := agent.HandleDescription(wire.KindAnswer, "v=0"); err == nil {
		t.Error("agent side accepted an answer")
	}
	if err := agent.HandleDescription(wire.KindControl, "v=0"); err == nil {
		t.Error("non-description kind accepted")
	}
}

func TestHandleCandidateBuffersBeforeRemote(t *testing.T) {
	t.Parallel()
	peer, _, _ := newTestPeer(t, wire.RoleAgent)

	// Without a remote description pion would reject the candidate;
	// the peer buffers it instead.
	err := peer.HandleCandidate(wire.ICECandidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"})
	if err != nil {
		t.Fatalf("HandleCandidate before remote description: %v", err)
	}
	peer.mu.Lock()
	buffered := len(peer.pendingCandidates)
	peer.mu.Unlock()
	if buffered != 1 {
		t.Errorf("buffered candidates = %d, want 1", buffered)
	}
}

func TestAcceptChannelRespectsContext(t *testing.T) {
	t.Parallel()
	peer, _, _ := newTestPeer(t, wire.RoleEngineer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := peer.AcceptChannel(ctx, ChannelFrames); !errors.Is(err, context.Canceled) {
		t.Fatalf("AcceptChannel error = %v, want %v", err, context.Canceled)
	}
}

func TestAcceptChannelTimesOut(t *testing.T) {
	t.Parallel()
	peer, _, clk := newTestPeer(t, wire.RoleEngineer)

	errCh := make(chan error, 1)
	go func() {
		_, err := peer.AcceptChannel(context.Background(), ChannelFrames)
		errCh <- err
	}()

	clk.WaitForTimers(1)
	clk.Advance(channelOpenTimeout)

	err := <-errCh
	if err == nil {
		t.Fatal("AcceptChannel returned without the channel opening")
	}
}

func TestAcceptChannelAfterClose(t *testing.T) {
	t.Parallel()
	peer, _, _ := newTestPeer(t, wire.RoleEngineer)
	peer.Close()
	if _, err := peer.AcceptChannel(context.Background(), ChannelInput); err == nil {
		t.Fatal("AcceptChannel succeeded on a closed peer")
	}
}
