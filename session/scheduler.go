// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"container/heap"
	"time"

	"github.com/nine-minds/alga-remote/lib/clock"
)

// deadlineKind identifies which policy timer a scheduled deadline
// implements. Handlers re-validate session state when the deadline
// fires, so a stale deadline (for example an inactivity check that a
// later heartbeat superseded) is a no-op rather than a cancellation
// problem.
type deadlineKind int

const (
	deadlineConsent deadlineKind = iota
	deadlineNegotiation
	deadlineInactivity
	deadlineDuration
)

func (k deadlineKind) String() string {
	switch k {
	case deadlineConsent:
		return "consent"
	case deadlineNegotiation:
		return "negotiation"
	case deadlineInactivity:
		return "inactivity"
	case deadlineDuration:
		return "duration"
	}
	return "unknown"
}

// deadline is one pending timer firing.
type deadline struct {
	at        time.Time
	sessionID string
	kind      deadlineKind
}

// scheduler owns every session deadline in a single loop: one
// goroutine, one pending min-heap, one timer armed for the earliest
// entry. Firings are delivered to the Manager's handler, which
// acquires the per-session lock and re-evaluates state; when a timer
// races a message, whichever takes the lock first decides.
type scheduler struct {
	clock clock.Clock
	fire  func(d deadline)

	add     chan deadline
	stop    chan struct{}
	stopped chan struct{}
}

func newScheduler(clk clock.Clock, fire func(d deadline)) *scheduler {
	s := &scheduler{
		clock:   clk,
		fire:    fire,
		add:     make(chan deadline, 16),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

// schedule registers a deadline. Never blocks the caller for long: the
// add channel is buffered and drained by the loop.
func (s *scheduler) schedule(sessionID string, kind deadlineKind, at time.Time) {
	select {
	case s.add <- deadline{at: at, sessionID: sessionID, kind: kind}:
	case <-s.stop:
	}
}

// close stops the loop. Pending deadlines are discarded.
func (s *scheduler) close() {
	close(s.stop)
	<-s.stopped
}

func (s *scheduler) run() {
	defer close(s.stopped)

	pending := &deadlineHeap{}
	heap.Init(pending)

	for {
		var timerC <-chan time.Time
		if pending.Len() > 0 {
			wait := (*pending)[0].at.Sub(s.clock.Now())
			if wait <= 0 {
				d := heap.Pop(pending).(deadline)
				s.fire(d)
				continue
			}
			timerC = s.clock.After(wait)
		}

		select {
		case d := <-s.add:
			heap.Push(pending, d)
		case <-timerC:
			// Loop re-checks the head against the clock.
		case <-s.stop:
			return
		}
	}
}

// deadlineHeap is a min-heap ordered by firing time.
type deadlineHeap []deadline

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)         { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}
