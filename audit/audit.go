// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Package audit defines the append-only audit event stream emitted by
// the session core. The core only writes; reading, retention, and
// shipping to the product's observability surface are external.
package audit

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind names a lifecycle transition or capability exercise.
type EventKind string

const (
	KindSessionRequested EventKind = "session-requested"
	KindSessionStarted   EventKind = "session-started"
	KindSessionDenied    EventKind = "session-denied"
	KindSessionEnded     EventKind = "session-ended"
	KindSessionFailed    EventKind = "session-failed"
	KindTerminalOpened   EventKind = "terminal-opened"
	KindElevationBridged EventKind = "elevation-bridged"
	KindInputDenied      EventKind = "input-denied"
	KindSecurityDrop     EventKind = "security-drop"
)

// Event is one append-only audit record.
type Event struct {
	SessionID string            `json:"session_id"`
	Kind      EventKind         `json:"kind"`
	Actor     string            `json:"actor"`
	Time      time.Time         `json:"time"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Sink consumes audit events. Implementations must not block the
// caller for long: audit emission sits inside the per-session critical
// section.
type Sink interface {
	Record(event Event)
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(event Event) {
	attrs := []any{
		"session", event.SessionID,
		"kind", string(event.Kind),
		"actor", event.Actor,
		"time", event.Time,
	}
	for key, value := range event.Meta {
		attrs = append(attrs, key, value)
	}
	s.Logger.Info("audit", attrs...)
}

// MemorySink collects events for test assertions.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a snapshot of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// CountKind returns how many recorded events have the given kind.
func (s *MemorySink) CountKind(kind EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, event := range s.events {
		if event.Kind == kind {
			count++
		}
	}
	return count
}

// Fanout duplicates events to multiple sinks.
type Fanout []Sink

func (f Fanout) Record(event Event) {
	for _, sink := range f {
		sink.Record(event)
	}
}
