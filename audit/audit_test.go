// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestFileSinkAppendsJSONLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.log")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	sink.Record(Event{SessionID: "s-1", Kind: KindSessionStarted, Actor: "alice", Time: testTime})
	sink.Record(Event{SessionID: "s-1", Kind: KindSessionEnded, Actor: "alice", Time: testTime,
		Meta: map[string]string{"reason": "operator-request"}})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("unmarshaling line %q: %v", scanner.Text(), err)
		}
		events = append(events, event)
	}
	if len(events) != 2 {
		t.Fatalf("recorded lines = %d, want 2", len(events))
	}
	if events[0].Kind != KindSessionStarted || events[0].SessionID != "s-1" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Meta["reason"] != "operator-request" {
		t.Errorf("second event meta = %v, want reason recorded", events[1].Meta)
	}
}

func TestFileSinkReopensForAppend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.log")

	for i := 0; i < 2; i++ {
		sink, err := NewFileSink(path)
		if err != nil {
			t.Fatalf("NewFileSink: %v", err)
		}
		sink.Record(Event{SessionID: "s-1", Kind: KindSessionRequested, Actor: "alice", Time: testTime})
		sink.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("lines after reopen = %d, want 2 (append, not truncate)", lines)
	}
}

func TestFanoutDuplicates(t *testing.T) {
	t.Parallel()
	first := &MemorySink{}
	second := &MemorySink{}
	Fanout{first, second}.Record(Event{SessionID: "s-1", Kind: KindSecurityDrop, Time: testTime})

	if first.CountKind(KindSecurityDrop) != 1 || second.CountKind(KindSecurityDrop) != 1 {
		t.Errorf("fanout counts = (%d, %d), want (1, 1)",
			first.CountKind(KindSecurityDrop), second.CountKind(KindSecurityDrop))
	}
}

func TestMemorySinkSnapshot(t *testing.T) {
	t.Parallel()
	sink := &MemorySink{}
	sink.Record(Event{SessionID: "s-1", Kind: KindInputDenied, Time: testTime})

	snapshot := sink.Events()
	sink.Record(Event{SessionID: "s-1", Kind: KindInputDenied, Time: testTime})
	if len(snapshot) != 1 {
		t.Errorf("snapshot grew with the sink: len = %d, want 1", len(snapshot))
	}
	if sink.CountKind(KindInputDenied) != 2 {
		t.Errorf("count = %d, want 2", sink.CountKind(KindInputDenied))
	}
}
