// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/lib/token"
)

var testTime = time.Date(2026, 3, 16, 10, 30, 0, 0, time.UTC) // Monday

func TestCapabilitySetContains(t *testing.T) {
	t.Parallel()
	granted := NewCapabilitySet(CapScreenView, CapInputControl, CapTerminalAccess)

	if !granted.Contains(NewCapabilitySet(CapScreenView)) {
		t.Error("subset not contained")
	}
	if !granted.Contains(NewCapabilitySet(CapScreenView, CapTerminalAccess)) {
		t.Error("subset not contained")
	}
	if granted.Contains(NewCapabilitySet(CapScreenView, CapFileTransfer)) {
		t.Error("ungranted capability reported as contained")
	}
	if !granted.Contains(NewCapabilitySet()) {
		t.Error("empty set should always be contained")
	}
	if granted.Has(CapPrivilegeElevation) {
		t.Error("Has reports ungranted capability")
	}
}

func TestWindowContains(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		window Window
		at     time.Time
		want   bool
	}{
		{
			name:   "inside hours any day",
			window: Window{From: 9 * 60, To: 17 * 60},
			at:     testTime, // 10:30
			want:   true,
		},
		{
			name:   "before opening",
			window: Window{From: 11 * 60, To: 17 * 60},
			at:     testTime,
			want:   false,
		},
		{
			name:   "end is exclusive",
			window: Window{From: 9 * 60, To: 10*60 + 30},
			at:     testTime,
			want:   false,
		},
		{
			name:   "matching weekday",
			window: Window{Days: []time.Weekday{time.Monday}, From: 0, To: 24 * 60},
			at:     testTime,
			want:   true,
		},
		{
			name:   "wrong weekday",
			window: Window{Days: []time.Weekday{time.Sunday}, From: 0, To: 24 * 60},
			at:     testTime,
			want:   false,
		},
		{
			name:   "empty window never matches",
			window: Window{},
			at:     testTime,
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.window.Contains(tt.at); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestPermissionInWindow(t *testing.T) {
	t.Parallel()
	unrestricted := Permission{}
	if !unrestricted.InWindow(testTime) {
		t.Error("permission without windows should always be in window")
	}

	restricted := Permission{Windows: []Window{
		{Days: []time.Weekday{time.Sunday}, From: 0, To: 24 * 60},
		{Days: []time.Weekday{time.Monday}, From: 9 * 60, To: 17 * 60},
	}}
	if !restricted.InWindow(testTime) {
		t.Error("time inside second window rejected")
	}
	if restricted.InWindow(testTime.Add(12 * time.Hour)) {
		t.Error("22:30 Monday accepted outside both windows")
	}
}

func TestGetPermissionMatching(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(testTime)
	s := NewStatic(nil, clk)
	s.Grant("alice", "dev-1", Permission{
		Capabilities: NewCapabilitySet(CapScreenView, CapInputControl),
		MaxDuration:  time.Hour,
	})
	s.Grant("bob", "*", Permission{
		Capabilities:   NewCapabilitySet(CapScreenView),
		RequireConsent: true,
	})

	got, err := s.GetPermission("alice", "dev-1")
	if err != nil {
		t.Fatalf("GetPermission: %v", err)
	}
	if !got.Capabilities.Has(CapInputControl) {
		t.Error("granted capability missing")
	}
	if got.MaxDuration != time.Hour {
		t.Errorf("max duration = %v, want %v", got.MaxDuration, time.Hour)
	}

	if _, err := s.GetPermission("alice", "dev-2"); !errors.Is(err, ErrNoPermission) {
		t.Errorf("other device error = %v, want %v", err, ErrNoPermission)
	}
	if _, err := s.GetPermission("mallory", "dev-1"); !errors.Is(err, ErrNoPermission) {
		t.Errorf("unknown principal error = %v, want %v", err, ErrNoPermission)
	}

	// Wildcard device grants apply everywhere.
	if _, err := s.GetPermission("bob", "dev-77"); err != nil {
		t.Errorf("wildcard grant rejected: %v", err)
	}
}

func TestParseStatic(t *testing.T) {
	t.Parallel()
	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	keyHex := hex.EncodeToString(public)

	data := fmt.Sprintf(`
identity_key: %s
grants:
  - principal: alice
    device: dev-1
    capabilities: [screen-view, terminal-access]
    max_duration: 2h
    retry_cooldown: 5m
  - principal: oncall
    device: "*"
    capabilities: [screen-view]
    require_consent: false
    windows:
      - days: [1, 2, 3, 4, 5]
        from: 540
        to: 1020
`, keyHex)

	s, err := ParseStatic([]byte(data), clock.Fake(testTime))
	if err != nil {
		t.Fatalf("ParseStatic: %v", err)
	}

	alice, err := s.GetPermission("alice", "dev-1")
	if err != nil {
		t.Fatalf("GetPermission: %v", err)
	}
	if !alice.RequireConsent {
		t.Error("require_consent should default to true")
	}
	if alice.MaxDuration != 2*time.Hour || alice.RetryCooldown != 5*time.Minute {
		t.Errorf("durations = (%v, %v), want (2h, 5m)", alice.MaxDuration, alice.RetryCooldown)
	}

	oncall, err := s.GetPermission("oncall", "dev-9")
	if err != nil {
		t.Fatalf("GetPermission: %v", err)
	}
	if oncall.RequireConsent {
		t.Error("explicit require_consent: false ignored")
	}
	if !oncall.InWindow(testTime) {
		t.Error("Monday 10:30 should be inside the on-call window")
	}
}

func TestParseStaticRejects(t *testing.T) {
	t.Parallel()
	public, _, _ := ed25519.GenerateKey(rand.Reader)
	keyHex := hex.EncodeToString(public)

	tests := []struct {
		name string
		data string
	}{
		{"not yaml", ":\nnot yaml {{"},
		{"bad identity key", "identity_key: zz\ngrants: []"},
		{"short identity key", "identity_key: abcd\ngrants: []"},
		{
			"grant missing principal",
			fmt.Sprintf("identity_key: %s\ngrants:\n  - device: dev-1\n    capabilities: [screen-view]", keyHex),
		},
		{
			"grant without capabilities",
			fmt.Sprintf("identity_key: %s\ngrants:\n  - principal: alice\n    device: dev-1\n    capabilities: []", keyHex),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseStatic([]byte(tt.data), clock.Fake(testTime)); err == nil {
				t.Fatal("ParseStatic accepted invalid policy")
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	clk := clock.Fake(testTime)
	s := NewStatic(public, clk)

	mint := func(subject, audience string, expiresAt time.Time) []byte {
		raw, err := token.Mint(private, &token.Token{
			Subject:   subject,
			Audience:  audience,
			ID:        token.NewID(),
			IssuedAt:  testTime.Unix(),
			ExpiresAt: expiresAt.Unix(),
		})
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		return raw
	}

	principal, err := s.Authenticate(mint("alice", token.Audience, testTime.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal != "alice" {
		t.Errorf("principal = %q, want %q", principal, "alice")
	}

	if _, err := s.Authenticate(mint("alice", token.Audience, testTime.Add(-time.Minute))); !errors.Is(err, ErrAuthenticateFailed) {
		t.Errorf("expired token error = %v, want %v", err, ErrAuthenticateFailed)
	}
	if _, err := s.Authenticate(mint("alice", "file-sync", testTime.Add(time.Hour))); !errors.Is(err, ErrAuthenticateFailed) {
		t.Errorf("wrong audience error = %v, want %v", err, ErrAuthenticateFailed)
	}
	if _, err := s.Authenticate([]byte("nonsense")); !errors.Is(err, ErrAuthenticateFailed) {
		t.Errorf("garbage credential error = %v, want %v", err, ErrAuthenticateFailed)
	}

	// A token from a different issuer must not verify.
	_, otherKey, _ := ed25519.GenerateKey(rand.Reader)
	forged, _ := token.Mint(otherKey, &token.Token{
		Subject: "alice", Audience: token.Audience,
		IssuedAt: testTime.Unix(), ExpiresAt: testTime.Add(time.Hour).Unix(),
	})
	if _, err := s.Authenticate(forged); !errors.Is(err, ErrAuthenticateFailed) {
		t.Errorf("forged token error = %v, want %v", err, ErrAuthenticateFailed)
	}
}
