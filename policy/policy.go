// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"sort"
	"time"
)

// Capability names a remote-session right. Capabilities are granted by
// policy at request time and checked at every enforcement point: the
// session manager on request, the injection pipeline per event, the
// shell bridge before spawning, the privilege bridge before handoff.
type Capability string

const (
	CapScreenView         Capability = "screen-view"
	CapInputControl       Capability = "input-control"
	CapTerminalAccess     Capability = "terminal-access"
	CapFileTransfer       Capability = "file-transfer"
	CapPrivilegeElevation Capability = "privilege-elevation"
)

// CapabilitySet is an immutable set of granted capabilities.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from a list.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool { return s[c] }

// Contains reports whether every capability in other is in the set.
func (s CapabilitySet) Contains(other CapabilitySet) bool {
	for c := range other {
		if !s[c] {
			return false
		}
	}
	return true
}

// List returns the set as a sorted slice for wire payloads and audit
// metadata.
func (s CapabilitySet) List() []string {
	names := make([]string, 0, len(s))
	for c := range s {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return names
}

// Window is an allowed time-of-day range in a named location. A window
// with From == To is invalid and never matches.
type Window struct {
	// Days are time.Weekday values; empty means every day.
	Days []time.Weekday `yaml:"days"`
	// From and To are minutes since midnight, half-open [From, To).
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if len(w.Days) > 0 {
		matched := false
		for _, day := range w.Days {
			if t.Weekday() == day {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= w.From && minute < w.To
}

// Permission is the capability set evaluated for a (principal, device)
// pair at request time. Read-only to the session core; sourced from
// the external policy/identity service.
type Permission struct {
	Capabilities   CapabilitySet
	RequireConsent bool

	// MaxDuration caps the session length; zero means uncapped.
	MaxDuration time.Duration

	// Windows restricts when sessions may start; empty means always.
	Windows []Window

	// RetryCooldown is how long the principal must wait before
	// re-requesting a session against the same device after a denial
	// or consent timeout. Zero disables the cooldown.
	RetryCooldown time.Duration
}

// InWindow reports whether the permission allows a session start at t.
func (p Permission) InWindow(t time.Time) bool {
	if len(p.Windows) == 0 {
		return true
	}
	for _, w := range p.Windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// Errors returned by Service implementations.
var (
	ErrAuthenticateFailed = errors.New("policy: credential rejected")
	ErrNoPermission       = errors.New("policy: no permission for principal and device")
)

// Service is the external policy/identity interface consumed by the
// session core.
type Service interface {
	// Authenticate validates an engineer credential and returns the
	// principal identifier, or ErrAuthenticateFailed.
	Authenticate(credential []byte) (principal string, err error)

	// GetPermission returns the evaluated permission for the
	// principal against the device, or ErrNoPermission.
	GetPermission(principal, deviceID string) (Permission, error)
}
