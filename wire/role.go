// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package wire

// Role identifies which side of a session a peer speaks for. Exactly
// one agent and zero-or-one engineer client attach per session.
type Role string

const (
	RoleEngineer Role = "engineer"
	RoleAgent    Role = "agent"
)

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleEngineer {
		return RoleAgent
	}
	return RoleEngineer
}
