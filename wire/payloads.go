// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package wire

// SessionRequest is carried by a session-request envelope from the
// sessiond to the target device. It tells the agent who is asking and
// what they were granted, so the consent prompt can show the scope.
type SessionRequest struct {
	Principal       string   `cbor:"1,keyasint"`
	DeviceID        string   `cbor:"2,keyasint"`
	Capabilities    []string `cbor:"3,keyasint"`
	ConsentDeadline int64    `cbor:"4,keyasint"` // Unix milliseconds; 0 for unattended
}

// Consent is carried by session-accept and session-deny envelopes from
// the device back to the sessiond.
type Consent struct {
	DeviceID string `cbor:"1,keyasint"`
	Accepted bool   `cbor:"2,keyasint"`
}

// SDP carries an offer or answer session description.
type SDP struct {
	SDP string `cbor:"1,keyasint"`
}

// ICECandidate carries one trickled ICE candidate.
type ICECandidate struct {
	Candidate     string `cbor:"1,keyasint"`
	SDPMid        string `cbor:"2,keyasint,omitempty"`
	SDPMLineIndex uint16 `cbor:"3,keyasint,omitempty"`
}

// Control operation names. Heartbeats and the transport-up report
// ride the control kind so the closed kind set stays closed.
const (
	ControlHeartbeat   = "heartbeat"
	ControlResize      = "resize"
	ControlQuality     = "quality"
	ControlTransportUp = "transport-up"
)

// Control is carried by control envelopes in either direction.
type Control struct {
	Op string `cbor:"1,keyasint"`

	// Cols and Rows apply to resize.
	Cols uint16 `cbor:"2,keyasint,omitempty"`
	Rows uint16 `cbor:"3,keyasint,omitempty"`

	// TargetFPS applies to quality: the viewer's requested frame rate
	// under bandwidth pressure.
	TargetFPS int `cbor:"4,keyasint,omitempty"`

	// TransportMode applies to transport-up: "direct" or "relayed".
	TransportMode string `cbor:"5,keyasint,omitempty"`
}

// Terminate is carried by terminate envelopes. Reason is one of the
// session end-reason codes.
type Terminate struct {
	Reason string `cbor:"1,keyasint"`
	Actor  string `cbor:"2,keyasint"`
}

// ICEServerInfo is one STUN or TURN endpoint with its (possibly empty)
// short-lived credentials.
type ICEServerInfo struct {
	URLs       []string `cbor:"1,keyasint"`
	Username   string   `cbor:"2,keyasint,omitempty"`
	Credential string   `cbor:"3,keyasint,omitempty"`
}

// TransportBootstrap is carried in the session-accept envelopes sent
// to both peers once the session is active: relay endpoints plus
// credential expiry, everything needed to start transport negotiation.
type TransportBootstrap struct {
	Servers   []ICEServerInfo `cbor:"1,keyasint"`
	ExpiresAt int64           `cbor:"2,keyasint"` // Unix seconds
}
