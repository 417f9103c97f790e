// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Package transport establishes the per-session media path: one WebRTC
// peer connection per session, negotiated over the signaling channel
// with trickle ICE, carrying the session's fixed set of data channels
// (frames, input, terminal, control) as ordered byte streams.
//
// Media never touches the sessiond. The signaling hub relays the SDP
// and candidate envelopes; once the peers pair, frames and input flow
// directly (or through the TURN relay when NAT forces it).
package transport
