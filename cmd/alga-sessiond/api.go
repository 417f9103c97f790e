// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nine-minds/alga-remote/policy"
	"github.com/nine-minds/alga-remote/session"
	"github.com/nine-minds/alga-remote/signaling"
)

// api is the operator-facing REST surface: create a session, inspect
// it, end it. The engineer client then switches to the WebSocket
// endpoint for signaling. All calls carry the operator token.
type api struct {
	manager *session.Manager
	policy  policy.Service
	logger  *slog.Logger
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", a.createSession)
	mux.HandleFunc("GET /v1/sessions/{id}", a.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.endSession)
}

type createSessionRequest struct {
	DeviceID     string   `json:"device_id"`
	Capabilities []string `json:"capabilities"`
}

type sessionResponse struct {
	ID              string   `json:"id"`
	DeviceID        string   `json:"device_id"`
	Principal       string   `json:"principal"`
	State           string   `json:"state"`
	Capabilities    []string `json:"capabilities"`
	EndReason       string   `json:"end_reason,omitempty"`
	TransportMode   string   `json:"transport_mode,omitempty"`
	ConsentDeadline int64    `json:"consent_deadline,omitempty"` // Unix ms
	Created         int64    `json:"created"`
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	var request createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if request.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	requested := make([]policy.Capability, 0, len(request.Capabilities))
	for _, capability := range request.Capabilities {
		requested = append(requested, policy.Capability(capability))
	}

	s, err := a.manager.RequestSession(principal, request.DeviceID, policy.NewCapabilitySet(requested...))
	if err != nil {
		a.writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(s))
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	s, err := a.manager.Get(r.PathValue("id"))
	if err != nil || s.Principal != principal {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(s))
}

func (a *api) endSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	s, err := a.manager.Get(id)
	if err != nil || s.Principal != principal {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := a.manager.EndSession(id, session.ReasonOperatorRequest, principal); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s, err = a.manager.Get(id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(s))
}

// authenticate resolves the bearer token to a principal, writing the
// 401 itself on failure.
func (a *api) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	tokenBytes, err := signaling.BearerToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	principal, err := a.policy.Authenticate(tokenBytes)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return principal, true
}

func (a *api) writeRequestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrPolicyDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, session.ErrDeviceBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrDeviceOffline):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		a.logger.Error("session request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toResponse(s session.Session) sessionResponse {
	response := sessionResponse{
		ID:            s.ID,
		DeviceID:      s.DeviceID,
		Principal:     s.Principal,
		State:         string(s.State),
		Capabilities:  s.Capabilities.List(),
		EndReason:     s.EndReason,
		TransportMode: s.TransportMode,
		Created:       s.Created.UnixMilli(),
	}
	if !s.ConsentDeadline.IsZero() {
		response.ConsentDeadline = s.ConsentDeadline.UnixMilli()
	}
	return response
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
