package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/infra/auth"
)

// PolicyService is what this handler needs from the policy manager.
type PolicyService interface {
	State() domain.PolicyState
	SetKillSwitch(ctx context.Context, principal domain.Principal, enabled bool, rationale string) (domain.Decision, error)
	CreateExemption(ctx context.Context, principal domain.Principal, capabilityID, ownerUID, justification string, expiresAt time.Time) (*domain.Exemption, domain.Decision, error)
	RevokeExemption(ctx context.Context, principal domain.Principal, exemptionID, reason string) (domain.Decision, error)
}

type PolicyHandler struct {
	service PolicyService
}

func NewPolicyHandler(s PolicyService) *PolicyHandler {
	return &PolicyHandler{service: s}
}

func (h *PolicyHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.State())
}

type killSwitchRequest struct {
	Enabled   bool   `json:"enabled"`
	Rationale string `json:"rationale"`
}

func (h *PolicyHandler) SetKillSwitch(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal in context")
		return
	}
	if !principal.IsAdmin() {
		writeDenial(w, domain.Deny(domain.ReasonAdminRequired, "kill switch requires the admin role"))
		return
	}

	var req killSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.service.SetKillSwitch(r.Context(), principal, req.Enabled, req.Rationale)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !d.Allowed {
		writeDenial(w, d)
		return
	}
	writeJSON(w, http.StatusOK, h.service.State().KillSwitch)
}

type exemptionRequest struct {
	CapabilityID  string    `json:"capability_id"`
	OwnerUID      string    `json:"owner_uid,omitempty"`
	Justification string    `json:"justification"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (h *PolicyHandler) CreateExemption(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal in context")
		return
	}
	if !principal.IsAdmin() {
		writeDenial(w, domain.Deny(domain.ReasonAdminRequired, "exemptions require the admin role"))
		return
	}

	var req exemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ex, d, err := h.service.CreateExemption(r.Context(), principal, req.CapabilityID, req.OwnerUID, req.Justification, req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !d.Allowed {
		writeDenial(w, d)
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

func (h *PolicyHandler) RevokeExemption(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal in context")
		return
	}
	if !principal.IsAdmin() {
		writeDenial(w, domain.Deny(domain.ReasonAdminRequired, "exemptions require the admin role"))
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.service.RevokeExemption(r.Context(), principal, chi.URLParam(r, "id"), req.Rationale)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !d.Allowed {
		writeDenial(w, d)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
