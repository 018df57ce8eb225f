package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/infra/auth"
	"github.com/xela07ax/capgov/internal/intake"
)

// OverrideService is what this handler needs to record review decisions.
type OverrideService interface {
	Apply(ctx context.Context, principal domain.Principal, d domain.OverrideDecision) (domain.Decision, error)
}

type IntakeHandler struct {
	store     audit.EventStore
	overrides OverrideService
}

func NewIntakeHandler(store audit.EventStore, overrides OverrideService) *IntakeHandler {
	return &IntakeHandler{store: store, overrides: overrides}
}

// Queue returns the derived review queue, newest activity first.
func (h *IntakeHandler) Queue(w http.ResponseWriter, r *http.Request) {
	items, err := intake.Queue(r.Context(), h.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *IntakeHandler) Override(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal in context")
		return
	}

	var req domain.OverrideDecision
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.overrides.Apply(r.Context(), principal, req)
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
