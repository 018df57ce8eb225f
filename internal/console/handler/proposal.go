package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/engine"
	"github.com/xela07ax/capgov/internal/infra/auth"
)

// ProposalRuntime is what this handler needs from the engine.
type ProposalRuntime interface {
	Create(ctx context.Context, principal domain.Principal, req engine.CreateRequest) (*domain.Proposal, domain.Decision, error)
	Get(ctx context.Context, proposalID string) (*domain.Proposal, error)
	List(ctx context.Context, limit int) ([]*domain.Proposal, error)
	Approve(ctx context.Context, principal domain.Principal, proposalID, rationale string) (*domain.Proposal, domain.Decision, error)
	Reject(ctx context.Context, principal domain.Principal, proposalID, reason string) (*domain.Proposal, domain.Decision, error)
	Reopen(ctx context.Context, principal domain.Principal, proposalID, reason string) (*domain.Proposal, domain.Decision, error)
	Execute(ctx context.Context, principal domain.Principal, req engine.ExecuteRequest) (*domain.Proposal, *domain.PilotResult, domain.Decision, error)
	DryRun(ctx context.Context, proposalID string) (string, domain.Decision, error)
	Rollback(ctx context.Context, principal domain.Principal, proposalID, reason string) (*domain.RollbackResult, domain.Decision, error)
}

type ProposalHandler struct {
	runtime ProposalRuntime
}

func NewProposalHandler(rt ProposalRuntime) *ProposalHandler {
	return &ProposalHandler{runtime: rt}
}

func (h *ProposalHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal in context")
		return
	}

	var req engine.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, d, err := h.runtime.Create(r.Context(), principal, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !d.Allowed {
		writeDenial(w, d)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProposalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.runtime.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ProposalHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.runtime.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrProposalNotFound) {
			writeError(w, http.StatusNotFound, "proposal not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type reviewRequest struct {
	Rationale string `json:"rationale"`
}

func (h *ProposalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.reviewOp(w, r, h.runtime.Approve)
}

func (h *ProposalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.reviewOp(w, r, h.runtime.Reject)
}

func (h *ProposalHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.reviewOp(w, r, h.runtime.Reopen)
}

func (h *ProposalHandler) reviewOp(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.Principal, string, string) (*domain.Proposal, domain.Decision, error)) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal in context")
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, d, err := op(r.Context(), principal, chi.URLParam(r, "id"), req.Rationale)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !d.Allowed {
		writeDenial(w, d)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type executeRequest struct {
	ActorType      domain.ActorType `json:"actor_type"`
	ActorID        string           `json:"actor_id"`
	OwnerUID       string           `json:"owner_uid"`
	TenantID       string           `json:"tenant_id"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

type executeResponse struct {
	Proposal *domain.Proposal    `json:"proposal"`
	Result   *domain.PilotResult `json:"result,omitempty"`
}

func (h *ProposalHandler) Execute(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal in context")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, result, d, err := h.runtime.Execute(r.Context(), principal, engine.ExecuteRequest{
		ProposalID:     chi.URLParam(r, "id"),
		ActorType:      req.ActorType,
		ActorID:        req.ActorID,
		OwnerUID:       req.OwnerUID,
		TenantID:       req.TenantID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, domain.ErrProposalNotFound) {
			writeError(w, http.StatusNotFound, "proposal not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !d.Allowed {
		writeDenial(w, d)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Proposal: p, Result: result})
}

func (h *ProposalHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	preview, d, err := h.runtime.DryRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrProposalNotFound) {
			writeError(w, http.StatusNotFound, "proposal not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !d.Allowed {
		writeDenial(w, d)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"preview": preview})
}

func (h *ProposalHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal in context")
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, d, err := h.runtime.Rollback(r.Context(), principal, chi.URLParam(r, "id"), req.Rationale)
	if err != nil {
		if errors.Is(err, domain.ErrProposalNotFound) {
			writeError(w, http.StatusNotFound, "proposal not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !d.Allowed {
		writeDenial(w, d)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
