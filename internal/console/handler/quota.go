package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/infra/auth"
)

// QuotaService is what this handler needs from the quota manager.
type QuotaService interface {
	List(ctx context.Context) ([]domain.QuotaBucket, error)
	Reset(ctx context.Context, principal domain.Principal, bucketKey, reason string) (domain.Decision, error)
}

type QuotaHandler struct {
	service QuotaService
}

func NewQuotaHandler(s QuotaService) *QuotaHandler {
	return &QuotaHandler{service: s}
}

func (h *QuotaHandler) List(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

type quotaResetRequest struct {
	BucketKey string `json:"bucket_key"`
	Reason    string `json:"reason"`
}

func (h *QuotaHandler) Reset(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal in context")
		return
	}

	var req quotaResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.service.Reset(r.Context(), principal, req.BucketKey, req.Reason)
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
