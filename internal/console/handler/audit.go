package handler

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
)

type AuditHandler struct {
	store    audit.EventStore
	exporter *audit.Exporter
}

func NewAuditHandler(store audit.EventStore, exporter *audit.Exporter) *AuditHandler {
	return &AuditHandler{store: store, exporter: exporter}
}

func filterFromQuery(r *http.Request) audit.Filter {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	return audit.Filter{
		ActionPrefix:  q.Get("action_prefix"),
		ActorID:       q.Get("actor_id"),
		Target:        q.Get("target"),
		ApprovalState: domain.ProposalStatus(q.Get("approval_state")),
		Limit:         limit,
	}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.Query(r.Context(), filterFromQuery(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Export returns a verifiable bundle: rows, manifest with the payload hash,
// and a signature when the exporter holds a signing key.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.exporter.Export(r.Context(), filterFromQuery(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}
