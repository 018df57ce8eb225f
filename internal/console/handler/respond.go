package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/capgov/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDenial renders a denied Decision. The body is the Decision itself so
// callers always see the reason code; the status depends on the denial class.
func writeDenial(w http.ResponseWriter, d domain.Decision) {
	if d.ReasonCode == domain.ReasonRateLimited && d.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(d.RetryAfterSeconds, 10))
	}
	writeJSON(w, statusForReason(d.ReasonCode), d)
}

func statusForReason(code domain.ReasonCode) int {
	switch code {
	case domain.ReasonRateLimited:
		return http.StatusTooManyRequests
	case domain.ReasonInvalidState:
		return http.StatusConflict
	case domain.ReasonInvalidRequest, domain.ReasonRationaleTooShort, domain.ReasonCapabilityUnknown:
		return http.StatusUnprocessableEntity
	case domain.ReasonExecutionFailed:
		return http.StatusBadGateway
	default:
		// Delegation, tenant, role, policy and intake denials.
		return http.StatusForbidden
	}
}
