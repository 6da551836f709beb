package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"wardkey.org/internal/activity"
)

func (a *API) handleRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.principal(w, r); !ok {
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/risk/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var roles []string
	if raw := strings.TrimSpace(r.URL.Query().Get("roles")); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
	}
	assessment, err := a.scorer.Compute(r.Context(), userID, roles)
	if err != nil {
		if errors.Is(err, activity.ErrUnavailable) {
			writeError(w, r, http.StatusServiceUnavailable, "activity log unavailable")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "risk assessment failed")
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}
