package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"wardkey.org/internal/violation"
)

type recordViolationRequest struct {
	UserID          string `json:"user_id"`
	Role            string `json:"role"`
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	AttemptedAction string `json:"attempted_action"`
	Reason          string `json:"reason"`
}

func (a *API) handleViolations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleViolationRecord(w, r)
	case http.MethodGet:
		a.handleViolationList(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleViolationRecord(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	var req recordViolationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.violations.Record(r.Context(), req.UserID, req.Role, req.ResourceType, req.ResourceID, req.AttemptedAction, req.Reason)
	if err != nil {
		handleViolationError(w, r, err)
		return
	}
	a.audit(r.Context(), "violation.record", map[string]any{
		"violation_id": v.ID,
		"user_id":      v.UserID,
		"severity":     v.Severity,
		"action":       v.AttemptedAction,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/violations/%s", v.ID))
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) handleViolationList(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	q := r.URL.Query()
	f := violation.Filter{
		Status:   violation.Status(strings.TrimSpace(q.Get("status"))),
		Severity: strings.TrimSpace(q.Get("severity")),
		UserID:   strings.TrimSpace(q.Get("user_id")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	violations, err := a.violations.List(r.Context(), f)
	if err != nil {
		handleViolationError(w, r, err)
		return
	}
	if violations == nil {
		violations = []violation.Violation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"violations": violations,
		"count":      len(violations),
	})
}

func (a *API) handleViolationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/violations/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.handleViolationGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "resolve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.handleViolationResolve(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleViolationGet(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	v, err := a.violations.Get(r.Context(), id)
	if err != nil {
		handleViolationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleViolationResolve(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	v, err := a.violations.Resolve(r.Context(), id, violation.Resolver{ID: p.UserID, Roles: p.Roles})
	if err != nil {
		handleViolationError(w, r, err)
		return
	}
	a.audit(r.Context(), "violation.resolve", map[string]any{
		"violation_id": v.ID,
		"resolved_by":  v.ResolvedBy,
	})
	writeJSON(w, http.StatusOK, v)
}

func handleViolationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, violation.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, violation.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, violation.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, violation.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, violation.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "violation operation failed")
	}
}
