package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"wardkey.org/internal/audit"
	"wardkey.org/internal/grant"
	"wardkey.org/internal/identity"
)

type accessCheckRequest struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	RequiredRole string `json:"required_role,omitempty"`
}

type createRequestRequest struct {
	ResourceType  string `json:"resource_type"`
	ResourceID    string `json:"resource_id"`
	AccessLevel   string `json:"access_level"`
	Reason        string `json:"reason"`
	DurationHours int    `json:"duration_hours"`
	RequiredRole  string `json:"required_role,omitempty"`
}

type rejectRequestRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req accessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decision, err := a.grants.CheckAccess(r.Context(), grant.CheckInput{
		UserID:       p.UserID,
		Roles:        p.Roles,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		RequiredRole: req.RequiredRole,
	})
	if err != nil {
		handleGrantError(w, r, err)
		return
	}
	a.audit(r.Context(), "access.check", map[string]any{
		"resource_type": req.ResourceType,
		"resource_id":   req.ResourceID,
		"outcome":       decision.Outcome,
	})
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleRequestCreate(w, r)
	case http.MethodGet:
		a.handleRequestList(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRequestCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.grants.CreateRequest(r.Context(), grant.CreateInput{
		RequesterID:       p.UserID,
		RequesterUsername: p.Username,
		Roles:             p.Roles,
		ResourceType:      req.ResourceType,
		ResourceID:        req.ResourceID,
		AccessLevel:       req.AccessLevel,
		Reason:            req.Reason,
		DurationHours:     req.DurationHours,
		RequiredRole:      req.RequiredRole,
	})
	if err != nil {
		handleGrantError(w, r, err)
		return
	}
	a.audit(r.Context(), "grant.request.create", map[string]any{
		"request_id":    created.ID,
		"resource_type": created.ResourceType,
		"resource_id":   created.ResourceID,
		"status":        string(created.Status),
		"auto_approved": created.AutoApproved,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/requests/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleRequestList(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	q := r.URL.Query()
	f := grant.Filter{
		RequesterID:  strings.TrimSpace(q.Get("requester_id")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		Status:       grant.Status(strings.TrimSpace(q.Get("status"))),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	requests, err := a.grants.List(r.Context(), f)
	if err != nil {
		handleGrantError(w, r, err)
		return
	}
	if requests == nil {
		requests = []grant.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}

func (a *API) handleRequestScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/requests/"), "/")
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
		a.handleRequestGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "approve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.handleRequestApprove(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "reject":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.handleRequestReject(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRequestGet(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	req, err := a.grants.Get(r.Context(), id)
	if err != nil {
		handleGrantError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) handleRequestApprove(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	approved, err := a.grants.Approve(r.Context(), id, actorFrom(p))
	if err != nil {
		handleGrantError(w, r, err)
		return
	}
	a.audit(r.Context(), "grant.request.approve", map[string]any{
		"request_id": approved.ID,
		"expires_at": approved.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, approved)
}

func (a *API) handleRequestReject(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req rejectRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rejected, err := a.grants.Reject(r.Context(), id, req.Reason, actorFrom(p))
	if err != nil {
		handleGrantError(w, r, err)
		return
	}
	a.audit(r.Context(), "grant.request.reject", map[string]any{
		"request_id": rejected.ID,
		"reason":     rejected.RejectionReason,
	})
	writeJSON(w, http.StatusOK, rejected)
}

func (a *API) principal(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return identity.Principal{}, false
	}
	return p, true
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

func actorFrom(p identity.Principal) grant.Actor {
	return grant.Actor{ID: p.UserID, Username: p.Username, Roles: p.Roles}
}

func handleGrantError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, grant.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, grant.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, grant.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, grant.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, grant.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "grant operation failed")
	}
}
