// Package violation records and resolves policy violations: access
// attempts performed outside an active grant or role entitlement. The
// enforcement point at the call site decides when to flag; this package
// owns the record lifecycle.
package violation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"wardkey.org/internal/obs"
	"wardkey.org/internal/policy"
)

var (
	ErrInvalidInput = errors.New("violation: invalid input")
	ErrNotFound     = errors.New("violation: not found")
	ErrConflict     = errors.New("violation: conflict")
	ErrForbidden    = errors.New("violation: forbidden")
	ErrUnavailable  = errors.New("violation: store unavailable")
)

// Status of a violation record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Violation is a recorded out-of-policy access attempt. Severity is
// assigned at creation and never changes; only status, resolver and
// resolution time mutate afterwards.
type Violation struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Role            string     `json:"role"`
	ResourceType    string     `json:"resource_type"`
	ResourceID      string     `json:"resource_id"`
	AttemptedAction string     `json:"attempted_action"`
	Severity        string     `json:"severity"`
	Status          Status     `json:"status"`
	Reason          string     `json:"reason"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	Status   Status
	Severity string
	UserID   string
	Limit    int
}

// Store persists violations.
type Store interface {
	Create(ctx context.Context, v *Violation) error
	Get(ctx context.Context, id string) (Violation, error)
	// Resolve sets status=resolved. Resolving an already-resolved record
	// returns it unchanged with changed=false; this is deliberately looser
	// than request resolution, which treats a second resolve as Conflict.
	Resolve(ctx context.Context, id, resolver string, resolvedAt time.Time) (v Violation, changed bool, err error)
	List(ctx context.Context, f Filter) ([]Violation, error)
}

// Resolver identifies the caller closing a violation. Identity arrives
// pre-verified; the detector only checks role entitlement.
type Resolver struct {
	ID    string
	Roles []string
}

func (r Resolver) canResolve() bool {
	for _, role := range r.Roles {
		for _, allowed := range policy.ApproverRoles {
			if strings.EqualFold(strings.TrimSpace(role), allowed) {
				return true
			}
		}
	}
	return false
}

// Detector assigns severity and records violations.
type Detector struct {
	store Store
	now   func() time.Time
}

// DetectorOption configures the Detector.
type DetectorOption func(*Detector)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) DetectorOption {
	return func(d *Detector) {
		if fn != nil {
			d.now = fn
		}
	}
}

// NewDetector constructs a Detector over the given store.
func NewDetector(store Store, opts ...DetectorOption) *Detector {
	d := &Detector{store: store, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Record flags an out-of-policy access attempt. Severity comes from the
// policy rules and is immutable afterwards.
func (d *Detector) Record(ctx context.Context, userID, role, resourceType, resourceID, attemptedAction, reason string) (Violation, error) {
	userID = strings.TrimSpace(userID)
	role = strings.ToLower(strings.TrimSpace(role))
	resourceType = strings.ToLower(strings.TrimSpace(resourceType))
	attemptedAction = strings.TrimSpace(attemptedAction)
	reason = strings.TrimSpace(reason)

	if userID == "" {
		return Violation{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if attemptedAction == "" {
		return Violation{}, fmt.Errorf("%w: attempted action is required", ErrInvalidInput)
	}
	if reason == "" {
		return Violation{}, fmt.Errorf("%w: detection reason is required", ErrInvalidInput)
	}

	_, sensitive := policy.IsSensitiveAction(attemptedAction)
	roleMismatch := sensitive && !policy.IsElevatedRole([]string{role})

	v := Violation{
		ID:              uuid.NewString(),
		UserID:          userID,
		Role:            role,
		ResourceType:    resourceType,
		ResourceID:      strings.TrimSpace(resourceID),
		AttemptedAction: attemptedAction,
		Severity:        policy.Severity(resourceType, attemptedAction, roleMismatch),
		Status:          StatusOpen,
		Reason:          reason,
		CreatedAt:       d.now().UTC(),
	}
	if err := d.store.Create(ctx, &v); err != nil {
		return Violation{}, err
	}
	obs.CountViolation(v.Severity)
	return v, nil
}

// Resolve closes a violation. Only approver roles may resolve.
// Idempotent: resolving a resolved record returns it unchanged and does
// not error.
func (d *Detector) Resolve(ctx context.Context, id string, resolver Resolver) (Violation, error) {
	id = strings.TrimSpace(id)
	resolverID := strings.TrimSpace(resolver.ID)
	if id == "" {
		return Violation{}, fmt.Errorf("%w: violation id is required", ErrInvalidInput)
	}
	if resolverID == "" {
		return Violation{}, fmt.Errorf("%w: resolver id is required", ErrInvalidInput)
	}
	if !resolver.canResolve() {
		return Violation{}, fmt.Errorf("%w: resolving violations requires an approver role", ErrForbidden)
	}
	v, _, err := d.store.Resolve(ctx, id, resolverID, d.now().UTC())
	if err != nil {
		return Violation{}, err
	}
	return v, nil
}

// Get returns a violation by id.
func (d *Detector) Get(ctx context.Context, id string) (Violation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Violation{}, fmt.Errorf("%w: violation id is required", ErrInvalidInput)
	}
	return d.store.Get(ctx, id)
}

// List returns violations matching the filter.
func (d *Detector) List(ctx context.Context, f Filter) ([]Violation, error) {
	if f.Status != "" && f.Status != StatusOpen && f.Status != StatusResolved {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	if f.Severity != "" && !policy.KnownSeverity(f.Severity) {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, f.Severity)
	}
	return d.store.List(ctx, f)
}
