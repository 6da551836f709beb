package grant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wardkey.org/internal/ids"
	"wardkey.org/internal/obs"
	"wardkey.org/internal/policy"
)

const (
	readRetryAttempts = 2
	readRetryDelay    = 100 * time.Millisecond
)

// Actor identifies the caller performing an operation. Identity arrives
// pre-verified; the service only checks role entitlement.
type Actor struct {
	ID       string
	Username string
	Roles    []string
}

func (a Actor) canResolve() bool {
	for _, role := range a.Roles {
		for _, allowed := range policy.ApproverRoles {
			if strings.EqualFold(strings.TrimSpace(role), allowed) {
				return true
			}
		}
	}
	return false
}

func (a Actor) name() string {
	if strings.TrimSpace(a.Username) != "" {
		return a.Username
	}
	return a.ID
}

// CreateInput carries everything needed to open a grant request.
type CreateInput struct {
	RequesterID       string
	RequesterUsername string
	Roles             []string
	ResourceType      string
	ResourceID        string
	AccessLevel       string
	Reason            string
	DurationHours     int
	RequiredRole      string
}

// CheckInput identifies an access attempt.
type CheckInput struct {
	UserID       string
	Roles        []string
	ResourceType string
	ResourceID   string
	RequiredRole string
}

// Service is the grant lifecycle manager. It exclusively owns request
// state transitions.
type Service struct {
	store Store
	now   func() time.Time
	sleep func(time.Duration)
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSleep overrides the retry backoff sleeper (useful for tests).
func WithSleep(fn func(time.Duration)) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// NewService constructs the lifecycle manager.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest validates input, applies the auto-approval table and
// persists the request. Auto-approved requests are born approved with the
// expiry window already set; nothing waits on a human.
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (Request, error) {
	in.RequesterID = strings.TrimSpace(in.RequesterID)
	in.ResourceType = strings.ToLower(strings.TrimSpace(in.ResourceType))
	in.ResourceID = strings.TrimSpace(in.ResourceID)
	in.AccessLevel = strings.ToLower(strings.TrimSpace(in.AccessLevel))
	in.Reason = strings.TrimSpace(in.Reason)

	if in.RequesterID == "" {
		return Request{}, fmt.Errorf("%w: requester_id is required", ErrInvalidInput)
	}
	if !policy.KnownResourceType(in.ResourceType) {
		return Request{}, fmt.Errorf("%w: unknown resource type %q", ErrInvalidInput, in.ResourceType)
	}
	if in.ResourceID == "" {
		return Request{}, fmt.Errorf("%w: resource_id is required", ErrInvalidInput)
	}
	if in.AccessLevel != policy.AccessRead && in.AccessLevel != policy.AccessWrite {
		return Request{}, fmt.Errorf("%w: access level must be read or write", ErrInvalidInput)
	}
	if in.Reason == "" {
		return Request{}, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	if !policy.AllowedDuration(in.DurationHours) {
		return Request{}, fmt.Errorf("%w: duration %dh is not permitted", ErrInvalidInput, in.DurationHours)
	}

	now := s.now().UTC()
	req := Request{
		ID:                ids.New(),
		RequesterID:       in.RequesterID,
		RequesterUsername: strings.TrimSpace(in.RequesterUsername),
		RequesterRole:     primaryRole(in.Roles),
		ResourceType:      in.ResourceType,
		ResourceID:        in.ResourceID,
		AccessLevel:       in.AccessLevel,
		Reason:            in.Reason,
		DurationHours:     in.DurationHours,
		Status:            StatusPending,
		CreatedAt:         now,
	}

	if policy.IsAutoApproved(in.Roles, in.ResourceType, in.RequiredRole) {
		req.Status = StatusApproved
		req.AutoApproved = true
		req.ResolvedBy = ResolvedByPolicy
		resolved := now
		req.ResolvedAt = &resolved
		expires := now.Add(time.Duration(in.DurationHours) * time.Hour)
		req.ExpiresAt = &expires
	}

	if err := s.store.Create(ctx, &req); err != nil {
		return Request{}, err
	}
	obs.CountGrantRequest(string(req.Status))
	return req, nil
}

// Approve moves a pending request to approved. Resolution is strict: a
// request already resolved yields ErrConflict and stays untouched.
func (s *Service) Approve(ctx context.Context, id string, approver Actor) (Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Request{}, fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	if !approver.canResolve() {
		return Request{}, fmt.Errorf("%w: approver role required", ErrForbidden)
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	now := s.now().UTC()
	expires := now.Add(time.Duration(current.DurationHours) * time.Hour)
	req, err := s.store.Approve(ctx, id, approver.name(), now, expires)
	if err != nil {
		return Request{}, err
	}
	obs.CountGrantResolution(string(StatusApproved))
	return req, nil
}

// Reject moves a pending request to rejected. The reason is mandatory.
func (s *Service) Reject(ctx context.Context, id, reason string, approver Actor) (Request, error) {
	id = strings.TrimSpace(id)
	reason = strings.TrimSpace(reason)
	if id == "" {
		return Request{}, fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	if reason == "" {
		return Request{}, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}
	if !approver.canResolve() {
		return Request{}, fmt.Errorf("%w: approver role required", ErrForbidden)
	}

	req, err := s.store.Reject(ctx, id, approver.name(), reason, s.now().UTC())
	if err != nil {
		return Request{}, err
	}
	obs.CountGrantResolution(string(StatusRejected))
	return req, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Request{}, fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// List returns requests matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Request, error) {
	if f.Status != "" {
		switch f.Status {
		case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
		}
	}
	return s.store.List(ctx, f)
}

// CheckAccess decides whether the user may touch the resource right now.
// Store reads are retried a bounded number of times on unavailability;
// nothing here writes except the synthesized auto-approval grant.
func (s *Service) CheckAccess(ctx context.Context, in CheckInput) (Decision, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.ResourceType = strings.ToLower(strings.TrimSpace(in.ResourceType))
	in.ResourceID = strings.TrimSpace(in.ResourceID)
	if in.UserID == "" {
		return Decision{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !policy.KnownResourceType(in.ResourceType) {
		return Decision{}, fmt.Errorf("%w: unknown resource type %q", ErrInvalidInput, in.ResourceType)
	}
	if in.ResourceID == "" {
		return Decision{}, fmt.Errorf("%w: resource_id is required", ErrInvalidInput)
	}

	now := s.now().UTC()

	// Step 1: an unexpired approved grant wins outright. An expired one
	// falls through; grants never renew themselves.
	var (
		active Request
		found  bool
	)
	err := s.readWithRetry(ctx, func() error {
		var err error
		active, found, err = s.store.ActiveGrant(ctx, in.UserID, in.ResourceType, in.ResourceID, now)
		return err
	})
	if err != nil {
		return Decision{}, err
	}
	if found {
		obs.CountAccessCheck(OutcomeGranted)
		return Decision{Outcome: OutcomeGranted, Grant: &active}, nil
	}

	// Step 2: role entitlement synthesizes a fresh approved grant.
	if policy.IsAutoApproved(in.Roles, in.ResourceType, in.RequiredRole) {
		created, err := s.CreateRequest(ctx, CreateInput{
			RequesterID:   in.UserID,
			Roles:         in.Roles,
			ResourceType:  in.ResourceType,
			ResourceID:    in.ResourceID,
			AccessLevel:   policy.AccessRead,
			Reason:        "auto-approved by role policy",
			DurationHours: 1,
			RequiredRole:  in.RequiredRole,
		})
		if err != nil {
			return Decision{}, err
		}
		obs.CountAccessCheck(OutcomeGranted)
		return Decision{Outcome: OutcomeGranted, Grant: &created}, nil
	}

	// Step 3: an open pending request means the caller waits.
	var pending Request
	err = s.readWithRetry(ctx, func() error {
		var err error
		pending, found, err = s.store.PendingRequest(ctx, in.UserID, in.ResourceType, in.ResourceID)
		return err
	})
	if err != nil {
		return Decision{}, err
	}
	if found {
		obs.CountAccessCheck(OutcomeRequiresApproval)
		return Decision{Outcome: OutcomeRequiresApproval, Pending: &pending}, nil
	}

	obs.CountAccessCheck(OutcomeDenied)
	return Decision{
		Outcome: OutcomeDenied,
		Reason:  "no active grant; request access to proceed",
	}, nil
}

// ExpireDue sweeps approved requests past their deadline.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	n, err := s.store.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		obs.CountSweepExpired(n)
		for i := 0; i < n; i++ {
			obs.CountGrantResolution(string(StatusExpired))
		}
	}
	return n, nil
}

// readWithRetry retries read operations on store unavailability with a
// short backoff. Writes are never retried; duplicate side effects are
// worse than a surfaced error.
func (s *Service) readWithRetry(ctx context.Context, fn func() error) error {
	delay := readRetryDelay
	var err error
	for attempt := 0; attempt <= readRetryAttempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
		if attempt == readRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.sleep(delay)
		delay *= 2
	}
	return err
}

func primaryRole(roles []string) string {
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			return r
		}
	}
	return policy.RoleUser
}
