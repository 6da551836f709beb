package grant

import (
	"context"
	"time"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	RequesterID  string
	ResourceType string
	Status       Status
	Limit        int
}

// Store persists access grant requests. It is the single source of truth
// for request state; only the lifecycle Service mutates it.
type Store interface {
	// Create inserts a new request. For pending requests the insert is an
	// atomic check-and-insert: a second pending request for the same
	// (requester, resource type, resource id) tuple fails with ErrConflict.
	Create(ctx context.Context, req *Request) error

	// Get returns a request by id or ErrNotFound.
	Get(ctx context.Context, id string) (Request, error)

	// Approve transitions pending → approved atomically. A request in any
	// other state yields ErrConflict without mutation; a missing id yields
	// ErrNotFound.
	Approve(ctx context.Context, id, approver string, resolvedAt, expiresAt time.Time) (Request, error)

	// Reject transitions pending → rejected under the same atomicity rules
	// as Approve.
	Reject(ctx context.Context, id, approver, reason string, resolvedAt time.Time) (Request, error)

	// ActiveGrant finds an approved, unexpired grant for the tuple.
	ActiveGrant(ctx context.Context, requesterID, resourceType, resourceID string, now time.Time) (Request, bool, error)

	// PendingRequest finds an open pending request for the tuple.
	PendingRequest(ctx context.Context, requesterID, resourceType, resourceID string) (Request, bool, error)

	// List returns requests matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]Request, error)

	// ExpireDue moves approved requests whose deadline has passed to
	// expired and reports how many rows changed. Idempotent.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}
