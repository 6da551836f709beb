package grant

import "time"

// Status is the lifecycle state of an access grant request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// ResolvedByPolicy marks requests approved by the auto-approval table
// rather than a human approver.
const ResolvedByPolicy = "policy"

// Request is a time-bounded access grant request. Once approved it is the
// grant itself: access holds until ExpiresAt passes.
type Request struct {
	ID                string     `json:"id"`
	RequesterID       string     `json:"requester_id"`
	RequesterUsername string     `json:"requester_username,omitempty"`
	RequesterRole     string     `json:"requester_role"`
	ResourceType      string     `json:"resource_type"`
	ResourceID        string     `json:"resource_id"`
	AccessLevel       string     `json:"access_level"`
	Reason            string     `json:"reason"`
	DurationHours     int        `json:"duration_hours"`
	Status            Status     `json:"status"`
	AutoApproved      bool       `json:"auto_approved"`
	CreatedAt         time.Time  `json:"created_at"`
	ResolvedBy        string     `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the request currently grants access. The stored
// status alone is never trusted: an approved row past its deadline is
// inactive even before the sweep has marked it expired.
func (r Request) Active(now time.Time) bool {
	return r.Status == StatusApproved && r.ExpiresAt != nil && now.Before(*r.ExpiresAt)
}

// Outcome of an access check.
const (
	OutcomeGranted          = "granted"
	OutcomeRequiresApproval = "requires_approval"
	OutcomeDenied           = "denied"
)

// Decision is the structured result of CheckAccess. Callers can tell
// "wait for approval" apart from "not allowed" without inspecting errors.
type Decision struct {
	Outcome string   `json:"outcome"`
	Grant   *Request `json:"grant,omitempty"`
	Pending *Request `json:"pending,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}
