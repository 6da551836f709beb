package grant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testStart = time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)

func newTestService(opts ...ServiceOption) (*Service, *InMemory) {
	store := NewInMemory()
	opts = append([]ServiceOption{WithClock(fixedClock(testStart)), WithSleep(func(time.Duration) {})}, opts...)
	return NewService(store, opts...), store
}

func TestCreateRequestPending(t *testing.T) {
	svc, _ := newTestService()

	req, err := svc.CreateRequest(context.Background(), CreateInput{
		RequesterID:   "u-1",
		Roles:         []string{"nurse"},
		ResourceType:  "finance",
		ResourceID:    "rep-1",
		AccessLevel:   "read",
		Reason:        "month-end reconciliation",
		DurationHours: 2,
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if req.AutoApproved {
		t.Fatalf("nurse on finance must not auto-approve")
	}
	if req.ExpiresAt != nil {
		t.Fatalf("pending request must not carry an expiry")
	}
	if req.ID == "" {
		t.Fatalf("missing request id")
	}
}

func TestCreateRequestAutoApproved(t *testing.T) {
	svc, _ := newTestService()

	req, err := svc.CreateRequest(context.Background(), CreateInput{
		RequesterID:   "u-2",
		Roles:         []string{"doctor"},
		ResourceType:  "patient_record",
		ResourceID:    "pr-7",
		AccessLevel:   "read",
		Reason:        "scheduled consultation",
		DurationHours: 1,
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.Status != StatusApproved || !req.AutoApproved {
		t.Fatalf("expected auto-approved request, got %+v", req)
	}
	if req.ResolvedBy != ResolvedByPolicy {
		t.Fatalf("resolved_by = %s, want %s", req.ResolvedBy, ResolvedByPolicy)
	}
	wantExpiry := testStart.Add(time.Hour)
	if req.ExpiresAt == nil || !req.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires_at = %v, want %v", req.ExpiresAt, wantExpiry)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	svc, _ := newTestService()
	valid := CreateInput{
		RequesterID:   "u-1",
		Roles:         []string{"nurse"},
		ResourceType:  "finance",
		ResourceID:    "rep-1",
		AccessLevel:   "read",
		Reason:        "audit prep",
		DurationHours: 1,
	}

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing requester", func(in *CreateInput) { in.RequesterID = " " }},
		{"unknown resource type", func(in *CreateInput) { in.ResourceType = "spaceship" }},
		{"missing resource id", func(in *CreateInput) { in.ResourceID = "" }},
		{"bad access level", func(in *CreateInput) { in.AccessLevel = "delete" }},
		{"missing reason", func(in *CreateInput) { in.Reason = "  " }},
		{"bad duration", func(in *CreateInput) { in.DurationHours = 4 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			if _, err := svc.CreateRequest(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateRequestDuplicatePending(t *testing.T) {
	svc, _ := newTestService()
	in := CreateInput{
		RequesterID:   "u-3",
		Roles:         []string{"nurse"},
		ResourceType:  "finance",
		ResourceID:    "rep-2",
		AccessLevel:   "read",
		Reason:        "review",
		DurationHours: 1,
	}
	if _, err := svc.CreateRequest(context.Background(), in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.CreateRequest(context.Background(), in); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate pending, got %v", err)
	}
}

func TestApproveLifecycle(t *testing.T) {
	svc, _ := newTestService()
	req, err := svc.CreateRequest(context.Background(), CreateInput{
		RequesterID:   "u-4",
		Roles:         []string{"nurse"},
		ResourceType:  "finance",
		ResourceID:    "rep-3",
		AccessLevel:   "read",
		Reason:        "billing question",
		DurationHours: 2,
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	manager := Actor{ID: "mgr-1", Username: "casey", Roles: []string{"manager"}}

	approved, err := svc.Approve(context.Background(), req.ID, manager)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Fatalf("status = %s, want approved", approved.Status)
	}
	if approved.ResolvedBy != "casey" {
		t.Fatalf("resolved_by = %s, want casey", approved.ResolvedBy)
	}
	wantExpiry := testStart.Add(2 * time.Hour)
	if approved.ExpiresAt == nil || !approved.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires_at = %v, want %v", approved.ExpiresAt, wantExpiry)
	}

	// Second resolution attempt of either kind conflicts.
	if _, err := svc.Approve(context.Background(), req.ID, manager); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on double approve, got %v", err)
	}
	if _, err := svc.Reject(context.Background(), req.ID, "changed my mind", manager); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on reject after approve, got %v", err)
	}
}

func TestApproveForbiddenRole(t *testing.T) {
	svc, _ := newTestService()
	req, err := svc.CreateRequest(context.Background(), CreateInput{
		RequesterID:   "u-5",
		Roles:         []string{"nurse"},
		ResourceType:  "finance",
		ResourceID:    "rep-4",
		AccessLevel:   "read",
		Reason:        "report",
		DurationHours: 1,
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	employee := Actor{ID: "u-6", Roles: []string{"employee"}}
	if _, err := svc.Approve(context.Background(), req.ID, employee); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Reject(context.Background(), req.ID, "no", employee); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on reject, got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	svc, _ := newTestService()
	admin := Actor{ID: "a-1", Roles: []string{"admin"}}
	if _, err := svc.Reject(context.Background(), "some-id", "  ", admin); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty reason, got %v", err)
	}
}

func TestCheckAccessActiveGrantWins(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.CreateRequest(context.Background(), CreateInput{
		RequesterID:   "u-7",
		Roles:         []string{"doctor"},
		ResourceType:  "patient_record",
		ResourceID:    "pr-1",
		AccessLevel:   "read",
		Reason:        "rounds",
		DurationHours: 1,
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	d, err := svc.CheckAccess(context.Background(), CheckInput{
		UserID: "u-7", Roles: []string{"doctor"}, ResourceType: "patient_record", ResourceID: "pr-1",
	})
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if d.Outcome != OutcomeGranted || d.Grant == nil {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestCheckAccessSynthesizesAutoApproval(t *testing.T) {
	svc, store := newTestService()

	d, err := svc.CheckAccess(context.Background(), CheckInput{
		UserID: "u-8", Roles: []string{"accountant"}, ResourceType: "finance", ResourceID: "rep-5",
	})
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if d.Outcome != OutcomeGranted || d.Grant == nil {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if !d.Grant.AutoApproved || d.Grant.Status != StatusApproved {
		t.Fatalf("synthesized grant not auto-approved: %+v", d.Grant)
	}

	stored, err := store.Get(context.Background(), d.Grant.ID)
	if err != nil {
		t.Fatalf("synthesized grant not persisted: %v", err)
	}
	if stored.DurationHours != 1 {
		t.Fatalf("synthesized duration = %d, want 1", stored.DurationHours)
	}
}

func TestCheckAccessPendingAndDenied(t *testing.T) {
	svc, _ := newTestService()

	d, err := svc.CheckAccess(context.Background(), CheckInput{
		UserID: "u-9", Roles: []string{"nurse"}, ResourceType: "finance", ResourceID: "rep-6",
	})
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if d.Outcome != OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", d.Outcome)
	}

	if _, err := svc.CreateRequest(context.Background(), CreateInput{
		RequesterID:   "u-9",
		Roles:         []string{"nurse"},
		ResourceType:  "finance",
		ResourceID:    "rep-6",
		AccessLevel:   "read",
		Reason:        "need the numbers",
		DurationHours: 1,
	}); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	d, err = svc.CheckAccess(context.Background(), CheckInput{
		UserID: "u-9", Roles: []string{"nurse"}, ResourceType: "finance", ResourceID: "rep-6",
	})
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if d.Outcome != OutcomeRequiresApproval || d.Pending == nil {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestGrantExpiresAfterWindow(t *testing.T) {
	now := testStart
	store := NewInMemory()
	svc := NewService(store, WithClock(func() time.Time { return now }))

	req, err := svc.CreateRequest(context.Background(), CreateInput{
		RequesterID:   "u-10",
		Roles:         []string{"doctor"},
		ResourceType:  "lab_results",
		ResourceID:    "lr-1",
		AccessLevel:   "read",
		Reason:        "follow-up",
		DurationHours: 1,
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.Status != StatusApproved {
		t.Fatalf("expected auto-approved grant")
	}

	// 61 minutes later the grant no longer holds, even before the sweep.
	now = testStart.Add(61 * time.Minute)
	d, err := svc.CheckAccess(context.Background(), CheckInput{
		UserID: "u-10", Roles: []string{"user"}, ResourceType: "lab_results", ResourceID: "lr-1",
	})
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if d.Outcome != OutcomeDenied {
		t.Fatalf("outcome = %s, want denied after expiry", d.Outcome)
	}

	n, err := svc.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d rows, want 1", n)
	}
	got, err := svc.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}

	// Sweep is idempotent.
	n, err = svc.ExpireDue(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestCheckAccessReadRetry(t *testing.T) {
	calls := 0
	stub := &stubStore{
		activeGrant: func() (Request, bool, error) {
			calls++
			if calls < 3 {
				return Request{}, false, fmt.Errorf("%w: dial refused", ErrUnavailable)
			}
			return Request{}, false, nil
		},
		pendingRequest: func() (Request, bool, error) { return Request{}, false, nil },
	}
	svc := NewService(stub, WithClock(fixedClock(testStart)), WithSleep(func(time.Duration) {}))

	d, err := svc.CheckAccess(context.Background(), CheckInput{
		UserID: "u-11", Roles: []string{"user"}, ResourceType: "finance", ResourceID: "rep-7",
	})
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if d.Outcome != OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", d.Outcome)
	}
	if calls != 3 {
		t.Fatalf("ActiveGrant called %d times, want 3", calls)
	}
}

func TestCheckAccessReadRetryExhausted(t *testing.T) {
	calls := 0
	stub := &stubStore{
		activeGrant: func() (Request, bool, error) {
			calls++
			return Request{}, false, fmt.Errorf("%w: dial refused", ErrUnavailable)
		},
	}
	svc := NewService(stub, WithSleep(func(time.Duration) {}))

	_, err := svc.CheckAccess(context.Background(), CheckInput{
		UserID: "u-12", Roles: []string{"user"}, ResourceType: "finance", ResourceID: "rep-8",
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("ActiveGrant called %d times, want 3", calls)
	}
}

func TestConcurrentCreateSinglePending(t *testing.T) {
	svc, _ := newTestService()
	in := CreateInput{
		RequesterID:   "u-13",
		Roles:         []string{"nurse"},
		ResourceType:  "finance",
		ResourceID:    "rep-9",
		AccessLevel:   "read",
		Reason:        "shared deadline",
		DurationHours: 1,
	}

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateRequest(context.Background(), in)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("%d requests created, want exactly 1", created)
	}
}

// stubStore lets tests script individual store calls.
type stubStore struct {
	create         func(req *Request) error
	get            func(id string) (Request, error)
	activeGrant    func() (Request, bool, error)
	pendingRequest func() (Request, bool, error)
}

var _ Store = (*stubStore)(nil)

func (s *stubStore) Create(ctx context.Context, req *Request) error {
	if s.create != nil {
		return s.create(req)
	}
	return nil
}

func (s *stubStore) Get(ctx context.Context, id string) (Request, error) {
	if s.get != nil {
		return s.get(id)
	}
	return Request{}, ErrNotFound
}

func (s *stubStore) Approve(ctx context.Context, id, approver string, resolvedAt, expiresAt time.Time) (Request, error) {
	return Request{}, ErrNotFound
}

func (s *stubStore) Reject(ctx context.Context, id, approver, reason string, resolvedAt time.Time) (Request, error) {
	return Request{}, ErrNotFound
}

func (s *stubStore) ActiveGrant(ctx context.Context, requesterID, resourceType, resourceID string, now time.Time) (Request, bool, error) {
	if s.activeGrant != nil {
		return s.activeGrant()
	}
	return Request{}, false, nil
}

func (s *stubStore) PendingRequest(ctx context.Context, requesterID, resourceType, resourceID string) (Request, bool, error) {
	if s.pendingRequest != nil {
		return s.pendingRequest()
	}
	return Request{}, false, nil
}

func (s *stubStore) List(ctx context.Context, f Filter) ([]Request, error) { return nil, nil }

func (s *stubStore) ExpireDue(ctx context.Context, now time.Time) (int, error) { return 0, nil }
