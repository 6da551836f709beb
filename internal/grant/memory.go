package grant

import (
	"context"
	"sort"
	"sync"
	"time"
)

type tupleKey struct {
	requesterID  string
	resourceType string
	resourceID   string
}

// InMemory implements Store with in-process concurrency safety. It backs
// tests and DSN-less runs; semantics match the Postgres store, including
// the single-pending-request constraint.
type InMemory struct {
	mu       sync.RWMutex
	requests map[string]*Request
	pending  map[tupleKey]string // tuple -> pending request id
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		requests: make(map[string]*Request),
		pending:  make(map[tupleKey]string),
	}
}

func (s *InMemory) Create(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tupleKey{req.RequesterID, req.ResourceType, req.ResourceID}
	if req.Status == StatusPending {
		if _, exists := s.pending[key]; exists {
			return ErrConflict
		}
		s.pending[key] = req.ID
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return *req, nil
}

func (s *InMemory) Approve(ctx context.Context, id, approver string, resolvedAt, expiresAt time.Time) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Status != StatusPending {
		return Request{}, ErrConflict
	}
	req.Status = StatusApproved
	req.ResolvedBy = approver
	ra := resolvedAt
	req.ResolvedAt = &ra
	ea := expiresAt
	req.ExpiresAt = &ea
	delete(s.pending, tupleKey{req.RequesterID, req.ResourceType, req.ResourceID})
	return *req, nil
}

func (s *InMemory) Reject(ctx context.Context, id, approver, reason string, resolvedAt time.Time) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Status != StatusPending {
		return Request{}, ErrConflict
	}
	req.Status = StatusRejected
	req.ResolvedBy = approver
	req.RejectionReason = reason
	ra := resolvedAt
	req.ResolvedAt = &ra
	delete(s.pending, tupleKey{req.RequesterID, req.ResourceType, req.ResourceID})
	return *req, nil
}

func (s *InMemory) ActiveGrant(ctx context.Context, requesterID, resourceType, resourceID string, now time.Time) (Request, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.RequesterID != requesterID || req.ResourceType != resourceType || req.ResourceID != resourceID {
			continue
		}
		if req.Active(now) {
			return *req, true, nil
		}
	}
	return Request{}, false, nil
}

func (s *InMemory) PendingRequest(ctx context.Context, requesterID, resourceType, resourceID string) (Request, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pending[tupleKey{requesterID, resourceType, resourceID}]
	if !ok {
		return Request{}, false, nil
	}
	req, ok := s.requests[id]
	if !ok {
		return Request{}, false, nil
	}
	return *req, true, nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Request
	for _, req := range s.requests {
		if f.RequesterID != "" && req.RequesterID != f.RequesterID {
			continue
		}
		if f.ResourceType != "" && req.ResourceType != f.ResourceType {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for _, req := range s.requests {
		if req.Status == StatusApproved && req.ExpiresAt != nil && !now.Before(*req.ExpiresAt) {
			req.Status = StatusExpired
			expired++
		}
	}
	return expired, nil
}
