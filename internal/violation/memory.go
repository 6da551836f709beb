package violation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*Violation
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]*Violation)}
}

func (s *InMemory) Create(ctx context.Context, v *Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.records[v.ID] = &cp
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[id]
	if !ok {
		return Violation{}, ErrNotFound
	}
	return *v, nil
}

func (s *InMemory) Resolve(ctx context.Context, id, resolver string, resolvedAt time.Time) (Violation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[id]
	if !ok {
		return Violation{}, false, ErrNotFound
	}
	if v.Status == StatusResolved {
		return *v, false, nil
	}
	v.Status = StatusResolved
	v.ResolvedBy = resolver
	ra := resolvedAt
	v.ResolvedAt = &ra
	return *v, true, nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Violation
	for _, v := range s.records {
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		if f.Severity != "" && !strings.EqualFold(v.Severity, f.Severity) {
			continue
		}
		if f.UserID != "" && v.UserID != f.UserID {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
