// Package activity exposes the read-only Activity Log collaborator. The
// engine only ever reads recent per-user history from it; writing belongs
// to the application layer that observes user actions.
package activity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable indicates the activity backend could not be reached.
// Risk evaluation treats this as fatal; there is nothing to score without
// the history.
var ErrUnavailable = errors.New("activity: log unavailable")

// Record is one observed user action.
type Record struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username,omitempty"`
	Role          string    `json:"user_role,omitempty"`
	Action        string    `json:"action"`
	Resource      string    `json:"resource,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Success       bool      `json:"success"`
	IP            string    `json:"ip_address,omitempty"`
	DeviceType    string    `json:"device_type,omitempty"`
	SessionPeriod int       `json:"session_period,omitempty"` // minutes
}

// FailedLogin reports whether the record is a failed authentication attempt.
func (r Record) FailedLogin() bool {
	action := strings.ToLower(r.Action)
	if !strings.Contains(action, "login") && !strings.Contains(action, "authentication") {
		return false
	}
	return !r.Success || strings.Contains(action, "failed")
}

// Log supplies recent per-user history.
type Log interface {
	// Recent returns the user's records with Timestamp >= since, oldest first.
	Recent(ctx context.Context, userID string, since time.Time) ([]Record, error)
}

// InMemory is a Log backed by process memory. Used in tests and when the
// service runs without an activity backend configured.
type InMemory struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// NewInMemory creates an empty in-memory activity log.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string][]Record)}
}

// Append stores a record. Exposed for tests and local fixtures.
func (l *InMemory) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.UserID] = append(l.records[rec.UserID], rec)
}

func (l *InMemory) Recent(ctx context.Context, userID string, since time.Time) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, rec := range l.records[userID] {
		if rec.Timestamp.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
