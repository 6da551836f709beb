package violation

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 8, 3, 15, 0, 0, 0, time.UTC)

func newTestDetector() *Detector {
	return NewDetector(NewInMemory(), WithClock(func() time.Time { return testNow }))
}

func TestRecordAssignsSeverity(t *testing.T) {
	d := newTestDetector()

	cases := []struct {
		name         string
		role         string
		resourceType string
		action       string
		want         string
	}{
		{"classified is critical", "admin", "patient_record", "classified_data_access", "critical"},
		{"finance is high", "employee", "finance", "financial_report_access", "high"},
		{"role mismatch is medium", "employee", "patient_record", "audit_log_access", "medium"},
		{"elevated role plain action is low", "manager", "patient_record", "view_record", "low"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := d.Record(context.Background(), "u-1", tc.role, tc.resourceType, "res-1", tc.action, "flagged by monitor")
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
			if v.Severity != tc.want {
				t.Fatalf("severity = %s, want %s", v.Severity, tc.want)
			}
			if v.Status != StatusOpen {
				t.Fatalf("status = %s, want open", v.Status)
			}
			if v.ID == "" {
				t.Fatalf("missing violation id")
			}
			if !v.CreatedAt.Equal(testNow) {
				t.Fatalf("created_at = %v, want %v", v.CreatedAt, testNow)
			}
		})
	}
}

func TestRecordValidation(t *testing.T) {
	d := newTestDetector()

	if _, err := d.Record(context.Background(), " ", "user", "finance", "", "x", "reason"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty user, got %v", err)
	}
	if _, err := d.Record(context.Background(), "u-1", "user", "finance", "", "", "reason"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty action, got %v", err)
	}
	if _, err := d.Record(context.Background(), "u-1", "user", "finance", "", "x", "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty reason, got %v", err)
	}
}

func TestResolveIdempotent(t *testing.T) {
	d := newTestDetector()
	v, err := d.Record(context.Background(), "u-2", "employee", "finance", "rep-1", "financial_report_access", "outside role scope")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	first, err := d.Resolve(context.Background(), v.ID, Resolver{ID: "admin-1", Roles: []string{"admin"}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Status != StatusResolved || first.ResolvedBy != "admin-1" {
		t.Fatalf("unexpected record: %+v", first)
	}

	second, err := d.Resolve(context.Background(), v.ID, Resolver{ID: "admin-2", Roles: []string{"manager"}})
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second.ResolvedBy != "admin-1" {
		t.Fatalf("second resolve overwrote resolver: %+v", second)
	}
	if second.ResolvedAt == nil || !second.ResolvedAt.Equal(*first.ResolvedAt) {
		t.Fatalf("second resolve changed timestamp: %+v", second)
	}
}

func TestResolveRequiresApproverRole(t *testing.T) {
	d := newTestDetector()
	v, err := d.Record(context.Background(), "u-2", "employee", "finance", "rep-1", "financial_report_access", "outside role scope")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if _, err := d.Resolve(context.Background(), v.ID, Resolver{ID: "e-1", Roles: []string{"employee"}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-approver, got %v", err)
	}

	got, err := d.Get(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusOpen {
		t.Fatalf("forbidden resolve mutated record: %+v", got)
	}

	if _, err := d.Resolve(context.Background(), v.ID, Resolver{ID: "m-1", Roles: []string{"Manager"}}); err != nil {
		t.Fatalf("manager resolve: %v", err)
	}
}

func TestResolveUnknown(t *testing.T) {
	d := newTestDetector()
	if _, err := d.Resolve(context.Background(), "missing", Resolver{ID: "admin-1", Roles: []string{"admin"}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	d := newTestDetector()
	if _, err := d.Record(context.Background(), "u-3", "employee", "finance", "", "financial_report_access", "scope"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	v, err := d.Record(context.Background(), "u-4", "user", "patient_record", "", "classified_data_access", "classified attempt")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := d.Resolve(context.Background(), v.ID, Resolver{ID: "admin-1", Roles: []string{"admin"}}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	open, err := d.List(context.Background(), Filter{Status: StatusOpen})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(open) != 1 || open[0].UserID != "u-3" {
		t.Fatalf("unexpected open set: %+v", open)
	}

	critical, err := d.List(context.Background(), Filter{Severity: "critical"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(critical) != 1 || critical[0].UserID != "u-4" {
		t.Fatalf("unexpected critical set: %+v", critical)
	}

	if _, err := d.List(context.Background(), Filter{Status: "bogus"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad status, got %v", err)
	}
	if _, err := d.List(context.Background(), Filter{Severity: "extreme"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad severity, got %v", err)
	}
}
