package policy

import "testing"

func TestIsAutoApproved(t *testing.T) {
	cases := []struct {
		name         string
		roles        []string
		resourceType string
		requiredRole string
		want         bool
	}{
		{"admin any resource", []string{"admin"}, ResourceAuditLog, "", true},
		{"doctor patient record", []string{"doctor"}, ResourcePatientRecord, "", true},
		{"doctor finance", []string{"doctor"}, ResourceFinance, "", false},
		{"nurse prescriptions", []string{"nurse"}, ResourcePrescription, "", false},
		{"accountant finance", []string{"accountant"}, ResourceFinance, "", true},
		{"case insensitive", []string{"Doctor"}, ResourceLabResults, "", true},
		{"required role held", []string{"doctor"}, ResourcePatientRecord, "doctor", true},
		{"required role missing", []string{"doctor"}, ResourcePatientRecord, "admin", false},
		{"unknown role", []string{"visitor"}, ResourcePatientRecord, "", false},
		{"no roles", nil, ResourcePatientRecord, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAutoApproved(tc.roles, tc.resourceType, tc.requiredRole); got != tc.want {
				t.Fatalf("IsAutoApproved(%v, %s, %s) = %v, want %v", tc.roles, tc.resourceType, tc.requiredRole, got, tc.want)
			}
		})
	}
}

func TestAllowedDuration(t *testing.T) {
	for _, h := range []int{1, 2, 8} {
		if !AllowedDuration(h) {
			t.Fatalf("expected %dh to be allowed", h)
		}
	}
	for _, h := range []int{0, 3, 4, 24, -1} {
		if AllowedDuration(h) {
			t.Fatalf("expected %dh to be rejected", h)
		}
	}
}

func TestBaseScore(t *testing.T) {
	if got := BaseScore([]string{"admin", "employee"}); got != 40 {
		t.Fatalf("admin base = %d, want 40", got)
	}
	if got := BaseScore([]string{"manager"}); got != 35 {
		t.Fatalf("manager base = %d, want 35", got)
	}
	if got := BaseScore([]string{"member"}); got != 32 {
		t.Fatalf("member base = %d, want 32", got)
	}
	if got := BaseScore([]string{"nurse"}); got != DefaultBaseScore {
		t.Fatalf("unlisted role base = %d, want %d", got, DefaultBaseScore)
	}
	if got := BaseScore(nil); got != DefaultBaseScore {
		t.Fatalf("empty roles base = %d, want %d", got, DefaultBaseScore)
	}
}

func TestIsSensitiveAction(t *testing.T) {
	cat, ok := IsSensitiveAction("attempted admin_access on panel")
	if !ok || cat != "admin_access" {
		t.Fatalf("expected admin_access match, got %q ok=%v", cat, ok)
	}
	if _, ok := IsSensitiveAction("view_profile"); ok {
		t.Fatalf("view_profile should not be sensitive")
	}
	cat, ok = IsSensitiveAction(ClassifiedAction)
	if !ok || cat != ClassifiedAction {
		t.Fatalf("classified action not matched: %q ok=%v", cat, ok)
	}
}

func TestSeverity(t *testing.T) {
	if got := Severity(ResourcePatientRecord, ClassifiedAction, false); got != SeverityCritical {
		t.Fatalf("classified severity = %s, want critical", got)
	}
	if got := Severity(ResourceFinance, "financial_report_access", false); got != SeverityHigh {
		t.Fatalf("finance severity = %s, want high", got)
	}
	if got := Severity(ResourcePatientRecord, "audit_log_access", true); got != SeverityMedium {
		t.Fatalf("role mismatch severity = %s, want medium", got)
	}
	if got := Severity(ResourcePatientRecord, "view_record", false); got != SeverityLow {
		t.Fatalf("default severity = %s, want low", got)
	}
}

func TestLevel(t *testing.T) {
	cases := map[int]string{
		0:   SeverityLow,
		39:  SeverityLow,
		40:  SeverityMedium,
		69:  SeverityMedium,
		70:  SeverityHigh,
		100: SeverityHigh,
	}
	for score, want := range cases {
		if got := Level(score); got != want {
			t.Fatalf("Level(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestIsOffHours(t *testing.T) {
	for _, h := range []int{9, 12, 17} {
		if IsOffHours(h) {
			t.Fatalf("hour %d should be business hours", h)
		}
	}
	for _, h := range []int{0, 8, 18, 22} {
		if !IsOffHours(h) {
			t.Fatalf("hour %d should be off hours", h)
		}
	}
}
