// Package policy holds the static rule tables that drive grant decisions:
// the role → resource auto-approval table, allowed grant durations, risk
// factor weights and violation severity rules. Tables are package-level
// constants loaded once; control flow elsewhere never re-derives them.
package policy

import "strings"

// Resource types that can be requested.
const (
	ResourcePatientRecord = "patient_record"
	ResourcePrescription  = "prescription"
	ResourceLabResults    = "lab_results"
	ResourceFinance       = "finance"
	ResourceAuditLog      = "audit_log"
)

// Roles known to the engine. Identity supplies them pre-verified.
const (
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleDoctor     = "doctor"
	RoleNurse      = "nurse"
	RoleAccountant = "accountant"
	RoleEmployee   = "employee"
	RoleMember     = "member"
	RoleUser       = "user"
)

// Access levels on a grant request.
const (
	AccessRead  = "read"
	AccessWrite = "write"
)

// Violation severities, ordered.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// ClassifiedAction is the action pattern that forces both the risk-score
// override and critical violation severity.
const ClassifiedAction = "classified_data_access"

// resourceTypes is the closed set of requestable resource types.
var resourceTypes = map[string]struct{}{
	ResourcePatientRecord: {},
	ResourcePrescription:  {},
	ResourceLabResults:    {},
	ResourceFinance:       {},
	ResourceAuditLog:      {},
}

// autoApprove maps a role to the resource types it may access without a
// human approval step. This table is the single authority: both the
// access-check path and the grant-creation path consult it.
var autoApprove = map[string]map[string]struct{}{
	RoleAdmin: resourceTypes,
	RoleDoctor: {
		ResourcePatientRecord: {},
		ResourcePrescription:  {},
		ResourceLabResults:    {},
	},
	RoleNurse: {
		ResourcePatientRecord: {},
	},
	RoleAccountant: {
		ResourceFinance: {},
	},
}

// allowedDurations enumerates the grant windows a requester may ask for.
var allowedDurations = map[int]struct{}{1: {}, 2: {}, 8: {}}

// ApproverRoles may resolve pending requests and open violations.
var ApproverRoles = []string{RoleAdmin, RoleManager}

// SensitiveActions are the access categories that raise the risk score for
// roles below manager. Mirrors the categories the scoring model was
// trained on.
var SensitiveActions = []string{
	"admin_access",
	"audit_log_access",
	"financial_report_access",
	ClassifiedAction,
}

// Risk factor weights and bounds.
const (
	DefaultBaseScore = 30

	FailedLoginWeight     = 15
	SensitiveAccessWeight = 10
	OffHoursWeight        = 5
	HighVolumeWeight      = 5

	HighVolumeThreshold = 50
	BusinessHourStart   = 9
	BusinessHourEnd     = 17

	// ClassifiedOverrideScore replaces the additive result outright when a
	// classified action is present. Policy exception, not a factor.
	ClassifiedOverrideScore = 75

	ScoreLevelMedium = 40
	ScoreLevelHigh   = 70
)

// roleBaseScores gives each role's score floor. Privilege order for tie
// breaking is fixed: admin > manager > employee/member > everything else.
var roleBaseScores = map[string]int{
	RoleAdmin:    40,
	RoleManager:  35,
	RoleEmployee: 32,
	RoleMember:   32,
}

var rolePrivilegeOrder = []string{RoleAdmin, RoleManager, RoleEmployee, RoleMember}

// KnownResourceType reports whether the resource type is requestable.
func KnownResourceType(resourceType string) bool {
	_, ok := resourceTypes[normalize(resourceType)]
	return ok
}

// AllowedDuration reports whether the requested grant window is permitted.
func AllowedDuration(hours int) bool {
	_, ok := allowedDurations[hours]
	return ok
}

// IsAutoApproved reports whether the role may access the resource type
// without approval. A non-empty requiredRole further gates eligibility:
// the caller must hold it regardless of table membership.
func IsAutoApproved(roles []string, resourceType, requiredRole string) bool {
	resourceType = normalize(resourceType)
	requiredRole = normalize(requiredRole)
	if requiredRole != "" && !hasRole(roles, requiredRole) {
		return false
	}
	for _, role := range roles {
		set, ok := autoApprove[normalize(role)]
		if !ok {
			continue
		}
		if _, ok := set[resourceType]; ok {
			return true
		}
	}
	return false
}

// BaseScore returns the risk floor for the highest-privilege role present.
func BaseScore(roles []string) int {
	for _, privileged := range rolePrivilegeOrder {
		if hasRole(roles, privileged) {
			return roleBaseScores[privileged]
		}
	}
	return DefaultBaseScore
}

// IsSensitiveAction reports whether the action matches a sensitive access
// category, returning the matched category.
func IsSensitiveAction(action string) (string, bool) {
	action = normalize(action)
	for _, cat := range SensitiveActions {
		if strings.Contains(action, cat) {
			return cat, true
		}
	}
	return "", false
}

// IsElevatedRole reports whether any role is exempt from the
// sensitive-access risk factor.
func IsElevatedRole(roles []string) bool {
	return hasRole(roles, RoleAdmin) || hasRole(roles, RoleManager)
}

// Severity assigns the violation severity at creation time. The order of
// checks is policy: classified actions dominate, then finance resources,
// then role mismatch on sensitive data.
func Severity(resourceType, attemptedAction string, roleMismatchOnSensitive bool) string {
	if strings.Contains(normalize(attemptedAction), ClassifiedAction) {
		return SeverityCritical
	}
	if normalize(resourceType) == ResourceFinance {
		return SeverityHigh
	}
	if roleMismatchOnSensitive {
		return SeverityMedium
	}
	return SeverityLow
}

// KnownSeverity reports whether the value is a valid severity label.
func KnownSeverity(severity string) bool {
	switch normalize(severity) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// IsOffHours reports whether the local hour falls outside business hours.
func IsOffHours(hour int) bool {
	return hour < BusinessHourStart || hour > BusinessHourEnd
}

// Level maps a clamped score to its risk band.
func Level(score int) string {
	switch {
	case score >= ScoreLevelHigh:
		return "high"
	case score >= ScoreLevelMedium:
		return "medium"
	default:
		return "low"
	}
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if normalize(r) == want {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
