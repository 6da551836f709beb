package risk

import (
	"context"
	"fmt"
	"time"

	"wardkey.org/internal/activity"
	"wardkey.org/internal/obs"
	"wardkey.org/internal/policy"
)

const defaultWindow = 24 * time.Hour

// Factor is one contribution to a rule-based score, kept for audit.
type Factor struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Points int    `json:"points"`
}

// Assessment is the result of scoring a user's recent behavior.
type Assessment struct {
	UserID     string    `json:"user_id"`
	Score      int       `json:"score"`
	Level      string    `json:"level"`
	Factors    []Factor  `json:"factors"`
	Source     string    `json:"source"` // "rules" or "predictor"
	ComputedAt time.Time `json:"computed_at"`
}

// Scorer computes behavioral risk scores. The rule-based path is a pure
// function of the role set and the activity snapshot; the optional
// external predictor may override it but its failures are always recovered
// locally.
type Scorer struct {
	log       activity.Log
	predictor *Predictor
	now       func() time.Time
	window    time.Duration
}

// Option configures Scorer behavior.
type Option func(*Scorer)

// WithPredictor enables the external ML predictor.
func WithPredictor(p *Predictor) Option {
	return func(s *Scorer) { s.predictor = p }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Scorer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithWindow overrides the trailing evaluation window.
func WithWindow(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewScorer constructs a Scorer reading from the given activity log.
func NewScorer(log activity.Log, opts ...Option) *Scorer {
	s := &Scorer{
		log:    log,
		now:    time.Now,
		window: defaultWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compute scores the user's trailing window. Only an unreachable activity
// log is fatal; predictor problems fall back to the rule-based result.
func (s *Scorer) Compute(ctx context.Context, userID string, roles []string) (Assessment, error) {
	now := s.now().UTC()
	records, err := s.log.Recent(ctx, userID, now.Add(-s.window))
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", activity.ErrUnavailable, err)
	}

	assessment := s.scoreRules(userID, roles, records, now)

	if s.predictor != nil {
		if override, ok := s.tryPredictor(ctx, userID, roles, records); ok {
			override.Factors = assessment.Factors
			override.ComputedAt = now
			return override, nil
		}
		obs.CountRiskFallback()
	}
	return assessment, nil
}

// scoreRules applies the additive factor model: role base score, then each
// factor at most once per evaluation window, then the classified override,
// then the clamp.
func (s *Scorer) scoreRules(userID string, roles []string, records []activity.Record, now time.Time) Assessment {
	base := policy.BaseScore(roles)
	score := base
	factors := []Factor{{Code: "base", Detail: "role base score", Points: base}}

	failedLogins := 0
	sensitiveSeen := map[string]struct{}{}
	offHours := false
	classified := false

	for _, rec := range records {
		if rec.FailedLogin() {
			failedLogins++
		}
		if cat, ok := policy.IsSensitiveAction(rec.Action); ok && !policy.IsElevatedRole(roles) {
			sensitiveSeen[cat] = struct{}{}
		}
		if policy.IsOffHours(rec.Timestamp.Local().Hour()) {
			offHours = true
		}
		if cat, ok := policy.IsSensitiveAction(rec.Action); ok && cat == policy.ClassifiedAction {
			classified = true
		}
	}

	if failedLogins > 0 {
		points := failedLogins * policy.FailedLoginWeight
		score += points
		factors = append(factors, Factor{
			Code:   "failed_logins",
			Detail: fmt.Sprintf("%d failed login attempts in window", failedLogins),
			Points: points,
		})
	}
	for cat := range sensitiveSeen {
		score += policy.SensitiveAccessWeight
		factors = append(factors, Factor{
			Code:   "sensitive_access",
			Detail: cat,
			Points: policy.SensitiveAccessWeight,
		})
	}
	if offHours {
		score += policy.OffHoursWeight
		factors = append(factors, Factor{
			Code:   "off_hours",
			Detail: "activity outside business hours",
			Points: policy.OffHoursWeight,
		})
	}
	if len(records) > policy.HighVolumeThreshold {
		score += policy.HighVolumeWeight
		factors = append(factors, Factor{
			Code:   "high_volume",
			Detail: fmt.Sprintf("%d actions in window", len(records)),
			Points: policy.HighVolumeWeight,
		})
	}

	// Classified access is a deliberate policy exception applied after the
	// additive pass, replacing the score rather than contributing to it.
	if classified {
		score = policy.ClassifiedOverrideScore
		factors = append(factors, Factor{
			Code:   "classified_override",
			Detail: "classified data access forces fixed score",
			Points: 0,
		})
	}

	score = clamp(score)
	return Assessment{
		UserID:     userID,
		Score:      score,
		Level:      policy.Level(score),
		Factors:    factors,
		Source:     "rules",
		ComputedAt: now,
	}
}

// tryPredictor consults the external service when it reports a trained
// model. Any failure returns ok=false and never propagates.
func (s *Scorer) tryPredictor(ctx context.Context, userID string, roles []string, records []activity.Record) (Assessment, bool) {
	trained, err := s.predictor.Health(ctx)
	if err != nil || !trained {
		return Assessment{}, false
	}
	snapshot := latestSnapshot(userID, roles, records, s.now().UTC())
	score, level, err := s.predictor.PredictSingle(ctx, snapshot)
	if err != nil {
		return Assessment{}, false
	}
	scaled := clamp(int(score*100 + 0.5))
	if level == "" {
		level = policy.Level(scaled)
	}
	return Assessment{
		UserID: userID,
		Score:  scaled,
		Level:  level,
		Source: "predictor",
	}, true
}

// latestSnapshot builds the predictor payload from the most recent record,
// falling back to a bare navigation event when the window is empty.
func latestSnapshot(userID string, roles []string, records []activity.Record, now time.Time) activity.Record {
	if len(records) > 0 {
		return records[len(records)-1]
	}
	role := ""
	if len(roles) > 0 {
		role = roles[0]
	}
	return activity.Record{
		UserID:    userID,
		Role:      role,
		Action:    "navigate",
		Timestamp: now,
		Success:   true,
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
