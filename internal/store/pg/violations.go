package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wardkey.org/internal/violation"
)

var _ violation.Store = (*ViolationStore)(nil)

type ViolationStore struct {
	db *sql.DB
}

const violationColumns = `
	id, user_id, user_role, resource_type, resource_id, attempted_action,
	severity, status, reason, created_at, resolved_by, resolved_at`

func (s *ViolationStore) Create(ctx context.Context, v *violation.Violation) error {
	_, err := s.db.ExecContext(ctx, `
		insert into policy_violations (
			id, user_id, user_role, resource_type, resource_id, attempted_action,
			severity, status, reason, created_at, resolved_by, resolved_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,nullif($11,''),$12)
	`,
		v.ID, v.UserID, v.Role, v.ResourceType, v.ResourceID, v.AttemptedAction,
		v.Severity, string(v.Status), v.Reason, v.CreatedAt, v.ResolvedBy, v.ResolvedAt,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return violation.ErrConflict
		}
		if connectionFailure(err) {
			return fmt.Errorf("%w: %v", violation.ErrUnavailable, err)
		}
		return err
	}
	return nil
}

func (s *ViolationStore) Get(ctx context.Context, id string) (violation.Violation, error) {
	row := s.db.QueryRowContext(ctx, `select `+violationColumns+` from policy_violations where id=$1`, id)
	v, err := scanViolation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return violation.Violation{}, violation.ErrNotFound
	}
	if err != nil {
		if connectionFailure(err) {
			return violation.Violation{}, fmt.Errorf("%w: %v", violation.ErrUnavailable, err)
		}
		return violation.Violation{}, err
	}
	return v, nil
}

func (s *ViolationStore) Resolve(ctx context.Context, id, resolver string, resolvedAt time.Time) (violation.Violation, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		update policy_violations
		set status=$2, resolved_by=$3, resolved_at=$4
		where id=$1 and status=$5
		returning `+violationColumns,
		id, string(violation.StatusResolved), resolver, resolvedAt, string(violation.StatusOpen),
	)
	v, err := scanViolation(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Already resolved or missing. Resolution is idempotent, so a
		// resolved record is returned unchanged.
		existing, gerr := s.Get(ctx, id)
		if gerr != nil {
			return violation.Violation{}, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		if connectionFailure(err) {
			return violation.Violation{}, false, fmt.Errorf("%w: %v", violation.ErrUnavailable, err)
		}
		return violation.Violation{}, false, err
	}
	return v, true, nil
}

func (s *ViolationStore) List(ctx context.Context, f violation.Filter) ([]violation.Violation, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.Severity != "" {
		add("severity=$%d", f.Severity)
	}
	if f.UserID != "" {
		add("user_id=$%d", f.UserID)
	}
	query := `select ` + violationColumns + ` from policy_violations`
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	query += " order by created_at desc"
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if connectionFailure(err) {
			return nil, fmt.Errorf("%w: %v", violation.ErrUnavailable, err)
		}
		return nil, err
	}
	defer rows.Close()

	var out []violation.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanViolation(row rowScanner) (violation.Violation, error) {
	var (
		v          violation.Violation
		status     string
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&v.ID, &v.UserID, &v.Role, &v.ResourceType, &v.ResourceID, &v.AttemptedAction,
		&v.Severity, &status, &v.Reason, &v.CreatedAt, &resolvedBy, &resolvedAt,
	)
	if err != nil {
		return violation.Violation{}, err
	}
	v.Status = violation.Status(status)
	if resolvedBy.Valid {
		v.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		v.ResolvedAt = &t
	}
	return v, nil
}
