package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wardkey.org/internal/grant"
)

var _ grant.Store = (*GrantStore)(nil)

type GrantStore struct {
	db *sql.DB
}

const requestColumns = `
	id, requester_id, requester_username, requester_role,
	resource_type, resource_id, access_level, reason, duration_hours,
	status, auto_approved, created_at, resolved_by, resolved_at,
	rejection_reason, expires_at`

func (s *GrantStore) Create(ctx context.Context, req *grant.Request) error {
	_, err := s.db.ExecContext(ctx, `
		insert into access_requests (
			id, requester_id, requester_username, requester_role,
			resource_type, resource_id, access_level, reason, duration_hours,
			status, auto_approved, created_at, resolved_by, resolved_at,
			rejection_reason, expires_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,nullif($13,''),$14,nullif($15,''),$16)
	`,
		req.ID, req.RequesterID, req.RequesterUsername, req.RequesterRole,
		req.ResourceType, req.ResourceID, req.AccessLevel, req.Reason, req.DurationHours,
		string(req.Status), req.AutoApproved, req.CreatedAt, req.ResolvedBy, req.ResolvedAt,
		req.RejectionReason, req.ExpiresAt,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return grant.ErrConflict
		}
		if connectionFailure(err) {
			return fmt.Errorf("%w: %v", grant.ErrUnavailable, err)
		}
		return err
	}
	return nil
}

func (s *GrantStore) Get(ctx context.Context, id string) (grant.Request, error) {
	row := s.db.QueryRowContext(ctx, `select `+requestColumns+` from access_requests where id=$1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Request{}, grant.ErrNotFound
	}
	if err != nil {
		if connectionFailure(err) {
			return grant.Request{}, fmt.Errorf("%w: %v", grant.ErrUnavailable, err)
		}
		return grant.Request{}, err
	}
	return req, nil
}

func (s *GrantStore) Approve(ctx context.Context, id, approver string, resolvedAt, expiresAt time.Time) (grant.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		update access_requests
		set status=$2, resolved_by=$3, resolved_at=$4, expires_at=$5
		where id=$1 and status=$6
		returning `+requestColumns,
		id, string(grant.StatusApproved), approver, resolvedAt, expiresAt, string(grant.StatusPending),
	)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Request{}, s.resolveMiss(ctx, id)
	}
	if err != nil {
		if connectionFailure(err) {
			return grant.Request{}, fmt.Errorf("%w: %v", grant.ErrUnavailable, err)
		}
		return grant.Request{}, err
	}
	return req, nil
}

func (s *GrantStore) Reject(ctx context.Context, id, approver, reason string, resolvedAt time.Time) (grant.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		update access_requests
		set status=$2, resolved_by=$3, resolved_at=$4, rejection_reason=$5
		where id=$1 and status=$6
		returning `+requestColumns,
		id, string(grant.StatusRejected), approver, resolvedAt, reason, string(grant.StatusPending),
	)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Request{}, s.resolveMiss(ctx, id)
	}
	if err != nil {
		if connectionFailure(err) {
			return grant.Request{}, fmt.Errorf("%w: %v", grant.ErrUnavailable, err)
		}
		return grant.Request{}, err
	}
	return req, nil
}

// resolveMiss classifies a zero-row CAS update: the row either does not
// exist (NotFound) or sits in a non-pending state (Conflict).
func (s *GrantStore) resolveMiss(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `select status from access_requests where id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.ErrNotFound
	}
	if err != nil {
		if connectionFailure(err) {
			return fmt.Errorf("%w: %v", grant.ErrUnavailable, err)
		}
		return err
	}
	return grant.ErrConflict
}

func (s *GrantStore) ActiveGrant(ctx context.Context, requesterID, resourceType, resourceID string, now time.Time) (grant.Request, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+requestColumns+`
		from access_requests
		where requester_id=$1 and resource_type=$2 and resource_id=$3
		  and status=$4 and expires_at > $5
		order by expires_at desc
		limit 1
	`, requesterID, resourceType, resourceID, string(grant.StatusApproved), now)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Request{}, false, nil
	}
	if err != nil {
		if connectionFailure(err) {
			return grant.Request{}, false, fmt.Errorf("%w: %v", grant.ErrUnavailable, err)
		}
		return grant.Request{}, false, err
	}
	return req, true, nil
}

func (s *GrantStore) PendingRequest(ctx context.Context, requesterID, resourceType, resourceID string) (grant.Request, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+requestColumns+`
		from access_requests
		where requester_id=$1 and resource_type=$2 and resource_id=$3 and status=$4
		limit 1
	`, requesterID, resourceType, resourceID, string(grant.StatusPending))
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Request{}, false, nil
	}
	if err != nil {
		if connectionFailure(err) {
			return grant.Request{}, false, fmt.Errorf("%w: %v", grant.ErrUnavailable, err)
		}
		return grant.Request{}, false, err
	}
	return req, true, nil
}

func (s *GrantStore) List(ctx context.Context, f grant.Filter) ([]grant.Request, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.RequesterID != "" {
		add("requester_id=$%d", f.RequesterID)
	}
	if f.ResourceType != "" {
		add("resource_type=$%d", f.ResourceType)
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	query := `select ` + requestColumns + ` from access_requests`
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	query += " order by id desc"
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if connectionFailure(err) {
			return nil, fmt.Errorf("%w: %v", grant.ErrUnavailable, err)
		}
		return nil, err
	}
	defer rows.Close()

	var out []grant.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GrantStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update access_requests
		set status=$1
		where status=$2 and expires_at <= $3
	`, string(grant.StatusExpired), string(grant.StatusApproved), now)
	if err != nil {
		if connectionFailure(err) {
			return 0, fmt.Errorf("%w: %v", grant.ErrUnavailable, err)
		}
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (grant.Request, error) {
	var (
		req             grant.Request
		status          string
		resolvedBy      sql.NullString
		resolvedAt      sql.NullTime
		rejectionReason sql.NullString
		expiresAt       sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.RequesterID, &req.RequesterUsername, &req.RequesterRole,
		&req.ResourceType, &req.ResourceID, &req.AccessLevel, &req.Reason, &req.DurationHours,
		&status, &req.AutoApproved, &req.CreatedAt, &resolvedBy, &resolvedAt,
		&rejectionReason, &expiresAt,
	)
	if err != nil {
		return grant.Request{}, err
	}
	req.Status = grant.Status(status)
	if resolvedBy.Valid {
		req.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	if rejectionReason.Valid {
		req.RejectionReason = rejectionReason.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		req.ExpiresAt = &t
	}
	return req, nil
}
