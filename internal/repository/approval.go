package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/hospitality-core/internal/domain/approval"
)

const approvalColumns = `a.id, a.type, a.amount, a.original_amount, a.percentage, a.description, a.reason,
	a.reference_type, a.reference_id, a.requested_by, COALESCE(u.full_name, ''), a.status,
	a.reviewed_by, a.reviewed_at, a.review_notes, a.expires_at, a.created_at, a.updated_at`

const (
	createApprovalSQL = `INSERT INTO approval_requests
	(id, type, amount, original_amount, percentage, description, reason, reference_type, reference_id,
		requested_by, status, expires_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	getApprovalSQL = `SELECT ` + approvalColumns + `
	FROM approval_requests a LEFT JOIN users u ON u.id = a.requested_by
	WHERE a.id = $1`

	// Only a pending, unexpired row is updated; concurrent reviewers
	// serialise on the row lock and the loser matches nothing.
	reviewApprovalSQL = `WITH a AS (
		UPDATE approval_requests SET
			status = $2, reviewed_by = $3, review_notes = $4, reviewed_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'pending' AND expires_at > $5
		RETURNING *
	)
	SELECT ` + approvalColumns + ` FROM a LEFT JOIN users u ON u.id = a.requested_by`

	getApprovalStateSQL = `SELECT status FROM approval_requests WHERE id = $1`
)

var _ approval.Repository = (*ApprovalRepository)(nil)

// ApprovalRepository implements approval.Repository backed by PostgreSQL.
type ApprovalRepository struct {
	db *DB
}

// NewApprovalRepository returns an ApprovalRepository that uses the given DB.
func NewApprovalRepository(db *DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

func (r *ApprovalRepository) Create(ctx context.Context, a *approval.Request) error {
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()

	_, err := r.db.conn(ctx).Exec(ctx, createApprovalSQL,
		a.ID, string(a.Type), a.Amount, a.OriginalAmount, a.Percentage, a.Description, a.Reason,
		a.ReferenceType, a.ReferenceID, a.RequestedBy, string(a.Status), a.ExpiresAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating approval request %q: %w", a.ID, err)
	}
	return nil
}

func (r *ApprovalRepository) Get(ctx context.Context, id string) (*approval.Request, error) {
	if !isUUID(id) {
		return nil, approval.ErrRequestNotFound
	}
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()

	rows, err := r.db.conn(ctx).Query(ctx, getApprovalSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting approval request %q: %w", id, err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanApproval)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, approval.ErrRequestNotFound
		}
		return nil, fmt.Errorf("getting approval request %q: %w", id, err)
	}
	return &a, nil
}

// ListPending returns pending requests that have not expired at now.
func (r *ApprovalRepository) ListPending(ctx context.Context, now time.Time, f approval.ListFilter) ([]approval.Request, int, error) {
	w := where{clauses: []string{"a.status = 'pending'"}}
	w.add("a.expires_at > $%d", now)
	if f.Type != "" {
		w.add("a.type = $%d", string(f.Type))
	}

	ctx, cancel := r.db.timeout(ctx)
	defer cancel()
	conn := r.db.conn(ctx)

	var total int
	if err := conn.QueryRow(ctx, `SELECT count(*) FROM approval_requests a`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting pending approval requests: %w", err)
	}

	suffix, args := w.page(f.Limit, f.Offset)
	rows, err := conn.Query(ctx, `SELECT `+approvalColumns+`
		FROM approval_requests a LEFT JOIN users u ON u.id = a.requested_by`+w.String()+
		` ORDER BY a.created_at DESC, a.id`+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing pending approval requests: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanApproval)
	if err != nil {
		return nil, 0, fmt.Errorf("listing pending approval requests: %w", err)
	}
	return out, total, nil
}

// Review writes the decision if the request is still pending and unexpired.
func (r *ApprovalRepository) Review(ctx context.Context, rv approval.Review) (*approval.Request, error) {
	if !isUUID(rv.RequestID) {
		return nil, approval.ErrRequestNotFound
	}
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()
	conn := r.db.conn(ctx)

	rows, err := conn.Query(ctx, reviewApprovalSQL,
		rv.RequestID, string(rv.Decision), rv.ReviewedBy, rv.Notes, rv.At,
	)
	if err != nil {
		return nil, fmt.Errorf("reviewing approval request %q: %w", rv.RequestID, err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanApproval)
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reviewing approval request %q: %w", rv.RequestID, err)
	}

	// No row matched. A decided request never returns to pending, so the
	// state read here explains the miss.
	var status string
	err = conn.QueryRow(ctx, getApprovalStateSQL, rv.RequestID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, approval.ErrRequestNotFound
	case err != nil:
		return nil, fmt.Errorf("reading approval request %q: %w", rv.RequestID, err)
	case approval.Status(status) != approval.StatusPending:
		return nil, approval.ErrAlreadyReviewed
	default:
		return nil, approval.ErrRequestExpired
	}
}

func scanApproval(row pgx.CollectableRow) (approval.Request, error) {
	var (
		a           approval.Request
		typ, status string
	)
	err := row.Scan(
		&a.ID, &typ, &a.Amount, &a.OriginalAmount, &a.Percentage, &a.Description, &a.Reason,
		&a.ReferenceType, &a.ReferenceID, &a.RequestedBy, &a.RequesterName, &status,
		&a.ReviewedBy, &a.ReviewedAt, &a.ReviewNotes, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt,
	)
	a.Type = approval.Type(typ)
	a.Status = approval.Status(status)
	return a, err
}
