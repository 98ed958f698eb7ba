package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/hospitality-core/internal/domain/audit"
)

const auditColumns = `id, user_id, action, resource, resource_id, old_value, new_value,
	ip_address, user_agent, created_at`

const (
	appendAuditSQL = `INSERT INTO audit_logs (` + auditColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	deleteAuditOlderThanSQL = `DELETE FROM audit_logs WHERE created_at < $1`

	streamAuditOlderThanSQL = `SELECT ` + auditColumns + `
	FROM audit_logs WHERE created_at < $1 ORDER BY created_at, id`
)

var _ audit.Repository = (*AuditRepository)(nil)

// AuditRepository implements audit.Repository backed by PostgreSQL. Rows
// are never updated; the table carries a trigger that rejects UPDATE.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository returns an AuditRepository that uses the given DB.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts e. Inside InTx it joins the caller's transaction.
func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()

	_, err := r.db.conn(ctx).Exec(ctx, appendAuditSQL,
		e.ID, e.UserID, string(e.Action), string(e.Resource), e.ResourceID,
		jsonb(e.OldValue), jsonb(e.NewValue), e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// List returns entries matching f, newest first, with the total match count.
func (r *AuditRepository) List(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	var w where
	if f.UserID != "" {
		w.add("user_id = $%d", f.UserID)
	}
	if f.Action != "" {
		w.add("action = $%d", string(f.Action))
	}
	if f.Resource != "" {
		w.add("resource = $%d", string(f.Resource))
	}
	if f.ResourceID != "" {
		w.add("resource_id = $%d", f.ResourceID)
	}
	if f.From != nil {
		w.add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("created_at <= $%d", *f.To)
	}

	ctx, cancel := r.db.timeout(ctx)
	defer cancel()
	conn := r.db.conn(ctx)

	var total int
	if err := conn.QueryRow(ctx, `SELECT count(*) FROM audit_logs`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	suffix, args := w.page(f.Limit, f.Offset)
	rows, err := conn.Query(ctx, `SELECT `+auditColumns+` FROM audit_logs`+w.String()+
		` ORDER BY created_at DESC, id DESC`+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit entries: %w", err)
	}
	return entries, total, nil
}

// DeleteOlderThan removes entries created strictly before cutoff.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()

	tag, err := r.db.conn(ctx).Exec(ctx, deleteAuditOlderThanSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting audit entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// StreamOlderThan calls fn for every entry created before cutoff, oldest
// first. It is not bounded by the statement timeout.
func (r *AuditRepository) StreamOlderThan(ctx context.Context, cutoff time.Time, fn func(audit.Entry) error) error {
	rows, err := r.db.conn(ctx).Query(ctx, streamAuditOlderThanSQL, cutoff)
	if err != nil {
		return fmt.Errorf("streaming audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return fmt.Errorf("scanning audit entry: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// jsonb maps an absent snapshot to SQL NULL.
func jsonb(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func scanAuditEntry(row pgx.CollectableRow) (audit.Entry, error) {
	var (
		e                  audit.Entry
		action, resource   string
		oldValue, newValue []byte
	)
	err := row.Scan(
		&e.ID, &e.UserID, &action, &resource, &e.ResourceID, &oldValue, &newValue,
		&e.IPAddress, &e.UserAgent, &e.CreatedAt,
	)
	e.Action = audit.Action(action)
	e.Resource = audit.Resource(resource)
	e.OldValue = oldValue
	e.NewValue = newValue
	return e, err
}
