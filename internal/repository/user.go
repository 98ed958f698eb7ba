package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/hospitality-core/internal/domain/approval"
	"github.com/xenking/hospitality-core/internal/domain/auth"
)

const (
	listUserIDsByRoleSQL = `SELECT id FROM users WHERE is_active AND role = ANY($1::text[]) ORDER BY id`

	upsertUserSQL = `INSERT INTO users (id, email, full_name, role, is_active)
	VALUES ($1, $2, $3, $4, TRUE)
	ON CONFLICT (id) DO UPDATE SET
		email = EXCLUDED.email,
		full_name = EXCLUDED.full_name,
		role = EXCLUDED.role`
)

var _ approval.Directory = (*UserRepository)(nil)

// UserRepository provides staff lookups backed by PostgreSQL.
type UserRepository struct {
	db *DB
}

// NewUserRepository returns a UserRepository that uses the given DB.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// UserIDsByRole returns the ids of active users holding any of roles.
func (r *UserRepository) UserIDsByRole(ctx context.Context, roles []auth.Role) ([]string, error) {
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()

	rows, err := r.db.conn(ctx).Query(ctx, listUserIDsByRoleSQL, stringsOf(roles))
	if err != nil {
		return nil, fmt.Errorf("listing users by role: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// User is a staff account as stored on the users table.
type User struct {
	ID       string
	Email    string
	FullName string
	Role     auth.Role
}

// Upsert inserts or replaces users. It backs the development seeder.
func (r *UserRepository) Upsert(ctx context.Context, users []User) error {
	b := &pgx.Batch{}
	for _, u := range users {
		b.Queue(upsertUserSQL, u.ID, u.Email, u.FullName, string(u.Role))
	}
	if err := r.db.conn(ctx).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting users: %w", err)
	}
	return nil
}
