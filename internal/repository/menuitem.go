package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/hospitality-core/internal/domain/catalog"
)

const (
	getMenuItemsByIDsSQL = `SELECT id, name, price, is_available, module_id, prep_time_minutes
	FROM menu_items WHERE id = ANY($1::uuid[])`

	upsertMenuItemSQL = `INSERT INTO menu_items (id, module_id, name, price, is_available, prep_time_minutes)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		module_id = EXCLUDED.module_id,
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		is_available = EXCLUDED.is_available,
		prep_time_minutes = EXCLUDED.prep_time_minutes`
)

var _ catalog.Lookup = (*MenuItemRepository)(nil)

// MenuItemRepository reads the menu catalog from PostgreSQL.
type MenuItemRepository struct {
	db *DB
}

// NewMenuItemRepository returns a MenuItemRepository that uses the given DB.
func NewMenuItemRepository(db *DB) *MenuItemRepository {
	return &MenuItemRepository{db: db}
}

// GetMenuItemsByIDs returns the menu items matching any of ids. Ids that
// are not UUIDs cannot match and are skipped.
func (r *MenuItemRepository) GetMenuItemsByIDs(ctx context.Context, ids []string) ([]catalog.MenuItem, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	ctx, cancel := r.db.timeout(ctx)
	defer cancel()

	rows, err := r.db.conn(ctx).Query(ctx, getMenuItemsByIDsSQL, valid)
	if err != nil {
		return nil, fmt.Errorf("getting menu items by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanMenuItem)
}

// Upsert inserts or replaces menu items. It backs the development seeder.
func (r *MenuItemRepository) Upsert(ctx context.Context, items []catalog.MenuItem) error {
	b := &pgx.Batch{}
	for _, m := range items {
		b.Queue(upsertMenuItemSQL, m.ID, m.ModuleID, m.Name, m.Price, m.IsAvailable, m.PrepTimeMinutes)
	}
	if err := r.db.conn(ctx).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting menu items: %w", err)
	}
	return nil
}

func scanMenuItem(row pgx.CollectableRow) (catalog.MenuItem, error) {
	var m catalog.MenuItem
	err := row.Scan(&m.ID, &m.Name, &m.Price, &m.IsAvailable, &m.ModuleID, &m.PrepTimeMinutes)
	return m, err
}
