// Package catalog describes the menu items orders are built from. Catalog
// management lives elsewhere; this core only reads it.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"
)

// MenuItem is a purchasable catalog entry as seen by the ordering flow.
type MenuItem struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	IsAvailable     bool
	ModuleID        string
	PrepTimeMinutes int
}

// Lookup resolves menu items by id. Unknown ids are omitted from the result
// rather than reported as errors.
type Lookup interface {
	GetMenuItemsByIDs(ctx context.Context, ids []string) ([]MenuItem, error)
}
