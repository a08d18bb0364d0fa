package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/finengine/internal/ledger"
)

// CategoryCatalog implements ledger.CategoryCatalog against the categories
// table.
type CategoryCatalog struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCategoryCatalog returns a Postgres-backed CategoryCatalog.
func NewCategoryCatalog(db *sqlx.DB, timeout time.Duration) *CategoryCatalog {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CategoryCatalog{db: db, timeout: timeout}
}

type categoryRow struct {
	Name   string `db:"name"`
	Kind   string `db:"kind"`
	Active bool   `db:"is_active"`
}

func (c *CategoryCatalog) Lookup(ctx context.Context, name string) (ledger.CategoryEntry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var r categoryRow
	err := c.db.GetContext(ctx, &r, `SELECT name, kind, is_active FROM categories WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return ledger.CategoryEntry{}, false, nil
	}
	if err != nil {
		return ledger.CategoryEntry{}, false, fmt.Errorf("%w: category lookup: %v", ledger.ErrStorageUnavailable, err)
	}
	return ledger.CategoryEntry{Name: r.Name, Kind: ledger.Kind(r.Kind), Active: r.Active}, true, nil
}
