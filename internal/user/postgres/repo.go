// Package postgres implements user.Directory against PostgreSQL using
// sqlx, following the same context-scoped-timeout and row-scan shape as
// internal/ledger/postgres and internal/recommendation/postgres.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/finengine/internal/user"
)

// Repo implements user.Directory.
type Repo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New returns a Postgres-backed Directory.
func New(db *sqlx.DB, timeout time.Duration) *Repo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repo{db: db, timeout: timeout}
}

type row struct {
	ID       string `db:"id"`
	Contact  string `db:"contact"`
	Role     string `db:"role"`
	IsActive bool   `db:"is_active"`
}

func (r row) toDomain() user.User {
	return user.User{ID: r.ID, Contact: r.Contact, Role: user.Role(r.Role), IsActive: r.IsActive}
}

func (r *Repo) FindByID(ctx context.Context, id string) (*user.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT id, contact, role, is_active FROM users WHERE id = $1`
	var rr row
	if err := r.db.GetContext(ctx, &rr, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("user postgres: find by id: %w", err)
	}
	u := rr.toDomain()
	return &u, nil
}

func (r *Repo) ActiveByRoles(ctx context.Context, roles []string) ([]user.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, contact, role, is_active FROM users
		WHERE is_active = true AND role = ANY($1)
		ORDER BY id`

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(roles)); err != nil {
		return nil, fmt.Errorf("user postgres: active by roles: %w", err)
	}
	out := make([]user.User, len(rows))
	for i, rr := range rows {
		out[i] = rr.toDomain()
	}
	return out, nil
}
