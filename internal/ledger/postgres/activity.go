package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/finengine/internal/clock"
)

// ActivityLookup implements detectors.EmployeeActivityLookup against the
// transactions table, backing the employee inactivity detector.
type ActivityLookup struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewActivityLookup returns a Postgres-backed ActivityLookup.
func NewActivityLookup(db *sqlx.DB, timeout time.Duration) *ActivityLookup {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ActivityLookup{db: db, timeout: timeout}
}

func (a *ActivityLookup) LastApprovedTransactionDays(ctx context.Context, employeeID string, clk clock.Clock) (int, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var lastTS sql.NullTime
	err := a.db.GetContext(ctx, &lastTS, `
		SELECT MAX(event_ts) FROM transactions
		WHERE owner_id = $1 AND approval_status = 'approved' AND archived_at IS NULL`, employeeID)
	if err != nil {
		return 0, false, fmt.Errorf("last approved transaction: %w", err)
	}
	if !lastTS.Valid {
		return 0, false, nil
	}

	days := clock.DaysDiff(clk, clk.Now(), lastTS.Time)
	return days, true, nil
}
