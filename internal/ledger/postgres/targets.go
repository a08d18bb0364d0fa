package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/finengine/internal/money"
)

// TargetProvider implements detectors.MonthlyTargetProvider against the
// monthly_targets table, backing the monthly target variance detector.
type TargetProvider struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTargetProvider returns a Postgres-backed TargetProvider.
func NewTargetProvider(db *sqlx.DB, timeout time.Duration) *TargetProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TargetProvider{db: db, timeout: timeout}
}

type targetRow struct {
	TargetRevenue money.Money `db:"target_revenue"`
	TargetExpense money.Money `db:"target_expense"`
}

func (p *TargetProvider) TargetsForMonth(ctx context.Context, ownerID string, year int, month time.Month) (money.Money, money.Money, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var r targetRow
	err := p.db.GetContext(ctx, &r, `
		SELECT target_revenue, target_expense FROM monthly_targets
		WHERE owner_id = $1 AND year = $2 AND month = $3`, ownerID, year, int(month))
	if err == sql.ErrNoRows {
		return money.Money{}, money.Money{}, false, nil
	}
	if err != nil {
		return money.Money{}, money.Money{}, false, fmt.Errorf("targets for month: %w", err)
	}
	return r.TargetRevenue, r.TargetExpense, true, nil
}
