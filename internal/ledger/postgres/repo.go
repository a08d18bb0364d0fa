// Package postgres implements ledger.Ledger against PostgreSQL using sqlx,
// following the same context-scoped-timeout, error-wrapping, and row-scan
// shape the rest of this codebase's Postgres repositories use.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
)

// uniqueViolation is Postgres error code 23505.
const uniqueViolation = "23505"

// Repo implements ledger.Ledger.
type Repo struct {
	db        *sqlx.DB
	clock     clock.Clock
	timeout   time.Duration
	maxAmount float64
	catalog   ledger.CategoryCatalog
}

// New returns a Postgres-backed Ledger. timeout bounds every individual
// query; maxAmount overrides ledger.MaxAmount when non-zero.
func New(db *sqlx.DB, clk clock.Clock, timeout time.Duration, maxAmount float64) *Repo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repo{db: db, clock: clk, timeout: timeout, maxAmount: maxAmount, catalog: NewCategoryCatalog(db, timeout)}
}

type row struct {
	ID          string         `db:"id"`
	OwnerID     string         `db:"owner_id"`
	Kind        string         `db:"kind"`
	Category    string         `db:"category"`
	Amount      money.Money    `db:"amount"`
	Description string         `db:"description"`
	EventTS     time.Time      `db:"event_ts"`
	Approval    string         `db:"approval_status"`
	ApprovedBy  sql.NullString `db:"approval_by"`
	ApprovedAt  sql.NullTime   `db:"approved_at"`
	Version     int            `db:"version"`
	ArchivedAt  sql.NullTime   `db:"archived_at"`
}

func (r row) toDomain() ledger.Transaction {
	t := ledger.Transaction{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Kind:           ledger.Kind(r.Kind),
		Category:       r.Category,
		Amount:         r.Amount,
		Description:    r.Description,
		EventTimestamp: r.EventTS,
		Approval:       ledger.ApprovalStatus(r.Approval),
		Version:        r.Version,
	}
	if r.ApprovedBy.Valid {
		v := r.ApprovedBy.String
		t.ApprovedBy = &v
	}
	if r.ApprovedAt.Valid {
		v := r.ApprovedAt.Time
		t.ApprovedAt = &v
	}
	if r.ArchivedAt.Valid {
		v := r.ArchivedAt.Time
		t.ArchivedAt = &v
	}
	return t
}

func (r *Repo) FindByID(ctx context.Context, id string) (*ledger.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, owner_id, kind, category, amount, description, event_ts,
		       approval_status, approval_by, approved_at, version, archived_at
		FROM transactions WHERE id = $1`

	var rr row
	if err := r.db.GetContext(ctx, &rr, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find by id: %v", ledger.ErrStorageUnavailable, err)
	}
	tx := rr.toDomain()
	return &tx, nil
}

// FindByOwner returns approved-or-otherwise transactions for ownerID,
// narrowed by filter. An empty ownerID means "every owner", the shape the
// Public Query Surface's boss/dev full-visibility reports rely on.
func (r *Repo) FindByOwner(ctx context.Context, ownerID string, filter ledger.ListFilter) ([]ledger.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, owner_id, kind, category, amount, description, event_ts,
		       approval_status, approval_by, approved_at, version, archived_at
		FROM transactions
		WHERE archived_at IS NULL`
	var args []interface{}
	if ownerID != "" {
		args = append(args, ownerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}

	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND event_ts >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND event_ts <= $%d", len(args))
	}
	if filter.Kind != nil {
		args = append(args, string(*filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	query += " ORDER BY event_ts DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: find by owner: %v", ledger.ErrStorageUnavailable, err)
	}
	out := make([]ledger.Transaction, len(rows))
	for i, rr := range rows {
		out[i] = rr.toDomain()
	}
	return out, nil
}

func (r *Repo) DayBucketsForRange(ctx context.Context, tr ledger.TimeRange, ownerID string) ([]ledger.DailyBucket, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Bucket on the operating zone's calendar day, not UTC's: an evening
	// transaction east of Greenwich belongs to the local day it happened on.
	query := `
		SELECT date_trunc('day', event_ts AT TIME ZONE $1) AS day,
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'income'), 0) AS total_income,
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'expense'), 0) AS total_expense,
		       COUNT(*) AS txn_count
		FROM transactions
		WHERE approval_status = 'approved' AND event_ts BETWEEN $2 AND $3`
	args := []interface{}{r.clock.Zone().String(), tr.From, tr.To}
	if ownerID != "" {
		args = append(args, ownerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	query += " GROUP BY 1 ORDER BY 1"

	type bucketRow struct {
		Day          time.Time   `db:"day"`
		TotalIncome  money.Money `db:"total_income"`
		TotalExpense money.Money `db:"total_expense"`
		TxnCount     int         `db:"txn_count"`
	}
	var rows []bucketRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: day buckets: %v", ledger.ErrStorageUnavailable, err)
	}

	// br.Day comes back as a naive local-midnight timestamp, so its date
	// fields already name the operating-zone day.
	byDay := make(map[string]bucketRow, len(rows))
	for _, br := range rows {
		byDay[br.Day.Format("2006-01-02")] = br
	}

	out := []ledger.DailyBucket{}
	for d := r.clock.StartOfDay(tr.From); !d.After(r.clock.StartOfDay(tr.To)); d = d.AddDate(0, 0, 1) {
		key := d.In(r.clock.Zone()).Format("2006-01-02")
		if br, ok := byDay[key]; ok {
			out = append(out, ledger.DailyBucket{
				Day:              d,
				TotalIncome:      br.TotalIncome,
				TotalExpense:     br.TotalExpense,
				NetCashflow:      br.TotalIncome.Sub(br.TotalExpense),
				TransactionCount: br.TxnCount,
			})
			continue
		}
		out = append(out, ledger.DailyBucket{Day: d})
	}
	return out, nil
}

func (r *Repo) SumOver(ctx context.Context, kind ledger.Kind, tr ledger.TimeRange, ownerID string) (money.Money, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE approval_status = 'approved' AND kind = $1 AND event_ts BETWEEN $2 AND $3`
	args := []interface{}{string(kind), tr.From, tr.To}
	if ownerID != "" {
		args = append(args, ownerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}

	var sum money.Money
	if err := r.db.GetContext(ctx, &sum, query, args...); err != nil {
		return money.Zero, fmt.Errorf("%w: sum over: %v", ledger.ErrStorageUnavailable, err)
	}
	return sum, nil
}

func (r *Repo) Create(ctx context.Context, in ledger.CreateInput) (*ledger.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := ledger.Validate(in.Amount, in.Description, r.maxAmount); err != nil {
		return nil, err
	}
	entry, found, err := r.catalog.Lookup(ctx, in.Category)
	if err != nil {
		return nil, err
	}
	if err := ledger.ValidateCategory(entry, found, in.Kind); err != nil {
		return nil, err
	}
	if dup, err := r.hasRecentDuplicate(ctx, in); err != nil {
		return nil, err
	} else if dup {
		return nil, fmt.Errorf("%w: same owner/category/amount within 60s", ledger.ErrDuplicateTransaction)
	}

	const query = `
		INSERT INTO transactions (owner_id, kind, category, amount, description, event_ts, approval_status, approval_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING id, owner_id, kind, category, amount, description, event_ts, approval_status, approval_by, approved_at, version, archived_at`

	var rr row
	err = r.db.GetContext(ctx, &rr, query,
		in.OwnerID, string(in.Kind), in.Category, in.Amount, in.Description, r.clock.Now(), string(in.Approval), in.ApprovedBy)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %v", ledger.ErrDuplicateTransaction, err)
		}
		return nil, fmt.Errorf("%w: create: %v", ledger.ErrStorageUnavailable, err)
	}
	tx := rr.toDomain()
	return &tx, nil
}

// hasRecentDuplicate reports whether a matching create exists: same owner, category, amount within
// the prior 60 seconds.
func (r *Repo) hasRecentDuplicate(ctx context.Context, in ledger.CreateInput) (bool, error) {
	const query = `
		SELECT COUNT(*) FROM transactions
		WHERE owner_id = $1 AND category = $2 AND amount = $3 AND event_ts >= $4`
	cutoff := r.clock.Now().Add(-60 * time.Second)

	var count int
	if err := r.db.GetContext(ctx, &count, query, in.OwnerID, in.Category, in.Amount, cutoff); err != nil {
		return false, fmt.Errorf("%w: duplicate check: %v", ledger.ErrStorageUnavailable, err)
	}
	return count > 0, nil
}

func (r *Repo) UpdateWithVersion(ctx context.Context, id string, expectedVersion int, patch ledger.Patch) (*ledger.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sets := []string{"version = version + 1"}
	args := []interface{}{}
	if patch.Amount != nil {
		args = append(args, *patch.Amount)
		sets = append(sets, fmt.Sprintf("amount = $%d", len(args)))
	}
	if patch.Category != nil {
		args = append(args, *patch.Category)
		sets = append(sets, fmt.Sprintf("category = $%d", len(args)))
	}
	if patch.Description != nil {
		args = append(args, *patch.Description)
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
	}
	if patch.Approval != nil {
		args = append(args, string(*patch.Approval))
		sets = append(sets, fmt.Sprintf("approval_status = $%d", len(args)))
	}

	args = append(args, id, expectedVersion)
	idIdx, verIdx := len(args)-1, len(args)

	query := fmt.Sprintf(`
		UPDATE transactions SET %s
		WHERE id = $%d AND version = $%d
		RETURNING id, owner_id, kind, category, amount, description, event_ts, approval_status, approval_by, approved_at, version, archived_at`,
		joinComma(sets), idIdx, verIdx)

	var rr row
	err := r.db.GetContext(ctx, &rr, query, args...)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update with version: %v", ledger.ErrStorageUnavailable, err)
	}
	tx := rr.toDomain()
	return &tx, nil
}

func (r *Repo) UpdateWithRetry(ctx context.Context, id string, patch ledger.Patch, maxAttempts int) (*ledger.Transaction, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ledger.ErrNotFound
		}
		tx, err := r.UpdateWithVersion(ctx, id, current.Version, patch)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ledger.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > time.Second {
			backoff = time.Second
		}
	}
	return nil, fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, lastErr)
}

func (r *Repo) SoftDelete(ctx context.Context, id, actor, reason string) (*ledger.Transaction, error) {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ledger.ErrNotFound
	}
	marker := fmt.Sprintf(ledger.DeletionMarkerPrefix, actor, reason) + current.Description
	zero := money.Zero
	return r.UpdateWithVersion(ctx, id, current.Version, ledger.Patch{
		Amount:      &zero,
		Description: &marker,
	})
}

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
