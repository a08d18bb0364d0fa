package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
)

func newTestRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	clk, err := clock.New("Asia/Makassar")
	require.NoError(t, err)
	return New(sqlxDB, clk, time.Second, 0), mock
}

var cols = []string{
	"id", "owner_id", "kind", "category", "amount", "description", "event_ts",
	"approval_status", "approval_by", "approved_at", "version", "archived_at",
}

func TestFindByID_NotFound(t *testing.T) {
	r, mock := newTestRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id = \\$1").
		WithArgs("tx-1").
		WillReturnRows(sqlmock.NewRows(cols))

	tx, err := r.FindByID(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestCreate_RejectsInvalidAmount(t *testing.T) {
	r, _ := newTestRepo(t)
	_, err := r.Create(context.Background(), ledger.CreateInput{
		OwnerID:  "u1",
		Kind:     ledger.KindExpense,
		Category: "supplies",
		Amount:   money.Zero,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCreate_RejectsRecentDuplicate(t *testing.T) {
	r, mock := newTestRepo(t)
	amount := money.FromFloat(50)

	mock.ExpectQuery("SELECT name, kind, is_active FROM categories").
		WithArgs("supplies").
		WillReturnRows(sqlmock.NewRows([]string{"name", "kind", "is_active"}).AddRow("supplies", "expense", true))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := r.Create(context.Background(), ledger.CreateInput{
		OwnerID:  "u1",
		Kind:     ledger.KindExpense,
		Category: "supplies",
		Amount:   amount,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransaction)
}

func TestUpdateWithVersion_ConflictOnNoRows(t *testing.T) {
	r, mock := newTestRepo(t)
	mock.ExpectQuery("UPDATE transactions SET").
		WillReturnRows(sqlmock.NewRows(cols))

	desc := "adjusted"
	_, err := r.UpdateWithVersion(context.Background(), "tx-1", 3, ledger.Patch{Description: &desc})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrVersionConflict)
}

func TestSoftDelete_NotFound(t *testing.T) {
	r, mock := newTestRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id = \\$1").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(cols))

	_, err := r.SoftDelete(context.Background(), "ghost", "u1", "mistake")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestUpdateWithRetry_ExhaustsToConcurrentModification(t *testing.T) {
	r, mock := newTestRepo(t)

	txRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(cols).AddRow(
			"tx-1", "u1", "expense", "supplies", "50.00", "lunch",
			time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC), "approved", nil, nil, 1, nil)
	}

	// Each attempt re-reads the row, then loses the version race.
	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id = \\$1").
			WithArgs("tx-1").
			WillReturnRows(txRow())
		mock.ExpectQuery("UPDATE transactions SET").
			WillReturnRows(sqlmock.NewRows(cols))
	}

	desc := "adjusted"
	_, err := r.UpdateWithRetry(context.Background(), "tx-1", ledger.Patch{Description: &desc}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
}

func TestCreate_RejectsUnknownCategory(t *testing.T) {
	r, mock := newTestRepo(t)
	amount := money.FromFloat(50)

	mock.ExpectQuery("SELECT name, kind, is_active FROM categories").
		WithArgs("ghost-category").
		WillReturnRows(sqlmock.NewRows([]string{"name", "kind", "is_active"}))

	_, err := r.Create(context.Background(), ledger.CreateInput{
		OwnerID:  "u1",
		Kind:     ledger.KindExpense,
		Category: "ghost-category",
		Amount:   amount,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
