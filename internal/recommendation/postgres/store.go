// Package postgres implements recommendation.Store against PostgreSQL,
// storing target roles, dismissedByUsers, and related-data as jsonb/array
// columns, following the same sqlx conventions as internal/ledger/postgres.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/recommendation"
)

// Store implements recommendation.Store.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New returns a Postgres-backed recommendation Store.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

type row struct {
	ID               string         `db:"id"`
	Kind             string         `db:"kind"`
	Priority         string         `db:"priority"`
	Confidence       int            `db:"confidence"`
	TargetRoles      pq.StringArray `db:"target_roles"`
	PayloadJSON      []byte         `db:"payload"`
	GeneratedAt      time.Time      `db:"generated_at"`
	DismissedByUsers pq.StringArray `db:"dismissed_by_users"`
	AcknowledgedAt   sql.NullTime   `db:"acknowledged_at"`
}

func (r row) toDomain() (*recommendation.Recommendation, error) {
	var payload recommendation.Payload
	if len(r.PayloadJSON) > 0 {
		if err := json.Unmarshal(r.PayloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	rec := &recommendation.Recommendation{
		ID:               r.ID,
		Kind:             detectors.Kind(r.Kind),
		Priority:         detectors.Priority(r.Priority),
		Confidence:       r.Confidence,
		TargetRoles:      []string(r.TargetRoles),
		Payload:          payload,
		GeneratedAt:      r.GeneratedAt,
		DismissedByUsers: []string(r.DismissedByUsers),
	}
	if r.AcknowledgedAt.Valid {
		t := r.AcknowledgedAt.Time
		rec.AcknowledgedAt = &t
	}
	return rec, nil
}

const selectCols = `
	id, kind, priority, confidence, target_roles, payload, generated_at,
	dismissed_by_users, acknowledged_at`

// priorityRank orders the priority enum without a dedicated rank column.
const priorityRank = `
	CASE priority
		WHEN 'critical' THEN 4
		WHEN 'high' THEN 3
		WHEN 'medium' THEN 2
		ELSE 1
	END`

func (s *Store) Create(ctx context.Context, in recommendation.CreateInput) (*recommendation.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payloadJSON, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO recommendations (kind, priority, confidence, target_roles, payload, generated_at, dismissed_by_users)
		VALUES ($1, $2, $3, $4, $5, now(), '{}')
		RETURNING %s`, selectCols)

	var rr row
	err = s.db.GetContext(ctx, &rr, query,
		string(in.Kind), string(in.Priority), in.Confidence, pq.Array(in.TargetRoles), payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: create recommendation: %v", recommendation.ErrStorageUnavailable, err)
	}
	return rr.toDomain()
}

func (s *Store) GetByID(ctx context.Context, id string) (*recommendation.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM recommendations WHERE id = $1`, selectCols)
	var rr row
	if err := s.db.GetContext(ctx, &rr, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, recommendation.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get by id: %v", recommendation.ErrStorageUnavailable, err)
	}
	return rr.toDomain()
}

func (s *Store) RecentForRole(ctx context.Context, role string, limit int, hoursBack int) ([]recommendation.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM recommendations
		WHERE $1 = ANY(target_roles) AND generated_at >= now() - ($2 || ' hours')::interval
		ORDER BY %s DESC, confidence DESC, generated_at DESC
		LIMIT $3`, selectCols, priorityRank)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, role, hoursBack, limit); err != nil {
		return nil, fmt.Errorf("%w: recent for role: %v", recommendation.ErrStorageUnavailable, err)
	}
	return toDomainSlice(rows)
}

func (s *Store) UnacknowledgedCritical(ctx context.Context, role string) ([]recommendation.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM recommendations
		WHERE $1 = ANY(target_roles) AND priority = 'critical' AND acknowledged_at IS NULL
		ORDER BY generated_at DESC`, selectCols)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, role); err != nil {
		return nil, fmt.Errorf("%w: unacknowledged critical: %v", recommendation.ErrStorageUnavailable, err)
	}
	return toDomainSlice(rows)
}

func (s *Store) MarkAcknowledged(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE recommendations SET acknowledged_at = now() WHERE id = $1 AND acknowledged_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("%w: mark acknowledged: %v", recommendation.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) DismissForUser(ctx context.Context, id, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE recommendations
		SET dismissed_by_users = array_append(dismissed_by_users, $2)
		WHERE id = $1 AND NOT ($2 = ANY(dismissed_by_users))`, id, userID)
	if err != nil {
		return fmt.Errorf("%w: dismiss for user: %v", recommendation.ErrStorageUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return recommendation.ErrNotFound
		}
	}
	return nil
}

func (s *Store) IsDismissedBy(ctx context.Context, id, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var dismissed bool
	err := s.db.GetContext(ctx, &dismissed,
		`SELECT $2 = ANY(dismissed_by_users) FROM recommendations WHERE id = $1`, id, userID)
	if err == sql.ErrNoRows {
		return false, recommendation.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("%w: is dismissed by: %v", recommendation.ErrStorageUnavailable, err)
	}
	return dismissed, nil
}

func (s *Store) ActiveForUser(ctx context.Context, userID, role string, limit int) ([]recommendation.Recommendation, error) {
	if limit <= 0 {
		limit = 50
	}
	candidates, err := s.RecentForRole(ctx, role, limit*2, 24*7)
	if err != nil {
		return nil, err
	}
	out := make([]recommendation.Recommendation, 0, limit)
	for _, r := range candidates {
		dismissed := false
		for _, u := range r.DismissedByUsers {
			if u == userID {
				dismissed = true
				break
			}
		}
		if !dismissed {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recommendations WHERE generated_at < now() - ($1 || ' days')::interval`, days)
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", recommendation.ErrStorageUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup rows affected: %v", recommendation.ErrStorageUnavailable, err)
	}
	return n, nil
}

func (s *Store) Statistics(ctx context.Context, hoursBack int) (recommendation.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stats := recommendation.Stats{ByPriority: map[string]int{}, ByKind: map[string]int{}}

	var total int
	var avgConfidence sql.NullFloat64
	err := s.db.QueryRowxContext(ctx, `
		SELECT COUNT(*), AVG(confidence) FROM recommendations
		WHERE generated_at >= now() - ($1 || ' hours')::interval`, hoursBack).
		Scan(&total, &avgConfidence)
	if err != nil {
		return stats, fmt.Errorf("%w: statistics totals: %v", recommendation.ErrStorageUnavailable, err)
	}
	stats.Total = total
	if avgConfidence.Valid {
		stats.AverageConfidence = avgConfidence.Float64
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT priority, COUNT(*) FROM recommendations
		WHERE generated_at >= now() - ($1 || ' hours')::interval
		GROUP BY priority`, hoursBack)
	if err != nil {
		return stats, fmt.Errorf("%w: statistics by priority: %v", recommendation.ErrStorageUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var c int
		if err := rows.Scan(&p, &c); err != nil {
			return stats, fmt.Errorf("%w: scan priority row: %v", recommendation.ErrStorageUnavailable, err)
		}
		stats.ByPriority[p] = c
	}

	kindRows, err := s.db.QueryxContext(ctx, `
		SELECT kind, COUNT(*) FROM recommendations
		WHERE generated_at >= now() - ($1 || ' hours')::interval
		GROUP BY kind`, hoursBack)
	if err != nil {
		return stats, fmt.Errorf("%w: statistics by kind: %v", recommendation.ErrStorageUnavailable, err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var k string
		var c int
		if err := kindRows.Scan(&k, &c); err != nil {
			return stats, fmt.Errorf("%w: scan kind row: %v", recommendation.ErrStorageUnavailable, err)
		}
		stats.ByKind[k] = c
	}

	return stats, nil
}

func (s *Store) HasRecent(ctx context.Context, kind detectors.Kind, withinMinutes int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM recommendations
			WHERE kind = $1 AND generated_at >= now() - ($2 || ' minutes')::interval
		)`, string(kind), withinMinutes)
	if err != nil {
		return false, fmt.Errorf("%w: has recent: %v", recommendation.ErrStorageUnavailable, err)
	}
	return exists, nil
}

func (s *Store) PendingDelivery(ctx context.Context, maxAgeMinutes int) ([]recommendation.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if maxAgeMinutes <= 0 {
		maxAgeMinutes = 60
	}
	query := fmt.Sprintf(`
		SELECT %s FROM recommendations
		WHERE acknowledged_at IS NULL AND generated_at >= now() - ($1 || ' minutes')::interval
		ORDER BY %s DESC, generated_at ASC`, selectCols, priorityRank)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, maxAgeMinutes); err != nil {
		return nil, fmt.Errorf("%w: pending delivery: %v", recommendation.ErrStorageUnavailable, err)
	}
	return toDomainSlice(rows)
}

func (s *Store) RecordDeliveryAttempt(ctx context.Context, attempt recommendation.DeliveryAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var deliveredAt sql.NullTime
	if attempt.DeliveredAt != nil {
		deliveredAt = sql.NullTime{Time: *attempt.DeliveredAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (recommendation_id, user_id, state, retry_count, last_error, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recommendation_id, user_id) DO UPDATE SET
			state = EXCLUDED.state,
			retry_count = delivery_attempts.retry_count + 1,
			last_error = EXCLUDED.last_error,
			delivered_at = COALESCE(EXCLUDED.delivered_at, delivery_attempts.delivered_at)`,
		attempt.RecommendationID, attempt.UserID, string(attempt.State), attempt.RetryCount, attempt.LastError, deliveredAt)
	if err != nil {
		return fmt.Errorf("%w: record delivery attempt: %v", recommendation.ErrStorageUnavailable, err)
	}
	return nil
}

func toDomainSlice(rows []row) ([]recommendation.Recommendation, error) {
	out := make([]recommendation.Recommendation, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}
