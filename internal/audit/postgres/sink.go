// Package postgres implements audit.Sink against the audit_events table,
// following the same sqlx insert shape as internal/recommendation/postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/sawpanic/finengine/internal/audit"
)

// Sink writes audit events to Postgres. A write failure is logged and
// returned but never propagated as a failure of the operation being
// audited; callers use audit.Sink.Emit and discard its error.
type Sink struct {
	db      *sqlx.DB
	timeout time.Duration
	log     zerolog.Logger
}

// New returns a Postgres-backed audit Sink.
func New(db *sqlx.DB, timeout time.Duration, log zerolog.Logger) *Sink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{db: db, timeout: timeout, log: log}
}

func (s *Sink) Emit(ctx context.Context, ev audit.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO audit_events (action, actor, target, entity_type, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query, ev.Action, ev.Actor, ev.Target, ev.EntityType, ev.DetailsJSON, ts)
	if err != nil {
		s.log.Error().Err(err).Str("action", ev.Action).Msg("audit emission failed, discarding")
		return fmt.Errorf("audit postgres: emit: %w", err)
	}
	return nil
}
