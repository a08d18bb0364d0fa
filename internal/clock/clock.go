// Package clock provides the Engine's sole notion of "now", anchored to a
// fixed operating timezone instead of the host's local zone.
package clock

import (
	"fmt"
	"time"
)

// Clock is the Engine's time port. All day-boundary math goes through it so
// that detectors and reports agree on what "today" means regardless of where
// the process happens to run.
type Clock interface {
	Now() time.Time
	Zone() *time.Location
	StartOfDay(t time.Time) time.Time
	EndOfDay(t time.Time) time.Time
}

// Fixed anchors Now() to a configured IANA zone. It is the production
// implementation; tests use a frozen wall time via NewFixedAt.
type Fixed struct {
	loc *time.Location
	now func() time.Time
}

// New loads the given IANA zone (default "Asia/Makassar" when empty) and
// returns a Clock whose Now() tracks real wall-clock time.
func New(zoneName string) (*Fixed, error) {
	if zoneName == "" {
		zoneName = "Asia/Makassar"
	}
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("clock: load zone %q: %w", zoneName, err)
	}
	return &Fixed{loc: loc, now: time.Now}, nil
}

// NewFixedAt returns a Clock pinned to a single instant, for deterministic
// detector and report tests.
func NewFixedAt(zoneName string, at time.Time) (*Fixed, error) {
	if zoneName == "" {
		zoneName = "Asia/Makassar"
	}
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("clock: load zone %q: %w", zoneName, err)
	}
	fixed := at.In(loc)
	return &Fixed{loc: loc, now: func() time.Time { return fixed }}, nil
}

func (c *Fixed) Now() time.Time { return c.now().In(c.loc) }

func (c *Fixed) Zone() *time.Location { return c.loc }

// StartOfDay returns 00:00:00.000 of t's calendar day in the operating zone,
// expressed as a UTC instant so callers can filter database columns directly.
func (c *Fixed) StartOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc).UTC()
}

// EndOfDay returns 23:59:59.999 of t's calendar day in the operating zone,
// expressed as a UTC instant.
func (c *Fixed) EndOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 23, 59, 59, 999_000_000, c.loc).UTC()
}

// DaysDiff reports floor((now - eventTime) / 24h) in the operating zone,
// the quantity edit-permission checks are defined against.
func DaysDiff(c Clock, now, eventTime time.Time) int {
	startOfEvent := c.StartOfDay(eventTime)
	startOfNow := c.StartOfDay(now)
	return int(startOfNow.Sub(startOfEvent).Hours() / 24)
}
