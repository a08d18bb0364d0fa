// Package ticker defines the Engine's scheduling port: a source of
// ticks driving the CLI daemon's cycle cadence. Delivery hours and cadence
// are configuration, not part of the Engine's contract.
package ticker

import "time"

// Ticker emits ticks on C until Stop is called.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real wraps a standard time.Ticker.
type Real struct {
	t *time.Ticker
}

// New returns a Ticker firing every interval, backed by time.Ticker.
func New(interval time.Duration) *Real {
	return &Real{t: time.NewTicker(interval)}
}

func (r *Real) C() <-chan time.Time { return r.t.C }

func (r *Real) Stop() { r.t.Stop() }
