package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/finengine/internal/audit"
	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/dispatcher"
	"github.com/sawpanic/finengine/internal/engine"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
	"github.com/sawpanic/finengine/internal/notifier"
	"github.com/sawpanic/finengine/internal/recommendation"
	"github.com/sawpanic/finengine/internal/user"
)

// memStore is a full in-memory recommendation.Store for cross-package
// cycle-then-dispatch tests.
type memStore struct {
	mu   sync.Mutex
	seq  int
	recs map[string]*recommendation.Recommendation
	now  func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{recs: map[string]*recommendation.Recommendation{}, now: now}
}

func (s *memStore) Create(_ context.Context, in recommendation.CreateInput) (*recommendation.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec := &recommendation.Recommendation{
		ID:          fmt.Sprintf("rec-%08d", s.seq),
		Kind:        in.Kind,
		Priority:    in.Priority,
		Confidence:  in.Confidence,
		TargetRoles: in.TargetRoles,
		Payload:     in.Payload,
		GeneratedAt: s.now(),
	}
	s.recs[rec.ID] = rec
	return rec, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*recommendation.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, recommendation.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) RecentForRole(_ context.Context, role string, limit, hoursBack int) ([]recommendation.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recommendation.Recommendation
	for _, rec := range s.recs {
		for _, r := range rec.TargetRoles {
			if r == role {
				out = append(out, *rec)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) UnacknowledgedCritical(_ context.Context, role string) ([]recommendation.Recommendation, error) {
	return nil, nil
}

func (s *memStore) MarkAcknowledged(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return recommendation.ErrNotFound
	}
	if rec.AcknowledgedAt == nil {
		t := s.now()
		rec.AcknowledgedAt = &t
	}
	return nil
}

func (s *memStore) DismissForUser(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return recommendation.ErrNotFound
	}
	for _, u := range rec.DismissedByUsers {
		if u == userID {
			return nil
		}
	}
	rec.DismissedByUsers = append(rec.DismissedByUsers, userID)
	return nil
}

func (s *memStore) IsDismissedBy(_ context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return false, recommendation.ErrNotFound
	}
	for _, u := range rec.DismissedByUsers {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ActiveForUser(_ context.Context, userID, role string, limit int) ([]recommendation.Recommendation, error) {
	recent, _ := s.RecentForRole(context.Background(), role, limit*2, 24)
	var out []recommendation.Recommendation
	for _, rec := range recent {
		dismissed := false
		for _, u := range rec.DismissedByUsers {
			if u == userID {
				dismissed = true
				break
			}
		}
		if !dismissed {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memStore) HasRecent(_ context.Context, kind detectors.Kind, withinMinutes int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-time.Duration(withinMinutes) * time.Minute)
	for _, rec := range s.recs {
		if rec.Kind == kind && !rec.GeneratedAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) PendingDelivery(_ context.Context, maxAgeMinutes int) ([]recommendation.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-time.Duration(maxAgeMinutes) * time.Minute)
	var out []recommendation.Recommendation
	for _, rec := range s.recs {
		if rec.AcknowledgedAt == nil && !rec.GeneratedAt.Before(cutoff) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *memStore) CleanupOlderThan(_ context.Context, days int) (int64, error) {
	return 0, nil
}

func (s *memStore) Statistics(_ context.Context, hoursBack int) (recommendation.Stats, error) {
	return recommendation.Stats{}, nil
}

func (s *memStore) RecordDeliveryAttempt(_ context.Context, _ recommendation.DeliveryAttempt) error {
	return nil
}

// spikeLedger reproduces seven prior days of 100000 expense and a single
// 200000 expense today.
type spikeLedger struct {
	ledger.Ledger
}

func (spikeLedger) SumOver(_ context.Context, kind ledger.Kind, r ledger.TimeRange, _ string) (money.Money, error) {
	if kind != ledger.KindExpense {
		return money.Zero, nil
	}
	if r.To.Sub(r.From).Hours() < 25 {
		today, _ := money.New("200000.00")
		return today, nil
	}
	week, _ := money.New("700000.00")
	return week, nil
}

func (spikeLedger) DayBucketsForRange(_ context.Context, _ ledger.TimeRange, _ string) ([]ledger.DailyBucket, error) {
	return nil, nil
}

func TestSpikeCycleDeliversAndAcknowledges(t *testing.T) {
	clk, err := clock.NewFixedAt("Asia/Makassar", time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	store := newMemStore(clk.Now)

	orch := &engine.Orchestrator{
		Ledger:      spikeLedger{},
		Store:       store,
		Clock:       clk,
		DetectorCfg: detectors.Defaults(),
		Log:         zerolog.Nop(),
	}

	result := orch.Run(context.Background(), engine.CriticalOnlyPolicy(), "owner-1")
	if result.Created != 1 {
		t.Fatalf("expected 1 recommendation created, got %+v", result)
	}
	created := result.List[0]
	if created.Kind != detectors.KindExpenseSpike {
		t.Fatalf("Kind = %s, want expense_spike", created.Kind)
	}
	if created.Priority != detectors.PriorityCritical {
		t.Fatalf("Priority = %s, want critical (+100%% variance)", created.Priority)
	}
	if created.Confidence < 80 {
		t.Fatalf("Confidence = %d, want >= 80", created.Confidence)
	}

	dir := user.NewInMemory([]user.User{
		{ID: "u-boss", Contact: "+62-boss", Role: user.RoleBoss, IsActive: true},
		{ID: "u-dev", Contact: "+62-dev", Role: user.RoleDev, IsActive: true},
	})
	notify := notifier.NewInMemory()
	disp := dispatcher.New(store, dir, notify, audit.Discard{}, clk, zerolog.Nop(), 15, 15, 2)

	dres, err := disp.Dispatch(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if dres.Delivered != 2 || dres.Failed != 0 {
		t.Fatalf("expected delivered=2 failed=0, got %+v", dres)
	}

	rec, err := store.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.AcknowledgedAt == nil {
		t.Fatal("expected recommendation acknowledged after a successful dispatch")
	}

	pending, err := store.PendingDelivery(context.Background(), 60)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("acknowledged recommendation should not be pending, got %d", len(pending))
	}
}

func TestSpikeCycleGatedByDeduplicationWindow(t *testing.T) {
	clk, err := clock.NewFixedAt("Asia/Makassar", time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	store := newMemStore(clk.Now)

	// An expense_spike recommendation from 30 minutes ago sits inside the
	// default 60-minute dedup window.
	past := clk.Now().Add(-30 * time.Minute)
	seeded := newMemStore(func() time.Time { return past })
	seeded.recs = store.recs
	seeded.seq = store.seq
	if _, err := seeded.Create(context.Background(), recommendation.CreateInput{
		Kind:        detectors.KindExpenseSpike,
		Priority:    detectors.PriorityCritical,
		Confidence:  95,
		TargetRoles: []string{"boss", "dev"},
	}); err != nil {
		t.Fatal(err)
	}

	orch := &engine.Orchestrator{
		Ledger:      spikeLedger{},
		Store:       store,
		Clock:       clk,
		DetectorCfg: detectors.Defaults(),
		Log:         zerolog.Nop(),
	}

	result := orch.Run(context.Background(), engine.CriticalOnlyPolicy(), "owner-1")
	if result.Gated != 1 || result.Created != 0 {
		t.Fatalf("expected gated=1 created=0 inside the dedup window, got %+v", result)
	}
}
