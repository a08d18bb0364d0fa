package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
	"github.com/sawpanic/finengine/internal/recommendation"
)

type stubLedger struct {
	ledger.Ledger
	todayExpense, weekExpense money.Money
	buckets                   []ledger.DailyBucket
}

func (s *stubLedger) SumOver(_ context.Context, kind ledger.Kind, r ledger.TimeRange, _ string) (money.Money, error) {
	if kind == ledger.KindExpense {
		if r.From.Equal(r.To) || r.To.Sub(r.From).Hours() < 25 {
			return s.todayExpense, nil
		}
		return s.weekExpense, nil
	}
	return money.Zero, nil
}

func (s *stubLedger) DayBucketsForRange(_ context.Context, _ ledger.TimeRange, _ string) ([]ledger.DailyBucket, error) {
	return s.buckets, nil
}

type stubStore struct {
	recommendation.Store
	created   []recommendation.CreateInput
	hasRecent bool
}

func (s *stubStore) HasRecent(_ context.Context, _ detectors.Kind, _ int) (bool, error) {
	return s.hasRecent, nil
}

func (s *stubStore) Create(_ context.Context, in recommendation.CreateInput) (*recommendation.Recommendation, error) {
	s.created = append(s.created, in)
	return &recommendation.Recommendation{ID: "rec-1", Kind: in.Kind, Priority: in.Priority, Confidence: in.Confidence}, nil
}

func TestRun_NoGatingPersistsDetectedSpike(t *testing.T) {
	clk, err := clock.New("Asia/Makassar")
	if err != nil {
		t.Fatal(err)
	}
	today, _ := money.New("10000.00")
	week, _ := money.New("7000.00") // avg7 = 1000, spike of 900%

	o := &Orchestrator{
		Ledger:      &stubLedger{todayExpense: today, weekExpense: week},
		Store:       &stubStore{},
		Clock:       clk,
		DetectorCfg: detectors.Defaults(),
		Log:         zerolog.Nop(),
	}

	result := o.Run(context.Background(), NoGatingPolicy(), "owner-1")
	if result.Detected == 0 {
		t.Fatal("expected at least one candidate to be detected")
	}
	if result.Created == 0 {
		t.Fatalf("expected NoGatingPolicy to let candidates through, got %+v", result)
	}
}

func TestRun_CriticalOnlyGatesOutNonCritical(t *testing.T) {
	clk, _ := clock.New("Asia/Makassar")
	today, _ := money.New("1400.00")
	week, _ := money.New("7000.00") // avg7=1000, variance 40% -> medium priority, confidence below 80

	store := &stubStore{}
	o := &Orchestrator{
		Ledger:      &stubLedger{todayExpense: today, weekExpense: week},
		Store:       store,
		Clock:       clk,
		DetectorCfg: detectors.Defaults(),
		Log:         zerolog.Nop(),
	}

	result := o.Run(context.Background(), CriticalOnlyPolicy(), "owner-1")
	if result.Created != 0 {
		t.Fatalf("expected critical-only policy to reject medium-priority candidates, got %+v", result)
	}
}

func TestRun_DeduplicationRejectsRepeat(t *testing.T) {
	clk, _ := clock.New("Asia/Makassar")
	today, _ := money.New("10000.00")
	week, _ := money.New("7000.00")

	o := &Orchestrator{
		Ledger:      &stubLedger{todayExpense: today, weekExpense: week},
		Store:       &stubStore{hasRecent: true},
		Clock:       clk,
		DetectorCfg: detectors.Defaults(),
		Log:         zerolog.Nop(),
	}

	policy := GatingPolicy{MinConfidenceScore: 0, CriticalPriorityRequired: false, DeduplicationWindowMinutes: 60}
	result := o.Run(context.Background(), policy, "owner-1")
	if result.Created != 0 {
		t.Fatalf("expected dedup window to reject repeat candidate, got %+v", result)
	}
	if result.Gated == 0 {
		t.Fatal("expected gated count to reflect the dedup rejection")
	}
}
