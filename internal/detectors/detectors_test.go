package detectors

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
)

// fakeLedger is a minimal in-memory ledger.Ledger stub for detector tests.
type fakeLedger struct {
	ledger.Ledger
	sums    map[string]money.Money
	buckets []ledger.DailyBucket
}

func key(kind ledger.Kind, r ledger.TimeRange) string {
	return string(kind) + r.From.Format(time.RFC3339) + r.To.Format(time.RFC3339)
}

func (f *fakeLedger) SumOver(_ context.Context, kind ledger.Kind, r ledger.TimeRange, _ string) (money.Money, error) {
	if v, ok := f.sums[key(kind, r)]; ok {
		return v, nil
	}
	return money.Zero, nil
}

func (f *fakeLedger) DayBucketsForRange(_ context.Context, _ ledger.TimeRange, _ string) ([]ledger.DailyBucket, error) {
	return f.buckets, nil
}

func TestActionCatalogNonEmptyPerKind(t *testing.T) {
	for kind, actions := range actionCatalog {
		if len(actions) < 3 || len(actions) > 6 {
			t.Errorf("kind %s has %d actions, want 3-6", kind, len(actions))
		}
	}
}

func TestConsecutiveNegativeCashflowTriggersOnLongRun(t *testing.T) {
	clk, err := clock.New("Asia/Makassar")
	if err != nil {
		t.Fatal(err)
	}
	neg, _ := money.New("-50.00")
	pos, _ := money.New("10.00")

	buckets := make([]ledger.DailyBucket, 7)
	for i := range buckets {
		nc := neg
		if i < 3 {
			nc = pos
		}
		buckets[i] = ledger.DailyBucket{Day: clk.Now().AddDate(0, 0, -6+i), NetCashflow: nc}
	}

	fl := &fakeLedger{buckets: buckets}
	cand, err := ConsecutiveNegativeCashflow(context.Background(), fl, clk, "owner-1", Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if cand == nil {
		t.Fatal("expected a candidate, got nil")
	}
	if cand.Kind != KindCashflowWarning {
		t.Errorf("Kind = %s, want %s", cand.Kind, KindCashflowWarning)
	}
	if cand.Priority != PriorityHigh {
		t.Errorf("Priority = %s, want %s (4-day run)", cand.Priority, PriorityHigh)
	}
}

func TestConsecutiveNegativeCashflowNoTriggerBelowThreshold(t *testing.T) {
	clk, _ := clock.New("Asia/Makassar")
	pos, _ := money.New("10.00")
	buckets := []ledger.DailyBucket{
		{Day: clk.Now(), NetCashflow: pos},
		{Day: clk.Now(), NetCashflow: pos},
	}
	fl := &fakeLedger{buckets: buckets}
	cand, err := ConsecutiveNegativeCashflow(context.Background(), fl, clk, "owner-1", Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if cand != nil {
		t.Fatalf("expected nil candidate, got %+v", cand)
	}
}

// weekLedger answers income sums for the revenue-decline detector's two
// windows: the trailing 7 days including today, and the 7 days before that.
type weekLedger struct {
	ledger.Ledger
	todayStart time.Time
	thisWeek   money.Money
	prevWeek   money.Money
}

func (w *weekLedger) SumOver(_ context.Context, kind ledger.Kind, r ledger.TimeRange, _ string) (money.Money, error) {
	if kind != ledger.KindIncome {
		return money.Zero, nil
	}
	if r.To.After(w.todayStart) {
		return w.thisWeek, nil
	}
	return w.prevWeek, nil
}

func TestRevenueDeclineTriggersOnSharpDrop(t *testing.T) {
	clk, err := clock.NewFixedAt("Asia/Makassar", time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	thisWeek, _ := money.New("500.00")
	prevWeek, _ := money.New("1000.00") // -50% week over week

	fl := &weekLedger{todayStart: clk.StartOfDay(clk.Now()), thisWeek: thisWeek, prevWeek: prevWeek}
	cand, err := RevenueDecline(context.Background(), fl, clk, "owner-1", Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if cand == nil {
		t.Fatal("expected a candidate for a 50% revenue drop")
	}
	if cand.Kind != KindRevenueDecline {
		t.Errorf("Kind = %s, want %s", cand.Kind, KindRevenueDecline)
	}
	if cand.Priority != PriorityCritical {
		t.Errorf("Priority = %s, want %s (|variance| beyond twice the threshold)", cand.Priority, PriorityCritical)
	}
	if cand.Evidence.VariancePct >= 0 {
		t.Errorf("VariancePct = %f, want negative", cand.Evidence.VariancePct)
	}
}

func TestRevenueDeclineNilWhenPrevWeekZero(t *testing.T) {
	clk, err := clock.NewFixedAt("Asia/Makassar", time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	thisWeek, _ := money.New("500.00")

	fl := &weekLedger{todayStart: clk.StartOfDay(clk.Now()), thisWeek: thisWeek, prevWeek: money.Zero}
	cand, err := RevenueDecline(context.Background(), fl, clk, "owner-1", Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if cand != nil {
		t.Fatalf("expected nil candidate with no prior-week baseline, got %+v", cand)
	}
}

func TestRevenueDeclineNoTriggerWithinThreshold(t *testing.T) {
	clk, err := clock.NewFixedAt("Asia/Makassar", time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	thisWeek, _ := money.New("950.00")
	prevWeek, _ := money.New("1000.00") // -5%, inside the 15% threshold

	fl := &weekLedger{todayStart: clk.StartOfDay(clk.Now()), thisWeek: thisWeek, prevWeek: prevWeek}
	cand, err := RevenueDecline(context.Background(), fl, clk, "owner-1", Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if cand != nil {
		t.Fatalf("expected nil candidate for a drop inside the threshold, got %+v", cand)
	}
}

type fakeActivityLookup struct {
	daysSince int
	hasAny    bool
}

func (f fakeActivityLookup) LastApprovedTransactionDays(_ context.Context, _ string, _ clock.Clock) (int, bool, error) {
	return f.daysSince, f.hasAny, nil
}

func TestEmployeeInactivityTriggersPastThreshold(t *testing.T) {
	clk, _ := clock.New("Asia/Makassar")
	cand, err := EmployeeInactivity(context.Background(), fakeActivityLookup{daysSince: 6, hasAny: true}, clk, "emp-1", Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if cand == nil {
		t.Fatal("expected a candidate for 6 days of inactivity")
	}
}

func TestEmployeeInactivityNoTriggerWhenRecentlyActive(t *testing.T) {
	clk, _ := clock.New("Asia/Makassar")
	cand, err := EmployeeInactivity(context.Background(), fakeActivityLookup{daysSince: 1, hasAny: true}, clk, "emp-1", Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if cand != nil {
		t.Fatalf("expected nil candidate, got %+v", cand)
	}
}

type fakeTargets struct {
	revenue, expense money.Money
	found            bool
}

func (f fakeTargets) TargetsForMonth(_ context.Context, _ string, _ int, _ time.Month) (money.Money, money.Money, bool, error) {
	return f.revenue, f.expense, f.found, nil
}

func TestMonthlyTargetVarianceNilWhenNoTargetsConfigured(t *testing.T) {
	clk, _ := clock.New("Asia/Makassar")
	fl := &fakeLedger{}
	cand, err := MonthlyTargetVariance(context.Background(), fl, clk, fakeTargets{found: false}, "owner-1", Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if cand != nil {
		t.Fatalf("expected nil candidate when no targets are configured, got %+v", cand)
	}
}
