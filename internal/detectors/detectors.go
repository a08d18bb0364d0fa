// Package detectors implements the Engine's anomaly detectors. Each
// detector reads the Ledger, compares against a baseline, and either
// returns nil or a single AnomalyCandidate. Detectors never write state.
package detectors

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
	"github.com/sawpanic/finengine/internal/scoring"
)

// Kind discriminates the anomaly candidates this package produces.
type Kind string

const (
	KindExpenseSpike       Kind = "expense_spike"
	KindRevenueDecline     Kind = "revenue_decline"
	KindCashflowWarning    Kind = "cashflow_warning"
	KindTargetVariance     Kind = "target_variance"
	KindEmployeeInactivity Kind = "employee_inactivity"
)

// Priority is the urgency assigned to a candidate.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Evidence is the numeric basis of a candidate, always carried alongside the
// human-facing payload so downstream consumers (dashboards, audit) can
// reproduce the math.
type Evidence struct {
	Current      float64
	Baseline     float64
	VariancePct  float64
	ThresholdPct float64
}

// AnomalyCandidate is the detector's output. It is not persisted until the
// gating step in internal/engine accepts it.
type AnomalyCandidate struct {
	Kind             Kind
	Priority         Priority
	Confidence       int
	ScoreBreakdown   scoring.Breakdown
	Title            string
	Message          string
	Evidence         Evidence
	SuggestedActions []string
	ActionRequired   string
	RelatedData      map[string]string
	DetectedAt       time.Time
}

// Config bounds the thresholds every detector reads; all fields have sane
// defaults applied by Defaults().
type Config struct {
	ExpenseSpikeThresholdPct   float64
	RevenueDeclineThresholdPct float64
	CashflowLookbackDays       int
	CashflowRunThreshold       int
	InactivityDays             int
	MaxAmount                  float64
	Priors                     map[Kind]float64
}

// prior resolves the per-detector historical-precision prior, falling back
// to 5 when unconfigured.
func (c Config) prior(kind Kind) float64 {
	if p, ok := c.Priors[kind]; ok && p > 0 {
		return p
	}
	return 5
}

// Defaults returns the stock detector thresholds.
func Defaults() Config {
	return Config{
		ExpenseSpikeThresholdPct:   30,
		RevenueDeclineThresholdPct: 15,
		CashflowLookbackDays:       7,
		CashflowRunThreshold:       3,
		InactivityDays:             5,
		MaxAmount:                  ledger.MaxAmount,
	}
}

func priorityByMultiple(absVariance, thresholdPct float64) Priority {
	switch {
	case absVariance > 2*thresholdPct:
		return PriorityCritical
	case absVariance > 1.5*thresholdPct:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// ExpenseSpike compares today's approved expense against the trailing
// 7-day average, excluding today.
func ExpenseSpike(ctx context.Context, led ledger.Ledger, clk clock.Clock, ownerID string, cfg Config) (*AnomalyCandidate, error) {
	now := clk.Now()
	today := clk.StartOfDay(now)

	todayExpense, err := led.SumOver(ctx, ledger.KindExpense, ledger.TimeRange{From: today, To: clk.EndOfDay(now)}, ownerID)
	if err != nil {
		return nil, fmt.Errorf("expense spike: today sum: %w", err)
	}

	weekAgo := today.AddDate(0, 0, -7)
	priorExpense, err := led.SumOver(ctx, ledger.KindExpense, ledger.TimeRange{From: weekAgo, To: today.Add(-time.Millisecond)}, ownerID)
	if err != nil {
		return nil, fmt.Errorf("expense spike: week sum: %w", err)
	}
	avg7 := priorExpense.MulFrac(1.0 / 7.0)
	if avg7.IsZero() {
		return nil, nil
	}

	variancePct, defined := money.VariancePercent(todayExpense, avg7)
	if !defined || variancePct <= cfg.ExpenseSpikeThresholdPct {
		return nil, nil
	}

	ev := Evidence{Current: todayExpense.Float64(), Baseline: avg7.Float64(), VariancePct: variancePct, ThresholdPct: cfg.ExpenseSpikeThresholdPct}
	_, breakdown := scoring.Score(scoring.Evidence{
		CurrentValue: ev.Current, BaselineValue: ev.Baseline, SampleSize: 7, ExpectedSampleSize: 7, DataAgeHours: 0, DetectorPrior: cfg.prior(KindExpenseSpike),
	})
	confidence := breakdown.Total

	return &AnomalyCandidate{
		Kind:             KindExpenseSpike,
		Priority:         priorityByMultiple(variancePct, cfg.ExpenseSpikeThresholdPct),
		Confidence:       confidence,
		ScoreBreakdown:   breakdown,
		Title:            "Expense spike detected",
		Message:          fmt.Sprintf("Today's expenses (%s) are %.1f%% above the 7-day average (%s).", todayExpense, variancePct, avg7),
		Evidence:         ev,
		SuggestedActions: actionCatalog[KindExpenseSpike],
		DetectedAt:       now,
	}, nil
}

// RevenueDecline compares this-week approved income against the prior
// week.
func RevenueDecline(ctx context.Context, led ledger.Ledger, clk clock.Clock, ownerID string, cfg Config) (*AnomalyCandidate, error) {
	now := clk.Now()
	today := clk.StartOfDay(now)

	thisWeekStart := today.AddDate(0, 0, -6)
	thisWeek, err := led.SumOver(ctx, ledger.KindIncome, ledger.TimeRange{From: thisWeekStart, To: clk.EndOfDay(now)}, ownerID)
	if err != nil {
		return nil, fmt.Errorf("revenue decline: this week sum: %w", err)
	}

	prevWeekStart := thisWeekStart.AddDate(0, 0, -7)
	prevWeek, err := led.SumOver(ctx, ledger.KindIncome, ledger.TimeRange{From: prevWeekStart, To: thisWeekStart.Add(-time.Millisecond)}, ownerID)
	if err != nil {
		return nil, fmt.Errorf("revenue decline: prev week sum: %w", err)
	}
	if prevWeek.IsZero() {
		return nil, nil
	}

	variancePct, defined := money.VariancePercent(thisWeek, prevWeek)
	if !defined || variancePct >= -cfg.RevenueDeclineThresholdPct {
		return nil, nil
	}

	ev := Evidence{Current: thisWeek.Float64(), Baseline: prevWeek.Float64(), VariancePct: variancePct, ThresholdPct: cfg.RevenueDeclineThresholdPct}
	_, breakdown := scoring.Score(scoring.Evidence{
		CurrentValue: ev.Current, BaselineValue: ev.Baseline, SampleSize: 14, ExpectedSampleSize: 14, DataAgeHours: 0, DetectorPrior: cfg.prior(KindRevenueDecline),
	})

	return &AnomalyCandidate{
		Kind:             KindRevenueDecline,
		Priority:         priorityByMultiple(-variancePct, cfg.RevenueDeclineThresholdPct),
		Confidence:       breakdown.Total,
		ScoreBreakdown:   breakdown,
		Title:            "Revenue decline detected",
		Message:          fmt.Sprintf("This week's revenue (%s) is down %.1f%% versus last week (%s).", thisWeek, -variancePct, prevWeek),
		Evidence:         ev,
		SuggestedActions: actionCatalog[KindRevenueDecline],
		DetectedAt:       now,
	}, nil
}

// ConsecutiveNegativeCashflow looks for the longest run of negative-net days.
func ConsecutiveNegativeCashflow(ctx context.Context, led ledger.Ledger, clk clock.Clock, ownerID string, cfg Config) (*AnomalyCandidate, error) {
	now := clk.Now()
	today := clk.StartOfDay(now)
	lookback := cfg.CashflowLookbackDays
	if lookback <= 0 {
		lookback = 7
	}
	from := today.AddDate(0, 0, -(lookback - 1))

	buckets, err := led.DayBucketsForRange(ctx, ledger.TimeRange{From: from, To: clk.EndOfDay(now)}, ownerID)
	if err != nil {
		return nil, fmt.Errorf("cashflow: day buckets: %w", err)
	}

	longestRun, currentRun := 0, 0
	deficit := money.Zero
	negativeDays := 0
	for _, b := range buckets {
		if b.NetCashflow.IsNegative() {
			currentRun++
			negativeDays++
			deficit = deficit.Add(b.NetCashflow.Neg())
			if currentRun > longestRun {
				longestRun = currentRun
			}
		} else {
			currentRun = 0
		}
	}

	threshold := cfg.CashflowRunThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if longestRun < threshold {
		return nil, nil
	}

	ratio := 0.0
	if len(buckets) > 0 {
		ratio = float64(negativeDays) / float64(len(buckets))
	}

	ev := Evidence{Current: float64(longestRun), Baseline: float64(threshold), VariancePct: ratio * 100, ThresholdPct: float64(threshold)}
	_, breakdown := scoring.Score(scoring.Evidence{
		CurrentValue: float64(longestRun), BaselineValue: float64(threshold), SampleSize: len(buckets), ExpectedSampleSize: lookback, DataAgeHours: 0, DetectorPrior: cfg.prior(KindCashflowWarning),
	})

	priority := PriorityMedium
	switch {
	case longestRun >= 5:
		priority = PriorityCritical
	case longestRun == 4:
		priority = PriorityHigh
	}

	return &AnomalyCandidate{
		Kind:           KindCashflowWarning,
		Priority:       priority,
		Confidence:     breakdown.Total,
		ScoreBreakdown: breakdown,
		Title:          "Consecutive negative cashflow",
		Message:        fmt.Sprintf("Net cashflow has been negative for %d consecutive days (deficit %s).", longestRun, deficit),
		Evidence:       ev,
		RelatedData: map[string]string{
			"longest_run":    fmt.Sprintf("%d", longestRun),
			"total_deficit":  deficit.String(),
			"negative_ratio": fmt.Sprintf("%.2f", ratio),
		},
		SuggestedActions: actionCatalog[KindCashflowWarning],
		DetectedAt:       now,
	}, nil
}

// MonthlyTargetProvider resolves the explicit revenue/expense targets for
// the current month, per tenant. The default implementation reads a row
// from a `monthly_targets` Postgres table.
type MonthlyTargetProvider interface {
	TargetsForMonth(ctx context.Context, ownerID string, year int, month time.Month) (targetRevenue, targetExpense money.Money, found bool, err error)
}

// MonthlyTargetVariance compares month-to-date actuals against prorated targets.
func MonthlyTargetVariance(ctx context.Context, led ledger.Ledger, clk clock.Clock, targets MonthlyTargetProvider, ownerID string, cfg Config) (*AnomalyCandidate, error) {
	now := clk.Now()
	year, month, day := now.Date()

	targetRevenue, targetExpense, found, err := targets.TargetsForMonth(ctx, ownerID, year, month)
	if err != nil {
		return nil, fmt.Errorf("target variance: targets: %w", err)
	}
	if !found {
		return nil, nil
	}

	daysInMonth := time.Date(year, month+1, 0, 0, 0, 0, 0, now.Location()).Day()
	completeness := float64(day) / float64(daysInMonth)
	if completeness < 1.0/float64(daysInMonth) {
		completeness = 1.0 / float64(daysInMonth)
	}

	monthStart := clk.StartOfDay(time.Date(year, month, 1, 0, 0, 0, 0, now.Location()))
	actualRevenue, err := led.SumOver(ctx, ledger.KindIncome, ledger.TimeRange{From: monthStart, To: clk.EndOfDay(now)}, ownerID)
	if err != nil {
		return nil, fmt.Errorf("target variance: revenue: %w", err)
	}
	actualExpense, err := led.SumOver(ctx, ledger.KindExpense, ledger.TimeRange{From: monthStart, To: clk.EndOfDay(now)}, ownerID)
	if err != nil {
		return nil, fmt.Errorf("target variance: expense: %w", err)
	}

	proratedRevenue := targetRevenue.MulFrac(completeness)
	proratedExpense := targetExpense.MulFrac(completeness)

	revenueVar, revDefined := money.VariancePercent(actualRevenue, proratedRevenue)
	expenseVar, expDefined := money.VariancePercent(actualExpense, proratedExpense)

	revenueTriggered := revDefined && revenueVar < -20
	expenseTriggered := expDefined && expenseVar > 20
	if !revenueTriggered && !expenseTriggered {
		return nil, nil
	}

	primary := revenueVar
	label := "revenue"
	if expenseTriggered && (!revenueTriggered || expenseVar > -revenueVar) {
		primary = expenseVar
		label = "expense"
	}
	absPrimary := primary
	if absPrimary < 0 {
		absPrimary = -absPrimary
	}

	priority := PriorityMedium
	switch {
	case absPrimary > 40:
		priority = PriorityCritical
	case absPrimary > 30:
		priority = PriorityHigh
	}

	ev := Evidence{Current: actualRevenue.Float64(), Baseline: proratedRevenue.Float64(), VariancePct: primary, ThresholdPct: 20}
	_, breakdown := scoring.Score(scoring.Evidence{
		CurrentValue: ev.Current, BaselineValue: ev.Baseline, SampleSize: day, ExpectedSampleSize: daysInMonth, DataAgeHours: 0, DetectorPrior: cfg.prior(KindTargetVariance),
	})

	return &AnomalyCandidate{
		Kind:           KindTargetVariance,
		Priority:       priority,
		Confidence:     breakdown.Total,
		ScoreBreakdown: breakdown,
		Title:          "Monthly target variance",
		Message:        fmt.Sprintf("%s variance is %.1f%% against the prorated monthly target (%.0f%% of month elapsed).", label, primary, completeness*100),
		Evidence:       ev,
		RelatedData: map[string]string{
			"revenue_variance_pct": fmt.Sprintf("%.2f", revenueVar),
			"expense_variance_pct": fmt.Sprintf("%.2f", expenseVar),
			"period_completeness":  fmt.Sprintf("%.2f", completeness),
		},
		SuggestedActions: actionCatalog[KindTargetVariance],
		DetectedAt:       now,
	}, nil
}

// EmployeeActivityLookup reports how many days have passed since an
// employee's most recent approved transaction, and whether one exists.
type EmployeeActivityLookup interface {
	LastApprovedTransactionDays(ctx context.Context, employeeID string, clk clock.Clock) (daysSince int, hasAny bool, err error)
}

// EmployeeInactivity flags employees with no recorded transactions recently.
// It needs a concrete employee to inspect; an all-owners cycle passes an
// empty id and gets nil.
func EmployeeInactivity(ctx context.Context, lookup EmployeeActivityLookup, clk clock.Clock, employeeID string, cfg Config) (*AnomalyCandidate, error) {
	if employeeID == "" {
		return nil, nil
	}
	inactivityDays := cfg.InactivityDays
	if inactivityDays <= 0 {
		inactivityDays = 5
	}

	daysSince, hasAny, err := lookup.LastApprovedTransactionDays(ctx, employeeID, clk)
	if err != nil {
		return nil, fmt.Errorf("employee inactivity: lookup: %w", err)
	}
	if hasAny && daysSince < inactivityDays {
		return nil, nil
	}
	if !hasAny {
		// Never recorded anything: treat the gap as exactly the threshold.
		daysSince = inactivityDays
	}

	ev := Evidence{Current: float64(daysSince), Baseline: float64(inactivityDays), VariancePct: float64(daysSince - inactivityDays), ThresholdPct: float64(inactivityDays)}
	_, breakdown := scoring.Score(scoring.Evidence{
		CurrentValue: float64(daysSince), BaselineValue: float64(inactivityDays), SampleSize: inactivityDays, ExpectedSampleSize: inactivityDays, DataAgeHours: 0, DetectorPrior: cfg.prior(KindEmployeeInactivity),
	})

	priority := PriorityMedium
	if daysSince >= inactivityDays*2 {
		priority = PriorityHigh
	}

	return &AnomalyCandidate{
		Kind:             KindEmployeeInactivity,
		Priority:         priority,
		Confidence:       breakdown.Total,
		ScoreBreakdown:   breakdown,
		Title:            "Employee inactivity detected",
		Message:          fmt.Sprintf("Employee %s has no approved transactions in the last %d days.", employeeID, daysSince),
		Evidence:         ev,
		RelatedData:      map[string]string{"employee_id": employeeID, "days_since_activity": fmt.Sprintf("%d", daysSince)},
		SuggestedActions: actionCatalog[KindEmployeeInactivity],
		DetectedAt:       clk.Now(),
	}, nil
}
