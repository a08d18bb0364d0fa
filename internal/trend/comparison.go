package trend

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
)

// significantPercentThreshold is the |percent| cutoff marking a metric
// delta as "significant".
const significantPercentThreshold = 15.0

// MetricDelta is one comparison metric's absolute and percent change plus
// its significance flag.
type MetricDelta struct {
	Absolute    money.Money
	Percent     float64
	Significant bool
}

// Direction classifies the overall movement of a period comparison.
type Direction string

const (
	Improving Direction = "improving"
	Stable    Direction = "stable"
	Declining Direction = "declining"
)

// PeriodComparison is the month-vs-previous-month result.
type PeriodComparison struct {
	Income             MetricDelta
	Expense            MetricDelta
	NetCashflow        MetricDelta
	TransactionCount   MetricDelta
	Trend              Direction
	AnalysisSummary    string
	AnalysisHighlights []string
}

// ComparePeriods compares the calendar month containing `month` against
// the immediately preceding month.
func (s *Service) ComparePeriods(ctx context.Context, ownerID string, month time.Time) (PeriodComparison, error) {
	current, err := s.monthTotals(ctx, ownerID, month)
	if err != nil {
		return PeriodComparison{}, err
	}
	previous, err := s.monthTotals(ctx, ownerID, month.AddDate(0, -1, 0))
	if err != nil {
		return PeriodComparison{}, err
	}

	cmp := PeriodComparison{
		Income:           delta(current.income, previous.income),
		Expense:          delta(current.expense, previous.expense),
		NetCashflow:      deltaNet(current.net, previous.net),
		TransactionCount: deltaInt(current.count, previous.count),
	}
	cmp.Trend = deriveTrend(cmp.NetCashflow)
	cmp.AnalysisSummary, cmp.AnalysisHighlights = summarize(cmp)

	return cmp, nil
}

type monthTotal struct {
	income  money.Money
	expense money.Money
	net     money.Money
	count   int
}

func (s *Service) monthTotals(ctx context.Context, ownerID string, month time.Time) (monthTotal, error) {
	from := s.Clock.StartOfDay(firstOfMonth(month))
	to := s.Clock.EndOfDay(lastOfMonth(month))

	buckets, err := s.Ledger.DayBucketsForRange(ctx, ledger.TimeRange{From: from, To: to}, ownerID)
	if err != nil {
		return monthTotal{}, fmt.Errorf("trend: month totals: %w", err)
	}

	var mt monthTotal
	for _, b := range buckets {
		mt.income = mt.income.Add(b.TotalIncome)
		mt.expense = mt.expense.Add(b.TotalExpense)
		mt.count += b.TransactionCount
	}
	mt.net = mt.income.Sub(mt.expense)
	return mt, nil
}

func firstOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func lastOfMonth(t time.Time) time.Time {
	return firstOfMonth(t).AddDate(0, 1, 0).AddDate(0, 0, -1)
}

func delta(current, previous money.Money) MetricDelta {
	absolute := current.Sub(previous)
	percent, defined := money.VariancePercent(current, previous)
	if !defined {
		// Zero-denominator convention: 0/0 -> 0%, n>0/0 -> 100%.
		if current.IsZero() {
			percent = 0
		} else if current.IsNegative() {
			percent = -100
		} else {
			percent = 100
		}
	}
	return MetricDelta{Absolute: absolute, Percent: percent, Significant: math.Abs(percent) > significantPercentThreshold}
}

func deltaInt(current, previous int) MetricDelta {
	return delta(money.FromFloat(float64(current)), money.FromFloat(float64(previous)))
}

// deltaNet measures net-cashflow change. Unlike income/expense/count, net
// cashflow may be negative, and a plain change-over-baseline ratio loses
// its sign guarantee when the baseline is a deficit (a -50 -> +100
// recovery would read as -300%). Dividing by the baseline's magnitude
// keeps the percent's sign equal to the actual direction of movement, so
// swapping the periods always flips it.
func deltaNet(current, previous money.Money) MetricDelta {
	absolute := current.Sub(previous)
	baseline := previous
	if baseline.IsNegative() {
		baseline = baseline.Neg()
	}
	var percent float64
	switch {
	case !baseline.IsZero():
		percent = money.SharePercent(absolute, baseline)
	case absolute.IsZero():
		percent = 0
	case absolute.IsNegative():
		percent = -100
	default:
		percent = 100
	}
	return MetricDelta{Absolute: absolute, Percent: percent, Significant: math.Abs(percent) > significantPercentThreshold}
}

func deriveTrend(net MetricDelta) Direction {
	if !net.Significant {
		return Stable
	}
	if net.Absolute.IsPositive() {
		return Improving
	}
	return Declining
}

func summarize(cmp PeriodComparison) (string, []string) {
	summary := fmt.Sprintf("Net cashflow %s by %.1f%% versus the prior period.", directionVerb(cmp.Trend), math.Abs(cmp.NetCashflow.Percent))

	var highlights []string
	if cmp.Income.Significant {
		highlights = append(highlights, fmt.Sprintf("Income changed %.1f%%", cmp.Income.Percent))
	}
	if cmp.Expense.Significant {
		highlights = append(highlights, fmt.Sprintf("Expenses changed %.1f%%", cmp.Expense.Percent))
	}
	if cmp.TransactionCount.Significant {
		highlights = append(highlights, fmt.Sprintf("Transaction volume changed %.1f%%", cmp.TransactionCount.Percent))
	}
	return summary, highlights
}

func directionVerb(d Direction) string {
	switch d {
	case Improving:
		return "improved"
	case Declining:
		return "declined"
	default:
		return "held steady"
	}
}

// TargetStatus classifies actual-vs-target performance for one metric.
type TargetStatus string

const (
	Above   TargetStatus = "above"
	OnTrack TargetStatus = "on-track"
	Below   TargetStatus = "below"
)

// TargetMetric is one metric's actual-vs-target comparison.
type TargetMetric struct {
	Actual money.Money
	Target money.Money
	Delta  MetricDelta
	Status TargetStatus
}

// TargetComparison is the actual-vs-target result for one month.
type TargetComparison struct {
	Revenue         TargetMetric
	Expense         TargetMetric
	Recommendations []string
}

// CompareToTargets compares actuals against targets: revenue and expense
// actuals against monthly_targets, with the expense sign convention (lower
// is better, so a negative variance on expense means "above" target).
func (s *Service) CompareToTargets(ctx context.Context, ownerID string, month time.Time, targetRevenue, targetExpense money.Money) (TargetComparison, error) {
	actual, err := s.monthTotals(ctx, ownerID, month)
	if err != nil {
		return TargetComparison{}, err
	}

	revenue := TargetMetric{Actual: actual.income, Target: targetRevenue, Delta: delta(actual.income, targetRevenue)}
	revenue.Status = statusFor(revenue.Delta, false)

	expense := TargetMetric{Actual: actual.expense, Target: targetExpense, Delta: delta(actual.expense, targetExpense)}
	expense.Status = statusFor(expense.Delta, true)

	cmp := TargetComparison{Revenue: revenue, Expense: expense}
	cmp.Recommendations = targetRecommendations(cmp)
	return cmp, nil
}

func statusFor(d MetricDelta, lowerIsBetter bool) TargetStatus {
	percent := d.Percent
	if lowerIsBetter {
		percent = -percent
	}
	switch {
	case !d.Significant:
		return OnTrack
	case percent > 0:
		return Above
	default:
		return Below
	}
}

func targetRecommendations(cmp TargetComparison) []string {
	var recs []string
	if cmp.Revenue.Status == Below {
		recs = append(recs, "Revenue is trailing the monthly target; review the sales pipeline.")
	}
	if cmp.Expense.Status == Below {
		recs = append(recs, "Expenses are running over the monthly target; review discretionary spend.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Both revenue and expense are tracking within target this month.")
	}
	return recs
}
