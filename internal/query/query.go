// Package query implements the role-scoped query surface:
// listings and summaries consumed by dashboards, reading exclusively
// through the ledger.Ledger port.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
	"github.com/sawpanic/finengine/internal/trend"
	"github.com/sawpanic/finengine/internal/user"
)

// topTransactionLimit bounds RoleReport.TopTransactions.
const topTransactionLimit = 5

// Summary is the report's aggregate totals.
type Summary struct {
	TotalIncome        money.Money
	TotalExpense       money.Money
	NetCashflow        money.Money
	TransactionCount   int
	AverageTransaction money.Money
}

// CategorySlice is one category's share of the report's totals.
type CategorySlice struct {
	Category       string
	Total          money.Money
	Count          int
	PercentOfTotal float64
}

// Trends carries the day-over-day and week-over-average comparisons
// surfaced alongside a RoleReport.
type Trends struct {
	VsYesterday     trend.MetricDelta
	Vs7DayAverage   trend.MetricDelta
	VsMonthlyTarget *trend.MetricDelta // nil when no target is configured
}

// RoleReport is the result of a role-scoped report query.
type RoleReport struct {
	Role              user.Role
	Summary           Summary
	CategoryBreakdown []CategorySlice
	TopTransactions   []ledger.Transaction
	Trends            Trends
}

// Service answers role-scoped report queries.
type Service struct {
	Ledger  ledger.Ledger
	Clock   clock.Clock
	Trend   *trend.Service
	Targets trendTargetProvider
}

// trendTargetProvider is the narrow slice of detectors.MonthlyTargetProvider
// the query surface needs for the optional vsMonthlyTarget comparison.
type trendTargetProvider interface {
	TargetsForMonth(ctx context.Context, ownerID string, year int, month time.Month) (targetRevenue, targetExpense money.Money, found bool, err error)
}

// New returns a query Service.
func New(led ledger.Ledger, clk clock.Clock, trendSvc *trend.Service, targets trendTargetProvider) *Service {
	return &Service{Ledger: led, Clock: clk, Trend: trendSvc, Targets: targets}
}

// Report answers a Public Query Surface request for role, scoping
// visibility: employee is forced to own transactions, investor
// never sees individual transactions, boss/dev see everything in range.
func (s *Service) Report(ctx context.Context, role user.Role, callerID string, from, to time.Time, ownerFilter string) (RoleReport, error) {
	scopedOwner := ownerFilter
	if role == user.RoleEmployee {
		scopedOwner = callerID
	}

	txns, err := s.Ledger.FindByOwner(ctx, scopedOwner, ledger.ListFilter{From: &from, To: &to, Limit: 10_000})
	if err != nil {
		return RoleReport{}, fmt.Errorf("query: find transactions: %w", err)
	}
	txns = approvedOnly(txns)

	report := RoleReport{Role: role}
	report.Summary = summarize(txns)
	report.CategoryBreakdown = categoryBreakdown(txns, report.Summary)

	if role != user.RoleInvestor {
		report.TopTransactions = topTransactions(txns, topTransactionLimit)
	}

	report.Trends, err = s.computeTrends(ctx, scopedOwner, to)
	if err != nil {
		return RoleReport{}, err
	}

	return report, nil
}

func summarize(txns []ledger.Transaction) Summary {
	var sum Summary
	for _, t := range txns {
		switch t.Kind {
		case ledger.KindIncome:
			sum.TotalIncome = sum.TotalIncome.Add(t.Amount)
		case ledger.KindExpense:
			sum.TotalExpense = sum.TotalExpense.Add(t.Amount)
		}
		sum.TransactionCount++
	}
	sum.NetCashflow = sum.TotalIncome.Sub(sum.TotalExpense)
	if sum.TransactionCount > 0 {
		sum.AverageTransaction = sum.TotalIncome.Add(sum.TotalExpense).MulFrac(1.0 / float64(sum.TransactionCount))
	}
	return sum
}

func categoryBreakdown(txns []ledger.Transaction, summary Summary) []CategorySlice {
	byCategory := map[string]*CategorySlice{}
	var order []string
	for _, t := range txns {
		slice, ok := byCategory[t.Category]
		if !ok {
			slice = &CategorySlice{Category: t.Category}
			byCategory[t.Category] = slice
			order = append(order, t.Category)
		}
		slice.Total = slice.Total.Add(t.Amount)
		slice.Count++
	}

	denominator := summary.TotalIncome.Add(summary.TotalExpense)
	out := make([]CategorySlice, 0, len(order))
	for _, name := range order {
		slice := *byCategory[name]
		slice.PercentOfTotal = money.SharePercent(slice.Total, denominator)
		out = append(out, slice)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total.Float64() > out[j].Total.Float64() })
	return out
}

func topTransactions(txns []ledger.Transaction, limit int) []ledger.Transaction {
	sorted := make([]ledger.Transaction, len(txns))
	copy(sorted, txns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Amount.Float64() > sorted[j].Amount.Float64() })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func (s *Service) computeTrends(ctx context.Context, ownerID string, asOf time.Time) (Trends, error) {
	yesterday := asOf.AddDate(0, 0, -1)
	todayTxns, err := s.Ledger.FindByOwner(ctx, ownerID, ledger.ListFilter{
		From: ptr(s.Clock.StartOfDay(asOf)), To: ptr(s.Clock.EndOfDay(asOf)), Limit: 10_000,
	})
	if err != nil {
		return Trends{}, fmt.Errorf("query: today transactions: %w", err)
	}
	yesterdayTxns, err := s.Ledger.FindByOwner(ctx, ownerID, ledger.ListFilter{
		From: ptr(s.Clock.StartOfDay(yesterday)), To: ptr(s.Clock.EndOfDay(yesterday)), Limit: 10_000,
	})
	if err != nil {
		return Trends{}, fmt.Errorf("query: yesterday transactions: %w", err)
	}

	todayNet := summarize(approvedOnly(todayTxns)).NetCashflow
	yesterdayNet := summarize(approvedOnly(yesterdayTxns)).NetCashflow

	buckets, err := s.Ledger.DayBucketsForRange(ctx, ledger.TimeRange{From: asOf.AddDate(0, 0, -7), To: asOf}, ownerID)
	if err != nil {
		return Trends{}, fmt.Errorf("query: 7-day buckets: %w", err)
	}
	var sum7 money.Money
	for _, b := range buckets {
		sum7 = sum7.Add(b.NetCashflow)
	}
	avg7 := money.Zero
	if len(buckets) > 0 {
		avg7 = sum7.MulFrac(1.0 / float64(len(buckets)))
	}

	trends := Trends{
		VsYesterday:   variance(todayNet, yesterdayNet),
		Vs7DayAverage: variance(todayNet, avg7),
	}

	if s.Targets != nil {
		year, month, _ := asOf.Date()
		targetRevenue, targetExpense, found, err := s.Targets.TargetsForMonth(ctx, ownerID, year, month)
		if err == nil && found {
			target := targetRevenue.Sub(targetExpense)
			v := variance(todayNet, target)
			trends.VsMonthlyTarget = &v
		}
	}

	return trends, nil
}

func variance(current, baseline money.Money) trend.MetricDelta {
	percent, defined := money.VariancePercent(current, baseline)
	if !defined {
		if current.IsZero() {
			percent = 0
		} else {
			percent = 100
		}
	}
	return trend.MetricDelta{Absolute: current.Sub(baseline), Percent: percent, Significant: percent > 15 || percent < -15}
}

// approvedOnly drops pending and rejected rows; report math is only ever
// defined over approved transactions.
func approvedOnly(txns []ledger.Transaction) []ledger.Transaction {
	out := txns[:0:0]
	for _, t := range txns {
		if t.Approval == ledger.ApprovalApproved {
			out = append(out, t)
		}
	}
	return out
}

func ptr(t time.Time) *time.Time { return &t }
