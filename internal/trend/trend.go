// Package trend implements the 90-day trend, weekly trend, and period/target
// comparison views used by dashboards and reports. All computation
// reads exclusively through the ledger.Ledger port; trend has no storage of
// its own.
package trend

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
)

// sparklineGlyphs are the 8 block-height glyphs min-max normalization maps a
// sample onto, lowest to highest.
var sparklineGlyphs = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// maxSparklinePoints bounds the sampled sparkline series.
const maxSparklinePoints = 50

// DayPoint is one calendar day's net-cashflow sample, the unit the
// sparkline and peak/lowest calculations operate over.
type DayPoint struct {
	Day         time.Time
	NetCashflow money.Money
}

// Report is the 90-day trend result.
type Report struct {
	From, To             time.Time
	TotalIncome          money.Money
	TotalExpense         money.Money
	TotalNet             money.Money
	AverageDailyIncome   money.Money
	AverageDailyExpense  money.Money
	IncomeGrowthPercent  float64
	ExpenseGrowthPercent float64
	ProfitMarginTrend    float64
	IncomeVolatility     float64
	ExpenseVolatility    float64
	Sparkline            string
	PeakDay              time.Time
	PeakNetCashflow      money.Money
	LowestDay            time.Time
	LowestNetCashflow    money.Money
}

// WeeklyGrouping is one 7-day window of a 13-week trend.
type WeeklyGrouping struct {
	WeekStart    time.Time
	TotalIncome  money.Money
	TotalExpense money.Money
	NetCashflow  money.Money
}

// Service computes trend and comparison reports against a Ledger.
type Service struct {
	Ledger ledger.Ledger
	Clock  clock.Clock
}

// New returns a trend Service.
func New(led ledger.Ledger, clk clock.Clock) *Service {
	return &Service{Ledger: led, Clock: clk}
}

// NinetyDayTrend builds the 90-day trend for ownerID ("" for all
// owners), ending on endDate inclusive.
func (s *Service) NinetyDayTrend(ctx context.Context, ownerID string, endDate time.Time) (Report, error) {
	from := s.Clock.StartOfDay(endDate.AddDate(0, 0, -89))
	to := s.Clock.EndOfDay(endDate)

	buckets, err := s.Ledger.DayBucketsForRange(ctx, ledger.TimeRange{From: from, To: to}, ownerID)
	if err != nil {
		return Report{}, fmt.Errorf("trend: day buckets: %w", err)
	}
	if len(buckets) == 0 {
		return Report{From: from, To: to}, nil
	}

	report := Report{From: from, To: to}
	var incomeSeries, expenseSeries, netSeries []float64

	for _, b := range buckets {
		report.TotalIncome = report.TotalIncome.Add(b.TotalIncome)
		report.TotalExpense = report.TotalExpense.Add(b.TotalExpense)
		incomeSeries = append(incomeSeries, b.TotalIncome.Float64())
		expenseSeries = append(expenseSeries, b.TotalExpense.Float64())
		netSeries = append(netSeries, b.NetCashflow.Float64())
	}
	report.TotalNet = report.TotalIncome.Sub(report.TotalExpense)

	n := len(buckets)
	report.AverageDailyIncome = report.TotalIncome.MulFrac(1.0 / float64(n))
	report.AverageDailyExpense = report.TotalExpense.MulFrac(1.0 / float64(n))

	firstWeek, lastWeek := weekBounds(n)
	report.IncomeGrowthPercent = growthPercent(sumRange(incomeSeries, firstWeek), sumRange(incomeSeries, lastWeek))
	report.ExpenseGrowthPercent = growthPercent(sumRange(expenseSeries, firstWeek), sumRange(expenseSeries, lastWeek))
	report.ProfitMarginTrend = marginTrend(incomeSeries, expenseSeries, firstWeek, lastWeek)

	report.IncomeVolatility = populationStdDev(incomeSeries)
	report.ExpenseVolatility = populationStdDev(expenseSeries)

	report.Sparkline = buildSparkline(netSeries)

	peakIdx, lowestIdx := peakAndLowest(netSeries)
	report.PeakDay = buckets[peakIdx].Day
	report.PeakNetCashflow = buckets[peakIdx].NetCashflow
	report.LowestDay = buckets[lowestIdx].Day
	report.LowestNetCashflow = buckets[lowestIdx].NetCashflow

	return report, nil
}

// WeeklyTrend groups the 90-day window into 13 consecutive 7-day buckets.
func (s *Service) WeeklyTrend(ctx context.Context, ownerID string, endDate time.Time) ([]WeeklyGrouping, error) {
	from := s.Clock.StartOfDay(endDate.AddDate(0, 0, -90))
	to := s.Clock.EndOfDay(endDate)

	buckets, err := s.Ledger.DayBucketsForRange(ctx, ledger.TimeRange{From: from, To: to}, ownerID)
	if err != nil {
		return nil, fmt.Errorf("trend: weekly day buckets: %w", err)
	}

	var weeks []WeeklyGrouping
	for i := 0; i < len(buckets); i += 7 {
		end := i + 7
		if end > len(buckets) {
			end = len(buckets)
		}
		group := WeeklyGrouping{WeekStart: buckets[i].Day}
		for _, b := range buckets[i:end] {
			group.TotalIncome = group.TotalIncome.Add(b.TotalIncome)
			group.TotalExpense = group.TotalExpense.Add(b.TotalExpense)
		}
		group.NetCashflow = group.TotalIncome.Sub(group.TotalExpense)
		weeks = append(weeks, group)
		if len(weeks) == 13 {
			break
		}
	}
	return weeks, nil
}

func weekBounds(n int) (first, last [2]int) {
	weekSize := 7
	if n < weekSize {
		weekSize = n
	}
	return [2]int{0, weekSize}, [2]int{n - weekSize, n}
}

func sumRange(series []float64, bounds [2]int) float64 {
	var sum float64
	for _, v := range series[bounds[0]:bounds[1]] {
		sum += v
	}
	return sum
}

func growthPercent(first, last float64) float64 {
	if first == 0 {
		if last == 0 {
			return 0
		}
		return 100
	}
	return (last - first) / first * 100
}

func marginTrend(income, expense []float64, firstWeek, lastWeek [2]int) float64 {
	firstIncome := sumRange(income, firstWeek)
	firstExpense := sumRange(expense, firstWeek)
	lastIncome := sumRange(income, lastWeek)
	lastExpense := sumRange(expense, lastWeek)

	firstMargin := margin(firstIncome, firstExpense)
	lastMargin := margin(lastIncome, lastExpense)
	return lastMargin - firstMargin
}

func margin(income, expense float64) float64 {
	if income == 0 {
		return 0
	}
	return (income - expense) / income * 100
}

func populationStdDev(series []float64) float64 {
	n := len(series)
	if n == 0 {
		return 0
	}
	var mean float64
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)

	var variance float64
	for _, v := range series {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	return math.Sqrt(variance)
}

// buildSparkline samples at most maxSparklinePoints evenly spaced points
// from series and maps each to one of 8 glyphs by min-max normalization. A
// flat series (min == max) renders every sample at the mid-level glyph.
func buildSparkline(series []float64) string {
	if len(series) == 0 {
		return ""
	}
	samples := sample(series, maxSparklinePoints)

	min, max := samples[0], samples[0]
	for _, v := range samples {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	glyphs := make([]rune, len(samples))
	for i, v := range samples {
		if max == min {
			glyphs[i] = sparklineGlyphs[len(sparklineGlyphs)/2]
			continue
		}
		normalized := (v - min) / (max - min)
		idx := int(normalized * float64(len(sparklineGlyphs)-1))
		glyphs[i] = sparklineGlyphs[idx]
	}
	return string(glyphs)
}

func sample(series []float64, maxPoints int) []float64 {
	if len(series) <= maxPoints {
		return series
	}
	out := make([]float64, 0, maxPoints)
	step := float64(len(series)-1) / float64(maxPoints-1)
	for i := 0; i < maxPoints; i++ {
		idx := int(math.Round(float64(i) * step))
		out = append(out, series[idx])
	}
	return out
}

// peakAndLowest returns the indices of the maximum and minimum values,
// breaking ties in favor of the later (higher-index, i.e. more recent) day.
func peakAndLowest(series []float64) (peakIdx, lowestIdx int) {
	peakIdx, lowestIdx = 0, 0
	for i, v := range series {
		if v >= series[peakIdx] {
			peakIdx = i
		}
		if v <= series[lowestIdx] {
			lowestIdx = i
		}
	}
	return peakIdx, lowestIdx
}
