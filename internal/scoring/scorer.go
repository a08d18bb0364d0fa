// Package scoring computes the confidence score attached to every anomaly
// candidate before it reaches the gating layer. The scorer is a pure
// function: same Evidence in, same score out, every time.
package scoring

import (
	"fmt"
	"math"
)

// Evidence is the measured basis for a confidence score. Detectors build one
// of these from whatever comparison they run (today-vs-avg7,
// week-vs-prevweek, run-length ratio, variance-vs-target, days-since-active).
type Evidence struct {
	CurrentValue       float64
	BaselineValue      float64
	SampleSize         int
	ExpectedSampleSize int
	DataAgeHours       float64
	DetectorPrior      float64 // [0,10], default 5 when unset
}

// Check is a named, inspectable term in the overall score breakdown.
type Check struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Points      float64 `json:"points"`
	MaxPoints   float64 `json:"max_points"`
	Description string  `json:"description"`
}

// Breakdown is the full, inspectable result of Score.
type Breakdown struct {
	Total  int     `json:"total"`
	Checks []Check `json:"checks"`
}

const (
	maxSignalPoints    = 50
	maxSamplePoints    = 25
	maxFreshnessPoints = 15
	maxPriorPoints     = 10
	freshnessWindowHrs = 15
	epsilon            = 1e-9
)

// Score computes the [0,100] confidence score and its per-term breakdown.
func Score(ev Evidence) (int, Breakdown) {
	signal := signalStrength(ev)
	sample := sampleAdequacy(ev)
	fresh := freshness(ev)
	prior := detectorPrior(ev)

	total := clamp(signal.Points+sample.Points+fresh.Points+prior.Points, 0, 100)

	return int(math.Round(total)), Breakdown{
		Total:  int(math.Round(total)),
		Checks: []Check{signal, sample, fresh, prior},
	}
}

func signalStrength(ev Evidence) Check {
	denom := math.Max(math.Abs(ev.BaselineValue), epsilon)
	ratio := math.Abs(ev.CurrentValue-ev.BaselineValue) / denom
	points := clamp(ratio*maxSignalPoints, 0, maxSignalPoints)
	return Check{
		Name:        "signal_strength",
		Value:       ratio,
		Threshold:   1.0,
		Points:      points,
		MaxPoints:   maxSignalPoints,
		Description: fmt.Sprintf("|current-baseline|/baseline = %.2f", ratio),
	}
}

func sampleAdequacy(ev Evidence) Check {
	expected := ev.ExpectedSampleSize
	if expected <= 0 {
		expected = 7
	}
	ratio := clamp(float64(ev.SampleSize)/float64(expected), 0, 1)
	points := ratio * maxSamplePoints
	return Check{
		Name:        "sample_adequacy",
		Value:       ratio,
		Threshold:   1.0,
		Points:      points,
		MaxPoints:   maxSamplePoints,
		Description: fmt.Sprintf("sampleSize %d / expected %d = %.2f", ev.SampleSize, expected, ratio),
	}
}

func freshness(ev Evidence) Check {
	points := clamp(freshnessWindowHrs-ev.DataAgeHours, 0, maxFreshnessPoints)
	return Check{
		Name:        "data_freshness",
		Value:       ev.DataAgeHours,
		Threshold:   freshnessWindowHrs,
		Points:      points,
		MaxPoints:   maxFreshnessPoints,
		Description: fmt.Sprintf("max(0, %d - %.1fh)", freshnessWindowHrs, ev.DataAgeHours),
	}
}

func detectorPrior(ev Evidence) Check {
	prior := ev.DetectorPrior
	if prior <= 0 {
		prior = 5
	}
	points := clamp(prior, 0, maxPriorPoints)
	return Check{
		Name:        "detector_prior",
		Value:       prior,
		Threshold:   maxPriorPoints,
		Points:      points,
		MaxPoints:   maxPriorPoints,
		Description: fmt.Sprintf("historical precision prior = %.1f", prior),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
