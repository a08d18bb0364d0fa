// Package engine runs the anomaly-detection cycle: fan out the detectors,
// gate their candidates, and persist the survivors as recommendations.
package engine

import (
	"context"
	"fmt"

	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/recommendation"
)

// GatingPolicy holds the three gating knobs applied between detection and
// persistence. Every rule reports a named, inspectable pass/fail so a
// rejected candidate's reason is never a mystery.
type GatingPolicy struct {
	MinConfidenceScore         int
	CriticalPriorityRequired   bool
	DeduplicationWindowMinutes int
}

// CriticalOnlyPolicy is the default preset.
func CriticalOnlyPolicy() GatingPolicy {
	return GatingPolicy{MinConfidenceScore: 80, CriticalPriorityRequired: true, DeduplicationWindowMinutes: 60}
}

// RelaxedPolicy allows non-critical candidates through with a lower floor
// and a wider dedup window.
func RelaxedPolicy() GatingPolicy {
	return GatingPolicy{MinConfidenceScore: 60, CriticalPriorityRequired: false, DeduplicationWindowMinutes: 120}
}

// NoGatingPolicy disables every gate; used for diagnostics and tests.
func NoGatingPolicy() GatingPolicy {
	return GatingPolicy{MinConfidenceScore: 0, CriticalPriorityRequired: false, DeduplicationWindowMinutes: 0}
}

// GateCheck records a single gating rule's outcome against one candidate.
type GateCheck struct {
	Name        string
	Passed      bool
	Value       interface{}
	Threshold   interface{}
	Description string
}

// gateResult is the outcome of applying a GatingPolicy to one candidate.
type gateResult struct {
	Passed bool
	Checks []GateCheck
}

func applyGates(ctx context.Context, policy GatingPolicy, cand *detectors.AnomalyCandidate, store recommendation.Store) (gateResult, error) {
	var checks []GateCheck

	confidenceCheck := GateCheck{
		Name:        "confidence_floor",
		Value:       cand.Confidence,
		Threshold:   policy.MinConfidenceScore,
		Description: fmt.Sprintf("confidence %d >= %d", cand.Confidence, policy.MinConfidenceScore),
	}
	confidenceCheck.Passed = cand.Confidence >= policy.MinConfidenceScore
	checks = append(checks, confidenceCheck)
	if !confidenceCheck.Passed {
		return gateResult{Passed: false, Checks: checks}, nil
	}

	priorityCheck := GateCheck{
		Name:        "priority_floor",
		Value:       string(cand.Priority),
		Threshold:   "critical",
		Description: "critical priority required",
	}
	priorityCheck.Passed = !policy.CriticalPriorityRequired || cand.Priority == detectors.PriorityCritical
	checks = append(checks, priorityCheck)
	if !priorityCheck.Passed {
		return gateResult{Passed: false, Checks: checks}, nil
	}

	dedupCheck := GateCheck{
		Name:        "deduplication",
		Threshold:   policy.DeduplicationWindowMinutes,
		Description: fmt.Sprintf("no prior %s within %d minutes", cand.Kind, policy.DeduplicationWindowMinutes),
	}
	if policy.DeduplicationWindowMinutes > 0 {
		recent, err := store.HasRecent(ctx, cand.Kind, policy.DeduplicationWindowMinutes)
		if err != nil {
			return gateResult{}, fmt.Errorf("gating: dedup check: %w", err)
		}
		dedupCheck.Value = recent
		dedupCheck.Passed = !recent
	} else {
		dedupCheck.Value = false
		dedupCheck.Passed = true
	}
	checks = append(checks, dedupCheck)

	return gateResult{Passed: dedupCheck.Passed, Checks: checks}, nil
}
