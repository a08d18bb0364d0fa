package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/finengine/internal/audit"
	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/recommendation"
)

// CycleDeadline bounds one orchestrator run; exceeding it aborts outstanding
// detectors and returns whatever was produced, flagged Partial.
const CycleDeadline = 30 * time.Second

// CreatedRecommendation is the minimal shape surfaced in a CycleResult.
type CreatedRecommendation struct {
	ID         string
	Kind       detectors.Kind
	Priority   detectors.Priority
	Confidence int
}

// CycleResult is the return value of one Run call.
type CycleResult struct {
	Detected int
	Gated    int
	Created  int
	List     []CreatedRecommendation
	Partial  bool
}

// MonthlyTargetProvider is re-exported here so callers wiring the
// Orchestrator do not need to import internal/detectors directly for this
// one type.
type MonthlyTargetProvider = detectors.MonthlyTargetProvider

// EmployeeActivityLookup is re-exported for the same reason.
type EmployeeActivityLookup = detectors.EmployeeActivityLookup

// MetricsSink receives best-effort cycle telemetry (the Prometheus
// counters/histograms). A nil Orchestrator.Metrics skips every call, so
// wiring it is optional and never required for correctness.
type MetricsSink interface {
	ObserveCycle(duration time.Duration, detected, gated, created int, partial bool)
	ObserveDetection(kind detectors.Kind)
	ObserveGateRejection(kind detectors.Kind, reason string)
}

// Orchestrator runs detection cycles. It is stateless: all persistence goes
// through the injected Store, so a cycle's isolation is per-invocation.
type Orchestrator struct {
	Ledger      ledger.Ledger
	Store       recommendation.Store
	Clock       clock.Clock
	Targets     MonthlyTargetProvider
	Activity    EmployeeActivityLookup
	DetectorCfg detectors.Config
	Log         zerolog.Logger
	Metrics     MetricsSink
	Audit       audit.Sink
}

type detectorJob struct {
	name string
	run  func(ctx context.Context) (*detectors.AnomalyCandidate, error)
}

// Run executes one cycle: fan out the automatic detectors
// concurrently, gate each candidate, persist survivors.
func (o *Orchestrator) Run(ctx context.Context, policy GatingPolicy, ownerID string) CycleResult {
	started := o.clockNow()
	ctx, cancel := context.WithTimeout(ctx, CycleDeadline)
	defer cancel()

	jobs := []detectorJob{
		{"expense_spike", func(ctx context.Context) (*detectors.AnomalyCandidate, error) {
			return detectors.ExpenseSpike(ctx, o.Ledger, o.Clock, ownerID, o.DetectorCfg)
		}},
		{"revenue_decline", func(ctx context.Context) (*detectors.AnomalyCandidate, error) {
			return detectors.RevenueDecline(ctx, o.Ledger, o.Clock, ownerID, o.DetectorCfg)
		}},
		{"cashflow_warning", func(ctx context.Context) (*detectors.AnomalyCandidate, error) {
			return detectors.ConsecutiveNegativeCashflow(ctx, o.Ledger, o.Clock, ownerID, o.DetectorCfg)
		}},
	}
	if o.Activity != nil {
		jobs = append(jobs, detectorJob{"employee_inactivity", func(ctx context.Context) (*detectors.AnomalyCandidate, error) {
			return detectors.EmployeeInactivity(ctx, o.Activity, o.Clock, ownerID, o.DetectorCfg)
		}})
	}
	if o.Targets != nil {
		jobs = append(jobs, detectorJob{"target_variance", func(ctx context.Context) (*detectors.AnomalyCandidate, error) {
			return detectors.MonthlyTargetVariance(ctx, o.Ledger, o.Clock, o.Targets, ownerID, o.DetectorCfg)
		}})
	}

	candidates := o.runDetectors(ctx, jobs)

	result := CycleResult{Detected: len(candidates)}
	if ctx.Err() != nil {
		result.Partial = true
	}

	for _, cand := range candidates {
		cand := cand
		if o.Metrics != nil {
			o.Metrics.ObserveDetection(cand.Kind)
		}
		gate, err := applyGates(ctx, policy, cand, o.Store)
		if err != nil {
			o.Log.Warn().Err(err).Str("kind", string(cand.Kind)).Msg("gating check failed, skipping candidate")
			continue
		}
		if !gate.Passed {
			result.Gated++
			if o.Metrics != nil {
				o.Metrics.ObserveGateRejection(cand.Kind, failedCheckName(gate))
			}
			continue
		}

		rec, err := o.Store.Create(ctx, recommendation.CreateInput{
			Kind:        cand.Kind,
			Priority:    cand.Priority,
			Confidence:  cand.Confidence,
			TargetRoles: recommendation.KindTargetRoles(cand.Kind),
			Payload: recommendation.Payload{
				Title:            cand.Title,
				Message:          cand.Message,
				Evidence:         cand.Evidence,
				SuggestedActions: cand.SuggestedActions,
				ActionRequired:   cand.ActionRequired,
				RelatedData:      cand.RelatedData,
			},
		})
		if err != nil {
			o.Log.Error().Err(err).Str("kind", string(cand.Kind)).Msg("failed to persist recommendation")
			continue
		}

		result.Created++
		result.List = append(result.List, CreatedRecommendation{
			ID: rec.ID, Kind: rec.Kind, Priority: rec.Priority, Confidence: rec.Confidence,
		})
		o.emitGenerated(ctx, rec)
	}

	if o.Metrics != nil {
		o.Metrics.ObserveCycle(o.clockNow().Sub(started), result.Detected, result.Gated, result.Created, result.Partial)
	}

	return result
}

// emitGenerated records the GENERATED transition on the audit stream.
// Emission failure is logged and discarded.
func (o *Orchestrator) emitGenerated(ctx context.Context, rec *recommendation.Recommendation) {
	if o.Audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{
		"kind":     string(rec.Kind),
		"priority": string(rec.Priority),
	})
	ev := audit.Event{
		Action:      "recommendation.generated",
		Actor:       "orchestrator",
		Target:      rec.ID,
		EntityType:  "recommendation",
		DetailsJSON: details,
		Timestamp:   o.clockNow(),
	}
	if err := o.Audit.Emit(ctx, ev); err != nil {
		o.Log.Warn().Err(err).Str("recommendation_id", rec.ID).Msg("audit emission failed, discarding")
	}
}

func (o *Orchestrator) clockNow() time.Time {
	if o.Clock == nil {
		return time.Now()
	}
	return o.Clock.Now()
}

// failedCheckName returns the name of the first failed GateCheck in gate,
// the "reason" a Prometheus gate-rejection counter is labeled with.
func failedCheckName(gate gateResult) string {
	for _, c := range gate.Checks {
		if !c.Passed {
			return c.Name
		}
	}
	return "unknown"
}

// runDetectors fans out the given jobs concurrently, collecting non-nil
// candidates and logging per-detector errors without aborting the cycle.
func (o *Orchestrator) runDetectors(ctx context.Context, jobs []detectorJob) []*detectors.AnomalyCandidate {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		found []*detectors.AnomalyCandidate
	)

	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			cand, err := job.run(ctx)
			if err != nil {
				o.Log.Warn().Err(err).Str("detector", job.name).Msg("detector error, treating as no anomaly")
				return
			}
			if cand == nil {
				return
			}
			mu.Lock()
			found = append(found, cand)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return found
}
