// Package dispatcher implements the delivery dispatcher: resolves a
// recommendation's target audience, renders and sends one message per
// active user, and records the outcome of each attempt.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/finengine/internal/audit"
	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/net/ratelimit"
	"github.com/sawpanic/finengine/internal/notifier"
	"github.com/sawpanic/finengine/internal/recommendation"
	"github.com/sawpanic/finengine/internal/user"
)

// defaultSendTimeout bounds a single Notifier.Send call.
const defaultSendTimeout = 10 * time.Second

// UserResult is one (recommendation, user) delivery outcome, part of the
// per-user breakdown a Dispatch call returns.
type UserResult struct {
	UserID    string
	Contact   string
	State     recommendation.DeliveryState
	LastError string
}

// Result is the aggregate return value of Dispatch for one recommendation.
type Result struct {
	RecommendationID string
	TotalUsers       int
	Delivered        int
	Failed           int
	PerUserResults   []UserResult
}

// BatchResult aggregates a DeliverPending sweep across many recommendations.
type BatchResult struct {
	Attempted int
	Results   []Result
	Errors    []error
}

// MetricsSink receives best-effort delivery telemetry. A nil
// Dispatcher.Metrics skips every call.
type MetricsSink interface {
	ObserveDelivery(state recommendation.DeliveryState)
}

// Dispatcher wires together the audience directory, the outbound Notifier
// (behind a process-wide circuit breaker and a per-contact rate limiter),
// the recommendation Store, and the audit stream.
type Dispatcher struct {
	Store     recommendation.Store
	Directory user.Directory
	Notifier  notifier.Notifier
	Audit     audit.Sink
	Clock     clock.Clock
	Log       zerolog.Logger
	Metrics   MetricsSink

	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker

	// workerPoolSize bounds concurrency inside DeliverPending.
	workerPoolSize int
}

// New builds a Dispatcher. rateCapacity/ratePerMinute configure the
// per-contact token bucket (default: capacity 15, refill 15/60s).
func New(store recommendation.Store, directory user.Directory, notify notifier.Notifier, sink audit.Sink, clk clock.Clock, log zerolog.Logger, rateCapacity, ratePerMinute, workerPoolSize int) *Dispatcher {
	if workerPoolSize <= 0 {
		workerPoolSize = 4
	}

	settings := gobreaker.Settings{
		Name:        "notifier",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Dispatcher{
		Store:          store,
		Directory:      directory,
		Notifier:       notify,
		Audit:          sink,
		Clock:          clk,
		Log:            log,
		limiter:        ratelimit.NewPerMinuteLimiter(rateCapacity, ratePerMinute),
		breaker:        gobreaker.NewCircuitBreaker(settings),
		workerPoolSize: workerPoolSize,
	}
}

// Dispatch delivers a single recommendation id to its audience.
func (d *Dispatcher) Dispatch(ctx context.Context, recommendationID string) (Result, error) {
	rec, err := d.Store.GetByID(ctx, recommendationID)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: lookup recommendation: %w", err)
	}

	audience, err := d.Directory.ActiveByRoles(ctx, rec.TargetRoles)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: resolve audience: %w", err)
	}
	sort.Slice(audience, func(i, j int) bool { return audience[i].ID < audience[j].ID })

	result := Result{RecommendationID: recommendationID, TotalUsers: len(audience)}

	for _, u := range audience {
		ur := d.deliverToUser(ctx, recommendationID, *rec, u)
		if d.Metrics != nil {
			d.Metrics.ObserveDelivery(ur.State)
		}
		result.PerUserResults = append(result.PerUserResults, ur)
		switch ur.State {
		case recommendation.DeliveryDelivered, recommendation.DeliverySkippedDismissed:
			result.Delivered++
		default:
			result.Failed++
		}
	}

	if result.Delivered >= 1 {
		if err := d.Store.MarkAcknowledged(ctx, recommendationID); err != nil {
			d.Log.Warn().Err(err).Str("recommendation_id", recommendationID).Msg("failed to mark recommendation acknowledged")
		}
		d.emit(ctx, "recommendation.acknowledged", "dispatcher", recommendationID, "recommendation", nil)
	}

	return result, nil
}

func (d *Dispatcher) deliverToUser(ctx context.Context, recommendationID string, rec recommendation.Recommendation, u user.User) UserResult {
	ur := UserResult{UserID: u.ID, Contact: u.Contact}

	dismissed, err := d.Store.IsDismissedBy(ctx, recommendationID, u.ID)
	if err != nil {
		ur.State = recommendation.DeliveryFailed
		ur.LastError = err.Error()
		d.recordAttempt(ctx, recommendationID, ur)
		return ur
	}
	if dismissed {
		ur.State = recommendation.DeliverySkippedDismissed
		d.recordAttempt(ctx, recommendationID, ur)
		return ur
	}

	if !d.limiter.Allow(u.Contact) {
		ur.State = recommendation.DeliveryFailed
		ur.LastError = notifier.ErrThrottled.Error()
		d.recordAttempt(ctx, recommendationID, ur)
		d.emit(ctx, "delivery.throttled", "dispatcher", recommendationID, "recommendation", map[string]string{"user_id": u.ID})
		return ur
	}

	body := renderMessage(recommendationID, rec)

	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	_, err = d.breaker.Execute(func() (interface{}, error) {
		return nil, d.Notifier.Send(sendCtx, u.Contact, body)
	})

	if err != nil {
		ur.State = recommendation.DeliveryFailed
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			ur.LastError = notifier.ErrTransport.Error()
		} else {
			ur.LastError = err.Error()
		}
		d.recordAttempt(ctx, recommendationID, ur)
		d.emit(ctx, "delivery.failed", "dispatcher", recommendationID, "recommendation", map[string]string{"user_id": u.ID, "error": ur.LastError})
		return ur
	}

	now := d.Clock.Now()
	ur.State = recommendation.DeliveryDelivered
	d.recordAttemptWithTime(ctx, recommendationID, ur, &now)
	d.emit(ctx, "delivery.sent", "dispatcher", recommendationID, "recommendation", map[string]string{"user_id": u.ID})
	return ur
}

func (d *Dispatcher) recordAttempt(ctx context.Context, recommendationID string, ur UserResult) {
	d.recordAttemptWithTime(ctx, recommendationID, ur, nil)
}

func (d *Dispatcher) recordAttemptWithTime(ctx context.Context, recommendationID string, ur UserResult, deliveredAt *time.Time) {
	attempt := recommendation.DeliveryAttempt{
		RecommendationID: recommendationID,
		UserID:           ur.UserID,
		State:            ur.State,
		LastError:        ur.LastError,
		DeliveredAt:      deliveredAt,
	}
	if err := d.Store.RecordDeliveryAttempt(ctx, attempt); err != nil {
		d.Log.Warn().Err(err).Str("recommendation_id", recommendationID).Str("user_id", ur.UserID).Msg("failed to record delivery attempt")
	}
}

func (d *Dispatcher) emit(ctx context.Context, action, actor, target, entityType string, details map[string]string) {
	detailsJSON, _ := json.Marshal(details)
	ev := audit.Event{
		Action:      action,
		Actor:       actor,
		Target:      target,
		EntityType:  entityType,
		DetailsJSON: detailsJSON,
		Timestamp:   d.Clock.Now(),
	}
	if err := d.Audit.Emit(ctx, ev); err != nil {
		d.Log.Warn().Err(err).Str("action", action).Msg("audit emission failed, discarding")
	}
}

// DeliverPending sweeps PendingDelivery and dispatches each recommendation
// through a bounded worker pool. A failure dispatching one
// recommendation does not abort the batch.
func (d *Dispatcher) DeliverPending(ctx context.Context, maxAgeMinutes int) BatchResult {
	if maxAgeMinutes <= 0 {
		maxAgeMinutes = 60
	}

	pending, err := d.Store.PendingDelivery(ctx, maxAgeMinutes)
	if err != nil {
		return BatchResult{Errors: []error{fmt.Errorf("deliver pending: %w", err)}}
	}

	type outcome struct {
		result Result
		err    error
	}

	jobs := make(chan string)
	outcomes := make(chan outcome, len(pending))

	workers := d.workerPoolSize
	if workers > len(pending) {
		workers = len(pending)
	}
	if workers == 0 {
		return BatchResult{Attempted: 0}
	}

	for i := 0; i < workers; i++ {
		go func() {
			for id := range jobs {
				res, err := d.Dispatch(ctx, id)
				outcomes <- outcome{result: res, err: err}
			}
		}()
	}

	go func() {
		for _, rec := range pending {
			jobs <- rec.ID
		}
		close(jobs)
	}()

	batch := BatchResult{Attempted: len(pending)}
	for i := 0; i < len(pending); i++ {
		o := <-outcomes
		if o.err != nil {
			batch.Errors = append(batch.Errors, o.err)
			continue
		}
		batch.Results = append(batch.Results, o.result)
	}
	return batch
}
