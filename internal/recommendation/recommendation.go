// Package recommendation defines the persisted recommendation contract: the
// output of gating, the input to delivery, and the small per-recommendation
// state machine (generated -> delivered -> acknowledged, or closed/purged).
package recommendation

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/finengine/internal/detectors"
)

// DeliveryState is the terminal state of a single (recommendation, user)
// delivery attempt.
type DeliveryState string

const (
	DeliveryPending          DeliveryState = "pending"
	DeliveryDelivered        DeliveryState = "delivered"
	DeliveryFailed           DeliveryState = "failed"
	DeliverySkippedDismissed DeliveryState = "skipped-dismissed"
)

// Payload mirrors detectors.AnomalyCandidate's human-facing fields, kept as
// its own type so the store package does not import detectors for
// persistence concerns beyond Kind/Priority.
type Payload struct {
	Title            string
	Message          string
	Evidence         detectors.Evidence
	SuggestedActions []string
	ActionRequired   string
	RelatedData      map[string]string
}

// Recommendation is the persisted, role-targeted artifact produced by a
// gating pass.
type Recommendation struct {
	ID               string
	Kind             detectors.Kind
	Priority         detectors.Priority
	Confidence       int
	TargetRoles      []string
	Payload          Payload
	GeneratedAt      time.Time
	DismissedByUsers []string
	AcknowledgedAt   *time.Time
}

// DeliveryAttempt records one (recommendation, user) delivery outcome.
type DeliveryAttempt struct {
	RecommendationID string
	UserID           string
	State            DeliveryState
	RetryCount       int
	LastError        string
	DeliveredAt      *time.Time
}

// CreateInput is the payload accepted by Store.Create.
type CreateInput struct {
	Kind        detectors.Kind
	Priority    detectors.Priority
	Confidence  int
	TargetRoles []string
	Payload     Payload
}

// Stats summarizes recommendation volume over a lookback window.
type Stats struct {
	Total             int
	ByPriority        map[string]int
	ByKind            map[string]int
	AverageConfidence float64
}

var (
	ErrNotFound           = errors.New("recommendation: not found")
	ErrStorageUnavailable = errors.New("recommendation: storage unavailable")
)

// Store is the persistence contract for recommendations and their
// per-user dismissal and acknowledgement state.
type Store interface {
	Create(ctx context.Context, in CreateInput) (*Recommendation, error)
	GetByID(ctx context.Context, id string) (*Recommendation, error)
	RecentForRole(ctx context.Context, role string, limit int, hoursBack int) ([]Recommendation, error)
	UnacknowledgedCritical(ctx context.Context, role string) ([]Recommendation, error)
	MarkAcknowledged(ctx context.Context, id string) error
	DismissForUser(ctx context.Context, id, userID string) error
	IsDismissedBy(ctx context.Context, id, userID string) (bool, error)
	ActiveForUser(ctx context.Context, userID, role string, limit int) ([]Recommendation, error)
	HasRecent(ctx context.Context, kind detectors.Kind, withinMinutes int) (bool, error)
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
	Statistics(ctx context.Context, hoursBack int) (Stats, error)

	// PendingDelivery returns recommendations generated within the last
	// maxAgeMinutes that have not yet been acknowledged, the input
	// to DeliverPending's worker-pool sweep.
	PendingDelivery(ctx context.Context, maxAgeMinutes int) ([]Recommendation, error)
	// RecordDeliveryAttempt persists one (recommendation, user) delivery
	// outcome. Implementations upsert on (recommendationID, userID).
	RecordDeliveryAttempt(ctx context.Context, attempt DeliveryAttempt) error
}

// KindTargetRoles maps a recommendation kind to its target audience roles.
func KindTargetRoles(kind detectors.Kind) []string {
	switch kind {
	case detectors.KindTargetVariance:
		return []string{"boss", "dev", "investor"}
	case detectors.KindExpenseSpike, detectors.KindRevenueDecline, detectors.KindCashflowWarning, detectors.KindEmployeeInactivity:
		return []string{"boss", "dev"}
	default:
		return []string{"boss", "dev"}
	}
}
