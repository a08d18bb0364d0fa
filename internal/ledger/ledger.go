// Package ledger defines the read/write contract over financial
// transactions that the anomaly Engine is built against. Aggregation math
// elsewhere in the Engine is only ever defined in terms of this contract,
// never against a concrete storage engine.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/sawpanic/finengine/internal/money"
)

// Kind distinguishes the two transaction directions.
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// ApprovalStatus tracks a transaction through the (out-of-scope) approval
// workflow. Only Approved transactions feed the anomaly Engine.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Role mirrors the User.role enumeration; the ledger needs it only for edit
// permission checks, not for ownership of the concept.
type Role string

const (
	RoleDev      Role = "dev"
	RoleBoss     Role = "boss"
	RoleEmployee Role = "employee"
	RoleInvestor Role = "investor"
)

// Transaction is a single ledger record. Amount is strictly positive on
// creation, Version increments by exactly one per accepted mutation, and
// soft deletion zeroes the amount while preserving the row.
type Transaction struct {
	ID             string
	OwnerID        string
	Kind           Kind
	Category       string
	Amount         money.Money
	Description    string
	EventTimestamp time.Time
	Approval       ApprovalStatus
	ApprovedBy     *string
	ApprovedAt     *time.Time
	Version        int
	ArchivedAt     *time.Time
}

// DeletionMarkerPrefix is prepended to the description of a soft-deleted
// transaction. Aggregations exclude soft-deleted rows automatically because
// their amount is zeroed, not because of this marker; the marker exists
// purely for the audit trail.
const DeletionMarkerPrefix = "[DELETED by %s: %s] "

// DailyBucket is derived, never stored: one calendar day's aggregate over
// approved transactions in the operating timezone.
type DailyBucket struct {
	Day              time.Time // instant the bucket's calendar day begins in the operating timezone
	TotalIncome      money.Money
	TotalExpense     money.Money
	NetCashflow      money.Money
	TransactionCount int
}

// TimeRange is an inclusive [From, To] UTC instant window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// CategoryEntry validates that a transaction's category/kind pair is legal.
type CategoryEntry struct {
	Name   string
	Kind   Kind
	Active bool
}

// CategoryCatalog resolves category names to their catalog entry.
type CategoryCatalog interface {
	Lookup(ctx context.Context, name string) (CategoryEntry, bool, error)
}

// Errors returned by Ledger implementations. Callers type-switch with
// errors.Is against these sentinels; they are never wrapped away.
var (
	ErrNotFound               = errors.New("ledger: transaction not found")
	ErrVersionConflict        = errors.New("ledger: version conflict")
	ErrConcurrentModification = errors.New("ledger: concurrent modification, retries exhausted")
	ErrDuplicateTransaction   = errors.New("ledger: duplicate transaction")
	ErrEditForbidden          = errors.New("ledger: edit forbidden")
	ErrValidation             = errors.New("ledger: validation failed")
	ErrStorageUnavailable     = errors.New("ledger: storage unavailable")
)

// MaxAmount is the default ceiling on a transaction's amount; overridable
// through configuration.
const MaxAmount = 500_000_000
const MaxDescriptionLen = 100

// ListFilter narrows FindByOwner.
type ListFilter struct {
	From   *time.Time
	To     *time.Time
	Kind   *Kind
	Limit  int
	Offset int
}

// CreateInput is the payload accepted by Create.
type CreateInput struct {
	OwnerID     string
	Kind        Kind
	Category    string
	Amount      money.Money
	Description string
	Approval    ApprovalStatus
	ApprovedBy  *string
}

// Patch carries the mutable fields of an edit or soft-delete.
type Patch struct {
	Amount      *money.Money
	Category    *string
	Description *string
	Approval    *ApprovalStatus
}

// Ledger is the Engine's read/write contract over transactions.
type Ledger interface {
	FindByID(ctx context.Context, id string) (*Transaction, error)
	FindByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]Transaction, error)
	DayBucketsForRange(ctx context.Context, r TimeRange, ownerID string) ([]DailyBucket, error)
	SumOver(ctx context.Context, kind Kind, r TimeRange, ownerID string) (money.Money, error)
	Create(ctx context.Context, in CreateInput) (*Transaction, error)
	UpdateWithVersion(ctx context.Context, id string, expectedVersion int, patch Patch) (*Transaction, error)
	UpdateWithRetry(ctx context.Context, id string, patch Patch, maxAttempts int) (*Transaction, error)
	SoftDelete(ctx context.Context, id, actor, reason string) (*Transaction, error)
}

// Validate enforces amount bounds and description shape. Category/kind
// agreement is checked separately against the CategoryCatalog because it
// requires a lookup.
func Validate(amount money.Money, description string, maxAmount float64) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if maxAmount <= 0 {
		maxAmount = MaxAmount
	}
	if amount.Float64() > maxAmount {
		return fmt.Errorf("%w: amount exceeds maximum of %.2f", ErrValidation, maxAmount)
	}
	if len(description) > MaxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrValidation, MaxDescriptionLen)
	}
	for _, r := range description {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: description contains control bytes", ErrValidation)
		}
	}
	return nil
}

// ValidateCategory enforces that a category exists, is active, and its kind
// matches the transaction's kind.
func ValidateCategory(entry CategoryEntry, found bool, kind Kind) error {
	if !found {
		return fmt.Errorf("%w: unknown category", ErrValidation)
	}
	if !entry.Active {
		return fmt.Errorf("%w: category %q is inactive", ErrValidation, entry.Name)
	}
	if entry.Kind != kind {
		return fmt.Errorf("%w: category %q is %s, transaction is %s", ErrValidation, entry.Name, entry.Kind, kind)
	}
	return nil
}

// CanEdit implements the edit-permission matrix: age and role decide.
func CanEdit(role Role, isOwner bool, daysDiff int) (bool, string) {
	switch role {
	case RoleDev:
		return true, ""
	case RoleBoss:
		if daysDiff <= 7 {
			return true, ""
		}
		return false, "boss may only edit transactions up to 7 days old"
	case RoleEmployee:
		if isOwner && daysDiff == 0 {
			return true, ""
		}
		if !isOwner {
			return false, "employee may not edit another user's transaction"
		}
		return false, "employee may only edit same-day transactions"
	default:
		if isOwner && daysDiff == 0 {
			return true, ""
		}
		return false, "owner may only edit same-day transactions"
	}
}
