// Package approval implements the manager sign-off workflow for sensitive
// financial corrections.
package approval

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/hospitality-core/internal/apperr"
	"github.com/xenking/hospitality-core/internal/domain/auth"
)

// DefaultTTL is how long a request stays reviewable when no TTL is configured.
const DefaultTTL = 24 * time.Hour

const (
	maxDescription = 500
	maxReason      = 1000
	maxNotes       = 1000

	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Type is the kind of action a request asks to perform.
type Type string

const (
	TypeRefund          Type = "refund"
	TypeDiscount        Type = "discount"
	TypeVoid            Type = "void"
	TypeOverride        Type = "override"
	TypePriceAdjustment Type = "price_adjustment"
	TypeComp            Type = "comp"
)

func (t Type) Valid() bool {
	switch t {
	case TypeRefund, TypeDiscount, TypeVoid, TypeOverride, TypePriceAdjustment, TypeComp:
		return true
	}
	return false
}

// Status is the review state of a request. Approved and rejected are final.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ReferenceOrder is the reference type of requests that act on an order.
const ReferenceOrder = "order"

// Request is a staff request awaiting, or carrying, a manager decision.
type Request struct {
	ID             string
	Type           Type
	Amount         *decimal.Decimal
	OriginalAmount *decimal.Decimal
	Percentage     *decimal.Decimal
	Description    string
	Reason         string
	ReferenceType  string
	ReferenceID    string
	RequestedBy    string
	RequesterName  string
	Status         Status
	ReviewedBy     *string
	ReviewedAt     *time.Time
	ReviewNotes    string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateRequestInput holds the input for filing a request.
type CreateRequestInput struct {
	Type           Type
	Amount         *decimal.Decimal
	OriginalAmount *decimal.Decimal
	Percentage     *decimal.Decimal
	Description    string
	Reason         string
	ReferenceType  string
	ReferenceID    string
}

// ListFilter selects pending requests.
type ListFilter struct {
	Type   Type
	Limit  int
	Offset int
}

// Review is the decision write. It applies only to a request that is still
// pending and not expired at At.
type Review struct {
	RequestID  string
	Decision   Status
	ReviewedBy string
	Notes      string
	At         time.Time
}

// Repository persists approval requests.
//
// Review is a conditional write. When no row is updated it reports
// ErrRequestNotFound, ErrAlreadyReviewed or ErrRequestExpired.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	ListPending(ctx context.Context, now time.Time, f ListFilter) ([]Request, int, error)
	Review(ctx context.Context, rv Review) (*Request, error)
}

// Directory resolves the staff members to notify.
type Directory interface {
	UserIDsByRole(ctx context.Context, roles []auth.Role) ([]string, error)
}

// Transactor runs fn in a single datastore transaction carried by ctx.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Business errors.
var (
	ErrRequestNotFound    = apperr.New(apperr.KindNotFound, "NOT_FOUND", "approval request not found")
	ErrInvalidType        = apperr.New(apperr.KindValidation, "INVALID_TYPE", "unknown approval type")
	ErrInvalidDescription = apperr.New(apperr.KindValidation, "INVALID_DESCRIPTION", "description must be 1-500 characters")
	ErrInvalidReason      = apperr.New(apperr.KindValidation, "INVALID_REASON", "reason must be at most 1000 characters")
	ErrInvalidNotes       = apperr.New(apperr.KindValidation, "INVALID_NOTES", "review notes must be at most 1000 characters")
	ErrInvalidAmount      = apperr.New(apperr.KindValidation, "INVALID_AMOUNT", "amount is missing or out of range")
	ErrInvalidPercentage  = apperr.New(apperr.KindValidation, "INVALID_PERCENTAGE", "percentage must be between 0 and 100")
	ErrInvalidReference   = apperr.New(apperr.KindValidation, "INVALID_REFERENCE", "request must reference an order")
	ErrInvalidDecision    = apperr.New(apperr.KindValidation, "INVALID_DECISION", "decision must be approved or rejected")
	ErrInvalidPagination  = apperr.New(apperr.KindValidation, "INVALID_PAGINATION", "limit must be within 1..100 and offset non-negative")
	ErrForbidden          = apperr.New(apperr.KindForbidden, "FORBIDDEN", "only managers and administrators may review requests")
	ErrAlreadyReviewed    = apperr.New(apperr.KindConflict, "ALREADY_REVIEWED", "request has already been reviewed")
	ErrRequestExpired     = apperr.New(apperr.KindConflict, "REQUEST_EXPIRED", "request has expired")
)
