package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/hospitality-core/internal/apperr"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions lists the allowed targets for every status. Terminal statuses
// have no entry.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether an order in from may move to to.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status from which to is reachable in one step.
// The result is the precondition of the conditional status write.
func sourcesOf(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Type is the fulfillment channel of an order.
type Type string

const (
	TypeDineIn      Type = "dine_in"
	TypeTakeaway    Type = "takeaway"
	TypeDelivery    Type = "delivery"
	TypeRoomService Type = "room_service"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDineIn, TypeTakeaway, TypeDelivery, TypeRoomService:
		return true
	}
	return false
}

// PaymentStatus tracks settlement independently of fulfillment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentComped   PaymentStatus = "comped"
)

// Order is a customer order with its resolved line items and totals.
type Order struct {
	ID                  string
	OrderNumber         string
	CustomerID          *string
	CustomerEmail       string
	OrderType           Type
	Status              Status
	PaymentStatus       PaymentStatus
	TableNumber         string
	DeliveryAddress     string
	SpecialInstructions string
	Items               []Item
	Totals
	EstimatedReadyTime time.Time
	CancelReason       string
	RefundAmount       *decimal.Decimal
	RefundedAt         *time.Time
	CompReason         string
	CompedAt           *time.Time
	CreatedBy          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Item is a single line of an order with the price resolved at creation.
type Item struct {
	ID         string
	MenuItemID string
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	Subtotal   decimal.Decimal
	Notes      string
}

// Filter selects orders for List. Zero values disable a criterion.
type Filter struct {
	Status     Status
	OrderType  Type
	CustomerID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// StatusChange is a conditional status write. It applies only while the
// order's current status is one of From.
type StatusChange struct {
	OrderID      string
	From         []Status
	To           Status
	CancelReason string
	At           time.Time
}

// PaymentChange is a conditional payment status write. It applies only
// while the order's current payment status is one of From.
type PaymentChange struct {
	OrderID      string
	From         []PaymentStatus
	To           PaymentStatus
	RefundAmount *decimal.Decimal
	CompReason   string
	At           time.Time
}

// Repository defines persistence operations for orders.
//
// ChangeStatus and ChangePayment return ErrOrderNotFound when the order does
// not exist and *MismatchError when the precondition does not hold. On
// success they return the value the order held before the write.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, int, error)
	ChangeStatus(ctx context.Context, c StatusChange) (Status, error)
	ChangePayment(ctx context.Context, c PaymentChange) (PaymentStatus, error)
}

// Transactor runs fn in a single datastore transaction carried by ctx.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ErrDuplicateNumber is returned by Repository.Create when the order number
// is already taken.
var ErrDuplicateNumber = errors.New("order number already exists")

// MismatchError reports that a conditional write found the row in a state
// other than the expected ones.
type MismatchError struct {
	Current string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("precondition failed: current state is %s", e.Current)
}

// Business errors.
var (
	ErrOrderNotFound      = apperr.New(apperr.KindNotFound, "ORDER_NOT_FOUND", "order not found")
	ErrEmptyOrder         = apperr.New(apperr.KindValidation, "EMPTY_ORDER", "order must contain at least one item")
	ErrInvalidOrderType   = apperr.New(apperr.KindValidation, "INVALID_ORDER_TYPE", "unknown order type")
	ErrInvalidQuantity    = apperr.New(apperr.KindValidation, "INVALID_QUANTITY", "quantity must be at least 1")
	ErrInvalidCustomerID  = apperr.New(apperr.KindValidation, "INVALID_CUSTOMER_ID", "customer id must be a UUID")
	ErrItemNotFound       = apperr.New(apperr.KindValidation, "ITEM_NOT_FOUND", "menu item not found")
	ErrItemUnavailable    = apperr.New(apperr.KindValidation, "ITEM_UNAVAILABLE", "menu item is not available")
	ErrInvalidStatus      = apperr.New(apperr.KindValidation, "INVALID_STATUS", "unknown order status")
	ErrInvalidAmount      = apperr.New(apperr.KindValidation, "INVALID_AMOUNT", "amount must be positive and not exceed the order total")
	ErrInvalidPagination  = apperr.New(apperr.KindValidation, "INVALID_PAGINATION", "limit must be within 1..100 and offset non-negative")
	ErrInvalidTransition  = apperr.New(apperr.KindConflict, "INVALID_STATUS_TRANSITION", "status transition not allowed")
	ErrCannotCancel       = apperr.New(apperr.KindConflict, "CANNOT_CANCEL", "order can no longer be cancelled")
	ErrPaymentConflict    = apperr.New(apperr.KindConflict, "PAYMENT_STATE_CONFLICT", "payment status does not allow this change")
	ErrNumberSpaceExhaust = apperr.New(apperr.KindInternal, "ORDER_NUMBER_EXHAUSTED", "could not allocate a unique order number")
)
