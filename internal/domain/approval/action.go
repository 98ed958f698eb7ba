package approval

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is the effect an approved request has. The set of variants is
// closed: every variant is dispatched through ActionHandler, so adding one
// without a handler method does not compile.
type Action interface {
	apply(ctx context.Context, h ActionHandler) error
}

// ActionHandler executes approved actions, one method per variant.
type ActionHandler interface {
	Refund(ctx context.Context, a RefundAction) error
	Void(ctx context.Context, a VoidAction) error
	Discount(ctx context.Context, a DiscountAction) error
	PriceAdjustment(ctx context.Context, a PriceAdjustmentAction) error
	Override(ctx context.Context, a OverrideAction) error
	Comp(ctx context.Context, a CompAction) error
}

// RefundAction marks an order refunded by Amount.
type RefundAction struct {
	ApprovalID string
	OrderID    string
	Amount     decimal.Decimal
	Reason     string
}

// VoidAction cancels an order.
type VoidAction struct {
	ApprovalID string
	OrderID    string
	Reason     string
}

// DiscountAction records an approved discount. The request itself is the
// source of truth for the amount.
type DiscountAction struct {
	ApprovalID    string
	ReferenceType string
	ReferenceID   string
	Amount        *decimal.Decimal
	Percentage    *decimal.Decimal
}

// PriceAdjustmentAction records an approved price change.
type PriceAdjustmentAction struct {
	ApprovalID     string
	ReferenceType  string
	ReferenceID    string
	Amount         decimal.Decimal
	OriginalAmount *decimal.Decimal
}

// OverrideAction records an approved policy override.
type OverrideAction struct {
	ApprovalID    string
	ReferenceType string
	ReferenceID   string
	Description   string
}

// CompAction marks an order complimentary.
type CompAction struct {
	ApprovalID string
	OrderID    string
	Reason     string
}

func (a RefundAction) apply(ctx context.Context, h ActionHandler) error {
	return h.Refund(ctx, a)
}

func (a VoidAction) apply(ctx context.Context, h ActionHandler) error {
	return h.Void(ctx, a)
}

func (a DiscountAction) apply(ctx context.Context, h ActionHandler) error {
	return h.Discount(ctx, a)
}

func (a PriceAdjustmentAction) apply(ctx context.Context, h ActionHandler) error {
	return h.PriceAdjustment(ctx, a)
}

func (a OverrideAction) apply(ctx context.Context, h ActionHandler) error {
	return h.Override(ctx, a)
}

func (a CompAction) apply(ctx context.Context, h ActionHandler) error {
	return h.Comp(ctx, a)
}

var hundred = decimal.NewFromInt(100)

// actionOf builds and validates the action a request describes. It is used
// both when a request is filed, to reject malformed input early, and when it
// is approved.
func actionOf(r *Request) (Action, error) {
	if r.Amount != nil && r.Amount.IsNegative() {
		return nil, ErrInvalidAmount.With("amount must not be negative")
	}
	if r.OriginalAmount != nil && r.OriginalAmount.IsNegative() {
		return nil, ErrInvalidAmount.With("original amount must not be negative")
	}
	if r.Percentage != nil && (r.Percentage.IsNegative() || r.Percentage.GreaterThan(hundred)) {
		return nil, ErrInvalidPercentage
	}

	reason := r.Reason
	if reason == "" {
		reason = r.Description
	}

	switch r.Type {
	case TypeRefund:
		if err := requireOrder(r); err != nil {
			return nil, err
		}
		if r.Amount == nil || !r.Amount.IsPositive() {
			return nil, ErrInvalidAmount.With("refund requires a positive amount")
		}
		return RefundAction{ApprovalID: r.ID, OrderID: r.ReferenceID, Amount: *r.Amount, Reason: reason}, nil
	case TypeVoid:
		if err := requireOrder(r); err != nil {
			return nil, err
		}
		return VoidAction{ApprovalID: r.ID, OrderID: r.ReferenceID, Reason: reason}, nil
	case TypeComp:
		if err := requireOrder(r); err != nil {
			return nil, err
		}
		return CompAction{ApprovalID: r.ID, OrderID: r.ReferenceID, Reason: reason}, nil
	case TypeDiscount:
		if r.Amount == nil && r.Percentage == nil {
			return nil, ErrInvalidAmount.With("discount requires an amount or a percentage")
		}
		return DiscountAction{
			ApprovalID:    r.ID,
			ReferenceType: r.ReferenceType,
			ReferenceID:   r.ReferenceID,
			Amount:        r.Amount,
			Percentage:    r.Percentage,
		}, nil
	case TypePriceAdjustment:
		if r.Amount == nil {
			return nil, ErrInvalidAmount.With("price adjustment requires an amount")
		}
		return PriceAdjustmentAction{
			ApprovalID:     r.ID,
			ReferenceType:  r.ReferenceType,
			ReferenceID:    r.ReferenceID,
			Amount:         *r.Amount,
			OriginalAmount: r.OriginalAmount,
		}, nil
	case TypeOverride:
		return OverrideAction{
			ApprovalID:    r.ID,
			ReferenceType: r.ReferenceType,
			ReferenceID:   r.ReferenceID,
			Description:   r.Description,
		}, nil
	default:
		return nil, ErrInvalidType.With("unknown approval type %q", r.Type)
	}
}

func requireOrder(r *Request) error {
	if r.ReferenceType != ReferenceOrder || r.ReferenceID == "" {
		return ErrInvalidReference.With("%s requires an order reference", r.Type)
	}
	if _, err := uuid.Parse(r.ReferenceID); err != nil {
		return ErrInvalidReference.With("order reference %q is not a valid id", r.ReferenceID)
	}
	return nil
}
