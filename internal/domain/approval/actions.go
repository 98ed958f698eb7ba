package approval

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/hospitality-core/internal/domain/audit"
	"github.com/xenking/hospitality-core/internal/domain/auth"
	"github.com/xenking/hospitality-core/internal/domain/order"
)

// Ledger is the subset of the order service approved actions drive.
type Ledger interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	MarkRefunded(ctx context.Context, id string, amount decimal.Decimal, approvalID string, actor auth.Actor) (*order.Order, error)
	VoidOrder(ctx context.Context, id, reason, approvalID string, actor auth.Actor) (*order.Order, error)
	MarkComped(ctx context.Context, id, reason, approvalID string, actor auth.Actor) (*order.Order, error)
}

// Auditor records privileged mutations.
type Auditor interface {
	LogActivity(ctx context.Context, in audit.LogInput) (*audit.Entry, error)
}

var _ ActionHandler = (*ledgerActions)(nil)

// ledgerActions applies approved actions on behalf of the reviewer.
type ledgerActions struct {
	ledger Ledger
	audit  Auditor
	actor  auth.Actor
}

func (h *ledgerActions) Refund(ctx context.Context, a RefundAction) error {
	_, err := h.ledger.MarkRefunded(ctx, a.OrderID, a.Amount, a.ApprovalID, h.actor)
	return err
}

func (h *ledgerActions) Void(ctx context.Context, a VoidAction) error {
	_, err := h.ledger.VoidOrder(ctx, a.OrderID, a.Reason, a.ApprovalID, h.actor)
	return err
}

func (h *ledgerActions) Comp(ctx context.Context, a CompAction) error {
	_, err := h.ledger.MarkComped(ctx, a.OrderID, a.Reason, a.ApprovalID, h.actor)
	return err
}

func (h *ledgerActions) Discount(ctx context.Context, a DiscountAction) error {
	v := map[string]any{"approvalId": a.ApprovalID, "type": TypeDiscount}
	if a.Amount != nil {
		v["amount"] = a.Amount.StringFixed(2)
	}
	if a.Percentage != nil {
		v["percentage"] = a.Percentage.String()
	}
	return h.record(ctx, a.ApprovalID, a.ReferenceType, a.ReferenceID, v)
}

func (h *ledgerActions) PriceAdjustment(ctx context.Context, a PriceAdjustmentAction) error {
	v := map[string]any{
		"approvalId": a.ApprovalID,
		"type":       TypePriceAdjustment,
		"amount":     a.Amount.StringFixed(2),
	}
	if a.OriginalAmount != nil {
		v["originalAmount"] = a.OriginalAmount.StringFixed(2)
	}
	return h.record(ctx, a.ApprovalID, a.ReferenceType, a.ReferenceID, v)
}

func (h *ledgerActions) Override(ctx context.Context, a OverrideAction) error {
	return h.record(ctx, a.ApprovalID, a.ReferenceType, a.ReferenceID, map[string]any{
		"approvalId":  a.ApprovalID,
		"type":        TypeOverride,
		"description": a.Description,
	})
}

// record writes the audit entry of an audit-only action against the
// referenced entity, or against the request itself when the reference is
// not an audited resource kind.
func (h *ledgerActions) record(ctx context.Context, approvalID, refType, refID string, newValue map[string]any) error {
	resource := audit.Resource(refType)
	resourceID := refID
	if !resource.Valid() || refID == "" {
		resource = audit.ResourceApprovalRequest
		resourceID = approvalID
	}
	_, err := h.audit.LogActivity(ctx, audit.LogInput{
		UserID:     h.actor.UserID,
		Action:     audit.ActionUpdate,
		Resource:   resource,
		ResourceID: &resourceID,
		NewValue:   newValue,
		IPAddress:  h.actor.IPAddress,
		UserAgent:  h.actor.UserAgent,
	})
	return err
}
