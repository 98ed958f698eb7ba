package order

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/hospitality-core/internal/apperr"
	"github.com/xenking/hospitality-core/internal/domain/audit"
	"github.com/xenking/hospitality-core/internal/domain/auth"
	"github.com/xenking/hospitality-core/internal/domain/catalog"
	"github.com/xenking/hospitality-core/internal/telemetry"
)

const (
	// readyBuffer is added to the longest preparation time of an order.
	readyBuffer = 5 * time.Minute
	// numberAttempts bounds retries on order number collisions.
	numberAttempts = 3
)

// Event channel and names emitted by the ledger.
const (
	EventChannel        = "orders"
	EventOrderCreated   = "order.created"
	EventStatusChanged  = "order.status_changed"
	EventOrderCancelled = "order.cancelled"
	EventPaymentChanged = "order.payment_changed"
)

// Auditor records privileged mutations.
type Auditor interface {
	LogActivity(ctx context.Context, in audit.LogInput) (*audit.Entry, error)
}

// Dispatcher publishes fire-and-forget events.
type Dispatcher interface {
	Emit(ctx context.Context, channel, event string, payload any) error
}

// Mailer sends transactional email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

// ItemInput is a requested order line.
type ItemInput struct {
	MenuItemID string
	Quantity   int
	Notes      string
}

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	CustomerID          *string
	CustomerEmail       string
	OrderType           Type
	TableNumber         string
	DeliveryAddress     string
	SpecialInstructions string
	Items               []ItemInput
}

// Params are the collaborators of a Service.
type Params struct {
	Catalog    catalog.Lookup
	Orders     Repository
	Tx         Transactor
	Audit      Auditor
	Pricing    *Engine
	Numbers    *NumberGenerator
	Dispatcher Dispatcher
	Mailer     Mailer
	Metrics    *telemetry.Metrics
}

// Service owns the order lifecycle: creation, status transitions and the
// approval-driven payment corrections.
type Service struct {
	catalog    catalog.Lookup
	orders     Repository
	tx         Transactor
	audit      Auditor
	pricing    *Engine
	numbers    *NumberGenerator
	dispatcher Dispatcher
	mailer     Mailer
	metrics    *telemetry.Metrics

	now   func() time.Time
	async func(func())
}

// NewService creates an order Service.
func NewService(p Params) *Service {
	s := &Service{
		catalog:    p.Catalog,
		orders:     p.Orders,
		tx:         p.Tx,
		audit:      p.Audit,
		pricing:    p.Pricing,
		numbers:    p.Numbers,
		dispatcher: p.Dispatcher,
		mailer:     p.Mailer,
		metrics:    p.Metrics,
		now:        time.Now,
		async:      func(f func()) { go f() },
	}
	if s.pricing == nil {
		s.pricing = NewEngine(DefaultPricing)
	}
	if s.numbers == nil {
		s.numbers = NewNumberGenerator(0)
	}
	return s
}

// CreateOrder validates the requested lines against the catalog, prices them,
// and persists the order with its items and creation audit entry as a unit.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest, actor auth.Actor) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if !req.OrderType.Valid() {
		return nil, ErrInvalidOrderType.With("unknown order type %q", req.OrderType)
	}
	customerID, err := normalizeCustomerID(req.CustomerID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity < 1 {
			return nil, ErrInvalidQuantity.With("quantity for item %s must be at least 1", item.MenuItemID)
		}
		ids[i] = item.MenuItemID
	}

	// Batch fetch all menu items in a single query.
	fetched, err := s.catalog.GetMenuItemsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(errors.Wrap(err, "get menu items"))
	}
	byID := make(map[string]catalog.MenuItem, len(fetched))
	for _, m := range fetched {
		byID[m.ID] = m
	}

	now := s.now().UTC()
	var (
		items   = make([]Item, len(req.Items))
		lines   = make([]Line, len(req.Items))
		maxPrep int
	)
	for i, in := range req.Items {
		m, ok := byID[in.MenuItemID]
		if !ok {
			return nil, ErrItemNotFound.With("menu item %s not found", in.MenuItemID)
		}
		if !m.IsAvailable {
			return nil, ErrItemUnavailable.With("menu item %s is not available", m.Name)
		}
		lines[i] = Line{UnitPrice: m.Price, Quantity: in.Quantity}
		items[i] = Item{
			ID:         uuid.New().String(),
			MenuItemID: m.ID,
			Name:       m.Name,
			Quantity:   in.Quantity,
			UnitPrice:  m.Price,
			Subtotal:   lines[i].Subtotal(),
			Notes:      in.Notes,
		}
		maxPrep = max(maxPrep, m.PrepTimeMinutes)
	}

	o := &Order{
		ID:                  uuid.New().String(),
		CustomerID:          customerID,
		CustomerEmail:       strings.TrimSpace(req.CustomerEmail),
		OrderType:           req.OrderType,
		Status:              StatusPending,
		PaymentStatus:       PaymentPending,
		TableNumber:         req.TableNumber,
		DeliveryAddress:     req.DeliveryAddress,
		SpecialInstructions: req.SpecialInstructions,
		Items:               items,
		Totals:              s.pricing.Compute(lines, req.OrderType, Discount{}),
		EstimatedReadyTime:  now.Add(time.Duration(maxPrep)*time.Minute + readyBuffer),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if actor.UserID != "" {
		id := actor.UserID
		o.CreatedBy = &id
	}

	if err := s.persistNew(ctx, o, actor); err != nil {
		return nil, err
	}

	s.metrics.OrderCreated(ctx, string(o.OrderType))
	s.emit(ctx, EventOrderCreated, map[string]any{
		"orderId":     o.ID,
		"orderNumber": o.OrderNumber,
		"orderType":   o.OrderType,
		"tableNumber": o.TableNumber,
		"totalAmount": o.Total.StringFixed(2),
		"itemCount":   len(o.Items),
	})
	s.sendConfirmation(ctx, o)

	return o, nil
}

// normalizeCustomerID treats a blank id as a guest order and rejects
// anything that is not a UUID.
func normalizeCustomerID(id *string) (*string, error) {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(strings.TrimSpace(*id))
	if err != nil {
		return nil, ErrInvalidCustomerID.With("customer id %q is not a UUID", *id)
	}
	s := parsed.String()
	return &s, nil
}

// persistNew allocates an order number and writes the order, its items and
// the creation audit entry in one transaction, retrying on number
// collisions.
func (s *Service) persistNew(ctx context.Context, o *Order, actor auth.Actor) error {
	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Next()
		if err != nil {
			return apperr.From(err)
		}
		o.OrderNumber = number

		err = s.tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.orders.Create(ctx, o); err != nil {
				return err
			}
			return s.record(ctx, actor, audit.ActionCreate, o.ID, nil, map[string]any{
				"orderNumber": o.OrderNumber,
				"orderType":   o.OrderType,
				"status":      o.Status,
				"totalAmount": o.Total.StringFixed(2),
				"itemCount":   len(o.Items),
			})
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrDuplicateNumber) && attempt < numberAttempts:
			zctx.From(ctx).Warn("Order number collision, retrying",
				zap.String("order_number", number),
				zap.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, ErrDuplicateNumber):
			return ErrNumberSpaceExhaust.Wrap(err)
		default:
			return s.internal(err, "create order")
		}
	}
}

// UpdateStatus moves an order to status to. The transition check and the
// write are a single conditional update.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, actor auth.Actor) (*Order, error) {
	if !to.Valid() {
		return nil, ErrInvalidStatus.With("unknown order status %q", to)
	}

	var updated *Order
	var prev Status
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		prev, err = s.orders.ChangeStatus(ctx, StatusChange{
			OrderID: id,
			From:    sourcesOf(to),
			To:      to,
			At:      s.now().UTC(),
		})
		if err != nil {
			var mm *MismatchError
			if errors.As(err, &mm) {
				return ErrInvalidTransition.With("cannot move order from %s to %s", mm.Current, to)
			}
			return err
		}
		if err := s.record(ctx, actor, audit.ActionStatusChange, id,
			map[string]any{"status": prev},
			map[string]any{"status": to},
		); err != nil {
			return err
		}
		updated, err = s.orders.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.internal(err, "update status")
	}

	s.metrics.StatusTransition(ctx, string(prev), string(to))
	s.emit(ctx, EventStatusChanged, map[string]any{
		"orderId":     id,
		"orderNumber": updated.OrderNumber,
		"oldStatus":   prev,
		"newStatus":   to,
	})
	return updated, nil
}

// CancelOrder moves a non-terminal order to cancelled.
func (s *Service) CancelOrder(ctx context.Context, id, reason string, actor auth.Actor) (*Order, error) {
	return s.cancel(ctx, id, reason, "", actor)
}

// VoidOrder cancels an order on behalf of an approved void request.
func (s *Service) VoidOrder(ctx context.Context, id, reason, approvalID string, actor auth.Actor) (*Order, error) {
	return s.cancel(ctx, id, reason, approvalID, actor)
}

func (s *Service) cancel(ctx context.Context, id, reason, approvalID string, actor auth.Actor) (*Order, error) {
	reason = strings.TrimSpace(reason)

	var updated *Order
	var prev Status
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		prev, err = s.orders.ChangeStatus(ctx, StatusChange{
			OrderID:      id,
			From:         sourcesOf(StatusCancelled),
			To:           StatusCancelled,
			CancelReason: reason,
			At:           s.now().UTC(),
		})
		if err != nil {
			var mm *MismatchError
			if errors.As(err, &mm) {
				return ErrCannotCancel.With("order is already %s", mm.Current)
			}
			return err
		}
		newValue := map[string]any{"status": StatusCancelled, "reason": reason}
		if approvalID != "" {
			newValue["approvalId"] = approvalID
		}
		if err := s.record(ctx, actor, audit.ActionStatusChange, id,
			map[string]any{"status": prev}, newValue,
		); err != nil {
			return err
		}
		updated, err = s.orders.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.internal(err, "cancel order")
	}

	s.metrics.StatusTransition(ctx, string(prev), string(StatusCancelled))
	s.emit(ctx, EventOrderCancelled, map[string]any{
		"orderId":     id,
		"orderNumber": updated.OrderNumber,
		"oldStatus":   prev,
		"reason":      reason,
	})
	return updated, nil
}

// MarkRefunded records an approved refund of amount against an order.
func (s *Service) MarkRefunded(ctx context.Context, id string, amount decimal.Decimal, approvalID string, actor auth.Actor) (*Order, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount.With("refund amount must be positive, got %s", amount)
	}
	amount = amount.Round(2)
	return s.changePayment(ctx, PaymentChange{
		OrderID:      id,
		From:         []PaymentStatus{PaymentPending, PaymentPaid},
		To:           PaymentRefunded,
		RefundAmount: &amount,
	}, approvalID, actor)
}

// MarkComped records an approved complimentary order.
func (s *Service) MarkComped(ctx context.Context, id, reason, approvalID string, actor auth.Actor) (*Order, error) {
	return s.changePayment(ctx, PaymentChange{
		OrderID:    id,
		From:       []PaymentStatus{PaymentPending, PaymentPaid},
		To:         PaymentComped,
		CompReason: strings.TrimSpace(reason),
	}, approvalID, actor)
}

func (s *Service) changePayment(ctx context.Context, c PaymentChange, approvalID string, actor auth.Actor) (*Order, error) {
	c.At = s.now().UTC()

	var updated *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.Get(ctx, c.OrderID)
		if err != nil {
			return err
		}
		if c.RefundAmount != nil && c.RefundAmount.GreaterThan(current.Total) {
			return ErrInvalidAmount.With("refund %s exceeds order total %s",
				c.RefundAmount.StringFixed(2), current.Total.StringFixed(2))
		}

		prev, err := s.orders.ChangePayment(ctx, c)
		if err != nil {
			var mm *MismatchError
			if errors.As(err, &mm) {
				return ErrPaymentConflict.With("payment is already %s", mm.Current)
			}
			return err
		}

		newValue := map[string]any{"paymentStatus": c.To}
		if approvalID != "" {
			newValue["approvalId"] = approvalID
		}
		if c.RefundAmount != nil {
			newValue["refundAmount"] = c.RefundAmount.StringFixed(2)
		}
		if c.CompReason != "" {
			newValue["reason"] = c.CompReason
		}
		if err := s.record(ctx, actor, audit.ActionUpdate, c.OrderID,
			map[string]any{"paymentStatus": prev}, newValue,
		); err != nil {
			return err
		}
		updated, err = s.orders.Get(ctx, c.OrderID)
		return err
	})
	if err != nil {
		return nil, s.internal(err, "change payment status")
	}

	s.emit(ctx, EventPaymentChanged, map[string]any{
		"orderId":       c.OrderID,
		"orderNumber":   updated.OrderNumber,
		"paymentStatus": c.To,
	})
	return updated, nil
}

// GetOrder returns an order by id.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, s.internal(err, "get order")
	}
	return o, nil
}

// GetOrderByNumber returns an order by its public number.
func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
	if err != nil {
		return nil, s.internal(err, "get order by number")
	}
	return o, nil
}

// ListOrders returns orders matching f, newest first, and the total number
// of matches.
func (s *Service) ListOrders(ctx context.Context, f Filter) ([]Order, int, error) {
	if f.Limit == 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit < 0 || f.Limit > MaxListLimit || f.Offset < 0 {
		return nil, 0, ErrInvalidPagination
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, ErrInvalidStatus.With("unknown order status %q", f.Status)
	}
	if f.OrderType != "" && !f.OrderType.Valid() {
		return nil, 0, ErrInvalidOrderType.With("unknown order type %q", f.OrderType)
	}
	orders, total, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, 0, s.internal(err, "list orders")
	}
	return orders, total, nil
}

// record writes an audit entry for an order mutation. It must run inside the
// mutation's transaction so that a failed write rolls the mutation back.
func (s *Service) record(ctx context.Context, actor auth.Actor, action audit.Action, orderID string, oldValue, newValue any) error {
	id := orderID
	_, err := s.audit.LogActivity(ctx, audit.LogInput{
		UserID:     actor.UserID,
		Action:     action,
		Resource:   audit.ResourceOrder,
		ResourceID: &id,
		OldValue:   oldValue,
		NewValue:   newValue,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
	})
	return err
}

// internal passes business errors through and reports everything else as
// INTERNAL.
func (s *Service) internal(err error, op string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.ErrInternal.Wrap(errors.Wrap(err, op))
}

func (s *Service) emit(ctx context.Context, event string, payload map[string]any) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Emit(ctx, EventChannel, event, payload); err != nil {
		zctx.From(ctx).Warn("Emit order event",
			zap.String("event", event),
			zap.Any("order_id", payload["orderId"]),
			zap.Error(err),
		)
	}
}

// sendConfirmation mails the customer in the background. Failures are
// logged only.
func (s *Service) sendConfirmation(ctx context.Context, o *Order) {
	if s.mailer == nil || o.CustomerEmail == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	to := o.CustomerEmail
	subject := fmt.Sprintf("Order %s confirmed", o.OrderNumber)
	body := confirmationHTML(o)
	s.async(func() {
		if err := s.mailer.SendEmail(ctx, to, subject, body); err != nil {
			zctx.From(ctx).Warn("Send order confirmation",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	})
}

func confirmationHTML(o *Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>Thank you for your order</h1><p>Order number: <strong>%s</strong></p><ul>",
		html.EscapeString(o.OrderNumber))
	for _, it := range o.Items {
		fmt.Fprintf(&b, "<li>%d &times; %s: %s</li>", it.Quantity, html.EscapeString(it.Name), it.Subtotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "</ul><p>Total: <strong>%s</strong></p><p>Estimated ready at %s</p>",
		o.Total.StringFixed(2), o.EstimatedReadyTime.Format(time.Kitchen))
	return b.String()
}
