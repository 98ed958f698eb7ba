package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/hospitality-core/internal/domain/order"
)

const orderColumns = `id, order_number, customer_id, customer_email, order_type, status, payment_status,
	table_number, delivery_address, special_instructions,
	subtotal, tax_amount, service_charge, delivery_fee, discount_amount, total_amount,
	estimated_ready_time, cancel_reason, refund_amount, refunded_at, comp_reason, comped_at,
	created_by, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25)`

	createOrderItemSQL = `INSERT INTO order_items
	(id, order_id, position, menu_item_id, name, quantity, unit_price, subtotal, notes)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	listOrderItemsSQL = `SELECT id, order_id, menu_item_id, name, quantity, unit_price, subtotal, notes
	FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	// The subselect locks the row and yields the status it held before the
	// update, so the precondition and the write are one statement.
	changeStatusSQL = `UPDATE orders o SET
		status = $2::text,
		cancel_reason = CASE WHEN $2::text = 'cancelled' THEN $4::text ELSE o.cancel_reason END,
		updated_at = $5
	FROM (SELECT id, status FROM orders WHERE id = $1 FOR UPDATE) prev
	WHERE o.id = prev.id AND prev.status = ANY($3::text[])
	RETURNING prev.status`

	changePaymentSQL = `UPDATE orders o SET
		payment_status = $2::text,
		refund_amount = COALESCE($4::numeric, o.refund_amount),
		refunded_at = CASE WHEN $4::numeric IS NOT NULL THEN $6::timestamptz ELSE o.refunded_at END,
		comp_reason = CASE WHEN $2::text = 'comped' THEN $5::text ELSE o.comp_reason END,
		comped_at = CASE WHEN $2::text = 'comped' THEN $6::timestamptz ELSE o.comped_at END,
		updated_at = $6::timestamptz
	FROM (SELECT id, payment_status FROM orders WHERE id = $1 FOR UPDATE) prev
	WHERE o.id = prev.id AND prev.payment_status = ANY($3::text[])
	RETURNING prev.payment_status`

	getOrderStatusSQL = `SELECT status, payment_status FROM orders WHERE id = $1`

	orderNumberConstraint = "orders_order_number_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository that uses the given DB.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists the order header and its items. Callers run it inside a
// transaction so the two are written as a unit.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()
	conn := r.db.conn(ctx)

	_, err := conn.Exec(ctx, createOrderSQL,
		o.ID, o.OrderNumber, o.CustomerID, o.CustomerEmail, string(o.OrderType), string(o.Status), string(o.PaymentStatus),
		o.TableNumber, o.DeliveryAddress, o.SpecialInstructions,
		o.Subtotal, o.TaxAmount, o.ServiceCharge, o.DeliveryFee, o.Discount, o.Total,
		o.EstimatedReadyTime, o.CancelReason, o.RefundAmount, o.RefundedAt, o.CompReason, o.CompedAt,
		o.CreatedBy, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, orderNumberConstraint) {
			return order.ErrDuplicateNumber
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	b := &pgx.Batch{}
	for i, it := range o.Items {
		b.Queue(createOrderItemSQL,
			it.ID, o.ID, i, it.MenuItemID, it.Name, it.Quantity, it.UnitPrice, it.Subtotal, it.Notes,
		)
	}
	if err := conn.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	if !isUUID(id) {
		return nil, order.ErrOrderNotFound
	}
	return r.getOne(ctx, getOrderSQL, id)
}

// GetByNumber returns an order by its public number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByNumberSQL, number)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg string) (*order.Order, error) {
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()

	rows, err := r.db.conn(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// List returns orders matching f, newest first, with the total match count.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	var w where
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.OrderType != "" {
		w.add("order_type = $%d", string(f.OrderType))
	}
	if f.CustomerID != "" {
		if !isUUID(f.CustomerID) {
			return nil, 0, nil
		}
		w.add("customer_id = $%d", f.CustomerID)
	}
	if f.From != nil {
		w.add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("created_at <= $%d", *f.To)
	}

	ctx, cancel := r.db.timeout(ctx)
	defer cancel()
	conn := r.db.conn(ctx)

	var total int
	if err := conn.QueryRow(ctx, `SELECT count(*) FROM orders`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	suffix, args := w.page(f.Limit, f.Offset)
	rows, err := conn.Query(ctx, `SELECT `+orderColumns+` FROM orders`+w.String()+
		` ORDER BY created_at DESC, id`+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ChangeStatus applies c if the order's status is still one of c.From.
func (r *OrderRepository) ChangeStatus(ctx context.Context, c order.StatusChange) (order.Status, error) {
	if !isUUID(c.OrderID) {
		return "", order.ErrOrderNotFound
	}
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()
	conn := r.db.conn(ctx)

	var prev string
	err := conn.QueryRow(ctx, changeStatusSQL,
		c.OrderID, string(c.To), stringsOf(c.From), c.CancelReason, c.At,
	).Scan(&prev)
	if err == nil {
		return order.Status(prev), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("changing status of order %q: %w", c.OrderID, err)
	}

	current, _, err := r.currentState(ctx, conn, c.OrderID)
	if err != nil {
		return "", err
	}
	return "", &order.MismatchError{Current: current}
}

// ChangePayment applies c if the order's payment status is still one of
// c.From.
func (r *OrderRepository) ChangePayment(ctx context.Context, c order.PaymentChange) (order.PaymentStatus, error) {
	if !isUUID(c.OrderID) {
		return "", order.ErrOrderNotFound
	}
	ctx, cancel := r.db.timeout(ctx)
	defer cancel()
	conn := r.db.conn(ctx)

	var prev string
	err := conn.QueryRow(ctx, changePaymentSQL,
		c.OrderID, string(c.To), stringsOf(c.From), c.RefundAmount, c.CompReason, c.At,
	).Scan(&prev)
	if err == nil {
		return order.PaymentStatus(prev), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("changing payment of order %q: %w", c.OrderID, err)
	}

	_, current, err := r.currentState(ctx, conn, c.OrderID)
	if err != nil {
		return "", err
	}
	return "", &order.MismatchError{Current: current}
}

// currentState classifies a conditional write that matched no row. A status
// that failed the precondition never returns to a matching one, so reading
// it afterwards cannot misreport.
func (r *OrderRepository) currentState(ctx context.Context, conn querier, id string) (status, payment string, err error) {
	err = conn.QueryRow(ctx, getOrderStatusSQL, id).Scan(&status, &payment)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", order.ErrOrderNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("reading state of order %q: %w", id, err)
	}
	return status, payment, nil
}

type orderItemRow struct {
	orderID string
	item    order.Item
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.db.conn(ctx).Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return fmt.Errorf("scanning order items: %w", err)
	}
	for _, v := range items {
		i := index[v.orderID]
		orders[i].Items = append(orders[i].Items, v.item)
	}
	return nil
}

func scanOrderItem(row pgx.CollectableRow) (orderItemRow, error) {
	var v orderItemRow
	err := row.Scan(
		&v.item.ID, &v.orderID, &v.item.MenuItemID, &v.item.Name, &v.item.Quantity,
		&v.item.UnitPrice, &v.item.Subtotal, &v.item.Notes,
	)
	return v, err
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                          order.Order
		orderType, status, payment string
		refundAmount               *decimal.Decimal
		refundedAt, compedAt       *time.Time
		subtotal, tax, service     decimal.Decimal
		fee, discount, total       decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.CustomerEmail, &orderType, &status, &payment,
		&o.TableNumber, &o.DeliveryAddress, &o.SpecialInstructions,
		&subtotal, &tax, &service, &fee, &discount, &total,
		&o.EstimatedReadyTime, &o.CancelReason, &refundAmount, &refundedAt, &o.CompReason, &compedAt,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	o.OrderType = order.Type(orderType)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payment)
	o.Totals = order.Totals{
		Subtotal:      subtotal,
		TaxAmount:     tax,
		ServiceCharge: service,
		DeliveryFee:   fee,
		Discount:      discount,
		Total:         total,
	}
	o.RefundAmount = refundAmount
	o.RefundedAt = refundedAt
	o.CompedAt = compedAt
	return o, err
}
