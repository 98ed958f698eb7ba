package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/hospitality-core/internal/domain/order"
)

type orderItemRequest struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
}

type createOrderRequest struct {
	CustomerID          *string            `json:"customerId,omitempty"`
	CustomerEmail       string             `json:"customerEmail,omitempty"`
	OrderType           order.Type         `json:"orderType"`
	TableNumber         string             `json:"tableNumber,omitempty"`
	DeliveryAddress     string             `json:"deliveryAddress,omitempty"`
	SpecialInstructions string             `json:"specialInstructions,omitempty"`
	Items               []orderItemRequest `json:"items"`
}

type updateStatusRequest struct {
	Status order.Status `json:"status"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderItemResponse struct {
	ID         string          `json:"id"`
	MenuItemID string          `json:"menuItemId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Notes      string          `json:"notes,omitempty"`
}

type orderResponse struct {
	ID                  string              `json:"id"`
	OrderNumber         string              `json:"orderNumber"`
	CustomerID          *string             `json:"customerId"`
	OrderType           order.Type          `json:"orderType"`
	Status              order.Status        `json:"status"`
	PaymentStatus       order.PaymentStatus `json:"paymentStatus"`
	TableNumber         string              `json:"tableNumber,omitempty"`
	DeliveryAddress     string              `json:"deliveryAddress,omitempty"`
	SpecialInstructions string              `json:"specialInstructions,omitempty"`
	Items               []orderItemResponse `json:"items"`
	Subtotal            decimal.Decimal     `json:"subtotal"`
	TaxAmount           decimal.Decimal     `json:"taxAmount"`
	ServiceCharge       decimal.Decimal     `json:"serviceCharge"`
	DeliveryFee         decimal.Decimal     `json:"deliveryFee"`
	DiscountAmount      decimal.Decimal     `json:"discountAmount"`
	TotalAmount         decimal.Decimal     `json:"totalAmount"`
	EstimatedReadyTime  time.Time           `json:"estimatedReadyTime"`
	CancelReason        string              `json:"cancelReason,omitempty"`
	RefundAmount        *decimal.Decimal    `json:"refundAmount,omitempty"`
	RefundedAt          *time.Time          `json:"refundedAt,omitempty"`
	CompReason          string              `json:"compReason,omitempty"`
	CompedAt            *time.Time          `json:"compedAt,omitempty"`
	CreatedBy           *string             `json:"createdBy"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ID:         it.ID,
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			Subtotal:   it.Subtotal,
			Notes:      it.Notes,
		}
	}
	return orderResponse{
		ID:                  o.ID,
		OrderNumber:         o.OrderNumber,
		CustomerID:          o.CustomerID,
		OrderType:           o.OrderType,
		Status:              o.Status,
		PaymentStatus:       o.PaymentStatus,
		TableNumber:         o.TableNumber,
		DeliveryAddress:     o.DeliveryAddress,
		SpecialInstructions: o.SpecialInstructions,
		Items:               items,
		Subtotal:            o.Subtotal,
		TaxAmount:           o.TaxAmount,
		ServiceCharge:       o.ServiceCharge,
		DeliveryFee:         o.DeliveryFee,
		DiscountAmount:      o.Discount,
		TotalAmount:         o.Total,
		EstimatedReadyTime:  o.EstimatedReadyTime,
		CancelReason:        o.CancelReason,
		RefundAmount:        o.RefundAmount,
		RefundedAt:          o.RefundedAt,
		CompReason:          o.CompReason,
		CompedAt:            o.CompedAt,
		CreatedBy:           o.CreatedBy,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]order.ItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemInput{MenuItemID: it.MenuItemID, Quantity: it.Quantity, Notes: it.Notes}
	}

	o, err := h.orders.CreateOrder(r.Context(), order.CreateOrderRequest{
		CustomerID:          req.CustomerID,
		CustomerEmail:       req.CustomerEmail,
		OrderType:           req.OrderType,
		TableNumber:         req.TableNumber,
		DeliveryAddress:     req.DeliveryAddress,
		SpecialInstructions: req.SpecialInstructions,
		Items:               items,
	}, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	f := order.Filter{
		Status:     order.Status(q.Get("status")),
		OrderType:  order.Type(q.Get("orderType")),
		CustomerID: q.Get("customerId"),
		From:       from,
		To:         to,
		Limit:      limit,
		Offset:     offset,
	}
	orders, total, err := h.orders.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	if f.Limit == 0 {
		f.Limit = order.DefaultListLimit
	}
	writePage(w, r, out, pageMeta{Total: total, Limit: f.Limit, Offset: f.Offset})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrderByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toOrderResponse(o))
}
