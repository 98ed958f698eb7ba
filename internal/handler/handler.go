// Package handler exposes the order, approval and audit services over a chi
// router. Every response uses the envelope
//
//	{"success":true,"data":...}
//	{"success":false,"error":{"code":"...","message":"..."}}
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/hospitality-core/internal/apperr"
	"github.com/xenking/hospitality-core/internal/domain/approval"
	"github.com/xenking/hospitality-core/internal/domain/audit"
	"github.com/xenking/hospitality-core/internal/domain/auth"
	"github.com/xenking/hospitality-core/internal/domain/order"
	"github.com/xenking/hospitality-core/pkg/httpmiddleware"
)

const maxBodyBytes = 1 << 20

// OrderService is the order workflow used by the HTTP layer.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest, actor auth.Actor) (*order.Order, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*order.Order, error)
	ListOrders(ctx context.Context, f order.Filter) ([]order.Order, int, error)
	UpdateStatus(ctx context.Context, id string, to order.Status, actor auth.Actor) (*order.Order, error)
	CancelOrder(ctx context.Context, id, reason string, actor auth.Actor) (*order.Order, error)
}

// ApprovalService is the approval workflow used by the HTTP layer.
type ApprovalService interface {
	CreateRequest(ctx context.Context, in approval.CreateRequestInput, requester auth.Actor) (*approval.Request, error)
	ListPending(ctx context.Context, f approval.ListFilter) ([]approval.Request, int, error)
	GetRequest(ctx context.Context, id string) (*approval.Request, error)
	ReviewRequest(ctx context.Context, id string, decision approval.Status, notes string, reviewer auth.Actor) (*approval.Request, error)
}

// AuditService is the audit trail query and retention surface.
type AuditService interface {
	GetLogs(ctx context.Context, f audit.Filter) (*audit.Page, error)
	CleanupOldLogs(ctx context.Context, days int) (int64, error)
}

var (
	errBadRequest   = apperr.New(apperr.KindValidation, "INVALID_REQUEST", "malformed request")
	errUnauthorized = apperr.New(apperr.KindForbidden, "UNAUTHORIZED", "missing or invalid bearer token")
	errForbidden    = apperr.New(apperr.KindForbidden, "FORBIDDEN", "insufficient role")
	errRouteMissing = apperr.New(apperr.KindNotFound, "ROUTE_NOT_FOUND", "no such route")
)

// Handler serves the /api routes.
type Handler struct {
	orders    OrderService
	approvals ApprovalService
	audit     AuditService
	auth      *Authenticator
}

// New constructs a Handler.
func New(orders OrderService, approvals ApprovalService, audits AuditService, authn *Authenticator) *Handler {
	return &Handler{orders: orders, approvals: approvals, audit: audits, auth: authn}
}

// Routes registers all endpoints on r. Every route requires a bearer token;
// extra middlewares run after authentication, so they can key on the
// principal.
func (h *Handler) Routes(r chi.Router, middlewares ...func(http.Handler) http.Handler) {
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errRouteMissing)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.auth.Authenticate)
		r.Use(middlewares...)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/number/{number}", h.getOrderByNumber)
			r.Get("/{id}", h.getOrder)
			r.Patch("/{id}/status", h.updateOrderStatus)
			r.Post("/{id}/cancel", h.cancelOrder)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/", h.createApproval)
			r.Get("/pending", h.listPendingApprovals)
			r.Get("/{id}", h.getApproval)
			r.With(requireRole(auth.Role.CanReview)).Post("/{id}/review", h.reviewApproval)
		})

		r.Route("/audit-logs", func(r chi.Router) {
			r.With(requireRole(auth.Role.CanReadAudit)).Get("/", h.listAuditLogs)
			r.With(requireRole(func(role auth.Role) bool { return role == auth.RoleSuperAdmin })).
				Delete("/", h.cleanupAuditLogs)
		})
	})
}

// actorFrom builds the acting principal for a mutation.
func actorFrom(r *http.Request) auth.Actor {
	p, _ := auth.PrincipalFrom(r.Context())
	return p.Actor(httpmiddleware.ClientIP(r), r.UserAgent())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadRequest.With("invalid JSON body: %v", err)
	}
	return nil
}

// pagination reads limit and offset. Missing values are returned as zero so
// the services apply their own defaults.
func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, errBadRequest.With("limit must be an integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, errBadRequest.With("offset must be an integer")
		}
	}
	return limit, offset, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errBadRequest.With("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Meta    *pageMeta  `json:"meta,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type pageMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zctx.From(r.Context()).Warn("Write response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, envelope{Success: true, Data: data})
}

func writePage(w http.ResponseWriter, r *http.Request, data any, meta pageMeta) {
	writeJSON(w, r, http.StatusOK, envelope{Success: true, Data: data, Meta: &meta})
}

// writeError maps err onto the failure envelope. Internal failures are
// logged and reported without their cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	status := e.Kind.HTTPStatus()
	switch {
	case errors.Is(e, errUnauthorized):
		status = http.StatusUnauthorized
	case e.Kind == apperr.KindInternal:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		e = apperr.ErrInternal
	}
	writeJSON(w, r, status, envelope{Error: &errorBody{Code: e.Code, Message: e.Message}})
}
