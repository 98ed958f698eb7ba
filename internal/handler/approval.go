package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/hospitality-core/internal/domain/approval"
)

type createApprovalRequest struct {
	Type           approval.Type    `json:"type"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	OriginalAmount *decimal.Decimal `json:"originalAmount,omitempty"`
	Percentage     *decimal.Decimal `json:"percentage,omitempty"`
	Description    string           `json:"description"`
	Reason         string           `json:"reason,omitempty"`
	ReferenceType  string           `json:"referenceType,omitempty"`
	ReferenceID    string           `json:"referenceId,omitempty"`
}

type reviewApprovalRequest struct {
	Decision approval.Status `json:"decision"`
	Notes    string          `json:"notes,omitempty"`
}

type approvalResponse struct {
	ID             string           `json:"id"`
	Type           approval.Type    `json:"type"`
	Amount         *decimal.Decimal `json:"amount"`
	OriginalAmount *decimal.Decimal `json:"originalAmount"`
	Percentage     *decimal.Decimal `json:"percentage"`
	Description    string           `json:"description"`
	Reason         string           `json:"reason,omitempty"`
	ReferenceType  string           `json:"referenceType,omitempty"`
	ReferenceID    string           `json:"referenceId,omitempty"`
	RequestedBy    string           `json:"requestedBy"`
	RequesterName  string           `json:"requesterName,omitempty"`
	Status         approval.Status  `json:"status"`
	ReviewedBy     *string          `json:"reviewedBy"`
	ReviewedAt     *time.Time       `json:"reviewedAt"`
	ReviewNotes    string           `json:"reviewNotes,omitempty"`
	ExpiresAt      time.Time        `json:"expiresAt"`
	CreatedAt      time.Time        `json:"createdAt"`
}

func toApprovalResponse(a *approval.Request) approvalResponse {
	return approvalResponse{
		ID:             a.ID,
		Type:           a.Type,
		Amount:         a.Amount,
		OriginalAmount: a.OriginalAmount,
		Percentage:     a.Percentage,
		Description:    a.Description,
		Reason:         a.Reason,
		ReferenceType:  a.ReferenceType,
		ReferenceID:    a.ReferenceID,
		RequestedBy:    a.RequestedBy,
		RequesterName:  a.RequesterName,
		Status:         a.Status,
		ReviewedBy:     a.ReviewedBy,
		ReviewedAt:     a.ReviewedAt,
		ReviewNotes:    a.ReviewNotes,
		ExpiresAt:      a.ExpiresAt,
		CreatedAt:      a.CreatedAt,
	}
}

func (h *Handler) createApproval(w http.ResponseWriter, r *http.Request) {
	var req createApprovalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.approvals.CreateRequest(r.Context(), approval.CreateRequestInput{
		Type:           req.Type,
		Amount:         req.Amount,
		OriginalAmount: req.OriginalAmount,
		Percentage:     req.Percentage,
		Description:    req.Description,
		Reason:         req.Reason,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
	}, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, toApprovalResponse(a))
}

func (h *Handler) listPendingApprovals(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := approval.ListFilter{
		Type:   approval.Type(r.URL.Query().Get("type")),
		Limit:  limit,
		Offset: offset,
	}
	requests, total, err := h.approvals.ListPending(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]approvalResponse, len(requests))
	for i := range requests {
		out[i] = toApprovalResponse(&requests[i])
	}
	if f.Limit == 0 {
		f.Limit = approval.DefaultListLimit
	}
	writePage(w, r, out, pageMeta{Total: total, Limit: f.Limit, Offset: f.Offset})
}

func (h *Handler) getApproval(w http.ResponseWriter, r *http.Request) {
	a, err := h.approvals.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toApprovalResponse(a))
}

func (h *Handler) reviewApproval(w http.ResponseWriter, r *http.Request) {
	var req reviewApprovalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.approvals.ReviewRequest(r.Context(), chi.URLParam(r, "id"), req.Decision, req.Notes, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toApprovalResponse(a))
}
