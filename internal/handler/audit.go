package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/xenking/hospitality-core/internal/domain/audit"
)

type auditEntryResponse struct {
	ID         string          `json:"id"`
	UserID     *string         `json:"userId"`
	Action     audit.Action    `json:"action"`
	Resource   audit.Resource  `json:"resource"`
	ResourceID *string         `json:"resourceId"`
	OldValue   json.RawMessage `json:"oldValue,omitempty"`
	NewValue   json.RawMessage `json:"newValue,omitempty"`
	IPAddress  string          `json:"ipAddress,omitempty"`
	UserAgent  string          `json:"userAgent,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type cleanupResponse struct {
	Deleted       int64 `json:"deleted"`
	OlderThanDays int   `json:"olderThanDays"`
}

func (h *Handler) listAuditLogs(w http.ResponseWriter, r *http.Request) {
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
	page, err := h.audit.GetLogs(r.Context(), audit.Filter{
		UserID:     q.Get("userId"),
		Action:     audit.Action(q.Get("action")),
		Resource:   audit.Resource(q.Get("resource")),
		ResourceID: q.Get("resourceId"),
		From:       from,
		To:         to,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]auditEntryResponse, len(page.Entries))
	for i, e := range page.Entries {
		out[i] = auditEntryResponse{
			ID:         e.ID,
			UserID:     e.UserID,
			Action:     e.Action,
			Resource:   e.Resource,
			ResourceID: e.ResourceID,
			OldValue:   e.OldValue,
			NewValue:   e.NewValue,
			IPAddress:  e.IPAddress,
			UserAgent:  e.UserAgent,
			CreatedAt:  e.CreatedAt,
		}
	}
	writePage(w, r, out, pageMeta{Total: page.Total, Limit: page.Limit, Offset: page.Offset})
}

func (h *Handler) cleanupAuditLogs(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("olderThanDays"))
	if err != nil {
		writeError(w, r, errBadRequest.With("olderThanDays must be an integer"))
		return
	}
	n, err := h.audit.CleanupOldLogs(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, cleanupResponse{Deleted: n, OlderThanDays: days})
}
