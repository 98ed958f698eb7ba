// Package audit implements the append-only audit trail for privileged
// mutations.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xenking/hospitality-core/internal/apperr"
)

// RetentionFloorDays is the minimum age, in days, an entry must reach before
// retention cleanup may delete it.
const RetentionFloorDays = 30

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Action is the kind of mutation recorded.
type Action string

const (
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionPasswordChange Action = "password_change"
	ActionRoleChange     Action = "role_change"
	ActionStatusChange   Action = "status_change"
	ActionSettingsUpdate Action = "settings_update"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionLogout,
		ActionPasswordChange, ActionRoleChange, ActionStatusChange, ActionSettingsUpdate:
		return true
	}
	return false
}

// Resource is the kind of entity an entry refers to.
type Resource string

const (
	ResourceOrder           Resource = "order"
	ResourceApprovalRequest Resource = "approval_request"
	ResourceUser            Resource = "user"
	ResourceMenuItem        Resource = "menu_item"
	ResourceTable           Resource = "table"
	ResourceChalet          Resource = "chalet"
	ResourcePoolSession     Resource = "pool_session"
	ResourceBooking         Resource = "booking"
	ResourceSettings        Resource = "settings"
)

// Valid reports whether r is a known resource kind.
func (r Resource) Valid() bool {
	switch r {
	case ResourceOrder, ResourceApprovalRequest, ResourceUser, ResourceMenuItem,
		ResourceTable, ResourceChalet, ResourcePoolSession, ResourceBooking, ResourceSettings:
		return true
	}
	return false
}

// Entry is one immutable audit record. OldValue and NewValue hold the JSON
// snapshots exactly as persisted.
type Entry struct {
	ID         string
	UserID     *string
	Action     Action
	Resource   Resource
	ResourceID *string
	OldValue   json.RawMessage
	NewValue   json.RawMessage
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

// LogInput is the request to record an activity. UserID is empty for system
// actions. OldValue and NewValue may be any JSON-serialisable value free of
// reference cycles.
type LogInput struct {
	UserID     string
	Action     Action
	Resource   Resource
	ResourceID *string
	OldValue   any
	NewValue   any
	IPAddress  string
	UserAgent  string
}

// Filter selects entries for GetLogs. Zero values disable a criterion.
type Filter struct {
	UserID     string
	Action     Action
	Resource   Resource
	ResourceID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Page is a slice of entries plus the total number matching the filter.
type Page struct {
	Entries []Entry
	Total   int
	Limit   int
	Offset  int
}

// Repository persists audit entries. There is no update operation.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]Entry, int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	ErrInvalidUserID     = apperr.New(apperr.KindValidation, "INVALID_USER_ID", "user id must be a valid UUID")
	ErrInvalidAction     = apperr.New(apperr.KindValidation, "INVALID_ACTION", "unknown audit action")
	ErrInvalidResource   = apperr.New(apperr.KindValidation, "INVALID_RESOURCE", "unknown audit resource")
	ErrInvalidResourceID = apperr.New(apperr.KindValidation, "INVALID_RESOURCE_ID", "resource id must not be empty")
	ErrCircularReference = apperr.New(apperr.KindValidation, "CIRCULAR_REFERENCE", "value contains a circular reference")
	ErrInvalidValue      = apperr.New(apperr.KindValidation, "INVALID_VALUE", "value is not serialisable")
	ErrInvalidPagination = apperr.New(apperr.KindValidation, "INVALID_PAGINATION", "limit must be within 1..1000 and offset non-negative")
	ErrInvalidDateRange  = apperr.New(apperr.KindValidation, "INVALID_DATE_RANGE", "from must not be after to")
	ErrRetentionPolicy   = apperr.New(apperr.KindPolicy, "RETENTION_POLICY", "audit entries younger than 30 days cannot be deleted")
	ErrLogFailed         = apperr.New(apperr.KindInternal, "LOG_FAILED", "failed to persist audit entry")
)
