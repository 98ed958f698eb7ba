package audit

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/xenking/hospitality-core/internal/apperr"
	"github.com/xenking/hospitality-core/internal/telemetry"
)

// Service is the sole write path into the audit trail.
type Service struct {
	repo    Repository
	metrics *telemetry.Metrics
	now     func() time.Time
	newID   func() string
}

// NewService creates an audit Service backed by repo.
func NewService(repo Repository, metrics *telemetry.Metrics) *Service {
	return &Service{
		repo:    repo,
		metrics: metrics,
		now:     time.Now,
		newID:   func() string { return ulid.Make().String() },
	}
}

// LogActivity validates and appends one entry. Validation failures are
// returned before any persistence attempt; persistence failures are reported
// as ErrLogFailed.
func (s *Service) LogActivity(ctx context.Context, in LogInput) (*Entry, error) {
	var userID *string
	if in.UserID != "" {
		if _, err := uuid.Parse(in.UserID); err != nil {
			return nil, ErrInvalidUserID.With("user id %q is not a valid UUID", in.UserID)
		}
		id := in.UserID
		userID = &id
	}
	if !in.Action.Valid() {
		return nil, ErrInvalidAction.With("unknown audit action %q", in.Action)
	}
	if !in.Resource.Valid() {
		return nil, ErrInvalidResource.With("unknown audit resource %q", in.Resource)
	}
	if in.ResourceID != nil && strings.TrimSpace(*in.ResourceID) == "" {
		return nil, ErrInvalidResourceID
	}

	oldValue, err := encodeValue(in.OldValue)
	if err != nil {
		return nil, err
	}
	newValue, err := encodeValue(in.NewValue)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		ID:         s.newID(),
		UserID:     userID,
		Action:     in.Action,
		Resource:   in.Resource,
		ResourceID: in.ResourceID,
		OldValue:   oldValue,
		NewValue:   newValue,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.Append(ctx, e); err != nil {
		s.metrics.AuditWriteFailed(ctx, string(in.Resource))
		zctx.From(ctx).Error("Audit append failed",
			zap.String("action", string(in.Action)),
			zap.String("resource", string(in.Resource)),
			zap.Error(err),
		)
		return nil, ErrLogFailed.Wrap(err)
	}
	return e, nil
}

// GetLogs returns entries matching f, newest first.
func (s *Service) GetLogs(ctx context.Context, f Filter) (*Page, error) {
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit < 0 || f.Limit > MaxLimit || f.Offset < 0 {
		return nil, ErrInvalidPagination
	}
	if f.UserID != "" {
		if _, err := uuid.Parse(f.UserID); err != nil {
			return nil, ErrInvalidUserID.With("user id %q is not a valid UUID", f.UserID)
		}
	}
	if f.Action != "" && !f.Action.Valid() {
		return nil, ErrInvalidAction.With("unknown audit action %q", f.Action)
	}
	if f.Resource != "" && !f.Resource.Valid() {
		return nil, ErrInvalidResource.With("unknown audit resource %q", f.Resource)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, ErrInvalidDateRange
	}

	entries, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}
	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// CleanupOldLogs deletes entries older than days and returns how many were
// removed. Requests below RetentionFloorDays are refused.
func (s *Service) CleanupOldLogs(ctx context.Context, days int) (int64, error) {
	if days < RetentionFloorDays {
		return 0, ErrRetentionPolicy.With("retention must be at least %d days, got %d", RetentionFloorDays, days)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)
	n, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, apperr.ErrInternal.Wrap(err)
	}
	zctx.From(ctx).Info("Audit retention cleanup",
		zap.Int("days", days),
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", n),
	)
	return n, nil
}
