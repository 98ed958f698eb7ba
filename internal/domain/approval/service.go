package approval

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/hospitality-core/internal/apperr"
	"github.com/xenking/hospitality-core/internal/domain/audit"
	"github.com/xenking/hospitality-core/internal/domain/auth"
	"github.com/xenking/hospitality-core/internal/domain/order"
	"github.com/xenking/hospitality-core/internal/telemetry"
)

// Event channel and names emitted by the gate.
const (
	EventChannel   = "approvals"
	EventRequested = "approval.requested"
	EventReviewed  = "approval.reviewed"
)

// notifyConcurrency bounds parallel reviewer notifications.
const notifyConcurrency = 4

// Notifier delivers in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// Dispatcher publishes fire-and-forget events.
type Dispatcher interface {
	Emit(ctx context.Context, channel, event string, payload any) error
}

// Params are the collaborators of a Service.
type Params struct {
	Requests   Repository
	Tx         Transactor
	Ledger     Ledger
	Audit      Auditor
	Directory  Directory
	Notifier   Notifier
	Dispatcher Dispatcher
	Metrics    *telemetry.Metrics
	TTL        time.Duration
}

// Service is the approval gate: staff file requests, managers decide them,
// and approved requests are applied to the order ledger.
type Service struct {
	requests   Repository
	tx         Transactor
	ledger     Ledger
	audit      Auditor
	directory  Directory
	notifier   Notifier
	dispatcher Dispatcher
	metrics    *telemetry.Metrics
	ttl        time.Duration

	now func() time.Time
}

// NewService creates an approval Service.
func NewService(p Params) *Service {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		requests:   p.Requests,
		tx:         p.Tx,
		ledger:     p.Ledger,
		audit:      p.Audit,
		directory:  p.Directory,
		notifier:   p.Notifier,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,
		ttl:        ttl,
		now:        time.Now,
	}
}

// CreateRequest files a pending request and notifies reviewers. Creation is
// not audited; the review entry records intent and outcome together.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput, requester auth.Actor) (*Request, error) {
	if !in.Type.Valid() {
		return nil, ErrInvalidType.With("unknown approval type %q", in.Type)
	}
	description := strings.TrimSpace(in.Description)
	if n := utf8.RuneCountInString(description); n == 0 || n > maxDescription {
		return nil, ErrInvalidDescription
	}
	reason := strings.TrimSpace(in.Reason)
	if utf8.RuneCountInString(reason) > maxReason {
		return nil, ErrInvalidReason
	}

	now := s.now().UTC()
	r := &Request{
		ID:             uuid.New().String(),
		Type:           in.Type,
		Amount:         in.Amount,
		OriginalAmount: in.OriginalAmount,
		Percentage:     in.Percentage,
		Description:    description,
		Reason:         reason,
		ReferenceType:  strings.TrimSpace(in.ReferenceType),
		ReferenceID:    strings.TrimSpace(in.ReferenceID),
		RequestedBy:    requester.UserID,
		Status:         StatusPending,
		ExpiresAt:      now.Add(s.ttl),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := actionOf(r); err != nil {
		return nil, err
	}
	if r.ReferenceType == ReferenceOrder {
		if err := s.checkOrder(ctx, r.ReferenceID); err != nil {
			return nil, err
		}
	}

	if err := s.requests.Create(ctx, r); err != nil {
		return nil, apperr.ErrInternal.Wrap(errors.Wrap(err, "create approval request"))
	}

	s.metrics.ApprovalCreated(ctx, string(r.Type))
	s.emit(ctx, EventRequested, r)
	s.notifyReviewers(ctx, r)

	return r, nil
}

// checkOrder rejects references to orders that do not exist.
func (s *Service) checkOrder(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidReference.With("order reference %q is not a valid id", id)
	}
	if _, err := s.ledger.GetOrder(ctx, id); err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return ErrInvalidReference.With("order %s not found", id)
		}
		return apperr.ErrInternal.Wrap(errors.Wrap(err, "get referenced order"))
	}
	return nil
}

// ListPending returns reviewable requests, newest first. Expired requests
// are excluded even though their status is still pending.
func (s *Service) ListPending(ctx context.Context, f ListFilter) ([]Request, int, error) {
	if f.Limit == 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit < 0 || f.Limit > MaxListLimit || f.Offset < 0 {
		return nil, 0, ErrInvalidPagination
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, ErrInvalidType.With("unknown approval type %q", f.Type)
	}
	out, total, err := s.requests.ListPending(ctx, s.now().UTC(), f)
	if err != nil {
		return nil, 0, apperr.ErrInternal.Wrap(errors.Wrap(err, "list pending requests"))
	}
	return out, total, nil
}

// GetRequest returns a request by id.
func (s *Service) GetRequest(ctx context.Context, id string) (*Request, error) {
	r, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, passBusiness(err, "get approval request")
	}
	return r, nil
}

// ReviewRequest records a decision. The pending check and the write are a
// single conditional update, so of two concurrent reviews exactly one wins.
// The review entry is audited in the same transaction. On approval the
// action is applied afterwards; its failure is logged and does not undo the
// decision.
func (s *Service) ReviewRequest(ctx context.Context, id string, decision Status, notes string, reviewer auth.Actor) (*Request, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return nil, ErrInvalidDecision.With("decision must be approved or rejected, got %q", decision)
	}
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > maxNotes {
		return nil, ErrInvalidNotes
	}
	if !reviewer.Role.CanReview() {
		return nil, ErrForbidden
	}

	var reviewed *Request
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		reviewed, err = s.requests.Review(ctx, Review{
			RequestID:  id,
			Decision:   decision,
			ReviewedBy: reviewer.UserID,
			Notes:      notes,
			At:         s.now().UTC(),
		})
		if err != nil {
			return err
		}
		return s.recordReview(ctx, reviewed, reviewer)
	})
	if err != nil {
		return nil, passBusiness(err, "review approval request")
	}

	s.metrics.ApprovalReviewed(ctx, string(reviewed.Type), string(decision))
	if decision == StatusApproved {
		s.applyAction(ctx, reviewed, reviewer)
	}
	s.emit(ctx, EventReviewed, reviewed)
	s.notify(ctx, reviewed.RequestedBy, fmt.Sprintf("Your %s request was %s", reviewed.Type, decision))

	return reviewed, nil
}

func (s *Service) recordReview(ctx context.Context, r *Request, reviewer auth.Actor) error {
	newValue := map[string]any{
		"status":        r.Status,
		"type":          r.Type,
		"requestedBy":   r.RequestedBy,
		"referenceType": r.ReferenceType,
		"referenceId":   r.ReferenceID,
		"description":   r.Description,
		"reviewNotes":   r.ReviewNotes,
	}
	if r.Amount != nil {
		newValue["amount"] = r.Amount.StringFixed(2)
	}
	if r.OriginalAmount != nil {
		newValue["originalAmount"] = r.OriginalAmount.StringFixed(2)
	}
	if r.Percentage != nil {
		newValue["percentage"] = r.Percentage.String()
	}
	id := r.ID
	_, err := s.audit.LogActivity(ctx, audit.LogInput{
		UserID:     reviewer.UserID,
		Action:     audit.ActionStatusChange,
		Resource:   audit.ResourceApprovalRequest,
		ResourceID: &id,
		OldValue:   map[string]any{"status": StatusPending},
		NewValue:   newValue,
		IPAddress:  reviewer.IPAddress,
		UserAgent:  reviewer.UserAgent,
	})
	return err
}

// applyAction runs the approved action. Errors are logged and counted only.
func (s *Service) applyAction(ctx context.Context, r *Request, reviewer auth.Actor) {
	lg := zctx.From(ctx).With(
		zap.String("approval_id", r.ID),
		zap.String("type", string(r.Type)),
		zap.String("reference_id", r.ReferenceID),
	)
	action, err := actionOf(r)
	if err == nil {
		err = action.apply(ctx, &ledgerActions{ledger: s.ledger, audit: s.audit, actor: reviewer})
	}
	if err != nil {
		s.metrics.ActionFailed(ctx, string(r.Type))
		lg.Error("Apply approved action", zap.Error(err))
		return
	}
	lg.Info("Applied approved action")
}

func (s *Service) notifyReviewers(ctx context.Context, r *Request) {
	if s.directory == nil || s.notifier == nil {
		return
	}
	lg := zctx.From(ctx)
	ids, err := s.directory.UserIDsByRole(ctx, auth.ReviewerRoles)
	if err != nil {
		lg.Warn("Resolve reviewers", zap.String("approval_id", r.ID), zap.Error(err))
		return
	}

	msg := fmt.Sprintf("New %s approval request: %s", r.Type, r.Description)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(notifyConcurrency)
	for _, uid := range ids {
		if uid == r.RequestedBy {
			continue
		}
		g.Go(func() error {
			s.notify(gctx, uid, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) notify(ctx context.Context, userID, message string) {
	if s.notifier == nil || userID == "" {
		return
	}
	if err := s.notifier.Notify(ctx, userID, message); err != nil {
		zctx.From(ctx).Warn("Notify user", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) emit(ctx context.Context, event string, r *Request) {
	if s.dispatcher == nil {
		return
	}
	payload := map[string]any{
		"approvalId":  r.ID,
		"type":        r.Type,
		"status":      r.Status,
		"referenceId": r.ReferenceID,
		"requestedBy": r.RequestedBy,
	}
	if err := s.dispatcher.Emit(ctx, EventChannel, event, payload); err != nil {
		zctx.From(ctx).Warn("Emit approval event",
			zap.String("event", event),
			zap.String("approval_id", r.ID),
			zap.Error(err),
		)
	}
}

func passBusiness(err error, op string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.ErrInternal.Wrap(errors.Wrap(err, op))
}
