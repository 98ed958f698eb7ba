// Package telemetry holds the OpenTelemetry instruments recorded by the
// order, approval and audit services.
package telemetry

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/xenking/hospitality-core"

// Metrics groups the service counters. A nil *Metrics is valid and records
// nothing, which keeps unit tests free of telemetry setup.
type Metrics struct {
	ordersCreated     metric.Int64Counter
	statusTransitions metric.Int64Counter
	approvalsCreated  metric.Int64Counter
	approvalsReviewed metric.Int64Counter
	actionFailures    metric.Int64Counter
	auditFailures     metric.Int64Counter
}

// NewMetrics registers all counters on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.ordersCreated, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders created, by order type")); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if m.statusTransitions, err = meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Applied order status transitions")); err != nil {
		return nil, errors.Wrap(err, "orders.status_transitions")
	}
	if m.approvalsCreated, err = meter.Int64Counter("approvals.created",
		metric.WithDescription("Approval requests filed, by type")); err != nil {
		return nil, errors.Wrap(err, "approvals.created")
	}
	if m.approvalsReviewed, err = meter.Int64Counter("approvals.reviewed",
		metric.WithDescription("Approval requests decided, by type and decision")); err != nil {
		return nil, errors.Wrap(err, "approvals.reviewed")
	}
	if m.actionFailures, err = meter.Int64Counter("approvals.action_failures",
		metric.WithDescription("Approved actions whose side effect could not be applied")); err != nil {
		return nil, errors.Wrap(err, "approvals.action_failures")
	}
	if m.auditFailures, err = meter.Int64Counter("audit.write_failures",
		metric.WithDescription("Audit entries that failed to persist")); err != nil {
		return nil, errors.Wrap(err, "audit.write_failures")
	}
	return &m, nil
}

func (m *Metrics) OrderCreated(ctx context.Context, orderType string) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("order_type", orderType)))
}

func (m *Metrics) StatusTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) ApprovalCreated(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.approvalsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) ApprovalReviewed(ctx context.Context, kind, decision string) {
	if m == nil {
		return
	}
	m.approvalsReviewed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", kind),
		attribute.String("decision", decision),
	))
}

func (m *Metrics) ActionFailed(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.actionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) AuditWriteFailed(ctx context.Context, resource string) {
	if m == nil {
		return
	}
	m.auditFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", resource)))
}
