package circulation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type ledgerMetrics struct {
	issued   metric.Int64Counter
	returned metric.Int64Counter
	rejected metric.Int64Counter
}

func newLedgerMetrics(meter metric.Meter) (*ledgerMetrics, error) {
	issued, err := meter.Int64Counter("libradesk.loans.issued",
		metric.WithDescription("Loans issued"),
		metric.WithUnit("{loan}"))
	if err != nil {
		return nil, err
	}
	returned, err := meter.Int64Counter("libradesk.loans.returned",
		metric.WithDescription("Loans returned"),
		metric.WithUnit("{loan}"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("libradesk.loans.rejected",
		metric.WithDescription("Issue and return requests refused by the ledger"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	return &ledgerMetrics{issued: issued, returned: returned, rejected: rejected}, nil
}

func (m *ledgerMetrics) reject(ctx context.Context, operation, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("reason", reason),
	))
}
