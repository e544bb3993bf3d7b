package box

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type intakeMetrics struct {
	requests   metric.Int64Counter
	accepted   metric.Int64Counter
	duplicates metric.Int64Counter
	rejected   metric.Int64Counter
}

func newIntakeMetrics() intakeMetrics {
	meter := otel.Meter("github.com/fr0stylo/docmirror/internal/webhooks/box")
	requests, _ := meter.Int64Counter("docmirror.intake.requests")
	accepted, _ := meter.Int64Counter("docmirror.intake.accepted")
	duplicates, _ := meter.Int64Counter("docmirror.intake.duplicates")
	rejected, _ := meter.Int64Counter("docmirror.intake.rejected")
	return intakeMetrics{
		requests:   requests,
		accepted:   accepted,
		duplicates: duplicates,
		rejected:   rejected,
	}
}

func (m intakeMetrics) recordRequest(ctx context.Context) {
	m.requests.Add(ctx, 1)
}

func (m intakeMetrics) recordAccepted(ctx context.Context, duplicate bool) {
	if duplicate {
		m.duplicates.Add(ctx, 1)
		return
	}
	m.accepted.Add(ctx, 1)
}

func (m intakeMetrics) recordRejected(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
