package handler

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the handler's application-level instruments. HTTP-level
// metrics (latency, status codes) come from otelhttp; these count business
// outcomes.
type Metrics struct {
	applications metric.Int64Counter
	rejections   metric.Int64Counter
}

// NewMetrics registers the coupon counters on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("coupon-rules-service/handler")

	applications, err := meter.Int64Counter("coupon.applications",
		metric.WithDescription("Coupons successfully applied to a cart"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter("coupon.rejections",
		metric.WithDescription("Coupon applications rejected by eligibility or usage checks"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		applications: applications,
		rejections:   rejections,
	}, nil
}

func (m *Metrics) recordApplication(ctx context.Context, couponType string) {
	m.applications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("coupon.type", couponType),
	))
}

func (m *Metrics) recordRejection(ctx context.Context, reason string) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("coupon.rejection_reason", reason),
	))
}
