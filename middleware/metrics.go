package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for durable metrics.
const meterName = "github.com/nexus-link/durable"

// Metrics returns middleware that records per-activity metrics using the
// global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - durable.activity.duration (Float64Histogram): invocation time in
//     seconds, with attributes: activity, type, outcome
//   - durable.activity.invocations (Int64Counter): total invocations,
//     with attributes: activity, type, outcome
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"durable.activity.duration",
		metric.WithDescription("Duration of activity invocations in seconds"),
		metric.WithUnit("s"),
	)
	invocations, _ := meter.Int64Counter(
		"durable.activity.invocations",
		metric.WithDescription("Total number of activity invocations"),
		metric.WithUnit("{invocation}"),
	)

	return func(ctx context.Context, info *Info, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("activity", info.Title),
			attribute.String("type", string(info.Type)),
			attribute.String("outcome", Outcome(err)),
		)
		duration.Record(ctx, elapsed, attrs)
		invocations.Add(ctx, 1, attrs)

		return err
	}
}
