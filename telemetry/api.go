package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counter increments name by 1, tagged with the given attributes.
// Example: Counter(telemetry.MetricGatewayRequests, "route", "/tasks")
func Counter(name string, labelPairs ...string) {
	CounterCtx(context.Background(), name, labelPairs...)
}

// CounterCtx is Counter with an explicit context for trace correlation.
func CounterCtx(ctx context.Context, name string, labelPairs ...string) {
	reg := current()
	if reg == nil {
		return
	}
	_ = reg.instruments.RecordCounter(ctx, name, 1, metric.WithAttributes(toAttributes(labelPairs)...))
}

// Histogram records value in a distribution, e.g. request latency.
func Histogram(name string, value float64, labelPairs ...string) {
	reg := current()
	if reg == nil {
		return
	}
	_ = reg.instruments.RecordHistogram(context.Background(), name, value,
		metric.WithAttributes(toAttributes(labelPairs)...))
}

// Gauge records the current value of a metric that can move in either
// direction, such as active session count.
func Gauge(name string, value float64, labelPairs ...string) {
	reg := current()
	if reg == nil {
		return
	}
	_ = reg.instruments.RecordGauge(context.Background(), name, value,
		metric.WithAttributes(toAttributes(labelPairs)...))
}

// Duration records the milliseconds elapsed since start.
// Typical use: defer telemetry.Duration(telemetry.MetricAgentStageDurationMS, start, "stage", stageName)
func Duration(name string, start time.Time, labelPairs ...string) {
	Histogram(name, float64(time.Since(start).Milliseconds()), labelPairs...)
}

// RecordError increments name with an error_type attribute.
func RecordError(name string, errType string, labelPairs ...string) {
	Counter(name, append(append([]string{}, labelPairs...), "error_type", errType)...)
}

// RecordSuccess increments name with a status=success attribute.
func RecordSuccess(name string, labelPairs ...string) {
	Counter(name, append(append([]string{}, labelPairs...), "status", "success")...)
}

// UpDown adjusts a metric that increases and decreases, e.g. in-flight
// pool requests or active SSE streams.
func UpDown(name string, delta int64, labelPairs ...string) {
	reg := current()
	if reg == nil {
		return
	}
	_ = reg.instruments.RecordUpDown(context.Background(), name, delta,
		metric.WithAttributes(toAttributes(labelPairs)...))
}

func toAttributes(labelPairs []string) []attribute.KeyValue {
	if len(labelPairs) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labelPairs)/2)
	for i := 0; i+1 < len(labelPairs); i += 2 {
		attrs = append(attrs, attribute.String(labelPairs[i], labelPairs[i+1]))
	}
	return attrs
}
