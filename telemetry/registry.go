// Package telemetry wires OpenTelemetry metrics and tracing behind the
// progressive-disclosure API the rest of agentforge calls: Counter,
// Histogram, Gauge and Duration cover almost every call site; Provider
// exposes the underlying meter/tracer for components that need a span.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the global telemetry Registry.
type Config struct {
	ServiceName string
	// SampleRatio is the fraction of traces kept, in [0,1]. 1.0 by default.
	SampleRatio float64
}

var (
	globalRegistry atomic.Value // *Registry
	initOnce       sync.Once
)

// Registry owns the process's meter and tracer providers and the
// instrument cache built on top of them.
type Registry struct {
	serviceName string
	meter       metric.Meter
	tracer      trace.Tracer
	instruments *MetricInstruments

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

// Initialize activates the global telemetry registry. Safe to call once;
// subsequent calls are no-ops, matching the teacher's init-race-free
// pattern for packages that may be wired up from multiple entry points
// (cmd/agentforge, tests).
func Initialize(cfg Config) error {
	var err error
	initOnce.Do(func() {
		if cfg.ServiceName == "" {
			cfg.ServiceName = "agentforge"
		}
		res, rerr := resource.New(context.Background(),
			resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
		if rerr != nil {
			res = resource.Default()
		}

		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		ratio := cfg.SampleRatio
		if ratio <= 0 {
			ratio = 1.0
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)))

		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)

		reg := &Registry{
			serviceName:    cfg.ServiceName,
			meter:          mp.Meter(cfg.ServiceName),
			tracer:         tp.Tracer(cfg.ServiceName),
			meterProvider:  mp,
			tracerProvider: tp,
		}
		reg.instruments = NewMetricInstruments(reg.meter)
		globalRegistry.Store(reg)
	})
	return err
}

// current returns the active registry, lazily initializing a default one
// so Counter/Histogram/etc. never panic when called before Initialize.
func current() *Registry {
	if r, ok := globalRegistry.Load().(*Registry); ok {
		return r
	}
	_ = Initialize(Config{})
	r, _ := globalRegistry.Load().(*Registry)
	return r
}

// Shutdown flushes and stops the meter and tracer providers. Gateway's
// shutdown sequence calls this last, after in-flight requests drain.
func Shutdown(ctx context.Context) error {
	r := current()
	if r == nil {
		return nil
	}
	if err := r.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return r.meterProvider.Shutdown(ctx)
}
