package telemetry

import (
	"context"
	"fmt"

	"github.com/forgemind/agentforge/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Provider implements core.Telemetry backed by the global registry's
// tracer and metric instruments. Components hold a core.Telemetry so
// they stay decoupled from the OTel SDK directly.
type Provider struct{}

// NewProvider returns a core.Telemetry that must be used only after
// Initialize has been called; before that it falls back to a lazily
// created default registry, same as the package-level Counter/Histogram
// functions.
func NewProvider() *Provider { return &Provider{} }

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	reg := current()
	if reg == nil {
		return ctx, &core.NoOpSpan{}
	}
	spanCtx, span := reg.tracer.Start(ctx, name)
	return spanCtx, &otelSpan{span: span}
}

func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	pairs := make([]string, 0, len(labels)*2)
	for k, v := range labels {
		pairs = append(pairs, k, v)
	}
	Histogram(name, value, pairs...)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

var _ core.Telemetry = (*Provider)(nil)
var _ core.Span = (*otelSpan)(nil)
