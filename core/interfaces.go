package core

import "context"

// Logger is the minimal structured-logging interface every component
// accepts. Implementations must be safe for concurrent use.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a component stamp its own name onto every
// log line emitted through the returned Logger, e.g.
// logger.WithComponent("component/reasoning").
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Telemetry is the tracing facade components depend on. The concrete
// OpenTelemetry-backed implementation lives in package telemetry.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is a single unit of work in a trace.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpLogger discards everything. It is the default when a constructor
// receives a nil Logger.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(string, map[string]interface{})  {}
func (n *NoOpLogger) Error(string, map[string]interface{}) {}
func (n *NoOpLogger) Warn(string, map[string]interface{})  {}
func (n *NoOpLogger) Debug(string, map[string]interface{}) {}

func (n *NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (n *NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (n *NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (n *NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// NoOpTelemetry discards spans and metrics.
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}
func (n *NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

// NoOpSpan discards everything.
type NoOpSpan struct{}

func (n *NoOpSpan) End()                             {}
func (n *NoOpSpan) SetAttribute(string, interface{}) {}
func (n *NoOpSpan) RecordError(error)                {}
