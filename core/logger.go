package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ProductionLogger is the default Logger: structured JSON or
// human-readable lines, one component tag per instance so call sites
// can filter by component without threading context through every call.
type ProductionLogger struct {
	level     string
	debug     bool
	service   string
	component string
	format    string
	output    io.Writer
}

// NewProductionLogger builds a logger for service, writing "json" or
// "text" formatted lines (text by default) to stdout.
func NewProductionLogger(service, level, format string) *ProductionLogger {
	if format == "" {
		format = "text"
	}
	return &ProductionLogger{
		level:   strings.ToLower(level),
		debug:   strings.ToLower(level) == "debug",
		service: service,
		format:  format,
		output:  os.Stdout,
	}
}

// WithComponent returns a copy of the logger tagged with component,
// e.g. "component/reasoning" or "component/pool".
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "INFO", msg, fields)
}
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "ERROR", msg, fields)
}
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "WARN", msg, fields)
}
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(context.Background(), "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "INFO", msg, fields)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "ERROR", msg, fields)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "WARN", msg, fields)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(ctx, "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEvent(ctx context.Context, level, msg string, fields map[string]interface{}) {
	timestamp := time.Now().Format(time.RFC3339)
	requestID, _ := SessionIDFromContext(ctx)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.service,
			"component": p.component,
			"message":   msg,
		}
		if requestID != "" {
			entry["session_id"] = requestID
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var sessionTag string
	if requestID != "" {
		sessionTag = fmt.Sprintf("[session=%s] ", requestID)
	}
	var fieldStr strings.Builder
	for k, v := range fields {
		fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s%s\n",
		timestamp, level, p.service, p.component, sessionTag, msg, fieldStr.String())
}

var _ ComponentAwareLogger = (*ProductionLogger)(nil)
