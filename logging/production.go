package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

var levelOrder = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

// ProductionLogger is a dependency-free Logger implementation: JSON lines in
// cluster environments (auto-detected via KUBERNETES_SERVICE_HOST, or forced
// with AGENTRT_LOG_FORMAT=json), human-readable text otherwise. Error logs
// are rate-limited to one per second so a cascading failure can't turn the
// log stream into noise.
type ProductionLogger struct {
	mu        sync.RWMutex
	service   string
	component string
	level     string
	format    string
	output    io.Writer
	errLimit  *RateLimiter
}

// NewProductionLogger builds a logger for service, reading AGENTRT_LOG_LEVEL
// and AGENTRT_LOG_FORMAT from the environment with sensible defaults.
func NewProductionLogger(service string) *ProductionLogger {
	level := strings.ToUpper(os.Getenv("AGENTRT_LOG_LEVEL"))
	if level == "" {
		level = "INFO"
	}

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if f := os.Getenv("AGENTRT_LOG_FORMAT"); f != "" {
		format = f
	}

	return &ProductionLogger{
		service:  service,
		level:    level,
		format:   format,
		output:   os.Stdout,
		errLimit: NewRateLimiter(time.Second),
	}
}

// WithComponent returns a logger that stamps every entry with component,
// sharing the parent's output/level/format configuration.
func (l *ProductionLogger) WithComponent(component string) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &ProductionLogger{
		service:   l.service,
		component: component,
		level:     l.level,
		format:    l.format,
		output:    l.output,
		errLimit:  l.errLimit,
	}
}

// SetOutput redirects log output; primarily for tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if !l.errLimit.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("INFO", msg, withTrace(ctx, fields))
}
func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("WARN", msg, withTrace(ctx, fields))
}
func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, withTrace(ctx, fields))
}
func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if !l.errLimit.Allow() {
		return
	}
	l.log("ERROR", msg, withTrace(ctx, fields))
}

// traceIDKey is the context key convention shared with the executor and
// event bus for correlating a log line with AgentContext.metadata["trace_id"].
type traceIDKey struct{}

// WithTraceID returns a context carrying trace for log correlation.
func WithTraceID(ctx context.Context, trace string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, trace)
}

func withTrace(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	trace, _ := ctx.Value(traceIDKey{}).(string)
	if trace == "" {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["trace_id"] = trace
	return out
}

func (l *ProductionLogger) shouldLog(level string) bool {
	l.mu.RLock()
	cur := l.level
	l.mu.RUnlock()
	want, ok1 := levelOrder[level]
	have, ok2 := levelOrder[cur]
	if !ok1 || !ok2 {
		return true
	}
	return want >= have
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}

	l.mu.RLock()
	format := l.format
	out := l.output
	service := l.service
	component := l.component
	l.mu.RUnlock()

	ts := time.Now().UTC().Format(time.RFC3339Nano)

	if format == "json" {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"service":   service,
			"message":   msg,
		}
		if component != "" {
			entry["component"] = component
		}
		for k, v := range fields {
			if _, reserved := entry[k]; !reserved {
				entry[k] = v
			}
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(out, string(data))
		}
		return
	}

	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	comp := service
	if component != "" {
		comp = service + ":" + component
	}
	fmt.Fprintf(out, "%s [%s] [%s] %s%s\n", ts, level, comp, msg, b.String())
}

var _ ComponentLogger = (*ProductionLogger)(nil)
