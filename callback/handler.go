// Package callback implements the CallbackHandler component (spec.md §4.7,
// C7): it adapts an LLM client's streaming callback protocol into EventBus
// publication plus a bounded in-memory ring buffer for debugging. Grounded
// on the teacher's telemetry.RateLimiter (fixed-size guarded state behind a
// mutex) and core/async_task.go's ProgressReporter interface idiom,
// generalized from a single progress-report sink into the richer
// token/tool-call/error callback surface this component adapts.
package callback

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/agentcore/events"
)

// DefaultBufferSize is the ring buffer capacity applied when unset (§4.7:
// "default N = 1000, FIFO eviction").
const DefaultBufferSize = 1000

// Record is one captured callback invocation, kept for debugging via
// Records.
type Record struct {
	Kind      string // "token", "tool_call_start", "tool_call_end", "error"
	TraceID   string
	SessionID string
	Payload   map[string]interface{}
	Timestamp time.Time
}

// Handler adapts streaming callback events into EventBus publication and a
// bounded FIFO history. It is safe to attach to long-running streams: every
// method is non-blocking beyond a short mutex hold over the ring buffer.
type Handler struct {
	bus       *events.Bus
	traceID   string
	sessionID string

	mu     sync.Mutex
	buf    []Record
	head   int
	length int
	cap    int
}

// Option configures a Handler at construction time.
type Option func(*Handler)

// WithBufferSize overrides the ring buffer capacity.
func WithBufferSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.cap = n
		}
	}
}

// New constructs a Handler bound to bus and the trace/session ids read from
// the request's bound context (§4.7: "trace id and session id from the
// bound context").
func New(bus *events.Bus, traceID, sessionID string, opts ...Option) *Handler {
	h := &Handler{bus: bus, traceID: traceID, sessionID: sessionID, cap: DefaultBufferSize}
	for _, opt := range opts {
		opt(h)
	}
	h.buf = make([]Record, h.cap)
	return h
}

func (h *Handler) record(r Record) {
	h.mu.Lock()
	h.buf[(h.head+h.length)%h.cap] = r
	if h.length < h.cap {
		h.length++
	} else {
		h.head = (h.head + 1) % h.cap
	}
	h.mu.Unlock()
}

// Records returns a copy of the last n recorded callbacks, oldest first. n
// <= 0 returns every retained record.
func (h *Handler) Records(n int) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > h.length {
		n = h.length
	}
	out := make([]Record, n)
	start := h.length - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.head+start+i)%h.cap]
	}
	return out
}

func (h *Handler) publish(ctx context.Context, eventType string, r Record) {
	h.record(r)
	if h.bus == nil {
		return
	}
	payload := map[string]interface{}{"trace_id": h.traceID, "session_id": h.sessionID}
	for k, v := range r.Payload {
		payload[k] = v
	}
	h.bus.Publish(ctx, events.Event{
		Type:    eventType,
		Source:  "callback.Handler",
		Payload: payload,
	})
}

// OnToken is invoked once per streamed token fragment.
func (h *Handler) OnToken(ctx context.Context, token string) {
	h.publish(ctx, "LLM_TOKEN", Record{
		Kind: "token", TraceID: h.traceID, SessionID: h.sessionID,
		Payload: map[string]interface{}{"token": token}, Timestamp: time.Now(),
	})
}

// OnToolCallStart is invoked when the model begins invoking a tool.
func (h *Handler) OnToolCallStart(ctx context.Context, toolName string, args map[string]interface{}) {
	h.publish(ctx, "LLM_TOOL_CALL_START", Record{
		Kind: "tool_call_start", TraceID: h.traceID, SessionID: h.sessionID,
		Payload: map[string]interface{}{"tool": toolName, "args": args}, Timestamp: time.Now(),
	})
}

// OnToolCallEnd is invoked when a tool call returns.
func (h *Handler) OnToolCallEnd(ctx context.Context, toolName string, result interface{}, err error) {
	payload := map[string]interface{}{"tool": toolName, "result": result}
	if err != nil {
		payload["error"] = err.Error()
	}
	h.publish(ctx, "LLM_TOOL_CALL_END", Record{
		Kind: "tool_call_end", TraceID: h.traceID, SessionID: h.sessionID,
		Payload: payload, Timestamp: time.Now(),
	})
}

// OnError is invoked when the underlying stream fails.
func (h *Handler) OnError(ctx context.Context, err error) {
	h.publish(ctx, "LLM_ERROR", Record{
		Kind: "error", TraceID: h.traceID, SessionID: h.sessionID,
		Payload: map[string]interface{}{"error": err.Error()}, Timestamp: time.Now(),
	})
}
