// Package events implements the EventBus component (spec.md §4.2, C2): an
// in-process publish/subscribe hub with bounded history, bounded concurrent
// fan-out, and per-handler timeouts. It is grounded on the teacher's
// orchestration.RedisCommandStore subscription-management idiom (functional
// options, ComponentAwareLogger injection, a subMu-guarded map of live
// subscriptions) generalized from Redis Pub/Sub to an in-process registry,
// and on core's async task worker pool for bounded-concurrency dispatch.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itsneelabh/agentcore/logging"
	"github.com/itsneelabh/agentcore/metrics"
)

// Any is the wildcard event type: a subscription registered against Any
// receives every published event regardless of its Type.
const Any = "*"

// DefaultMaxHistory is the ring buffer size applied when WithMaxHistory is
// not given.
const DefaultMaxHistory = 1000

// DefaultMaxConcurrency bounds simultaneous handler invocations per publish,
// per §5's back-pressure model.
const DefaultMaxConcurrency = 16

// DefaultHandlerTimeout bounds how long a single handler may run before it is
// abandoned (not killed — Go has no handler-preemption primitive, so an
// abandoned handler's goroutine is simply no longer waited on).
const DefaultHandlerTimeout = 5 * time.Second

// Event is one message flowing through the bus.
type Event struct {
	ID        string
	Type      string
	Source    string
	Payload   map[string]interface{}
	ErrorType string // set when Type signals an error condition, e.g. ERROR_OCCURRED
	Timestamp time.Time
}

// Handler processes one delivered Event. A returned error is logged but never
// propagated to the publisher: Publish reports delivery counts, not handler
// outcomes.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      string
	typ     string
	handler Handler
}

// Bus is the concrete EventBus. The zero value is not usable; construct with
// New.
type Bus struct {
	logger  logging.Logger
	metrics *metrics.Collector

	maxHistory  int
	concurrency int
	handlerTTL  time.Duration

	mu   sync.RWMutex
	subs map[string][]*subscription // event type -> subscriptions, insertion order preserved

	histMu  sync.Mutex
	history []Event
	histPos int
	histLen int
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger attaches a component logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics attaches a MetricsCollector for publish/delivery counters.
func WithMetrics(collector *metrics.Collector) Option {
	return func(b *Bus) {
		if collector != nil {
			b.metrics = collector
		}
	}
}

// WithMaxHistory overrides the ring buffer capacity (0 disables history).
func WithMaxHistory(n int) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.maxHistory = n
		}
	}
}

// WithConcurrency overrides the per-publish bounded fan-out width.
func WithConcurrency(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithHandlerTimeout overrides the per-handler abandon deadline.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.handlerTTL = d
		}
	}
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:      logging.NoOpLogger{},
		maxHistory:  DefaultMaxHistory,
		concurrency: DefaultMaxConcurrency,
		handlerTTL:  DefaultHandlerTimeout,
		subs:        make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxHistory > 0 {
		b.history = make([]Event, b.maxHistory)
	}
	return b
}

// Subscribe registers handler against eventType (or Any for every event) and
// returns a subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	id := uuid.NewString()
	sub := &subscription{id: id, typ: eventType, handler: handler}

	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], sub)
	b.mu.Unlock()

	return id
}

// Unsubscribe removes the subscription registered under id. It is a no-op if
// id is unknown.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for typ, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[typ] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// UnsubscribeHandler removes every subscription whose handler pointer equals
// handler. Handlers are compared by identity via reflect, since Go functions
// are not comparable with ==.
func (b *Bus) UnsubscribeHandler(handler Handler) {
	target := handlerIdentity(handler)

	b.mu.Lock()
	defer b.mu.Unlock()
	for typ, subs := range b.subs {
		kept := subs[:0:0]
		for _, s := range subs {
			if handlerIdentity(s.handler) != target {
				kept = append(kept, s)
			}
		}
		b.subs[typ] = kept
	}
}

// SubscriberCount returns the number of live subscriptions. If eventType is
// empty, it returns the total across all types (Any subscriptions counted
// once, not once per concrete type).
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if eventType == "" {
		total := 0
		for _, subs := range b.subs {
			total += len(subs)
		}
		return total
	}
	return len(b.subs[eventType])
}

// Clear removes every subscription. It does not touch recorded history.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*subscription)
}

// History returns a copy of the most recently published events, oldest
// first, up to maxHistory entries.
func (b *Bus) History() []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if b.histLen == 0 {
		return nil
	}
	out := make([]Event, b.histLen)
	if b.histLen < len(b.history) {
		copy(out, b.history[:b.histLen])
		return out
	}
	// Ring is full: oldest entry is at histPos (next write slot).
	n := copy(out, b.history[b.histPos:])
	copy(out[n:], b.history[:b.histPos])
	return out
}

func (b *Bus) recordHistory(event Event) {
	if b.maxHistory == 0 {
		return
	}
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history[b.histPos] = event
	b.histPos = (b.histPos + 1) % b.maxHistory
	if b.histLen < b.maxHistory {
		b.histLen++
	}
}

// Publish delivers event to every matching subscription (its own Type plus
// every Any subscription), fanning handlers out with bounded concurrency.
// Within one Publish call, handlers are started in subscription insertion
// order, but up to the concurrency limit run at the same time, so the order
// in which their bodies execute is not fixed. Publish blocks until every
// handler has either completed or been abandoned at its timeout, then
// returns the count of handlers that started.
func (b *Bus) Publish(ctx context.Context, event Event) int {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.recordHistory(event)

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[event.Type])+len(b.subs[Any]))
	targets = append(targets, b.subs[event.Type]...)
	if event.Type != Any {
		targets = append(targets, b.subs[Any]...)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	if b.metrics != nil {
		b.metrics.IncCounter("events_published_total", metrics.Labels{"type": event.Type}, 1)
	}

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for _, sub := range targets {
		sem <- struct{}{}
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			defer func() { <-sem }()
			b.dispatch(ctx, s, event)
		}(sub)
	}
	wg.Wait()

	return len(targets)
}

func (b *Bus) dispatch(ctx context.Context, sub *subscription, event Event) {
	hctx, cancel := context.WithTimeout(ctx, b.handlerTTL)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sub.handler(hctx, event)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.logger.Warn("event handler returned error", map[string]interface{}{
				"event_type": event.Type,
				"event_id":   event.ID,
				"error":      err.Error(),
			})
			if b.metrics != nil {
				b.metrics.IncCounter("events_handler_errors_total", metrics.Labels{"type": event.Type}, 1)
			}
		}
	case <-hctx.Done():
		b.logger.Warn("event handler abandoned after timeout", map[string]interface{}{
			"event_type": event.Type,
			"event_id":   event.ID,
			"timeout":    b.handlerTTL.String(),
		})
		if b.metrics != nil {
			b.metrics.IncCounter("events_handler_timeouts_total", metrics.Labels{"type": event.Type}, 1)
		}
	}
}
