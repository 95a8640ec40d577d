// Package middleware implements the MiddlewarePipeline component (spec.md
// §4.4, C4): an onion-model chain of request interceptors, grounded on the
// teacher's core.LoggingMiddleware wrap-around idiom
// (func(http.Handler) http.Handler composition), generalized from the
// fixed two-stage HTTP logging wrapper to an arbitrarily deep,
// priority-ordered chain with short-circuit and post-processing semantics.
package middleware

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/itsneelabh/agentcore/rterrors"
)

// Context carries the mutable per-request state a Middleware's Process sees.
// Identity fields are conventionally read-only; Metadata is the mutable
// scratch space pre-processing stages use to communicate with later stages.
type Context struct {
	AgentID   string
	UserID    string
	SessionID string
	Task      string
	Metadata  map[string]interface{}

	parent context.Context
}

// Deadline, Done, Err, and Value satisfy context.Context so a Context can be
// passed anywhere a context.Context is expected, delegating to the wrapped
// standard context for cancellation.
func (c *Context) Deadline() (deadline time.Time, ok bool) { return c.parent.Deadline() }
func (c *Context) Done() <-chan struct{}                   { return c.parent.Done() }
func (c *Context) Err() error                               { return c.parent.Err() }
func (c *Context) Value(key interface{}) interface{}        { return c.parent.Value(key) }

// NewContext wraps a standard context.Context with the pipeline's request
// fields.
func NewContext(parent context.Context, agentID, userID, sessionID, task string) *Context {
	return &Context{
		AgentID:   agentID,
		UserID:    userID,
		SessionID: sessionID,
		Task:      task,
		Metadata:  make(map[string]interface{}),
		parent:    parent,
	}
}

// Result is what a Middleware (or the terminal handler) returns.
type Result struct {
	Output    string
	Metadata  map[string]interface{}
	SkipAgent bool // do not invoke the inner chain/handler; outer chain still observes this result
	SkipRest  bool // begin unwinding immediately; any not-yet-entered inner middleware is skipped
	Err       error
	ErrorType rterrors.Type
}

// Handler is the terminal step of the onion — typically the executor's
// LLM/tool call.
type Handler func(ctx *Context) (Result, error)

// Next is what call_next resolves to from inside a Middleware's Process.
type Next func(ctx *Context) (Result, error)

// Middleware is one onion layer.
type Middleware interface {
	Name() string
	Priority() int
	// Idempotent reports whether this middleware's Process may be safely
	// re-invoked by the executor's retry loop (§4.5 step 6: "Only the
	// handler and middlewares that declare idempotence are retried").
	Idempotent() bool
	Process(ctx *Context, next Next) (Result, error)
}

// entry wraps a registered Middleware with the insertion sequence number
// needed to break priority ties deterministically.
type entry struct {
	mw       Middleware
	seq      int
	disabled bool
}

// Pipeline is the concrete MiddlewarePipeline.
type Pipeline struct {
	mu      sync.RWMutex
	entries []*entry
	nextSeq int
}

// New constructs an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Add registers mw. Two middlewares of equal priority run in the order they
// were added.
func (p *Pipeline) Add(mw Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, &entry{mw: mw, seq: p.nextSeq})
	p.nextSeq++
	p.sortLocked()
}

func (p *Pipeline) sortLocked() {
	sort.SliceStable(p.entries, func(i, j int) bool {
		if p.entries[i].mw.Priority() != p.entries[j].mw.Priority() {
			return p.entries[i].mw.Priority() < p.entries[j].mw.Priority()
		}
		return p.entries[i].seq < p.entries[j].seq
	})
}

// Remove deletes the middleware registered under name, returning whether one
// was found. It copies the slice (copy-on-write) so a concurrent Run sees
// either the whole old list or the whole new one, never a partial edit.
func (p *Pipeline) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.mw.Name() == name {
			next := make([]*entry, 0, len(p.entries)-1)
			next = append(next, p.entries[:i]...)
			next = append(next, p.entries[i+1:]...)
			p.entries = next
			return true
		}
	}
	return false
}

// Get returns the middleware registered under name, or nil.
func (p *Pipeline) Get(name string) Middleware {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.entries {
		if e.mw.Name() == name {
			return e.mw
		}
	}
	return nil
}

// Disable marks a middleware to be skipped by Run without removing it from
// the registry.
func (p *Pipeline) Disable(name string) bool {
	return p.setDisabled(name, true)
}

// Enable reverses Disable.
func (p *Pipeline) Enable(name string) bool {
	return p.setDisabled(name, false)
}

func (p *Pipeline) setDisabled(name string, disabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.mw.Name() == name {
			e.disabled = disabled
			return true
		}
	}
	return false
}

// Clear removes every middleware.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
}

// Count returns the number of registered middlewares, including disabled
// ones.
func (p *Pipeline) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Run executes the onion chain against handler. Each call to Run builds its
// own traversal closures over a snapshot of the registered chain, so
// concurrent Run calls never interfere with each other even while Add/Remove
// are mutating the registry (protected by p.mu, held only during the
// snapshot read).
func (p *Pipeline) Run(ctx *Context, handler Handler) (Result, error) {
	return runFrom(ctx, p.snapshot(), 0, handler)
}

// RunSuffix executes only the trailing run of middlewares that declare
// Idempotent() == true, plus handler — skipping every middleware up to and
// including the last non-idempotent one in execution order. This is what a
// retrying caller (AgentExecutor's retry loop, §4.5 step 6) invokes on every
// attempt after the first: "only the handler and middlewares that declare
// idempotence are retried" means a non-idempotent middleware's Process (and
// whatever side effect it has already committed — an audit log write, a
// quota deduction) must run exactly once across the whole retry sequence,
// not once per attempt.
func (p *Pipeline) RunSuffix(ctx *Context, handler Handler) (Result, error) {
	chain := p.snapshot()
	return runFrom(ctx, chain, idempotentSuffixStart(chain), handler)
}

// snapshot copies the non-disabled entries under a read lock so a traversal
// never observes a partial Add/Remove.
func (p *Pipeline) snapshot() []*entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	chain := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		if !e.disabled {
			chain = append(chain, e)
		}
	}
	return chain
}

// idempotentSuffixStart returns the index of the first middleware such that
// it, and every middleware after it in execution order, declares
// Idempotent() == true. Everything before that index is the non-idempotent
// prefix a retry must not re-enter.
func idempotentSuffixStart(chain []*entry) int {
	start := len(chain)
	for i := len(chain) - 1; i >= 0; i-- {
		if !chain[i].mw.Idempotent() {
			break
		}
		start = i
	}
	return start
}

// runFrom builds the onion recursively: calling index i invokes
// chain[i].Process with a Next that, when called, recurses to i+1 (or the
// terminal handler once the chain is exhausted).
func runFrom(ctx *Context, chain []*entry, i int, handler Handler) (Result, error) {
	if i >= len(chain) {
		return handler(ctx)
	}

	mw := chain[i].mw
	var innerErr error
	next := func(ctx *Context) (Result, error) {
		result, err := runFrom(ctx, chain, i+1, handler)
		innerErr = err
		return result, err
	}

	result, err := safeProcess(mw, ctx, next)
	if err != nil {
		// An error the inner chain or handler returned through next keeps its
		// own classification; only the middleware's own failures become
		// MIDDLEWARE_ERROR.
		if innerErr != nil && errors.Is(err, innerErr) {
			return result, err
		}
		return Result{
			Err:       err,
			ErrorType: rterrors.MiddlewareError,
		}, nil
	}
	return result, nil
}

// safeProcess converts a panicking or erroring middleware into a
// MIDDLEWARE_ERROR result rather than unwinding the whole Run call, so outer
// middlewares' post-processing still executes (§4.4's Error contract).
func safeProcess(mw Middleware, ctx *Context, next Next) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = rterrors.Newf("middleware."+mw.Name(), rterrors.MiddlewareError, "panic: %v", r)
		}
	}()
	return mw.Process(ctx, next)
}
