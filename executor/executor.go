package executor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/itsneelabh/agentcore/events"
	"github.com/itsneelabh/agentcore/logging"
	"github.com/itsneelabh/agentcore/metrics"
	"github.com/itsneelabh/agentcore/middleware"
	"github.com/itsneelabh/agentcore/rterrors"
	"github.com/itsneelabh/agentcore/session"
)

// DefaultTimeout is executor.default_timeout_seconds's default.
const DefaultTimeout = 30 * time.Second

// DefaultRetryAttempts is executor.retry_attempts's default.
const DefaultRetryAttempts = 3

// DefaultRetryBaseDelay is executor.retry_base_delay_seconds's default.
const DefaultRetryBaseDelay = time.Second

// DefaultRetryBackoffMultiplier is executor.retry_backoff_multiplier's default.
const DefaultRetryBackoffMultiplier = 2.0

// DefaultRetryMaxDelay is executor.retry_max_delay_seconds's default.
const DefaultRetryMaxDelay = 60 * time.Second

// Executor is the concrete AgentExecutor (C5): a per-request orchestrator
// running one AgentConfig's requests through a shared MiddlewarePipeline.
type Executor struct {
	config   AgentConfig
	pipeline *middleware.Pipeline
	llm      LLMClient

	bus      *events.Bus
	metrics  *metrics.Collector
	sessions *session.Manager
	logger   logging.Logger

	started   int64 // atomic
	completed int64 // atomic
	failed    int64 // atomic
	lastErr   atomic.Value
}

// Stats is a point-in-time snapshot of an Executor's lifetime request
// counts, mirroring the teacher's circuit breaker GetMetrics() convention
// for cheap operational visibility without a metrics backend.
type Stats struct {
	Started   int64
	Completed int64
	Failed    int64
	LastError string
}

// Stats returns the executor's lifetime request counters.
func (e *Executor) Stats() Stats {
	lastErr, _ := e.lastErr.Load().(string)
	return Stats{
		Started:   atomic.LoadInt64(&e.started),
		Completed: atomic.LoadInt64(&e.completed),
		Failed:    atomic.LoadInt64(&e.failed),
		LastError: lastErr,
	}
}

// Option configures an Executor at construction time.
type Option func(*Executor)

func WithBus(bus *events.Bus) Option {
	return func(e *Executor) {
		if bus != nil {
			e.bus = bus
		}
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Executor) {
		if collector != nil {
			e.metrics = collector
		}
	}
}

func WithSessionManager(mgr *session.Manager) Option {
	return func(e *Executor) { e.sessions = mgr }
}

func WithLogger(logger logging.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New constructs an Executor bound to one AgentConfig, pipeline, and LLM
// client. Dependencies beyond those three are optional: a missing
// SessionManager simply skips the checkpoint-load/save steps, matching
// §4.5's "graceful degradation when dependencies are missing".
func New(config AgentConfig, pipeline *middleware.Pipeline, llm LLMClient, opts ...Option) *Executor {
	e := &Executor{
		config:   config,
		pipeline: pipeline,
		llm:      llm,
		logger:   logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) publish(ctx context.Context, eventType string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, events.Event{Type: eventType, Source: "executor.Executor", Payload: payload})
}

func (e *Executor) timeout() time.Duration {
	if e.config.Timeout > 0 {
		return e.config.Timeout
	}
	return DefaultTimeout
}

// retryAttempts returns the configured attempt count, falling back to
// DefaultRetryAttempts only when RetryAttempts is unset (nil) — an explicit
// zero means "exactly one attempt, no retries" per spec.md §8 and must not
// be silently promoted to the default.
func (e *Executor) retryAttempts() int {
	if e.config.RetryAttempts != nil {
		return *e.config.RetryAttempts
	}
	return DefaultRetryAttempts
}

func (e *Executor) retryBaseDelay() time.Duration {
	if e.config.RetryBaseDelay > 0 {
		return e.config.RetryBaseDelay
	}
	return DefaultRetryBaseDelay
}

// validate checks ctx's required identity fields per §4.5 step 1.
func validate(ctx AgentContext) error {
	switch {
	case ctx.AgentID == "":
		return fieldError("agent_id", "must not be empty")
	case ctx.UserID == "":
		return fieldError("user_id", "must not be empty")
	case ctx.SessionID == "":
		return fieldError("session_id", "must not be empty")
	case ctx.Task == "":
		return fieldError("task", "must not be empty")
	}
	return nil
}

// Execute runs one request through the middleware onion with timeout,
// cancellation, and retry enforcement, per §4.5's numbered steps.
func (e *Executor) Execute(ctx context.Context, reqCtx AgentContext) AgentResult {
	return e.execute(ctx, reqCtx, e.llm)
}

func (e *Executor) execute(ctx context.Context, reqCtx AgentContext, llm LLMClient) AgentResult {
	if err := validate(reqCtx); err != nil {
		return e.failResult(rterrors.ValidationError, err.Error(), 0)
	}

	start := time.Now()
	atomic.AddInt64(&e.started, 1)
	e.publish(ctx, "AGENT_STARTED", map[string]interface{}{
		"agent_id": reqCtx.AgentID, "session_id": reqCtx.SessionID,
	})
	e.countMetric("requests_total")

	runCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	// Step 3: best-effort session checkpoint load; failure is logged, not
	// fatal, per §4.5 step 3 and the graceful-degradation rule.
	if e.sessions != nil {
		if _, err := e.sessions.GetLatestCheckpoint(runCtx, reqCtx.SessionID); err != nil {
			e.logger.Warn("session checkpoint load failed, continuing without memory", map[string]interface{}{
				"session_id": reqCtx.SessionID, "error": err.Error(),
			})
		}
	}

	handler := e.buildHandlerWithClient(reqCtx, llm)

	result, execErr := e.runWithRetry(runCtx, reqCtx, handler)

	elapsed := time.Since(start)
	agentResult := e.toAgentResult(result, execErr, elapsed)

	// Step 7: best-effort memory persistence.
	if e.sessions != nil && agentResult.Success {
		if _, err := e.sessions.SaveCheckpoint(runCtx, reqCtx.SessionID, map[string]interface{}{
			"task": reqCtx.Task, "output": agentResult.Output,
		}, ""); err != nil {
			e.logger.Warn("session checkpoint save failed", map[string]interface{}{
				"session_id": reqCtx.SessionID, "error": err.Error(),
			})
		}
	}

	if agentResult.Success {
		atomic.AddInt64(&e.completed, 1)
		e.publish(ctx, "AGENT_COMPLETED", map[string]interface{}{
			"agent_id": reqCtx.AgentID, "execution_time_ms": agentResult.ExecutionTimeMS,
		})
		e.countMetric("requests_completed_total")
	} else {
		atomic.AddInt64(&e.failed, 1)
		e.lastErr.Store(agentResult.Error)
		errType, _ := agentResult.Metadata["error_type"].(string)
		if e.bus != nil {
			e.bus.Publish(ctx, events.Event{
				Type: "ERROR_OCCURRED", Source: "executor.Executor", ErrorType: errType,
				Payload: map[string]interface{}{
					"agent_id": reqCtx.AgentID, "error_type": errType, "error_message": agentResult.Error,
				},
			})
		}
	}

	if e.metrics != nil {
		e.metrics.Observe("agent_execution_seconds", metrics.Labels{"agent_id": reqCtx.AgentID}, elapsed.Seconds())
	}

	return agentResult
}

func (e *Executor) buildHandlerWithClient(reqCtx AgentContext, llm LLMClient) middleware.Handler {
	return func(mctx *middleware.Context) (middleware.Result, error) {
		output, tokens, err := llm.Complete(mctx, e.config, reqCtx.Task)
		if err != nil {
			return middleware.Result{}, err
		}
		return middleware.Result{
			Output:   output,
			Metadata: map[string]interface{}{"tokens_used": tokens},
		}, nil
	}
}

// runWithRetry invokes the middleware pipeline, retrying retryable failures
// per §4.5 step 6 and §7's retry policy via cenkalti/backoff's exponential
// strategy. Cancellation and timeout are never retried.
func (e *Executor) runWithRetry(runCtx context.Context, reqCtx AgentContext, handler middleware.Handler) (middleware.Result, error) {
	mctx := middleware.NewContext(runCtx, reqCtx.AgentID, reqCtx.UserID, reqCtx.SessionID, reqCtx.Task)
	for k, v := range reqCtx.Metadata {
		mctx.Metadata[k] = v
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryBaseDelay()
	policy.Multiplier = DefaultRetryBackoffMultiplier
	policy.MaxInterval = DefaultRetryMaxDelay

	attempt := 0
	operation := func() (middleware.Result, error) {
		if runCtx.Err() != nil {
			return middleware.Result{}, backoff.Permanent(runCtx.Err())
		}

		// Only the first attempt runs the full chain; every retry re-enters
		// only the trailing idempotent middlewares (RunSuffix), so a
		// non-idempotent middleware's Process — and whatever side effect it
		// committed on the way in — runs exactly once across the whole
		// retry sequence, per the Idempotent() contract.
		runChain := e.pipeline.Run
		if attempt > 0 {
			e.publish(runCtx, "RETRY_ATTEMPTED", map[string]interface{}{
				"agent_id": reqCtx.AgentID, "attempt": attempt,
			})
			runChain = e.pipeline.RunSuffix
		}
		attempt++

		result, err := runChain(mctx, handler)
		if err != nil {
			if !rterrors.KindOf(err).IsRetryable() {
				return middleware.Result{}, backoff.Permanent(err)
			}
			return middleware.Result{}, err
		}
		if result.Err != nil {
			if !result.ErrorType.IsRetryable() {
				return middleware.Result{}, backoff.Permanent(result.Err)
			}
			return middleware.Result{}, result.Err
		}
		return result, nil
	}

	// §8's zero-retries boundary case ("retry_attempts = 0 executes exactly
	// one attempt") is a documented exception to attempts mapping directly
	// onto MaxTries: backoff.WithMaxTries(0) means unlimited, not zero, so a
	// configured zero is floored to 1 rather than passed straight through.
	maxTries := e.retryAttempts()
	if maxTries < 1 {
		maxTries = 1
	}

	return backoff.Retry(runCtx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(maxTries)),
	)
}

func (e *Executor) toAgentResult(result middleware.Result, execErr error, elapsed time.Duration) AgentResult {
	if execErr != nil {
		kind := e.classifyExecErr(execErr)
		return e.failResult(kind, sanitizedMessage(kind, execErr), elapsed.Milliseconds())
	}
	if result.Err != nil {
		kind := result.ErrorType
		if kind == "" {
			kind = rterrors.KindOf(result.Err)
		}
		return e.failResult(kind, sanitizedMessage(kind, result.Err), elapsed.Milliseconds())
	}

	meta := map[string]interface{}{}
	tokens := 0
	for k, v := range result.Metadata {
		meta[k] = v
		if k == "tokens_used" {
			if n, ok := v.(int); ok {
				tokens = n
			}
		}
	}
	return AgentResult{
		Success:         true,
		Output:          result.Output,
		Metadata:        meta,
		TokensUsed:      tokens,
		ExecutionTimeMS: elapsed.Milliseconds(),
	}
}

func (e *Executor) classifyExecErr(err error) rterrors.Type {
	if err == context.DeadlineExceeded {
		return rterrors.AgentTimeout
	}
	if err == context.Canceled {
		return rterrors.Cancelled
	}
	return rterrors.KindOf(err)
}

// sanitizedMessage implements §6's "internal details are not leaked" rule:
// SENSITIVE error types get a generic message in the user-visible field; the
// underlying error text is not included in the result.
func sanitizedMessage(kind rterrors.Type, err error) string {
	if kind.Sensitive() {
		return "an internal error occurred"
	}
	return err.Error()
}

func (e *Executor) failResult(kind rterrors.Type, message string, elapsedMS int64) AgentResult {
	return AgentResult{
		Success:         false,
		Error:           message,
		Metadata:        map[string]interface{}{"error_type": string(kind)},
		ExecutionTimeMS: elapsedMS,
	}
}

func (e *Executor) countMetric(name string) {
	if e.metrics != nil {
		e.metrics.IncCounter(name, metrics.Labels{"agent_id": e.config.Name}, 1)
	}
}

// ExecuteBatch runs requests with bounded concurrency (default
// max(4, 2*cores)), preserving input order in the result vector. A
// caller-supplied semaphore width overrides the default when maxConcurrency
// > 0.
func (e *Executor) ExecuteBatch(ctx context.Context, requests []AgentContext, maxConcurrency int) []AgentResult {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultBatchConcurrency()
	}

	results := make([]AgentResult, len(requests))
	sem := make(chan struct{}, maxConcurrency)
	done := make(chan int, len(requests))

	for i, req := range requests {
		sem <- struct{}{}
		go func(idx int, r AgentContext) {
			defer func() { <-sem; done <- idx }()
			results[idx] = e.Execute(ctx, r)
		}(i, req)
	}
	for range requests {
		<-done
	}
	return results
}

func defaultBatchConcurrency() int {
	n := 2 * runtime.NumCPU()
	if n < 4 {
		return 4
	}
	return n
}

// ExecuteStream runs the request like Execute and passes output fragments to
// emit as the LLMClient produces them; through streamingLLMAdapter each
// successful completion is emitted as one fragment. It is not restartable: calling it twice for the same request re-runs the whole
// pipeline. Cancellation of ctx propagates to the underlying LLM call via
// the context passed into the handler.
func (e *Executor) ExecuteStream(ctx context.Context, reqCtx AgentContext, emit func(fragment string)) AgentResult {
	adapter := &streamingLLMAdapter{inner: e.llm, emit: emit}
	return e.execute(ctx, reqCtx, adapter)
}

// streamingLLMAdapter lets ExecuteStream reuse Execute's full retry/timeout/
// event machinery while still emitting fragments to the caller as they
// arrive, by wrapping the configured LLMClient with one that forwards its
// single completion as one fragment. A true token-level streaming client
// would instead call emit per token; this runtime's LLMClient seam is
// provider-agnostic (§1 Non-goals exclude implementing an LLM client), so
// the adapter is the generalization point a concrete provider plugs into.
type streamingLLMAdapter struct {
	inner LLMClient
	emit  func(string)
}

func (a *streamingLLMAdapter) Complete(ctx context.Context, cfg AgentConfig, task string) (string, int, error) {
	output, tokens, err := a.inner.Complete(ctx, cfg, task)
	if err == nil && a.emit != nil {
		a.emit(output)
	}
	return output, tokens, err
}
