package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agentcore/middleware"
	"github.com/itsneelabh/agentcore/rterrors"
)

type fakeMiddleware struct {
	name       string
	priority   int
	idempotent bool
	process    func(ctx *middleware.Context, next middleware.Next) (middleware.Result, error)
}

func (f *fakeMiddleware) Name() string     { return f.name }
func (f *fakeMiddleware) Priority() int    { return f.priority }
func (f *fakeMiddleware) Idempotent() bool { return f.idempotent }
func (f *fakeMiddleware) Process(ctx *middleware.Context, next middleware.Next) (middleware.Result, error) {
	return f.process(ctx, next)
}

func passthrough(name string, priority int, order *[]string) *fakeMiddleware {
	return &fakeMiddleware{
		name: name, priority: priority,
		process: func(ctx *middleware.Context, next middleware.Next) (middleware.Result, error) {
			*order = append(*order, name+":enter")
			result, err := next(ctx)
			*order = append(*order, name+":exit")
			return result, err
		},
	}
}

func terminalHandler(ctx *middleware.Context) (middleware.Result, error) {
	return middleware.Result{Output: "handled"}, nil
}

func TestOnionOrderingOuterWrapsInner(t *testing.T) {
	var order []string
	p := middleware.New()
	p.Add(passthrough("outer", 10, &order))
	p.Add(passthrough("inner", 20, &order))

	result, err := p.Run(middleware.NewContext(context.Background(), "a", "u", "s", "do it"), terminalHandler)
	require.NoError(t, err)
	assert.Equal(t, "handled", result.Output)
	assert.Equal(t, []string{"outer:enter", "inner:enter", "inner:exit", "outer:exit"}, order)
}

func TestEqualPriorityRunsInInsertionOrder(t *testing.T) {
	var order []string
	p := middleware.New()
	p.Add(passthrough("first", 5, &order))
	p.Add(passthrough("second", 5, &order))

	_, err := p.Run(middleware.NewContext(context.Background(), "a", "u", "s", "t"), terminalHandler)
	require.NoError(t, err)
	assert.Equal(t, []string{"first:enter", "second:enter", "second:exit", "first:exit"}, order)
}

func TestSkipAgentPreventsInnerChainButOuterStillObserves(t *testing.T) {
	var order []string
	innerCalled := false

	p := middleware.New()
	p.Add(passthrough("outer", 1, &order))
	p.Add(&fakeMiddleware{
		name: "gatekeeper", priority: 2,
		process: func(ctx *middleware.Context, next middleware.Next) (middleware.Result, error) {
			order = append(order, "gatekeeper:enter")
			return middleware.Result{SkipAgent: true, Output: "blocked"}, nil
		},
	})
	p.Add(passthrough("inner", 3, &order))

	result, err := p.Run(middleware.NewContext(context.Background(), "a", "u", "s", "t"), func(ctx *middleware.Context) (middleware.Result, error) {
		innerCalled = true
		return middleware.Result{}, nil
	})

	require.NoError(t, err)
	assert.False(t, innerCalled, "handler must not run when an outer middleware sets skip_agent")
	assert.False(t, containsString(order, "inner:enter"), "inner middleware must not run when skip_agent short-circuits")
	assert.True(t, result.SkipAgent)
	assert.Equal(t, "blocked", result.Output)
	assert.Contains(t, order, "outer:enter")
}

func TestMiddlewarePanicBecomesMiddlewareErrorAndOuterStillRuns(t *testing.T) {
	var order []string
	p := middleware.New()
	p.Add(passthrough("outer", 1, &order))
	p.Add(&fakeMiddleware{
		name: "boom", priority: 2,
		process: func(ctx *middleware.Context, next middleware.Next) (middleware.Result, error) {
			panic("kaboom")
		},
	})

	result, err := p.Run(middleware.NewContext(context.Background(), "a", "u", "s", "t"), terminalHandler)
	require.NoError(t, err)
	assert.Equal(t, rterrors.MiddlewareError, result.ErrorType)
	assert.Error(t, result.Err)
	assert.Contains(t, order, "outer:enter")
	assert.Contains(t, order, "outer:exit")
}

func TestDisabledMiddlewareIsSkippedSilently(t *testing.T) {
	var order []string
	p := middleware.New()
	p.Add(passthrough("a", 1, &order))
	p.Add(passthrough("b", 2, &order))
	p.Disable("a")

	_, err := p.Run(middleware.NewContext(context.Background(), "x", "u", "s", "t"), terminalHandler)
	require.NoError(t, err)
	assert.NotContains(t, order, "a:enter")
	assert.Contains(t, order, "b:enter")
}

func TestRemoveAndCount(t *testing.T) {
	p := middleware.New()
	var order []string
	p.Add(passthrough("a", 1, &order))
	p.Add(passthrough("b", 2, &order))
	assert.Equal(t, 2, p.Count())

	assert.True(t, p.Remove("a"))
	assert.Equal(t, 1, p.Count())
	assert.False(t, p.Remove("a"))
	assert.Nil(t, p.Get("a"))
	assert.NotNil(t, p.Get("b"))
}

func TestHandlerErrorPropagatesThroughNext(t *testing.T) {
	p := middleware.New()
	wantErr := errors.New("handler failed")

	_, err := p.Run(middleware.NewContext(context.Background(), "a", "u", "s", "t"), func(ctx *middleware.Context) (middleware.Result, error) {
		return middleware.Result{}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func idempotentPassthrough(name string, priority int, order *[]string) *fakeMiddleware {
	return &fakeMiddleware{
		name: name, priority: priority, idempotent: true,
		process: func(ctx *middleware.Context, next middleware.Next) (middleware.Result, error) {
			*order = append(*order, name+":enter")
			result, err := next(ctx)
			*order = append(*order, name+":exit")
			return result, err
		},
	}
}

func TestRunSuffixSkipsNonIdempotentPrefix(t *testing.T) {
	var order []string
	p := middleware.New()
	p.Add(passthrough("audit", 1, &order))          // not idempotent (zero value)
	p.Add(idempotentPassthrough("retryable", 2, &order))

	result, err := p.RunSuffix(middleware.NewContext(context.Background(), "a", "u", "s", "t"), terminalHandler)
	require.NoError(t, err)
	assert.Equal(t, "handled", result.Output)
	assert.Equal(t, []string{"retryable:enter", "retryable:exit"}, order, "RunSuffix must not re-enter the non-idempotent prefix")
}

func TestRunSuffixRunsOnlyHandlerWhenInnermostMiddlewareIsNotIdempotent(t *testing.T) {
	var order []string
	p := middleware.New()
	p.Add(idempotentPassthrough("outer", 1, &order))
	p.Add(passthrough("innermost-not-idempotent", 2, &order))

	result, err := p.RunSuffix(middleware.NewContext(context.Background(), "a", "u", "s", "t"), terminalHandler)
	require.NoError(t, err)
	assert.Equal(t, "handled", result.Output)
	assert.Empty(t, order, "a non-idempotent middleware closest to the handler breaks the trailing idempotent suffix before it reaches any outer layer")
}

func TestRunSuffixRunsFullChainWhenEveryMiddlewareIsIdempotent(t *testing.T) {
	var order []string
	p := middleware.New()
	p.Add(idempotentPassthrough("outer", 1, &order))
	p.Add(idempotentPassthrough("inner", 2, &order))

	_, err := p.RunSuffix(middleware.NewContext(context.Background(), "a", "u", "s", "t"), terminalHandler)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:enter", "inner:enter", "inner:exit", "outer:exit"}, order)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
