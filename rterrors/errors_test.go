package rterrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itsneelabh/agentcore/rterrors"
)

func TestRetryableClassification(t *testing.T) {
	assert.True(t, rterrors.NetworkError.IsRetryable())
	assert.True(t, rterrors.AgentTimeout.IsRetryable())
	assert.False(t, rterrors.ValidationError.IsRetryable())
	assert.False(t, rterrors.MiddlewareError.IsRetryable())
}

func TestUserCausedClassification(t *testing.T) {
	assert.True(t, rterrors.ValidationError.IsUserCaused())
	assert.True(t, rterrors.QuotaExceeded.IsUserCaused())
	assert.False(t, rterrors.StoreError.IsUserCaused())
}

func TestSensitiveHidesInternalDetails(t *testing.T) {
	assert.True(t, rterrors.InternalError.Sensitive())
	assert.True(t, rterrors.StoreError.Sensitive())
	assert.False(t, rterrors.ValidationError.Sensitive())
}

func TestKindOfExtractsWrappedRuntimeError(t *testing.T) {
	base := rterrors.New("session.Get", rterrors.SessionExpired, nil)
	wrapped := fmt.Errorf("context: %w", base)
	flattened := errors.New("context: " + base.Error()) // not a RuntimeError, defaults to INTERNAL_ERROR

	assert.Equal(t, rterrors.SessionExpired, rterrors.KindOf(base))
	assert.Equal(t, rterrors.SessionExpired, rterrors.KindOf(wrapped))
	assert.Equal(t, rterrors.InternalError, rterrors.KindOf(flattened))
	assert.Equal(t, rterrors.InternalError, rterrors.KindOf(errors.New("plain")))
}

func TestErrorsIsMatchesSentinelThroughKind(t *testing.T) {
	err := rterrors.New("session.Refresh", rterrors.SessionExpired, nil)
	assert.True(t, errors.Is(err, rterrors.ErrSessionExpired))
	assert.False(t, errors.Is(err, rterrors.ErrValidation))
}

func TestUnwrapExposesUnderlyingError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := rterrors.New("session.Get", rterrors.StoreError, cause)
	assert.ErrorIs(t, err, cause)
}

func TestNewfFormatsMessage(t *testing.T) {
	err := rterrors.Newf("executor.Validate", rterrors.ValidationError, "field %s is required", "task")
	assert.Contains(t, err.Error(), "field task is required")
}
