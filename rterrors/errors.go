// Package rterrors defines the closed error-type taxonomy of spec.md §7 and
// the structured wrapper every subsystem uses to carry it, grounded on the
// teacher's core.FrameworkError / sentinel-error pattern.
package rterrors

import (
	"errors"
	"fmt"
)

// Type is one of the closed set of machine-readable error tokens from §6/§7.
// AgentResult.Metadata["error_type"] and Event.ErrorType always carry one of
// these string values.
type Type string

const (
	ValidationError       Type = "VALIDATION_ERROR"
	SessionNotFound       Type = "SESSION_NOT_FOUND"
	SessionExpired        Type = "SESSION_EXPIRED"
	QuotaExceeded         Type = "QUOTA_EXCEEDED"
	AuthenticationFailed  Type = "AUTHENTICATION_FAILED"
	AuthorizationFailed   Type = "AUTHORIZATION_FAILED"
	RateLimitExceeded     Type = "RATE_LIMIT_EXCEEDED"
	AgentTimeout          Type = "AGENT_TIMEOUT"
	Cancelled             Type = "CANCELLED"
	LLMAPIError           Type = "LLM_API_ERROR"
	LLMRateLimited        Type = "LLM_RATE_LIMITED"
	NetworkError          Type = "NETWORK_ERROR"
	StoreError            Type = "STORE_ERROR"
	MiddlewareError       Type = "MIDDLEWARE_ERROR"
	ConfigError           Type = "CONFIG_ERROR"
	InternalError         Type = "INTERNAL_ERROR"
)

// retryable is the §7 "Retry policy" allow-list: only these classes are safe
// to repeat under AgentExecutor's retry loop.
var retryable = map[Type]bool{
	AgentTimeout:   true,
	LLMAPIError:    true,
	LLMRateLimited: true,
	NetworkError:   true,
	StoreError:     true,
}

// userCaused classifies §7's "User-caused" bucket.
var userCaused = map[Type]bool{
	ValidationError:      true,
	AuthenticationFailed: true,
	AuthorizationFailed:  true,
	RateLimitExceeded:    true,
	QuotaExceeded:        true,
}

// IsRetryable reports whether t is in the §7 retry allow-list.
func (t Type) IsRetryable() bool { return retryable[t] }

// IsUserCaused reports whether t belongs to the user-caused error bucket.
func (t Type) IsUserCaused() bool { return userCaused[t] }

// Sensitive reports whether leaking t's underlying error text to a caller
// would expose internal details that §7 requires stay in logs only.
func (t Type) Sensitive() bool {
	return t == InternalError || t == StoreError
}

// Sentinel errors for comparison via errors.Is, one per taxonomy entry.
var (
	ErrValidation          = errors.New("validation error")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAuthorizationFailed  = errors.New("authorization failed")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrAgentTimeout         = errors.New("agent timeout")
	ErrCancelled            = errors.New("cancelled")
	ErrLLMAPIError          = errors.New("llm api error")
	ErrLLMRateLimited       = errors.New("llm rate limited")
	ErrNetworkError         = errors.New("network error")
	ErrStore                = errors.New("store error")
	ErrMiddleware           = errors.New("middleware error")
	ErrConfig               = errors.New("config error")
	ErrInternal             = errors.New("internal error")
)

var sentinelByType = map[Type]error{
	ValidationError:      ErrValidation,
	SessionNotFound:      ErrSessionNotFound,
	SessionExpired:       ErrSessionExpired,
	QuotaExceeded:        ErrQuotaExceeded,
	AuthenticationFailed: ErrAuthenticationFailed,
	AuthorizationFailed:  ErrAuthorizationFailed,
	RateLimitExceeded:    ErrRateLimitExceeded,
	AgentTimeout:         ErrAgentTimeout,
	Cancelled:            ErrCancelled,
	LLMAPIError:          ErrLLMAPIError,
	LLMRateLimited:       ErrLLMRateLimited,
	NetworkError:         ErrNetworkError,
	StoreError:           ErrStore,
	MiddlewareError:      ErrMiddleware,
	ConfigError:          ErrConfig,
	InternalError:        ErrInternal,
}

// RuntimeError is the structured wrapper every subsystem raises. It carries
// the operation that failed, the taxonomy Type, and the underlying cause, and
// implements Unwrap so errors.Is/As keep working against both the sentinel
// and any wrapped driver error.
type RuntimeError struct {
	Op      string // e.g. "session.CreateSession", "executor.Execute"
	Kind    Type
	ID      string // optional entity id (session id, checkpoint id, ...)
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	switch {
	case e.Op != "" && e.ID != "":
		return fmt.Sprintf("%s [%s]: %s", e.Op, e.ID, e.msg())
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.msg())
	default:
		return e.msg()
	}
}

func (e *RuntimeError) msg() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Unwrap exposes the wrapped driver error, if any, to errors.Is/As.
func (e *RuntimeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, rterrors.ErrSessionExpired) succeed for a
// RuntimeError whose Kind maps to that sentinel, even without an
// underlying Err.
func (e *RuntimeError) Is(target error) bool {
	sentinel, ok := sentinelByType[e.Kind]
	return ok && errors.Is(sentinel, target)
}

// New builds a RuntimeError for op/kind, optionally wrapping err.
func New(op string, kind Type, err error) *RuntimeError {
	return &RuntimeError{Op: op, Kind: kind, Err: err}
}

// Newf builds a RuntimeError with a formatted message instead of a wrapped err.
func Newf(op string, kind Type, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the taxonomy Type from err if it (or something it wraps)
// is a *RuntimeError; otherwise returns InternalError, mirroring §7's rule
// that unclassified handler exceptions become INTERNAL_ERROR.
func KindOf(err error) Type {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind
	}
	return InternalError
}
