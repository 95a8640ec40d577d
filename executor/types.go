// Package executor implements the AgentExecutor (spec.md §4.5, C5) and
// AgentFactory (§4.6, C6) components: per-request orchestration over the
// middleware onion plus a stateless template registry. Grounded on the
// teacher's core/agent.go Agent lifecycle and resilience.Retry backoff
// loop, generalized from the teacher's fixed HTTP-agent request cycle to
// the spec's validate/publish/middleware-run/retry/persist pipeline, and
// from resilience's hand-rolled exponential backoff to
// github.com/cenkalti/backoff/v5.
package executor

import (
	"context"
	"time"
)

// AgentConfig is the immutable descriptor of one agent's tunables.
type AgentConfig struct {
	Name               string
	Description        string
	Model              string
	Temperature        float64
	TopP               float64
	MaxTokens          int
	FrequencyPenalty   float64
	PresencePenalty    float64
	StopSequences      []string
	SystemPrompt       string
	Timeout            time.Duration
	// RetryAttempts distinguishes "unset" (nil, falls back to
	// DefaultRetryAttempts) from an explicit, valid zero ("disable retries,
	// execute exactly one attempt" per spec.md §8's zero-retries boundary
	// case) the same way Overrides.RetryAttempts does for template patches.
	RetryAttempts      *int
	RetryBaseDelay     time.Duration
}

// Validate checks AgentConfig's numeric ranges per §4.2's AgentConfig
// invariants. A violation is reported with the offending field name.
func (c AgentConfig) Validate() error {
	switch {
	case c.Name == "":
		return fieldError("name", "must not be empty")
	case c.Temperature < 0 || c.Temperature > 2:
		return fieldError("temperature", "must be in [0, 2]")
	case c.TopP < 0 || c.TopP > 1:
		return fieldError("top_p", "must be in [0, 1]")
	case c.MaxTokens < 1:
		return fieldError("max_tokens", "must be >= 1")
	case c.FrequencyPenalty < -2 || c.FrequencyPenalty > 2:
		return fieldError("frequency_penalty", "must be in [-2, 2]")
	case c.PresencePenalty < -2 || c.PresencePenalty > 2:
		return fieldError("presence_penalty", "must be in [-2, 2]")
	case c.RetryAttempts != nil && *c.RetryAttempts < 0:
		return fieldError("retry_attempts", "must be >= 0")
	}
	return nil
}

type validationErr struct {
	field, reason string
}

func (e *validationErr) Error() string { return e.field + ": " + e.reason }

func fieldError(field, reason string) error { return &validationErr{field: field, reason: reason} }

// AgentContext is the per-request input. Identity fields (AgentID, UserID,
// SessionID) are conventionally read-only once the request begins;
// middleware may add to Metadata but should not rewrite them.
type AgentContext struct {
	AgentID   string
	UserID    string
	SessionID string
	Task      string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// AgentResult is the per-request output.
type AgentResult struct {
	Success         bool
	Output          string
	Error           string
	Metadata        map[string]interface{}
	TokensUsed      int
	ExecutionTimeMS int64
}

// AgentTemplate is an immutable named default configuration held by the
// factory's registry.
type AgentTemplate struct {
	Name        string
	Description string
	Default     AgentConfig
}

// LLMClient is the external dependency AgentExecutor delegates the actual
// model call to. It is intentionally the only seam between this package and
// an LLM provider's SDK, matching §1's "LLM client integration" Non-goal:
// this runtime orchestrates calls, it does not implement a provider client.
type LLMClient interface {
	Complete(ctx context.Context, cfg AgentConfig, task string) (output string, tokensUsed int, err error)
}
