package executor

import (
	"sync"

	"github.com/itsneelabh/agentcore/middleware"
	"github.com/itsneelabh/agentcore/rterrors"
)

// Factory is the concrete AgentFactory (C6): a stateless-beyond-its-
// registry holder of named AgentTemplates.
type Factory struct {
	mu        sync.RWMutex
	templates map[string]AgentTemplate
}

// NewFactory constructs an empty Factory.
func NewFactory() *Factory {
	return &Factory{templates: make(map[string]AgentTemplate)}
}

// RegisterTemplate adds t to the registry. Fails with CONFIG_ERROR if t's
// default configuration does not validate.
func (f *Factory) RegisterTemplate(t AgentTemplate) error {
	if t.Name == "" {
		return rterrors.Newf("executor.RegisterTemplate", rterrors.ConfigError, "template name must not be empty")
	}
	if err := t.Default.Validate(); err != nil {
		return rterrors.New("executor.RegisterTemplate", rterrors.ConfigError, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[t.Name] = t
	return nil
}

// UnregisterTemplate removes the named template, reporting whether one was
// found.
func (f *Factory) UnregisterTemplate(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.templates[name]; !ok {
		return false
	}
	delete(f.templates, name)
	return true
}

// ListTemplates returns every registered template.
func (f *Factory) ListTemplates() []AgentTemplate {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]AgentTemplate, 0, len(f.templates))
	for _, t := range f.templates {
		out = append(out, t)
	}
	return out
}

// Overrides is a sparse patch applied over a template's default
// AgentConfig: a nil field means "no override". Name, Timeout and
// RetryBaseDelay have no override field and always come from the template.
type Overrides struct {
	Description      *string
	Model            *string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
	StopSequences    []string
	SystemPrompt     *string
	RetryAttempts    *int
}

func applyOverrides(base AgentConfig, o Overrides) AgentConfig {
	cfg := base
	if o.Description != nil {
		cfg.Description = *o.Description
	}
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		cfg.TopP = *o.TopP
	}
	if o.MaxTokens != nil {
		cfg.MaxTokens = *o.MaxTokens
	}
	if o.FrequencyPenalty != nil {
		cfg.FrequencyPenalty = *o.FrequencyPenalty
	}
	if o.PresencePenalty != nil {
		cfg.PresencePenalty = *o.PresencePenalty
	}
	if o.StopSequences != nil {
		cfg.StopSequences = o.StopSequences
	}
	if o.SystemPrompt != nil {
		cfg.SystemPrompt = *o.SystemPrompt
	}
	if o.RetryAttempts != nil {
		cfg.RetryAttempts = o.RetryAttempts
	}
	return cfg
}

// CreateFromTemplate resolves name's registered template, applies overrides,
// and validates the result, failing with CONFIG_ERROR on an unknown
// template or an invalid merged configuration.
func (f *Factory) CreateFromTemplate(name string, overrides Overrides) (AgentConfig, error) {
	f.mu.RLock()
	tmpl, ok := f.templates[name]
	f.mu.RUnlock()
	if !ok {
		return AgentConfig{}, rterrors.Newf("executor.CreateFromTemplate", rterrors.ConfigError, "unknown template %q", name)
	}

	cfg := applyOverrides(tmpl.Default, overrides)
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, rterrors.New("executor.CreateFromTemplate", rterrors.ConfigError, err)
	}
	return cfg, nil
}

// CreateAgent builds a runnable Executor from the named template.
func (f *Factory) CreateAgent(name string, overrides Overrides, pipeline *middleware.Pipeline, llm LLMClient, opts ...Option) (*Executor, error) {
	cfg, err := f.CreateFromTemplate(name, overrides)
	if err != nil {
		return nil, err
	}
	return New(cfg, pipeline, llm, opts...), nil
}

// CreateBatch builds one Executor per spec, preserving input order. One
// spec's failure does not prevent the others from being built; failures are
// reported at the corresponding index.
func (f *Factory) CreateBatch(specs []BatchSpec, pipeline *middleware.Pipeline, llm LLMClient, opts ...Option) ([]*Executor, []error) {
	executors := make([]*Executor, len(specs))
	errs := make([]error, len(specs))
	for i, spec := range specs {
		executors[i], errs[i] = f.CreateAgent(spec.TemplateName, spec.Overrides, pipeline, llm, opts...)
	}
	return executors, errs
}

// BatchSpec is one entry in a CreateBatch call.
type BatchSpec struct {
	TemplateName string
	Overrides    Overrides
}
