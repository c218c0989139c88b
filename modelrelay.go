// Package modelrelay provides a top-level convenience entry point for creating
// resilient LLM providers with minimal boilerplate.
//
// Usage:
//
//	import "github.com/modelrelay/modelrelay"
//
//	p, err := modelrelay.New(modelrelay.WithOpenAI("gpt-4o-mini"))
//	p, err := modelrelay.New(modelrelay.WithDeepSeek("deepseek-chat"))
//	p, err := modelrelay.New(modelrelay.WithProvider(myProvider))
//
// The returned provider carries the full resilience stack: retries with
// exponential backoff, circuit breaking, idempotency caching, and degraded
// fallback responses. Use [WithoutResilience] to get the raw provider.
package modelrelay

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/factory"
	"github.com/modelrelay/modelrelay/llm/idempotency"
	"github.com/modelrelay/modelrelay/llm/providers"
)

// Option configures the provider created by [New].
type Option func(*options)

type options struct {
	provider   llm.Provider
	logger     *zap.Logger
	resilience *providers.ResilienceConfig
	raw        bool

	// Provider shortcut fields — used when provider is nil.
	providerName string
	apiKey       string
	baseURL      string
	model        string
}

// WithProvider sets a pre-built LLM provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithOpenAI creates an OpenAI provider using the given model.
// API key is read from OPENAI_API_KEY environment variable.
func WithOpenAI(model string) Option {
	return func(o *options) {
		o.providerName = "openai"
		o.model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// WithDeepSeek creates a DeepSeek provider using the given model.
// API key is read from DEEPSEEK_API_KEY environment variable.
func WithDeepSeek(model string) Option {
	return func(o *options) {
		o.providerName = "deepseek"
		o.model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("DEEPSEEK_API_KEY")
		}
	}
}

// WithGemini creates a Google Gemini provider using the given model.
// API key is read from GEMINI_API_KEY environment variable.
func WithGemini(model string) Option {
	return func(o *options) {
		o.providerName = "gemini"
		o.model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// WithOpenAICompatible creates a provider for any OpenAI-compatible endpoint
// (vLLM, Ollama, LiteLLM, self-hosted gateways). The API key must be supplied
// via [WithAPIKey].
func WithOpenAICompatible(name, baseURL, model string) Option {
	return func(o *options) {
		o.providerName = name
		o.baseURL = baseURL
		o.model = model
	}
}

// WithModel sets the model name. Overrides the model set by provider shortcuts.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithAPIKey overrides the API key for provider shortcuts (WithOpenAI, etc.).
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL overrides the endpoint URL for provider shortcuts.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithResilience replaces the default resilience configuration.
func WithResilience(cfg providers.ResilienceConfig) Option {
	return func(o *options) { o.resilience = &cfg }
}

// WithoutResilience returns the raw provider without the retry, circuit
// breaker, idempotency, or degradation layers.
func WithoutResilience() Option {
	return func(o *options) { o.raw = true }
}

// New creates a resilience-wrapped [llm.Provider] with minimal configuration.
// At minimum, a provider must be specified via [WithOpenAI], [WithDeepSeek],
// [WithGemini], [WithOpenAICompatible], or [WithProvider].
func New(opts ...Option) (llm.Provider, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	// Resolve the base provider.
	p := o.provider
	if p == nil {
		if o.providerName == "" {
			return nil, fmt.Errorf("provider is required: use WithProvider, WithOpenAI, WithDeepSeek, or WithGemini")
		}
		if o.apiKey == "" {
			return nil, fmt.Errorf("API key is required for %s: set the environment variable or use WithAPIKey", o.providerName)
		}
		var err error
		p, err = factory.New(o.providerName, factory.ProviderConfig{
			APIKey:  o.apiKey,
			BaseURL: o.baseURL,
			Model:   o.model,
		}, o.logger)
		if err != nil {
			return nil, fmt.Errorf("create %s provider: %w", o.providerName, err)
		}
	}

	if o.raw {
		return p, nil
	}

	cfg := o.resilience
	if cfg == nil {
		cfg = providers.DefaultResilienceConfig()
	}
	var idem idempotency.Manager
	if cfg.EnableIdempotency {
		idem = idempotency.NewMemoryManager(o.logger)
	}
	return providers.NewResilientProvider(p, cfg, idem, o.logger), nil
}
