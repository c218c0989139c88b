package factory

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/classify"
	"github.com/modelrelay/modelrelay/llm/idempotency"
	"github.com/modelrelay/modelrelay/llm/providers"
	"github.com/modelrelay/modelrelay/llm/providers/deepseek"
	"github.com/modelrelay/modelrelay/llm/providers/gemini"
	"github.com/modelrelay/modelrelay/llm/providers/openai"
	"github.com/modelrelay/modelrelay/llm/providers/openaicompat"
)

// ProviderConfig is the generic configuration accepted by the factory.
// It uses a flat structure with an Extra map for provider-specific fields.
type ProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RetryablePatterns 该提供商特有的可重试错误措辞，注册进扩展分类器。
	RetryablePatterns []string `json:"retryable_patterns,omitempty" yaml:"retryable_patterns,omitempty"`

	Extra map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// New creates a Provider instance based on the provider name and a generic
// ProviderConfig. Names without a built-in constructor fall through to the
// generic OpenAI-compatible provider, which requires base_url.
//
// Supported built-in names: openai, deepseek, gemini.
func New(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := providers.BaseProviderConfig{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		Timeout:           cfg.Timeout,
		RetryablePatterns: cfg.RetryablePatterns,
	}

	switch name {
	case "openai":
		oc := providers.OpenAIConfig{BaseProviderConfig: base}
		if cfg.Extra != nil {
			if v, ok := cfg.Extra["organization"].(string); ok {
				oc.Organization = v
			}
			if v, ok := cfg.Extra["speech_model"].(string); ok {
				oc.SpeechModel = v
			}
		}
		return openai.NewOpenAIProvider(oc, logger), nil

	case "deepseek":
		return deepseek.NewDeepSeekProvider(providers.DeepSeekConfig{BaseProviderConfig: base}, logger), nil

	case "gemini":
		return gemini.NewGeminiProvider(providers.GeminiConfig{BaseProviderConfig: base}, logger), nil

	default:
		// 通用 OpenAI 兼容提供商：任意名称 + base_url 即可接入，
		// 覆盖 Groq、Fireworks、OpenRouter、Ollama、vLLM 等
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("unknown provider %q: built-in provider not found, and base_url is required for generic OpenAI-compatible provider", name)
		}
		oc := openaicompat.Config{
			ProviderName: name,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
			Classifier:   classify.New(cfg.RetryablePatterns...),
		}
		if cfg.Extra != nil {
			if v, ok := cfg.Extra["endpoint_path"].(string); ok {
				oc.EndpointPath = v
			}
			if v, ok := cfg.Extra["models_endpoint"].(string); ok {
				oc.ModelsEndpoint = v
			}
			if v, ok := cfg.Extra["supports_tools"].(bool); ok {
				oc.SupportsTools = &v
			}
		}
		logger.Info("creating generic OpenAI-compatible provider",
			zap.String("provider", name),
			zap.String("base_url", cfg.BaseURL))
		return openaicompat.New(oc, logger), nil
	}
}

// SupportedProviders returns the list of built-in provider names.
// Any name not in this list is treated as a generic OpenAI-compatible
// provider, requiring base_url in the configuration.
func SupportedProviders() []string {
	return []string{"openai", "deepseek", "gemini"}
}

// RegistryConfig describes multiple providers and which one is the default.
// Use this with NewRegistryFromConfig to build a ProviderRegistry in one call.
type RegistryConfig struct {
	// Default is the name of the default provider (must match a key in Providers).
	Default string `json:"default" yaml:"default"`
	// Providers maps provider names to their configurations.
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	// Resilience, when non-nil, wraps every provider in the retry/degradation
	// decorator with this shared configuration.
	Resilience *providers.ResilienceConfig `json:"resilience,omitempty" yaml:"resilience,omitempty"`
}

// NewRegistryFromConfig creates a ProviderRegistry populated with all providers
// defined in the RegistryConfig, each wrapped per the Resilience section. Any
// provider that fails to initialize is logged as a warning and skipped. The
// idem manager may be nil when idempotent response caching is disabled.
func NewRegistryFromConfig(cfg RegistryConfig, idem idempotency.Manager, logger *zap.Logger) (*llm.ProviderRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := llm.NewProviderRegistry()

	for name, pcfg := range cfg.Providers {
		p, err := New(name, pcfg, logger)
		if err != nil {
			logger.Warn("skipping provider: initialization failed",
				zap.String("provider", name),
				zap.Error(err))
			continue
		}
		if cfg.Resilience != nil {
			p = providers.NewResilientProvider(p, cfg.Resilience, idem, logger)
		}
		reg.Register(name, p)
		logger.Info("provider registered", zap.String("provider", name))
	}

	if cfg.Default != "" {
		if err := reg.SetDefault(cfg.Default); err != nil {
			return reg, fmt.Errorf("failed to set default provider %q: %w", cfg.Default, err)
		}
	}

	return reg, nil
}
