package deepseek

import (
	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/classify"
	"github.com/modelrelay/modelrelay/llm/providers"
	"github.com/modelrelay/modelrelay/llm/providers/openaicompat"
)

// DeepSeekProvider 实现 DeepSeek LLM 提供者。
// DeepSeek 使用 OpenAI 兼容的 API 格式，补全路径没有 /v1 前缀。
type DeepSeekProvider struct {
	*openaicompat.Provider
}

var _ llm.Provider = (*DeepSeekProvider)(nil)

// NewDeepSeekProvider 创建新的 DeepSeek 提供者实例。
func NewDeepSeekProvider(cfg providers.DeepSeekConfig, logger *zap.Logger) *DeepSeekProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com"
	}

	return &DeepSeekProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:   "deepseek",
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			DefaultModel:   cfg.Model,
			FallbackModel:  "deepseek-chat",
			Timeout:        cfg.Timeout,
			EndpointPath:   "/chat/completions",
			ModelsEndpoint: "/models",
			Classifier:     classify.New(cfg.RetryablePatterns...),
		}, logger),
	}
}
