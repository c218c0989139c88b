package openai

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/classify"
	"github.com/modelrelay/modelrelay/llm/providers"
	"github.com/modelrelay/modelrelay/llm/providers/openaicompat"
	"github.com/modelrelay/modelrelay/llm/speech"
)

// OpenAIProvider 实现 OpenAI LLM 提供者。
// 聊天补全通过嵌入的 openaicompat.Provider 处理；语音转写覆写
// Transcribe，走 Whisper 的 multipart 端点。
type OpenAIProvider struct {
	*openaicompat.Provider
	stt *speech.Client
}

var _ llm.Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider 创建新的 OpenAI 提供者实例。
func NewOpenAIProvider(cfg providers.OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}

	var buildHeaders func(*http.Request, string)
	if cfg.Organization != "" {
		org := cfg.Organization
		buildHeaders = func(req *http.Request, apiKey string) {
			providers.BearerTokenHeaders(req, apiKey)
			req.Header.Set("OpenAI-Organization", org)
		}
	}

	return &OpenAIProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:  "openai",
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			DefaultModel:  cfg.Model,
			FallbackModel: "gpt-5.2", // 2026: GPT-5.2
			Timeout:       cfg.Timeout,
			BuildHeaders:  buildHeaders,
			Classifier:    classify.New(cfg.RetryablePatterns...),
		}, logger),
		stt: speech.NewClient(speech.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.SpeechModel,
			ProviderName: "openai",
		}),
	}
}

// Transcribe 覆写基类方法，通过 Whisper API 执行语音转写。
func (p *OpenAIProvider) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResult, error) {
	return p.stt.Transcribe(ctx, req)
}
