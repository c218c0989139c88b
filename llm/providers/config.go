package providers

import "time"

// BaseProviderConfig 所有 Provider 共享的基础配置字段。
// 通过嵌入此结构体，各 Provider 的 Config 自动获得相同的连接与
// 分类配置，避免重复定义。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RetryablePatterns 是该提供商特有的可重试错误措辞，注册进扩展
	// 分类器。扩展只会放宽基础判定，不会收紧。
	RetryablePatterns []string `json:"retryable_patterns,omitempty" yaml:"retryable_patterns,omitempty"`
}

// OpenAIConfig OpenAI Provider 配置。
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
	// SpeechModel 是语音转写模型，缺省 whisper-1。
	SpeechModel string `json:"speech_model,omitempty" yaml:"speech_model,omitempty"`
}

// DeepSeekConfig DeepSeek Provider 配置。
type DeepSeekConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// GeminiConfig Google Gemini Provider 配置。
type GeminiConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// CompatConfig 自定义 OpenAI 兼容端点的 Provider 配置。
type CompatConfig struct {
	BaseProviderConfig `yaml:",inline"`
	// Name 是该端点在注册表中的标识。
	Name string `json:"name" yaml:"name"`
	// EndpointPath 覆盖聊天补全路径，缺省 /v1/chat/completions。
	EndpointPath string `json:"endpoint_path,omitempty" yaml:"endpoint_path,omitempty"`
}
