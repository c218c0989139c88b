package api

import (
	"time"

	"github.com/modelrelay/modelrelay/llm"
)

// =============================================================================
// 聊天完成类型
// =============================================================================

// ChatRequest 代表聊天完成请求。
// @Description 聊天完成请求结构
type ChatRequest struct {
	// 用于请求跟踪的跟踪 ID
	TraceID string `json:"trace_id,omitempty" example:"trace-123"`
	// 目标提供商（省略时使用默认提供商）
	Provider string `json:"provider,omitempty" example:"openai"`
	// 型号名称（省略时使用提供商默认模型）
	Model string `json:"model,omitempty" example:"gpt-4o"`
	// 对话消息
	Messages []Message `json:"messages" binding:"required"`
	// 生成的最大 token 数量
	MaxTokens int `json:"max_tokens,omitempty" example:"4096"`
	// 采样温度（0-2）
	Temperature float32 `json:"temperature,omitempty" example:"0.7"`
	// 核采样参数（0-1）
	TopP float32 `json:"top_p,omitempty" example:"1.0"`
	// 停止序列
	Stop []string `json:"stop,omitempty"`
	// 函数调用的可用工具
	Tools []ToolSchema `json:"tools,omitempty"`
	// 工具选择模式（auto、none 或特定工具名称）
	ToolChoice string `json:"tool_choice,omitempty" example:"auto"`
	// 是否以 SSE 流返回响应
	Stream bool `json:"stream,omitempty" example:"false"`
	// 请求超时时长（Go duration 格式）
	Timeout string `json:"timeout,omitempty" example:"30s"`
	// 自定义元数据
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChatResponse 表示聊天完成响应。
// @Description 聊天完成响应结构
type ChatResponse struct {
	// 响应 ID
	ID string `json:"id,omitempty" example:"chatcmpl-123"`
	// 处理请求的提供者
	Provider string `json:"provider,omitempty" example:"openai"`
	// 使用型号
	Model string `json:"model" example:"gpt-4o"`
	// 响应选择
	Choices []ChatChoice `json:"choices"`
	// Token 使用统计
	Usage ChatUsage `json:"usage"`
	// 响应创建时间戳
	CreatedAt time.Time `json:"created_at"`
}

// ChatChoice 代表响应中的单个选择。
// @Description 聊天选择结构
type ChatChoice struct {
	// 选择序号
	Index int `json:"index" example:"0"`
	// 完成原因（stop、length、tool_calls、degraded）
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// 回复消息
	Message Message `json:"message"`
}

// ChatUsage 表示响应中的 token 使用情况。
// @Description Token 使用统计
type ChatUsage struct {
	// 提示中的 token
	PromptTokens int `json:"prompt_tokens" example:"100"`
	// 完成中的 token
	CompletionTokens int `json:"completion_tokens" example:"50"`
	// 使用的 token 总数
	TotalTokens int `json:"total_tokens" example:"150"`
	// 上游缺失用量时是否为本地估算值
	Estimated bool `json:"estimated,omitempty" example:"false"`
}

// =============================================================================
// 消息类型
// =============================================================================

// Message 代表对话消息。
// @Description 对话消息结构
type Message struct {
	// 消息角色（system、user、assistant、tool）
	Role string `json:"role" example:"user" binding:"required"`
	// 消息内容
	Content string `json:"content,omitempty" example:"Hello, how are you?"`
	// 名称（用于工具消息）
	Name string `json:"name,omitempty"`
	// 工具调用（用于助手消息）
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// 工具调用 ID（用于工具消息）
	ToolCallID string `json:"tool_call_id,omitempty"`
	// 自定义元数据（降级回复的故障元数据挂在 _error_metadata 下）
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolCall is a type alias for llm.ToolCall to avoid duplicate definitions.
// The canonical definition lives in llm.ToolCall (llm/provider.go).
type ToolCall = llm.ToolCall

// ToolSchema is a type alias for llm.ToolSchema; the JSON shape is already
// the public one, so the API layer reuses the canonical type.
type ToolSchema = llm.ToolSchema

// =============================================================================
// 转写类型
// =============================================================================

// TranscriptionResponse 表示语音转写响应。
// @Description 语音转写响应结构
type TranscriptionResponse struct {
	// 转写文本（重试耗尽时为固定致歉文案）
	Text string `json:"text" example:"Hello world"`
	// 识别出的语言
	Language string `json:"language,omitempty" example:"en"`
	// 音频时长（秒）
	DurationSec float64 `json:"duration,omitempty" example:"3.2"`
	// 处理请求的提供者
	Provider string `json:"provider,omitempty" example:"openai"`
	// 降级时的故障说明
	ErrorDetails *TranscriptionError `json:"error_details,omitempty"`
}

// TranscriptionError 是转写降级结果中随文本返回的故障说明。
// @Description 转写故障说明
type TranscriptionError struct {
	// 人类可读的错误消息
	Message string `json:"message"`
	// 上游 HTTP 状态码
	Status int `json:"status,omitempty" example:"503"`
	// 故障是否可重试
	Retryable bool `json:"retryable" example:"true"`
}

// =============================================================================
// 提供者类型
// =============================================================================

// ProviderInfo 代表一个已注册的提供者。
// @Description 提供者信息结构
type ProviderInfo struct {
	// 提供者名称
	Name string `json:"name" example:"openai"`
	// 是否为默认提供者
	Default bool `json:"default,omitempty" example:"true"`
	// 是否支持原生 Function Calling
	SupportsTools bool `json:"supports_tools" example:"true"`
}

// ProviderListResponse 表示提供者列表。
// @Description 提供者列表响应
type ProviderListResponse struct {
	// 提供者清单
	Providers []ProviderInfo `json:"providers"`
}

// =============================================================================
// 类型转换
// =============================================================================

// ToLLM 把 API 消息转换为规范化消息。
func (m Message) ToLLM() llm.Message {
	return llm.Message{
		Role:       llm.Role(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Metadata:   m.Metadata,
	}
}

// MessageFromLLM 把规范化消息转换为 API 消息。
func MessageFromLLM(msg llm.Message) Message {
	return Message{
		Role:       string(msg.Role),
		Content:    msg.Content,
		Name:       msg.Name,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
		Metadata:   msg.Metadata,
	}
}

// ResponseFromLLM 把规范化聊天响应转换为 API 响应。
func ResponseFromLLM(resp *llm.ChatResponse) *ChatResponse {
	choices := make([]ChatChoice, len(resp.Choices))
	for i, choice := range resp.Choices {
		choices[i] = ChatChoice{
			Index:        choice.Index,
			FinishReason: choice.FinishReason,
			Message:      MessageFromLLM(choice.Message),
		}
	}
	return &ChatResponse{
		ID:       resp.ID,
		Provider: resp.Provider,
		Model:    resp.Model,
		Choices:  choices,
		Usage: ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Estimated:        resp.Usage.Estimated,
		},
		CreatedAt: resp.CreatedAt,
	}
}

// TranscriptionFromLLM 把规范化转写结果转换为 API 响应。
func TranscriptionFromLLM(result *llm.TranscriptionResult, provider string) *TranscriptionResponse {
	out := &TranscriptionResponse{
		Text:        result.Text,
		Language:    result.Language,
		DurationSec: result.DurationSec,
		Provider:    provider,
	}
	if result.ErrorDetails != nil {
		out.ErrorDetails = &TranscriptionError{
			Message:   result.ErrorDetails.Message,
			Status:    result.ErrorDetails.Status,
			Retryable: result.ErrorDetails.Retryable,
		}
	}
	return out
}
