package llm

import (
	"context"
	"encoding/json"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallKindFunction 是目前唯一的工具调用类别。
const ToolCallKindFunction = "function"

// FunctionCall 携带函数名与参数。Arguments 恒为合法的 JSON 文本，
// 即使上游以原生对象形式返回参数，规范化后也会编码为 JSON 字符串。
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall 表示模型发出的一次结构化函数调用请求。
type ToolCall struct {
	ID       string       `json:"id"`
	Kind     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message 是规范化后的对话消息。Content 恒为字符串（规范化会把
// null/缺失折叠为空串），降级回复的故障元数据挂在 Metadata 下。
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // 工具返回时标识对应调用
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

type ChatRequest struct {
	TraceID     string         `json:"trace_id,omitempty"`
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float32        `json:"temperature,omitempty"`
	TopP        float32        `json:"top_p,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Tools       []ToolSchema   `json:"tools,omitempty"`
	ToolChoice  string         `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// LastUserContent 返回对话中最后一条用户消息的内容，没有用户消息时
// 返回空串。降级文案根据它判断是否附加长消息提示。
func LastUserContent(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

type ChatUsage struct {
	PromptTokens     int  `json:"prompt_tokens,omitempty"`
	CompletionTokens int  `json:"completion_tokens,omitempty"`
	TotalTokens      int  `json:"total_tokens,omitempty"`
	Estimated        bool `json:"estimated,omitempty"` // 上游缺失用量时由 tokenizer 估算
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// TranscriptionRequest 描述一次语音转写。转写只接收文件路径，
// 文件的创建与清理由调用方负责。
type TranscriptionRequest struct {
	AudioPath string `json:"audio_path"`
	Model     string `json:"model,omitempty"`
	Language  string `json:"language,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// ErrorDetails 是转写降级结果中随文本返回的故障说明。
type ErrorDetails struct {
	Message   string `json:"message"`
	Status    int    `json:"status,omitempty"`
	Retryable bool   `json:"retryable"`
}

// TranscriptionResult 是统一的转写结果。重试耗尽时 Text 为固定的
// 致歉文案，ErrorDetails 说明最终故障；该路径不抛错。
type TranscriptionResult struct {
	Text         string        `json:"text"`
	Language     string        `json:"language,omitempty"`
	DurationSec  float64       `json:"duration,omitempty"`
	ErrorDetails *ErrorDetails `json:"error_details,omitempty"`
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"`
}

// Provider 定义了统一的 LLM 适配接口。
// 工具调用通过 ChatRequest.Tools 传递，模型在响应中返回 ToolCalls。
// 每个实现只持有配置，不持有跨调用的可变状态，因此同一实例可被
// 并发调用而无需加锁。
type Provider interface {
	// Completion 发起同步聊天请求，返回规范化后的完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream 发起流式聊天请求，返回规范化事件通道。通道是有限的、
	// 不可重放的，每次逻辑调用恰好以一个 Finish 或 Error 事件收尾。
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)

	// Transcribe 对给定路径的音频做语音转写
	Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error)

	// HealthCheck 执行轻量级健康检查（用于探活/降级），返回延迟与可用性信息。
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string

	// SupportsNativeFunctionCalling 返回是否支持原生 Function Calling。
	// 当 Tools 非空且返回 false 时，上层应拒绝该请求或降级为无工具请求。
	SupportsNativeFunctionCalling() bool
}
