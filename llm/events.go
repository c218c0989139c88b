package llm

import (
	"time"

	"github.com/modelrelay/modelrelay/types"
)

// StreamEventType 区分流式事件联合体的各变体。
type StreamEventType string

const (
	// EventContentFragment 携带一段增量文本。
	EventContentFragment StreamEventType = "content_fragment"
	// EventToolCallFragment 携带一次工具调用的渐进快照。
	// 同一调用会随参数累积被多次发出，而非仅在完成时发出一次。
	EventToolCallFragment StreamEventType = "tool_call_fragment"
	// EventFinish 是正常收尾事件，携带完整累积内容与最终工具调用。
	EventFinish StreamEventType = "finish"
	// EventError 是故障收尾事件，携带分类后的结构化错误。
	EventError StreamEventType = "error"
)

// StreamEvent 是规范化后的流式事件。一条流是有限、有序、不可重放的
// 事件序列，按变体恰好以一个 Finish 或 Error 收尾；降级路径也会以
// Finish 收尾（见 providers 包的弹性装饰器）。
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// content_fragment
	Text string `json:"text,omitempty"`

	// tool_call_fragment：当前累积状态的快照
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// finish
	Reason         string         `json:"reason,omitempty"`
	FinalContent   string         `json:"final_content,omitempty"`
	FinalToolCalls []ToolCall     `json:"final_tool_calls,omitempty"`
	Usage          *ChatUsage     `json:"usage,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	// error
	Err *types.Error `json:"error,omitempty"`
}

// ContentEvent 构造一个内容片段事件。
func ContentEvent(text string) StreamEvent {
	return StreamEvent{Type: EventContentFragment, Text: text}
}

// ToolCallEvent 构造一个工具调用片段事件。快照按值拷贝，
// 后续累积不会改写已发出的事件。
func ToolCallEvent(tc ToolCall) StreamEvent {
	return StreamEvent{Type: EventToolCallFragment, ToolCall: &tc}
}

// FinishEvent 构造正常收尾事件。finalToolCalls 为空时保持 nil。
func FinishEvent(reason, finalContent string, finalToolCalls []ToolCall) StreamEvent {
	return StreamEvent{
		Type:           EventFinish,
		Reason:         reason,
		FinalContent:   finalContent,
		FinalToolCalls: finalToolCalls,
	}
}

// ErrorEvent 构造故障收尾事件。
func ErrorEvent(err *types.Error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}

// ErrorMetadataKey 是降级回复在 Message.Metadata 中挂载故障元数据的键。
const ErrorMetadataKey = "_error_metadata"

// ErrorMetadata 记录一次重试耗尽后合成降级回复时的故障快照。
// 对终端用户不可见，供运维与调用方排障使用。
type ErrorMetadata struct {
	OriginalError string `json:"originalError"`
	Provider      string `json:"provider"`
	Status        int    `json:"status,omitempty"`
	Retryable     bool   `json:"retryable"`
	Timestamp     string `json:"timestamp"`
	RetryCount    int    `json:"retryCount"`
}

// NewErrorMetadata 从最终错误构造故障元数据快照。retryable 取分类器
// 对最终错误的判定（与降级文案的选择保持同一判定）。
func NewErrorMetadata(provider string, finalErr error, retryable bool, retryCount int) ErrorMetadata {
	meta := ErrorMetadata{
		Provider:   provider,
		Retryable:  retryable,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RetryCount: retryCount,
	}
	if finalErr != nil {
		meta.OriginalError = finalErr.Error()
	}
	if e := types.AsError(finalErr); e != nil {
		meta.Status = e.HTTPStatus
		if e.Provider != "" {
			meta.Provider = e.Provider
		}
	}
	return meta
}

// AsMap 以 Metadata 可直接挂载的形式返回元数据。
func (m ErrorMetadata) AsMap() map[string]any {
	return map[string]any{ErrorMetadataKey: m}
}
