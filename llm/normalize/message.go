package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/types"
)

// Message 把一个 Provider 原生的单消息对象规范化为 llm.Message。
//
// 只接受结构化的单消息对象：非对象或数组输入返回序列化错误
// （消息数组不在本函数职责内）。role 缺失时默认 assistant，content
// 的 null/缺失折叠为空串，tool_calls 逐项映射且参数缺失时默认 "{}"。
// 工具调用映射失败会带上下文重新抛出，而不是静默丢弃。
func Message(raw any) (*llm.Message, error) {
	obj, err := asObject(raw)
	if err != nil {
		return nil, err
	}

	msg := &llm.Message{
		Role:    llm.RoleAssistant,
		Content: coerceContent(obj["content"]),
	}

	if role, ok := obj["role"].(string); ok && role != "" {
		msg.Role = llm.Role(role)
	}
	if name, ok := obj["name"].(string); ok {
		msg.Name = name
	}
	if tcID, ok := firstString(obj, "tool_call_id", "toolCallId"); ok {
		msg.ToolCallID = tcID
	}
	// 降级回复的故障元数据随消息透传
	if meta, ok := obj["metadata"].(map[string]any); ok && len(meta) > 0 {
		msg.Metadata = meta
	}

	rawCalls, ok := obj["tool_calls"]
	if !ok {
		rawCalls, ok = obj["toolCalls"]
	}
	if ok && rawCalls != nil {
		calls, err := mapToolCalls(rawCalls)
		if err != nil {
			return nil, types.NewSerializationError("invalid tool call format").WithCause(err)
		}
		if len(calls) > 0 {
			msg.ToolCalls = calls
		}
	}

	return msg, nil
}

// asObject 解码并校验输入是一个 JSON 对象。
func asObject(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, types.NewSerializationError("message is null")
	case map[string]any:
		return v, nil
	case json.RawMessage:
		return decodeObject([]byte(v))
	case []byte:
		return decodeObject(v)
	case *llm.Message:
		// 已规范化的消息走 JSON 往返，保持同一套校验
		b, err := json.Marshal(v)
		if err != nil {
			return nil, types.NewSerializationError("message not serializable").WithCause(err)
		}
		return decodeObject(b)
	default:
		return nil, types.NewSerializationError(
			fmt.Sprintf("message must be an object, got %T", raw))
	}
}

func decodeObject(b []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, types.NewSerializationError("message is not valid JSON").WithCause(err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, types.NewSerializationError(
			fmt.Sprintf("message must be an object, got %T", v))
	}
	return obj, nil
}

// coerceContent 把任意 content 值折叠为字符串。null/缺失 → ""，
// 标量走 fmt，复合值编码为 JSON 文本。
func coerceContent(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64, bool, json.Number:
		return fmt.Sprintf("%v", c)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%v", c)
		}
		return string(b)
	}
}

func mapToolCalls(raw any) ([]llm.ToolCall, error) {
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("tool_calls must be an array, got %T", raw)
	}

	calls := make([]llm.ToolCall, 0, len(entries))
	for i, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tool call %d must be an object, got %T", i, entry)
		}

		tc := llm.ToolCall{Kind: llm.ToolCallKindFunction}
		if id, ok := obj["id"]; ok && id != nil {
			tc.ID = coerceScalar(id)
		}
		if kind, ok := obj["type"].(string); ok && kind != "" {
			tc.Kind = kind
		}

		fnRaw, ok := obj["function"]
		if !ok || fnRaw == nil {
			return nil, fmt.Errorf("tool call %d has no function object", i)
		}
		fn, ok := fnRaw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tool call %d function must be an object, got %T", i, fnRaw)
		}

		if name, ok := fn["name"]; ok && name != nil {
			tc.Function.Name = coerceScalar(name)
		}

		args, err := coerceArguments(fn["arguments"])
		if err != nil {
			return nil, fmt.Errorf("tool call %d: %w", i, err)
		}
		tc.Function.Arguments = args

		calls = append(calls, tc)
	}
	return calls, nil
}

// coerceArguments 保证参数恒为合法 JSON 文本：缺失 → "{}"，字符串
// 原样保留（上游已是 JSON 编码），原生对象重新编码。
func coerceArguments(v any) (string, error) {
	switch a := v.(type) {
	case nil:
		return "{}", nil
	case string:
		if a == "" {
			return "{}", nil
		}
		return a, nil
	default:
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("arguments not serializable: %w", err)
		}
		return string(b), nil
	}
}

func coerceScalar(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func firstString(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
