package providers

import (
	"encoding/json"
	"testing"

	"pgregory.net/rapid"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/types"
)

func genMessage() *rapid.Generator[llm.Message] {
	return rapid.Custom(func(rt *rapid.T) llm.Message {
		roles := []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool}
		msg := llm.Message{
			Role:       roles[rapid.IntRange(0, len(roles)-1).Draw(rt, "role")],
			Content:    rapid.String().Draw(rt, "content"),
			Name:       rapid.StringMatching(`[a-z_]{0,12}`).Draw(rt, "name"),
			ToolCallID: rapid.StringMatching(`(call_[0-9a-f]{8})?`).Draw(rt, "toolCallID"),
		}
		n := rapid.IntRange(0, 3).Draw(rt, "toolCalls")
		for i := 0; i < n; i++ {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:   rapid.StringMatching(`call_[0-9a-f]{8}`).Draw(rt, "tcID"),
				Kind: llm.ToolCallKindFunction,
				Function: llm.FunctionCall{
					Name:      rapid.StringMatching(`[a-z_]{1,16}`).Draw(rt, "fnName"),
					Arguments: rapid.StringMatching(`\{("[a-z]+":"[a-z0-9]*")?\}`).Draw(rt, "fnArgs"),
				},
			})
		}
		return msg
	})
}

// Property: 出站消息转换逐字段保内容——角色、正文、名称、tool_call_id
// 与每个工具调用的名称和参数在转换后不变，工具调用类型恒为 function。
func TestProperty_MessageConversionPreservesFields(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		msgs := rapid.SliceOfN(genMessage(), 0, 6).Draw(rt, "msgs")

		out := ConvertMessagesToOpenAI(msgs)

		if len(out) != len(msgs) {
			rt.Fatalf("length changed: %d -> %d", len(msgs), len(out))
		}
		for i, m := range msgs {
			oa := out[i]
			if oa.Role != string(m.Role) || oa.Content != m.Content ||
				oa.Name != m.Name || oa.ToolCallID != m.ToolCallID {
				rt.Fatalf("message %d fields changed: %+v -> %+v", i, m, oa)
			}
			if len(oa.ToolCalls) != len(m.ToolCalls) {
				rt.Fatalf("message %d tool call count changed", i)
			}
			for j, tc := range m.ToolCalls {
				got := oa.ToolCalls[j]
				if got.Type != llm.ToolCallKindFunction {
					rt.Fatalf("tool call %d/%d type = %q", i, j, got.Type)
				}
				if got.ID != tc.ID || got.Function.Name != tc.Function.Name ||
					got.Function.Arguments != tc.Function.Arguments {
					rt.Fatalf("tool call %d/%d changed: %+v -> %+v", i, j, tc, got)
				}
			}
		}
	})
}

// Property: 工具声明转换保持名称、描述与 JSON Schema 原文，类型恒为
// function；空输入产出 nil 而非空切片。
func TestProperty_ToolConversionPreservesSchema(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(rt, "n")
		tools := make([]llm.ToolSchema, 0, n)
		for i := 0; i < n; i++ {
			tools = append(tools, llm.ToolSchema{
				Name:        rapid.StringMatching(`[a-z_]{1,20}`).Draw(rt, "name"),
				Description: rapid.String().Draw(rt, "desc"),
				Parameters:  json.RawMessage(`{"type":"object"}`),
			})
		}

		out := ConvertToolsToOpenAI(tools)

		if n == 0 {
			if out != nil {
				rt.Fatalf("empty input should yield nil, got %v", out)
			}
			return
		}
		if len(out) != n {
			rt.Fatalf("length changed: %d -> %d", n, len(out))
		}
		for i, tool := range tools {
			got := out[i]
			if got.Type != llm.ToolCallKindFunction {
				rt.Fatalf("tool %d type = %q", i, got.Type)
			}
			if got.Function.Name != tool.Name || got.Function.Description != tool.Description {
				rt.Fatalf("tool %d identity changed", i)
			}
			if string(got.Function.Parameters) != string(tool.Parameters) {
				rt.Fatalf("tool %d schema changed", i)
			}
		}
	})
}

// Property: 状态码映射与重试判定自洽——对任意状态码与消息，
// Retryable 当且仅当状态码属于 {429, 500, 502, 503, 504}，且
// 状态码与提供者名原样写回错误。
func TestProperty_MapHTTPErrorConsistentWithClassifier(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		status := rapid.IntRange(100, 599).Draw(rt, "status")
		msg := rapid.String().Draw(rt, "msg")
		provider := rapid.StringMatching(`[a-z]{1,10}`).Draw(rt, "provider")

		err := MapHTTPError(status, msg, provider)

		wantRetryable := status == 429 || status == 500 || status == 502 || status == 503 || status == 504
		if err.Retryable != wantRetryable {
			rt.Fatalf("status %d: retryable = %v, want %v", status, err.Retryable, wantRetryable)
		}
		if err.HTTPStatus != status || err.Provider != provider {
			rt.Fatalf("status/provider not stamped: %+v", err)
		}
		if err.Message != msg {
			rt.Fatalf("message changed: %q -> %q", msg, err.Message)
		}
	})
}

// Property: 响应折叠保正文——任意 content 字符串经 OpenAI 兼容响应
// 折叠后逐字返回，usage 原样拷贝，provider 被盖戳。
func TestProperty_ToChatResponsePreservesContent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		content := rapid.String().Draw(rt, "content")
		promptTokens := rapid.IntRange(0, 100000).Draw(rt, "prompt")
		completionTokens := rapid.IntRange(0, 100000).Draw(rt, "completion")

		rawMsg, err := json.Marshal(map[string]any{
			"role":    "assistant",
			"content": content,
		})
		if err != nil {
			rt.Fatalf("marshal fixture: %v", err)
		}

		oa := OpenAICompatResponse{
			ID:    "resp-1",
			Model: "m",
			Choices: []OpenAICompatChoice{
				{Index: 0, FinishReason: "stop", Message: rawMsg},
			},
			Usage: &OpenAICompatUsage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		}

		resp, convErr := ToChatResponse(oa, "prov")
		if convErr != nil {
			rt.Fatalf("conversion failed: %v", convErr)
		}
		if got := resp.Choices[0].Message.Content; got != content {
			rt.Fatalf("content changed: %q -> %q", content, got)
		}
		if resp.Provider != "prov" {
			rt.Fatalf("provider = %q", resp.Provider)
		}
		if resp.Usage.TotalTokens != promptTokens+completionTokens {
			rt.Fatalf("usage changed: %+v", resp.Usage)
		}
	})
}

// 折叠失败挂 provider：坏 JSON 走序列化错误且带提供者名
func TestToChatResponse_BadMessageJSON(t *testing.T) {
	oa := OpenAICompatResponse{
		Choices: []OpenAICompatChoice{{Message: json.RawMessage(`{"role":`)}},
	}

	_, err := ToChatResponse(oa, "prov")
	if err == nil {
		t.Fatal("expected error for malformed message JSON")
	}
	e := types.AsError(err)
	if e == nil {
		t.Fatalf("expected structured error, got %T", err)
	}
	if e.Provider != "prov" {
		t.Fatalf("provider = %q, want prov", e.Provider)
	}
}
