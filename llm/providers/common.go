package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/classify"
	"github.com/modelrelay/modelrelay/llm/normalize"
	"github.com/modelrelay/modelrelay/types"
)

// StatusModelOverloaded 是部分提供商在模型过载时返回的非标准状态码。
const StatusModelOverloaded = 529

// MapHTTPError 将上游 HTTP 状态码映射为带有合适错误码的 types.Error。
// 所有提供商共用这一张映射表；可重试标记与分类器的状态码判定保持
// 一致，避免错误自述与重试决策相互矛盾。
func MapHTTPError(status int, msg string, provider string) *types.Error {
	code := types.ErrUpstreamError
	switch status {
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusForbidden:
		code = types.ErrForbidden
	case http.StatusNotFound:
		code = types.ErrModelNotFound
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
	case http.StatusBadRequest:
		// 配额/额度耗尽常以 400 返回，靠关键字区分
		code = types.ErrInvalidRequest
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") ||
			strings.Contains(msgLower, "credit") ||
			strings.Contains(msgLower, "limit") {
			code = types.ErrQuotaExceeded
		}
	case http.StatusServiceUnavailable:
		code = types.ErrProviderUnavailable
	case http.StatusGatewayTimeout:
		code = types.ErrUpstreamTimeout
	case StatusModelOverloaded:
		code = types.ErrModelOverloaded
	}

	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(classify.RetryableStatus(status)).
		WithProvider(provider)
}

// NetworkError 把连接层故障（拨号失败、连接重置、客户端超时）折叠为
// 可重试的 502 错误。上游未给出状态码时用 502 代位，使分类器的状态
// 判定与消息判定收敛到同一个结论。
func NetworkError(err error, provider string) *types.Error {
	return types.NewError(types.ErrNetworkError, err.Error()).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider).
		WithCause(err)
}

// ReadErrorMessage 读取响应体中的错误消息。
// 尝试解析 JSON 错误信封，失败则回退到原始文本。
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return string(data)
}

// OpenAI 兼容 API 通用类型。
// 这些类型被 OpenAI、DeepSeek 以及任意自定义 base URL 的兼容提供商
// 共用；函数调用（arguments 为 JSON 编码字符串）与函数声明
// （parameters 为 JSON Schema 对象）在线格式不同，分开建模。

// OpenAICompatMessage 表示 OpenAI 兼容的出站消息格式。
type OpenAICompatMessage struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content,omitempty"`
	Name       string                 `json:"name,omitempty"`
	ToolCalls  []OpenAICompatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
}

// OpenAICompatToolCall 表示 OpenAI 兼容的工具调用。流式增量里
// Index 标注归属，首个增量携带 ID。
type OpenAICompatToolCall struct {
	Index    *int                     `json:"index,omitempty"`
	ID       string                   `json:"id,omitempty"`
	Type     string                   `json:"type,omitempty"`
	Function OpenAICompatFunctionCall `json:"function"`
}

// OpenAICompatFunctionCall 是一次函数调用：arguments 在线上是
// JSON 编码的字符串（流式时是它的前缀片段）。
type OpenAICompatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// OpenAICompatFunctionDef 是一条函数声明：parameters 是 JSON
// Schema 对象。
type OpenAICompatFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAICompatTool 表示 OpenAI 兼容的工具定义。
type OpenAICompatTool struct {
	Type     string                  `json:"type"`
	Function OpenAICompatFunctionDef `json:"function"`
}

// OpenAICompatRequest 表示 OpenAI 兼容的聊天完成请求。
type OpenAICompatRequest struct {
	Model       string                `json:"model"`
	Messages    []OpenAICompatMessage `json:"messages"`
	Tools       []OpenAICompatTool    `json:"tools,omitempty"`
	ToolChoice  any                   `json:"tool_choice,omitempty"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Temperature float32               `json:"temperature,omitempty"`
	TopP        float32               `json:"top_p,omitempty"`
	Stop        []string              `json:"stop,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
}

// OpenAICompatDelta 表示流式响应中的消息增量。
type OpenAICompatDelta struct {
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	ToolCalls []OpenAICompatToolCall `json:"tool_calls,omitempty"`
}

// OpenAICompatChoice 表示响应中的单个选项。非流式响应携带 Message
// （保持原始 JSON，交给规范化层折叠），流式响应携带 Delta。
type OpenAICompatChoice struct {
	Index        int                `json:"index"`
	FinishReason string             `json:"finish_reason"`
	Message      json.RawMessage    `json:"message,omitempty"`
	Delta        *OpenAICompatDelta `json:"delta,omitempty"`
}

// OpenAICompatUsage 表示响应中的 token 用量。
type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatResponse 表示 OpenAI 兼容的聊天完成响应（整体或单个
// 流式 chunk）。
type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
	Created int64                `json:"created,omitempty"`
}

// ConvertMessagesToOpenAI 将 llm.Message 切片转换为 OpenAI 兼容格式。
func ConvertMessagesToOpenAI(msgs []llm.Message) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, 0, len(msgs))
	for _, m := range msgs {
		oa := OpenAICompatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			oa.ToolCalls = make([]OpenAICompatToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				oa.ToolCalls = append(oa.ToolCalls, OpenAICompatToolCall{
					ID:   tc.ID,
					Type: llm.ToolCallKindFunction,
					Function: OpenAICompatFunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		}
		out = append(out, oa)
	}
	return out
}

// ConvertToolsToOpenAI 将 llm.ToolSchema 切片转换为 OpenAI 兼容格式。
func ConvertToolsToOpenAI(tools []llm.ToolSchema) []OpenAICompatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]OpenAICompatTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, OpenAICompatTool{
			Type: llm.ToolCallKindFunction,
			Function: OpenAICompatFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// ToChatResponse 将 OpenAI 兼容响应折叠为 llm.ChatResponse。
// 每个选项的 message 走规范化层，缺省 role/content/arguments 在
// 那里统一补齐；规范化失败按序列化错误上抛。
func ToChatResponse(oa OpenAICompatResponse, provider string) (*llm.ChatResponse, error) {
	choices := make([]llm.ChatChoice, 0, len(oa.Choices))
	for i, c := range oa.Choices {
		var raw any
		if len(c.Message) > 0 {
			raw = c.Message
		}
		msg, err := normalize.Message(raw)
		if err != nil {
			if e := types.AsError(err); e != nil {
				return nil, e.WithProvider(provider)
			}
			return nil, err
		}
		choices = append(choices, llm.ChatChoice{
			Index:        indexOr(c.Index, i),
			FinishReason: c.FinishReason,
			Message:      *msg,
		})
	}

	resp := &llm.ChatResponse{
		ID:       oa.ID,
		Provider: provider,
		Model:    oa.Model,
		Choices:  choices,
	}
	if oa.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     oa.Usage.PromptTokens,
			CompletionTokens: oa.Usage.CompletionTokens,
			TotalTokens:      oa.Usage.TotalTokens,
		}
	}
	if oa.Created != 0 {
		resp.CreatedAt = time.Unix(oa.Created, 0)
	}
	return resp, nil
}

func indexOr(idx, fallback int) int {
	if idx != 0 {
		return idx
	}
	return fallback
}

// ChooseModel 根据请求和默认值选择模型。
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// BearerTokenHeaders 是标准的 Bearer token 认证 header 构建函数。
func BearerTokenHeaders(r *http.Request, apiKey string) {
	r.Header.Set("Authorization", "Bearer "+apiKey)
	r.Header.Set("Content-Type", "application/json")
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误。
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
