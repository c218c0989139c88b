package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/api"
	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/circuitbreaker"
	"github.com/modelrelay/modelrelay/llm/providers"
	"github.com/modelrelay/modelrelay/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 聊天接口 Handler
// =============================================================================

// ChatHandler 聊天接口处理器。同一端点按请求的 stream 标记
// 决定同步响应或 SSE 流式响应。
type ChatHandler struct {
	registry *llm.ProviderRegistry
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewChatHandler 创建聊天处理器。collector 为 nil 时不记录指标。
func NewChatHandler(registry *llm.ProviderRegistry, collector *metrics.Collector, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		registry: registry,
		metrics:  collector,
		logger:   logger,
	}
}

// breakerStater 由弹性装饰器实现，暴露熔断器状态。
type breakerStater interface {
	BreakerState() circuitbreaker.State
}

// HandleCompletion 处理聊天补全请求
// @Summary 聊天完成
// @Description 发送聊天完成请求，stream 为 true 时以 SSE 流返回
// @Tags 聊天
// @Accept json
// @Produce json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "聊天请求"
// @Success 200 {object} api.ChatResponse "聊天响应"
// @Failure 400 {object} Response "无效请求"
// @Failure 500 {object} Response "内部错误"
// @Router /v1/chat/completions [post]
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	// 验证 Content-Type
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	// 解码请求
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// 验证请求
	if err := h.validateChatRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 解析提供者
	prov, perr := resolveProvider(h.registry, req.Provider)
	if perr != nil {
		WriteError(w, perr, h.logger)
		return
	}

	// 解析请求级超时
	timeout, terr := parseTimeout(req.Timeout)
	if terr != nil {
		WriteError(w, terr, h.logger)
		return
	}
	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	llmReq := convertToLLMRequest(&req)
	if llmReq.TraceID == "" {
		// 请求体未携带 trace_id 时继承中间件注入的追踪标识
		if traceID, ok := types.TraceID(ctx); ok {
			llmReq.TraceID = traceID
		} else if reqID, ok := types.RequestID(ctx); ok {
			llmReq.TraceID = reqID
		}
	}

	if req.Stream {
		h.streamCompletion(ctx, w, prov, llmReq)
		return
	}
	h.syncCompletion(ctx, w, prov, llmReq)
}

// syncCompletion 同步补全路径
func (h *ChatHandler) syncCompletion(ctx context.Context, w http.ResponseWriter, prov llm.Provider, llmReq *llm.ChatRequest) {
	name := prov.Name()

	start := time.Now()
	resp, err := prov.Completion(ctx, llmReq)
	duration := time.Since(start)
	h.recordBreakerState(prov, name)

	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordLLMRequest(name, llmReq.Model, "error", duration, 0, 0)
		}
		writeProviderError(w, err, h.logger)
		return
	}

	status := "success"
	if isDegradedResponse(resp) {
		status = "degraded"
		if h.metrics != nil {
			h.metrics.RecordDegradedResponse(name, "chat")
		}
	}
	if h.metrics != nil {
		h.metrics.RecordLLMRequest(name, resp.Model, status,
			duration, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	h.logger.Info("chat completion",
		zap.String("provider", name),
		zap.String("model", resp.Model),
		zap.String("status", status),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("duration", duration),
	)

	WriteSuccess(w, api.ResponseFromLLM(resp))
}

// streamCompletion SSE 流式补全路径。每个事件序列化为一个 data 帧，
// 故障事件附带 event: error 标记，流尾恒为 data: [DONE]。
func (h *ChatHandler) streamCompletion(ctx context.Context, w http.ResponseWriter, prov llm.Provider, llmReq *llm.ChatRequest) {
	name := prov.Name()

	start := time.Now()
	stream, err := prov.Stream(ctx, llmReq)
	h.recordBreakerState(prov, name)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordLLMRequest(name, llmReq.Model, "error", time.Since(start), 0, 0)
		}
		writeProviderError(w, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	// 设置 SSE 响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲

	for ev := range stream {
		if h.metrics != nil {
			h.metrics.RecordStreamEvent(name, string(ev.Type))
		}

		if ev.Type == llm.EventError {
			h.logger.Error("stream error",
				zap.String("provider", name),
				zap.Error(ev.Err),
			)
			if h.metrics != nil {
				h.metrics.RecordLLMRequest(name, llmReq.Model, "error", time.Since(start), 0, 0)
			}
			// SSE 错误事件，帧体仍是完整的事件联合体
			payload, _ := json.Marshal(ev)
			w.Write([]byte("event: error\ndata: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
			return
		}

		if ev.Type == llm.EventFinish {
			status := "success"
			if ev.Reason == providers.FinishReasonDegraded {
				status = "degraded"
				if h.metrics != nil {
					h.metrics.RecordDegradedResponse(name, "stream")
				}
			}
			if h.metrics != nil {
				var promptTokens, completionTokens int
				if ev.Usage != nil {
					promptTokens = ev.Usage.PromptTokens
					completionTokens = ev.Usage.CompletionTokens
				}
				h.metrics.RecordLLMRequest(name, llmReq.Model, status,
					time.Since(start), promptTokens, completionTokens)
			}
		}

		payload, merr := json.Marshal(ev)
		if merr != nil {
			h.logger.Error("failed to marshal stream event", zap.Error(merr))
			return
		}
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	// 发送结束标记
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// HandleModels 处理提供者列表请求
// @Summary 提供者列表
// @Description 列出已注册的提供者及其能力
// @Tags 提供者
// @Produce json
// @Success 200 {object} api.ProviderListResponse "提供者列表"
// @Router /v1/models [get]
func (h *ChatHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	defaultProv, _ := h.registry.Default()

	names := h.registry.List()
	infos := make([]api.ProviderInfo, 0, len(names))
	for _, name := range names {
		p, ok := h.registry.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, api.ProviderInfo{
			Name:          name,
			Default:       defaultProv != nil && p == defaultProv,
			SupportsTools: p.SupportsNativeFunctionCalling(),
		})
	}

	WriteSuccess(w, api.ProviderListResponse{Providers: infos})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// validateChatRequest 验证聊天请求。model 可省略，
// 由提供者的默认模型补全。
func (h *ChatHandler) validateChatRequest(req *api.ChatRequest) *types.Error {
	if len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "messages cannot be empty")
	}

	for i, msg := range req.Messages {
		if !validRoles[msg.Role] {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("invalid role %q at messages[%d]", msg.Role, i))
		}
	}

	// 验证温度参数
	if req.Temperature < 0 || req.Temperature > 2 {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}

	// 验证 TopP 参数
	if req.TopP < 0 || req.TopP > 1 {
		return types.NewError(types.ErrInvalidRequest, "top_p must be between 0 and 1")
	}

	return nil
}

// resolveProvider 按名称从注册表解析提供者，名称为空时取默认提供者。
func resolveProvider(registry *llm.ProviderRegistry, name string) (llm.Provider, *types.Error) {
	if name == "" {
		p, err := registry.Default()
		if err != nil {
			return nil, types.NewError(types.ErrProviderUnavailable, "no default provider configured").
				WithCause(err)
		}
		return p, nil
	}

	p, ok := registry.Get(name)
	if !ok {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown provider %q", name))
	}
	return p, nil
}

// parseTimeout 解析请求级超时，空串表示不限制。
func parseTimeout(raw string) (time.Duration, *types.Error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid timeout %q", raw))
	}
	return d, nil
}

// convertToLLMRequest 转换为规范化聊天请求
func convertToLLMRequest(req *api.ChatRequest) *llm.ChatRequest {
	messages := make([]llm.Message, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = msg.ToLLM()
	}

	return &llm.ChatRequest{
		TraceID:     req.TraceID,
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Metadata:    req.Metadata,
	}
}

// isDegradedResponse 判断响应是否为重试耗尽后的降级回复
func isDegradedResponse(resp *llm.ChatResponse) bool {
	return len(resp.Choices) > 0 && resp.Choices[0].FinishReason == providers.FinishReasonDegraded
}

// recordBreakerState 当提供者带熔断装饰时记录其状态
func (h *ChatHandler) recordBreakerState(prov llm.Provider, name string) {
	if h.metrics == nil {
		return
	}
	if bs, ok := prov.(breakerStater); ok {
		h.metrics.RecordBreakerState(name, bs.BreakerState())
	}
}
