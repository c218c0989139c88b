package providers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/circuitbreaker"
	"github.com/modelrelay/modelrelay/llm/classify"
	"github.com/modelrelay/modelrelay/llm/idempotency"
	"github.com/modelrelay/modelrelay/llm/retry"
	"github.com/modelrelay/modelrelay/llm/tokenizer"
	"github.com/modelrelay/modelrelay/types"
)

// ResilienceConfig 弹性装饰器配置。
type ResilienceConfig struct {
	// Retry 重试策略。Enabled 为 false 时单次调用、失败原样上抛，
	// 降级合成一并停用。
	Retry retry.Policy `json:"retry" yaml:"retry"`

	// EnableIdempotency 是否启用响应幂等缓存（仅非流式补全）
	EnableIdempotency bool `json:"enable_idempotency" yaml:"enable_idempotency"`
	// IdempotencyTTL 幂等缓存时间
	IdempotencyTTL time.Duration `json:"idempotency_ttl" yaml:"idempotency_ttl"`

	// EnableCircuitBreaker 是否启用熔断器
	EnableCircuitBreaker bool `json:"enable_circuit_breaker" yaml:"enable_circuit_breaker"`
	// CircuitBreaker 熔断器配置
	CircuitBreaker *circuitbreaker.Config `json:"-" yaml:"-"`

	// PacingDelay 降级合成流的片段节奏，零值用默认 30ms
	PacingDelay time.Duration `json:"pacing_delay" yaml:"pacing_delay"`

	// EstimateUsage 上游缺失用量统计时是否用分词器补估算值
	EstimateUsage bool `json:"estimate_usage" yaml:"estimate_usage"`
}

// DefaultResilienceConfig 返回默认配置
func DefaultResilienceConfig() *ResilienceConfig {
	return &ResilienceConfig{
		Retry:                retry.DefaultPolicy(),
		EnableIdempotency:    true,
		IdempotencyTTL:       1 * time.Hour,
		EnableCircuitBreaker: true,
		CircuitBreaker:       circuitbreaker.DefaultConfig(),
		EstimateUsage:        true,
	}
}

// ClassifierSource 由各 Provider 实现，暴露其扩展错误分类器。
// 弹性装饰器借此让重试判定与该 Provider 的专有错误措辞对齐。
type ClassifierSource interface {
	Classifier() *classify.Classifier
}

// ResilientProvider 具有弹性能力的 Provider 包装器。
// 装饰器模式：重试、降级合成、熔断与幂等缓存叠加在任意底层
// Provider 之上，不修改其代码。
//
// 重试开启时，补全、流式与转写三个表面都保证不向终端用户抛出
// 原始故障：补全与流式合成致歉回复（含 _error_metadata），转写
// 返回带 errorDetails 的固定文案。配置错误与序列化错误例外，
// 始终原样上抛。
type ResilientProvider struct {
	provider      llm.Provider
	executor      *retry.Executor
	classifier    *classify.Classifier
	breaker       circuitbreaker.CircuitBreaker
	idem          idempotency.Manager
	idemTTL       time.Duration
	pacing        time.Duration
	estimateUsage bool
	logger        *zap.Logger
}

var _ llm.Provider = (*ResilientProvider)(nil)

// NewResilientProvider 创建弹性装饰器。
// idem 为 nil 或 EnableIdempotency 为 false 时不做幂等缓存；
// Provider 实现了 ClassifierSource 时沿用其扩展分类器。
func NewResilientProvider(provider llm.Provider, cfg *ResilienceConfig, idem idempotency.Manager, logger *zap.Logger) *ResilientProvider {
	if cfg == nil {
		cfg = DefaultResilienceConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	classifier := classify.New()
	if cs, ok := provider.(ClassifierSource); ok && cs.Classifier() != nil {
		classifier = cs.Classifier()
	}

	var breaker circuitbreaker.CircuitBreaker
	if cfg.EnableCircuitBreaker {
		breaker = circuitbreaker.NewCircuitBreaker(cfg.CircuitBreaker, logger)
	}
	if !cfg.EnableIdempotency {
		idem = nil
	}

	return &ResilientProvider{
		provider:      provider,
		executor:      retry.NewExecutor(cfg.Retry, classifier, logger),
		classifier:    classifier,
		breaker:       breaker,
		idem:          idem,
		idemTTL:       cfg.IdempotencyTTL,
		pacing:        cfg.PacingDelay,
		estimateUsage: cfg.EstimateUsage,
		logger:        logger,
	}
}

// Completion 实现 llm.Provider.Completion。
// 幂等缓存命中直接返回；未命中时带重试与熔断执行，重试耗尽后
// 合成降级回复。
func (rp *ResilientProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	idemKey := rp.idempotencyKey(req)
	if idemKey != "" {
		if cached, found, err := idempotency.GetTyped[llm.ChatResponse](rp.idem, ctx, idemKey); err == nil && found {
			rp.logger.Debug("幂等键命中，返回缓存结果",
				zap.String("key", idemKey),
			)
			return &cached, nil
		}
	}

	attempts := 0
	resp, err := retry.ExecuteTyped(ctx, rp.executor, "completion", func(ctx context.Context) (*llm.ChatResponse, error) {
		attempts++
		return rp.callCompletion(ctx, req)
	})
	if err != nil {
		return rp.completionFallback(req, err, attempts-1)
	}

	rp.ensureUsage(req, resp)

	if idemKey != "" {
		if cacheErr := rp.idem.Set(ctx, idemKey, resp, rp.idemTTL); cacheErr != nil {
			rp.logger.Warn("缓存幂等结果失败",
				zap.String("key", idemKey),
				zap.Error(cacheErr),
			)
		}
	}
	return resp, nil
}

// Stream 实现 llm.Provider.Stream。
// 对流的"打开"动作重试；一旦拿到事件通道，中途故障由规范化层
// 转成 Error 事件。打开重试耗尽后返回合成降级流，消费方总会收到
// 有限的、以 Finish 收尾的事件序列。
func (rp *ResilientProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	attempts := 0
	ch, err := retry.ExecuteTyped(ctx, rp.executor, "stream", func(ctx context.Context) (<-chan llm.StreamEvent, error) {
		attempts++
		return rp.callStream(ctx, req)
	})
	if err != nil {
		if !rp.degradeEligible(err) {
			return nil, err
		}

		retryable := rp.classifier.RetryableExtended(err)
		meta := llm.NewErrorMetadata(rp.provider.Name(), err, retryable, attempts-1)
		apology := apologyFor(retryable, llm.LastUserContent(req.Messages))

		rp.logger.Error("流式请求重试耗尽，返回合成降级流",
			zap.String("provider", rp.provider.Name()),
			zap.Bool("retryable", retryable),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return degradedStream(ctx, apology, meta, rp.pacing), nil
	}
	return ch, nil
}

// Transcribe 实现 llm.Provider.Transcribe。
// 重试耗尽后返回固定文案加 errorDetails，不抛错。
func (rp *ResilientProvider) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResult, error) {
	attempts := 0
	res, err := retry.ExecuteTyped(ctx, rp.executor, "transcription", func(ctx context.Context) (*llm.TranscriptionResult, error) {
		attempts++
		return rp.callTranscribe(ctx, req)
	})
	if err != nil {
		if !rp.degradeEligible(err) {
			return nil, err
		}

		retryable := rp.classifier.RetryableExtended(err)
		rp.logger.Error("语音转写重试耗尽，返回降级结果",
			zap.String("provider", rp.provider.Name()),
			zap.Bool("retryable", retryable),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return degradedTranscription(err, retryable), nil
	}
	return res, nil
}

// HealthCheck 实现 llm.Provider.HealthCheck（直通，不重试）。
func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return rp.provider.HealthCheck(ctx)
}

// Name 实现 llm.Provider.Name
func (rp *ResilientProvider) Name() string {
	return rp.provider.Name()
}

// SupportsNativeFunctionCalling 委托给底层 Provider。
func (rp *ResilientProvider) SupportsNativeFunctionCalling() bool {
	return rp.provider.SupportsNativeFunctionCalling()
}

// BreakerState 返回熔断器状态，未启用时恒为 StateClosed。
func (rp *ResilientProvider) BreakerState() circuitbreaker.State {
	if rp.breaker == nil {
		return circuitbreaker.StateClosed
	}
	return rp.breaker.State()
}

func (rp *ResilientProvider) callCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if rp.breaker == nil {
		return rp.provider.Completion(ctx, req)
	}
	return circuitbreaker.CallTyped(rp.breaker, ctx, func(ctx context.Context) (*llm.ChatResponse, error) {
		return rp.provider.Completion(ctx, req)
	})
}

func (rp *ResilientProvider) callStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	if rp.breaker == nil {
		return rp.provider.Stream(ctx, req)
	}
	// 熔断只统计打开动作的结果，流中途的故障不回灌计数
	return circuitbreaker.CallTyped(rp.breaker, ctx, func(ctx context.Context) (<-chan llm.StreamEvent, error) {
		return rp.provider.Stream(ctx, req)
	})
}

func (rp *ResilientProvider) callTranscribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResult, error) {
	if rp.breaker == nil {
		return rp.provider.Transcribe(ctx, req)
	}
	return circuitbreaker.CallTyped(rp.breaker, ctx, func(ctx context.Context) (*llm.TranscriptionResult, error) {
		return rp.provider.Transcribe(ctx, req)
	})
}

// completionFallback 把重试耗尽的失败转换为降级回复。
func (rp *ResilientProvider) completionFallback(req *llm.ChatRequest, finalErr error, retryCount int) (*llm.ChatResponse, error) {
	if !rp.degradeEligible(finalErr) {
		return nil, finalErr
	}

	retryable := rp.classifier.RetryableExtended(finalErr)
	meta := llm.NewErrorMetadata(rp.provider.Name(), finalErr, retryable, retryCount)
	apology := apologyFor(retryable, llm.LastUserContent(req.Messages))

	rp.logger.Error("重试耗尽，返回降级回复",
		zap.String("provider", rp.provider.Name()),
		zap.Bool("retryable", retryable),
		zap.Int("retry_count", retryCount),
		zap.Error(finalErr),
	)
	return degradedResponse(rp.provider.Name(), req.Model, apology, meta), nil
}

// degradeEligible 判定失败是否转降级回复。
// 重试关闭时一律原样上抛；配置错误与序列化错误永远直接上抛。
func (rp *ResilientProvider) degradeEligible(err error) bool {
	if !rp.executor.Policy().Enabled {
		return false
	}
	switch types.GetErrorCode(err) {
	case types.ErrSerialization, types.ErrConfiguration:
		return false
	}
	return true
}

// idempotencyKey 从请求的确定性参数生成幂等键。
// provider 名参与哈希，相同请求发往不同 Provider 不共享缓存。
// temperature、top_p 等采样参数刻意排除。
func (rp *ResilientProvider) idempotencyKey(req *llm.ChatRequest) string {
	if rp.idem == nil {
		return ""
	}

	deterministic := struct {
		Provider   string           `json:"provider"`
		Model      string           `json:"model"`
		Messages   []llm.Message    `json:"messages"`
		Tools      []llm.ToolSchema `json:"tools,omitempty"`
		ToolChoice string           `json:"tool_choice,omitempty"`
	}{
		Provider:   rp.provider.Name(),
		Model:      req.Model,
		Messages:   req.Messages,
		Tools:      req.Tools,
		ToolChoice: req.ToolChoice,
	}

	key, err := rp.idem.GenerateKey(deterministic)
	if err != nil {
		rp.logger.Warn("生成幂等键失败，跳过幂等性检查",
			zap.Error(err),
		)
		return ""
	}
	return key
}

// ensureUsage 上游缺失用量统计时补一份带 Estimated 标记的估算值。
func (rp *ResilientProvider) ensureUsage(req *llm.ChatRequest, resp *llm.ChatResponse) {
	if !rp.estimateUsage || resp == nil || resp.Usage.TotalTokens > 0 {
		return
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	tok := tokenizer.ForModelOrEstimate(model)

	msgs := make([]tokenizer.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	prompt, err := tok.CountMessages(msgs)
	if err != nil {
		return
	}

	completion := 0
	for _, c := range resp.Choices {
		n, err := tok.CountTokens(c.Message.Content)
		if err != nil {
			return
		}
		completion += n
	}

	resp.Usage = llm.ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Estimated:        true,
	}
}
