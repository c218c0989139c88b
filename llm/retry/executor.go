package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/llm/classify"
)

// Executor 驱动分类器与退避调度器，对一个幂等操作强制执行最大尝试
// 次数。Executor 只负责"返回结果或原样抛出最后一次错误"；把耗尽后
// 的失败转换成降级回复是上层 send/stream/transcribe 表面的职责。
type Executor struct {
	policy     Policy
	sched      *Scheduler
	classifier *classify.Classifier
	logger     *zap.Logger
}

// NewExecutor 创建重试执行器。classifier 为 nil 时使用仅含基础规则的
// 分类器，logger 为 nil 时使用 zap.NewNop()。
func NewExecutor(policy Policy, classifier *classify.Classifier, logger *zap.Logger) *Executor {
	return NewExecutorWithRand(policy, classifier, logger, nil)
}

// NewExecutorWithRand 与 NewExecutor 相同，但允许注入退避随机源，
// 用于需要确定性延迟序列的测试。
func NewExecutorWithRand(policy Policy, classifier *classify.Classifier, logger *zap.Logger, rng *rand.Rand) *Executor {
	if classifier == nil {
		classifier = classify.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		policy:     policy,
		sched:      NewScheduler(policy, rng),
		classifier: classifier,
		logger:     logger,
	}
}

// Policy 返回执行器持有的策略副本。
func (e *Executor) Policy() Policy { return e.policy }

// Classifier 返回执行器使用的分类器。
func (e *Executor) Classifier() *classify.Classifier { return e.classifier }

// Execute 执行 fn，失败时根据策略重试。
//
// 策略关闭时仅调用一次并原样返回失败（不分类、不重试）。开启时共
// 尝试 MaxRetries+1 次：成功立即返回；最后一次尝试失败或错误不可
// 重试时，返回最后一次错误本身（不包装，调用方依赖原始消息合成
// 降级元数据）；否则记录警告、等待退避延迟后继续。
func (e *Executor) Execute(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	if !e.policy.Enabled {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				e.logger.Info("重试成功",
					zap.String("operation", label),
					zap.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		if !e.classifier.RetryableExtended(lastErr) {
			e.logger.Debug("错误不可重试",
				zap.String("operation", label),
				zap.Error(lastErr),
			)
			return lastErr
		}
		if attempt == e.policy.MaxRetries {
			break
		}

		delay := e.sched.DelayFor(attempt)
		e.logger.Warn("操作失败，准备重试",
			zap.String("operation", label),
			zap.String("progress", fmt.Sprintf("%d/%d", attempt+1, e.policy.MaxRetries+1)),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if e.policy.OnRetry != nil {
			e.policy.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("重试被取消: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	e.logger.Warn("重试次数耗尽",
		zap.String("operation", label),
		zap.Int("attempts", e.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return lastErr
}
