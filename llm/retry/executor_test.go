package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/llm/classify"
	"github.com/modelrelay/modelrelay/types"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		Enabled:      true,
	}
}

func retryableErr() error {
	return types.NewError(types.ErrUpstreamError, "server error").
		WithHTTPStatus(503).WithRetryable(true)
}

func permanentErr() error {
	return types.NewError(types.ErrUnauthorized, "authentication failed").
		WithHTTPStatus(401)
}

func TestExecutor_FirstTrySuccess(t *testing.T) {
	e := NewExecutor(fastPolicy(), classify.New(), zap.NewNop())

	callCount := 0
	err := e.Execute(context.Background(), "op", func(ctx context.Context) error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

// 失败 k 次后成功：总调用次数恰为 k+1。
func TestExecutor_KFailuresThenSuccess(t *testing.T) {
	for _, k := range []int{1, 2, 3} {
		e := NewExecutor(fastPolicy(), classify.New(), zap.NewNop())

		callCount := 0
		err := e.Execute(context.Background(), "op", func(ctx context.Context) error {
			callCount++
			if callCount <= k {
				return retryableErr()
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, k+1, callCount, "k=%d 时应该调用 k+1 次", k)
	}
}

// MaxRetries=3 时恰好尝试 4 次，最后返回的正是最后一次的错误本身。
func TestExecutor_ExhaustedReturnsLastErrorUnwrapped(t *testing.T) {
	e := NewExecutor(fastPolicy(), classify.New(), zap.NewNop())

	callCount := 0
	last := retryableErr()
	err := e.Execute(context.Background(), "op", func(ctx context.Context) error {
		callCount++
		return last
	})

	assert.Equal(t, 4, callCount, "MaxRetries=3 应该尝试 4 次")
	assert.Same(t, last, err, "耗尽后应返回最后一次错误本身，不包装")
}

func TestExecutor_NonRetryableStopsImmediately(t *testing.T) {
	e := NewExecutor(fastPolicy(), classify.New(), zap.NewNop())

	callCount := 0
	perm := permanentErr()
	err := e.Execute(context.Background(), "op", func(ctx context.Context) error {
		callCount++
		return perm
	})

	assert.Equal(t, 1, callCount, "不可重试错误不应触发重试")
	assert.Same(t, perm, err)
}

// 策略关闭：单次调用、失败原样上抛，无分类无重试。
func TestExecutor_DisabledPropagatesRaw(t *testing.T) {
	p := fastPolicy()
	p.Enabled = false
	e := NewExecutor(p, classify.New(), zap.NewNop())

	callCount := 0
	raw := errors.New("rate limit exceeded") // 即便消息可重试也不重试
	err := e.Execute(context.Background(), "op", func(ctx context.Context) error {
		callCount++
		return raw
	})

	assert.Equal(t, 1, callCount)
	assert.Same(t, raw, err, "关闭时错误必须原样返回")
}

func TestExecutor_ContextCanceledDuringBackoff(t *testing.T) {
	p := Policy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Enabled:      true,
	}
	e := NewExecutor(p, classify.New(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	callCount := 0
	err := e.Execute(ctx, "op", func(ctx context.Context) error {
		callCount++
		return retryableErr()
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "重试被取消")
	assert.GreaterOrEqual(t, callCount, 1, "至少调用一次")
}

// 附加厂商模式通过扩展分类器参与重试决策。
func TestExecutor_ExtendedPatternsDriveRetry(t *testing.T) {
	c := classify.New("resource has been exhausted")
	e := NewExecutor(fastPolicy(), c, zap.NewNop())

	callCount := 0
	err := e.Execute(context.Background(), "op", func(ctx context.Context) error {
		callCount++
		if callCount < 2 {
			return errors.New("resource has been exhausted")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, callCount, "附加模式命中应触发重试")
}

func TestExecutor_OnRetryCallback(t *testing.T) {
	callbackCount := 0
	var lastAttempt int
	var lastDelay time.Duration

	p := fastPolicy()
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbackCount++
		lastAttempt = attempt
		lastDelay = delay
	}
	e := NewExecutor(p, classify.New(), zap.NewNop())

	callCount := 0
	_ = e.Execute(context.Background(), "op", func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return retryableErr()
		}
		return nil
	})

	assert.Equal(t, 2, callbackCount, "回调应该被调用两次")
	assert.Equal(t, 1, lastAttempt, "回调携带刚失败的尝试序号")
	assert.GreaterOrEqual(t, lastDelay, time.Duration(0))
}

// ---------------------------------------------------------------------------
// ExecuteTyped (generic wrapper)
// ---------------------------------------------------------------------------

func TestExecuteTyped_Success(t *testing.T) {
	e := NewExecutor(fastPolicy(), classify.New(), zap.NewNop())

	val, err := ExecuteTyped(context.Background(), e, "op", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestExecuteTyped_RetryThenSuccess(t *testing.T) {
	e := NewExecutor(fastPolicy(), classify.New(), zap.NewNop())

	callCount := 0
	val, err := ExecuteTyped(context.Background(), e, "op", func(ctx context.Context) (string, error) {
		callCount++
		if callCount < 3 {
			return "", retryableErr()
		}
		return "done", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 3, callCount)
}

func TestExecuteTyped_ErrorReturnsZeroValue(t *testing.T) {
	p := fastPolicy()
	p.MaxRetries = 0
	e := NewExecutor(p, classify.New(), zap.NewNop())

	val, err := ExecuteTyped(context.Background(), e, "op", func(ctx context.Context) (*struct{ V int }, error) {
		return &struct{ V int }{V: 1}, errors.New("fail")
	})
	assert.Error(t, err)
	assert.Nil(t, val, "失败时应返回零值")
}
