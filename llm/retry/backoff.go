package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/types"
)

// Policy 定义重试策略配置。
// 构造后不可变：同一个客户端生命周期内共享同一份策略。
type Policy struct {
	MaxRetries   int           // 最大重试次数（总尝试次数 = MaxRetries + 1）
	InitialDelay time.Duration // 初始延迟时间（必须 > 0）
	MaxDelay     time.Duration // 延迟上限（必须 ≥ InitialDelay）
	Multiplier   float64       // 延迟倍增因子（必须 > 1）
	Enabled      bool          // 关闭后只调用一次，失败原样上抛

	// OnRetry 在每次重试前回调（attempt 为刚失败的尝试序号，从 0 起）
	OnRetry func(attempt int, err error, delay time.Duration) `json:"-" yaml:"-"`
}

// DefaultPolicy 返回适用于大部分 LLM API 调用场景的默认策略。
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Enabled:      true,
	}
}

// Validate 校验策略参数，违反约束时返回配置错误。
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return types.NewConfigurationError("retry: MaxRetries 不能为负")
	}
	if p.InitialDelay <= 0 {
		return types.NewConfigurationError("retry: InitialDelay 必须大于 0")
	}
	if p.MaxDelay < p.InitialDelay {
		return types.NewConfigurationError("retry: MaxDelay 不能小于 InitialDelay")
	}
	if p.Multiplier <= 1.0 {
		return types.NewConfigurationError("retry: Multiplier 必须大于 1")
	}
	return nil
}

// Scheduler 按指数退避 + 随机抖动计算每次重试前的延迟。
// 注入固定种子的随机源即可得到确定性序列，便于测试。
type Scheduler struct {
	policy Policy
	mu     sync.Mutex // rand.Rand 非并发安全
	rng    *rand.Rand
}

// NewScheduler 创建退避调度器。rng 为 nil 时使用时间种子。
func NewScheduler(policy Policy, rng *rand.Rand) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{policy: policy, rng: rng}
}

// DelayFor 计算第 attempt 次尝试失败后的等待时长（attempt 从 0 起）。
//
// base = min(initial * multiplier^attempt, max)；
// 抖动 = base * 0.2 * (uniform(0,1) - 0.5)，0.2 的幅度乘以 0.5 为中心的
// 均匀量，净摆幅为 base 的 ±10%；结果向下取整到毫秒，再次钳制到
// [0, max]。结果永不为负。
func (s *Scheduler) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	initialMs := float64(s.policy.InitialDelay) / float64(time.Millisecond)
	maxMs := float64(s.policy.MaxDelay) / float64(time.Millisecond)

	base := initialMs * math.Pow(s.policy.Multiplier, float64(attempt))
	if base > maxMs {
		base = maxMs
	}

	jitter := base * 0.2 * (s.roll() - 0.5)

	ms := math.Floor(base + jitter)
	if ms > maxMs {
		ms = maxMs
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Scheduler) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
