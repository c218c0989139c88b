package classify

import (
	"strings"
	"sync"

	"github.com/modelrelay/modelrelay/types"
)

// retryableStatuses 是状态码判定的封闭集合。
var retryableStatuses = map[int]struct{}{
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// basePatterns 是消息判定的固定子串集合（对小写消息匹配）。
var basePatterns = []string{
	"rate limit",
	"quota exceeded",
	"too many requests",
	"429",
	"server error",
	"service unavailable",
	"timeout",
}

// Classifier 按状态码与消息内容判定失败是否瞬时。
// 零值可用；AddPatterns 可并发调用。
type Classifier struct {
	mu       sync.RWMutex
	extended []string
}

// New 创建分类器，extended 为初始的厂商附加模式。
func New(extended ...string) *Classifier {
	c := &Classifier{}
	c.AddPatterns(extended...)
	return c
}

// AddPatterns 追加厂商特定的消息模式。模式按小写匹配存储。
func (c *Classifier) AddPatterns(patterns ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			c.extended = append(c.extended, p)
		}
	}
}

// Patterns 返回当前附加模式的快照（测试与诊断用）。
func (c *Classifier) Patterns() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.extended))
	copy(out, c.extended)
	return out
}

// Retryable 执行基础判定：有状态码看状态码，否则看消息子串。
func (c *Classifier) Retryable(err error) bool {
	return baseVerdict(err)
}

// RetryableExtended 先执行基础判定；仅当基础判定失败时，再对附加
// 模式做消息匹配。
func (c *Classifier) RetryableExtended(err error) bool {
	if baseVerdict(err) {
		return true
	}
	msg := lowerMessage(err)
	if msg == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.extended {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// RetryableStatus 报告单个状态码是否属于可重试集合。
func RetryableStatus(status int) bool {
	_, ok := retryableStatuses[status]
	return ok
}

// baseVerdict 实现基础判定。错误携带状态码时结论完全由状态码给出，
// 否则退回消息子串匹配。
func baseVerdict(err error) bool {
	if err == nil {
		return false
	}
	if e := types.AsError(err); e != nil && e.HTTPStatus != 0 {
		return RetryableStatus(e.HTTPStatus)
	}
	msg := lowerMessage(err)
	for _, p := range basePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// lowerMessage 提取消息文本。结构化错误取 Message 字段，普通错误取
// Error() 输出；nil 一律按空串处理。
func lowerMessage(err error) string {
	if err == nil {
		return ""
	}
	if e := types.AsError(err); e != nil {
		return strings.ToLower(e.Message)
	}
	return strings.ToLower(err.Error())
}
