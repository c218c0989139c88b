package tokenizer

import (
	"fmt"
	"sync"
)

// Counter 统计文本与对话的 token 用量。
type Counter interface {
	// CountTokens 返回给定文本的 token 数。
	CountTokens(text string) (int, error)

	// CountMessages 返回整段对话的 token 数，
	// 含每条消息的角色标记与分隔符开销。
	CountMessages(messages []Message) (int, error)

	// Name 返回计数器名称，用于日志与调试。
	Name() string
}

// Message 是计数用的轻量消息结构，
// 独立定义以避免与 llm 包循环依赖。
type Message struct {
	Role    string
	Content string
}

// 按模型名登记的计数器表，建表时预置 OpenAI 系模型。
var (
	countersMu sync.RWMutex
	counters   = openAICounters()
)

// Register 为模型名登记计数器，后登记的覆盖先登记的。
func Register(model string, c Counter) {
	countersMu.Lock()
	defer countersMu.Unlock()
	counters[model] = c
}

// ForModel 返回模型对应的计数器。精确匹配优先，
// 其次取最长命中前缀（"gpt-4o-2024" 命中 "gpt-4o" 而非 "gpt-4"）。
func ForModel(model string) (Counter, error) {
	countersMu.RLock()
	defer countersMu.RUnlock()

	if c, ok := counters[model]; ok {
		return c, nil
	}

	var best Counter
	bestLen := -1
	for prefix, c := range counters {
		if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			best = c
			bestLen = len(prefix)
		}
	}
	if best != nil {
		return best, nil
	}

	return nil, fmt.Errorf("no token counter registered for model: %s", model)
}

// ForModelOrEstimate 在模型未登记时退回 CJK 启发式估算器，
// deepseek、gemini 等非 OpenAI 编码的模型走这条路径。
func ForModelOrEstimate(model string) Counter {
	c, err := ForModel(model)
	if err != nil {
		return NewEstimator(model)
	}
	return c
}
