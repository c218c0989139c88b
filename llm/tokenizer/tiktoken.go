package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter 用 tiktoken 编码表为 OpenAI 系模型做精确计数。
// 编码数据首次使用时才加载（可能触发一次下载），加载失败的错误
// 会缓存下来并在每次计数时返回，调用方据此退回估算路径。
type TiktokenCounter struct {
	model    string
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// openAIEncodings 把模型前缀映射到 tiktoken 编码名。
var openAIEncodings = map[string]string{
	"gpt-5.2":       "o200k_base",
	"gpt-5":         "o200k_base",
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// NewTiktokenCounter 为模型创建精确计数器，
// 编码按精确名、最长前缀、cl100k_base 兜底的顺序解析。
func NewTiktokenCounter(model string) *TiktokenCounter {
	encoding, ok := openAIEncodings[model]
	if !ok {
		bestLen := -1
		for prefix, enc := range openAIEncodings {
			if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				encoding = enc
				bestLen = len(prefix)
			}
		}
		if bestLen < 0 {
			encoding = "cl100k_base"
		}
	}
	return &TiktokenCounter{model: model, encoding: encoding}
}

func (t *TiktokenCounter) load() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	if err := t.load(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenCounter) CountMessages(messages []Message) (int, error) {
	if err := t.load(); err != nil {
		return 0, err
	}

	total := conversationTail
	for _, msg := range messages {
		total += perMessageOverhead
		total += len(t.enc.Encode(msg.Role, nil, nil))
		total += len(t.enc.Encode(msg.Content, nil, nil))
	}
	return total, nil
}

func (t *TiktokenCounter) Name() string {
	return "tiktoken/" + t.encoding
}

// openAICounters 为已知 OpenAI 模型预置精确计数器，
// 全局注册表建表时调用。
func openAICounters() map[string]Counter {
	m := make(map[string]Counter, len(openAIEncodings))
	for model, encoding := range openAIEncodings {
		m[model] = &TiktokenCounter{model: model, encoding: encoding}
	}
	return m
}
