package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GetTyped 读取缓存并反序列化为 T。未命中时 found 为 false，
// 缓存内容损坏按错误返回而非当作未命中，调用方据此决定是否清键。
//
//	resp, found, err := idempotency.GetTyped[llm.ChatResponse](m, ctx, key)
func GetTyped[T any](m Manager, ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, found, err := m.Get(ctx, key)
	if err != nil || !found {
		return zero, found, err
	}
	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return zero, false, fmt.Errorf("unmarshal cached result: %w", err)
	}
	return result, true, nil
}

// SetTyped 以带类型的值写入缓存，调用点获得编译期类型约束。
func SetTyped[T any](m Manager, ctx context.Context, key string, result T, ttl time.Duration) error {
	return m.Set(ctx, key, result, ttl)
}
