package metrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelrelay/modelrelay/llm/idempotency"
)

// =============================================================================
// 💾 幂等缓存计数装饰器
// =============================================================================

const idempotencyCacheType = "idempotency"

// instrumentedIdempotency 在幂等管理器外层计数缓存命中与未命中
type instrumentedIdempotency struct {
	inner     idempotency.Manager
	collector *Collector
}

// InstrumentIdempotency 包装幂等管理器，将 Get 的命中/未命中
// 计入 cache_hits_total / cache_misses_total。
func InstrumentIdempotency(inner idempotency.Manager, c *Collector) idempotency.Manager {
	return &instrumentedIdempotency{inner: inner, collector: c}
}

func (m *instrumentedIdempotency) GenerateKey(inputs ...any) (string, error) {
	return m.inner.GenerateKey(inputs...)
}

func (m *instrumentedIdempotency) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	raw, found, err := m.inner.Get(ctx, key)
	if err == nil {
		if found {
			m.collector.RecordCacheHit(idempotencyCacheType)
		} else {
			m.collector.RecordCacheMiss(idempotencyCacheType)
		}
	}
	return raw, found, err
}

func (m *instrumentedIdempotency) Set(ctx context.Context, key string, result any, ttl time.Duration) error {
	return m.inner.Set(ctx, key, result, ttl)
}

func (m *instrumentedIdempotency) Delete(ctx context.Context, key string) error {
	return m.inner.Delete(ctx, key)
}

func (m *instrumentedIdempotency) Exists(ctx context.Context, key string) (bool, error) {
	return m.inner.Exists(ctx, key)
}
