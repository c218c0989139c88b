package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name       string
	healthFunc func(ctx context.Context) (*HealthStatus, error)
}

func (f *fakeProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Model: req.Model}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error) {
	return &TranscriptionResult{}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if f.healthFunc != nil {
		return f.healthFunc(ctx)
	}
	return &HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) SupportsNativeFunctionCalling() bool { return true }

func TestProviderRegistry_RegisterAndGet(t *testing.T) {
	reg := NewProviderRegistry()
	p := &fakeProvider{name: "openai"}

	reg.Register("openai", p)

	got, ok := reg.Get("openai")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestProviderRegistry_RegisterReplacesExisting(t *testing.T) {
	reg := NewProviderRegistry()
	first := &fakeProvider{name: "v1"}
	second := &fakeProvider{name: "v2"}

	reg.Register("openai", first)
	reg.Register("openai", second)

	got, ok := reg.Get("openai")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, reg.Len())
}

func TestProviderRegistry_Default(t *testing.T) {
	reg := NewProviderRegistry()

	_, err := reg.Default()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default provider set")

	p := &fakeProvider{name: "deepseek"}
	reg.Register("deepseek", p)
	require.NoError(t, reg.SetDefault("deepseek"))

	got, err := reg.Default()
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestProviderRegistry_SetDefaultUnknown(t *testing.T) {
	reg := NewProviderRegistry()

	err := reg.SetDefault("ghost")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `provider "ghost" not registered`)
}

func TestProviderRegistry_ListSorted(t *testing.T) {
	reg := NewProviderRegistry()
	reg.Register("gemini", &fakeProvider{})
	reg.Register("openai", &fakeProvider{})
	reg.Register("deepseek", &fakeProvider{})

	assert.Equal(t, []string{"deepseek", "gemini", "openai"}, reg.List())
}

func TestProviderRegistry_UnregisterClearsDefault(t *testing.T) {
	reg := NewProviderRegistry()
	reg.Register("openai", &fakeProvider{})
	require.NoError(t, reg.SetDefault("openai"))

	reg.Unregister("openai")

	assert.Equal(t, 0, reg.Len())
	_, err := reg.Default()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default provider set")
}

func TestProviderRegistry_UnregisterKeepsOtherDefault(t *testing.T) {
	reg := NewProviderRegistry()
	reg.Register("openai", &fakeProvider{})
	reg.Register("gemini", &fakeProvider{})
	require.NoError(t, reg.SetDefault("openai"))

	reg.Unregister("gemini")

	p, err := reg.Default()
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestProviderRegistry_HealthCheckAll(t *testing.T) {
	reg := NewProviderRegistry()
	reg.Register("alive", &fakeProvider{})
	reg.Register("slow", &fakeProvider{
		healthFunc: func(ctx context.Context) (*HealthStatus, error) {
			return &HealthStatus{Healthy: false, Latency: 2 * time.Second, ErrorRate: 0.42}, nil
		},
	})
	reg.Register("down", &fakeProvider{
		healthFunc: func(ctx context.Context) (*HealthStatus, error) {
			return nil, errors.New("connection refused")
		},
	})

	results := reg.HealthCheckAll(context.Background())

	require.Len(t, results, 3)

	require.NoError(t, results["alive"].Err)
	assert.True(t, results["alive"].Status.Healthy)

	require.NoError(t, results["slow"].Err)
	assert.False(t, results["slow"].Status.Healthy)
	assert.InDelta(t, 0.42, results["slow"].Status.ErrorRate, 1e-9)

	require.Error(t, results["down"].Err)
	assert.Nil(t, results["down"].Status)
}

func TestProviderRegistry_HealthCheckAllEmpty(t *testing.T) {
	reg := NewProviderRegistry()

	results := reg.HealthCheckAll(context.Background())

	assert.Empty(t, results)
}

// 单个探测失败不会中断整轮巡检
func TestProviderRegistry_HealthCheckAllFailureDoesNotShortCircuit(t *testing.T) {
	reg := NewProviderRegistry()
	probed := make(chan string, 2)
	reg.Register("first", &fakeProvider{
		healthFunc: func(ctx context.Context) (*HealthStatus, error) {
			probed <- "first"
			return nil, errors.New("boom")
		},
	})
	reg.Register("second", &fakeProvider{
		healthFunc: func(ctx context.Context) (*HealthStatus, error) {
			probed <- "second"
			return &HealthStatus{Healthy: true}, nil
		},
	})

	results := reg.HealthCheckAll(context.Background())
	close(probed)

	seen := map[string]bool{}
	for name := range probed {
		seen[name] = true
	}
	assert.True(t, seen["first"] && seen["second"], "both providers should be probed")
	require.Error(t, results["first"].Err)
	require.NoError(t, results["second"].Err)
}
