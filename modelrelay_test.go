package modelrelay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/providers"
	"github.com/modelrelay/modelrelay/llm/retry"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{
		ID:    "stub-1",
		Model: req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: "stub"},
		}},
	}, nil
}

func (s *stubProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent)
	close(ch)
	return ch, nil
}

func (s *stubProvider) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResult, error) {
	return &llm.TranscriptionResult{Text: "stub"}, nil
}

func (s *stubProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) SupportsNativeFunctionCalling() bool { return true }

func TestNew_RequiresProvider(t *testing.T) {
	p, err := New()

	assert.Nil(t, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider is required")
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	p, err := New(WithOpenAI("gpt-4o-mini"))

	assert.Nil(t, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required for openai")
}

func TestNew_WithProviderWrapsResilience(t *testing.T) {
	stub := &stubProvider{name: "stub"}

	p, err := New(WithProvider(stub))

	require.NoError(t, err)
	rp, ok := p.(*providers.ResilientProvider)
	require.True(t, ok, "default construction should return the resilient wrapper")
	assert.Equal(t, "stub", rp.Name())
	assert.True(t, rp.SupportsNativeFunctionCalling())
}

func TestNew_WithoutResilienceReturnsRaw(t *testing.T) {
	stub := &stubProvider{name: "stub"}

	p, err := New(WithProvider(stub), WithoutResilience())

	require.NoError(t, err)
	assert.Same(t, stub, p)
}

func TestNew_OpenAIShortcut(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-env")

	p, err := New(WithOpenAI("gpt-4o-mini"))

	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestNew_APIKeyOverridesEnvironment(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")

	p, err := New(WithDeepSeek("deepseek-chat"), WithAPIKey("sk-explicit"))

	require.NoError(t, err)
	assert.Equal(t, "deepseek", p.Name())
}

func TestNew_GeminiShortcut(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "AIza-test")

	p, err := New(WithGemini("gemini-2.0-flash"))

	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
}

func TestNew_OpenAICompatibleEndpoint(t *testing.T) {
	p, err := New(
		WithOpenAICompatible("local-vllm", "http://127.0.0.1:8000/v1", "qwen3-8b"),
		WithAPIKey("token"),
	)

	require.NoError(t, err)
	assert.Equal(t, "local-vllm", p.Name())
}

func TestNew_OpenAICompatibleRequiresBaseURL(t *testing.T) {
	p, err := New(WithOpenAICompatible("mystery", "", "m"), WithAPIKey("token"))

	assert.Nil(t, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url is required")
}

func TestNew_CustomResilienceConfig(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	cfg := providers.ResilienceConfig{
		Retry:                retry.Policy{Enabled: false},
		EnableIdempotency:    false,
		EnableCircuitBreaker: false,
	}

	p, err := New(WithProvider(stub), WithResilience(cfg))

	require.NoError(t, err)
	rp, ok := p.(*providers.ResilientProvider)
	require.True(t, ok)

	resp, err := rp.Completion(context.Background(), &llm.ChatRequest{
		Model:    "m",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "stub-1", resp.ID)
}

func TestNew_ModelOverride(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-env")

	p, err := New(WithOpenAI("gpt-4o-mini"), WithModel("gpt-4o"))

	require.NoError(t, err)
	require.NotNil(t, p)
}
