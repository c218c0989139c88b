package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/providers"
)

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	p := NewOpenAIProvider(providers.OpenAIConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-test"},
	}, zap.NewNop())

	assert.Equal(t, "openai", p.Name())
	assert.True(t, p.SupportsNativeFunctionCalling())
	assert.Equal(t, "https://api.openai.com", p.Cfg.BaseURL)
	assert.Equal(t, "gpt-5.2", p.Cfg.FallbackModel)
}

func TestOpenAIProvider_OrganizationHeader(t *testing.T) {
	var gotOrg, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg = r.Header.Get("OpenAI-Organization")
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"id":"x","choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(providers.OpenAIConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-test", BaseURL: srv.URL},
		Organization:       "org-42",
	}, zap.NewNop())

	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model:    "gpt-5.2",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "org-42", gotOrg)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestOpenAIProvider_TranscribeRoutesToWhisper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		fmt.Fprint(w, `{"text":"转写结果","language":"zh","duration":1.2}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(providers.OpenAIConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-test", BaseURL: srv.URL},
	}, zap.NewNop())

	audio := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(audio, []byte("wav-bytes"), 0o600))

	result, err := p.Transcribe(context.Background(), &llm.TranscriptionRequest{AudioPath: audio})
	require.NoError(t, err)
	assert.Equal(t, "转写结果", result.Text)
	assert.Equal(t, "zh", result.Language)
}
