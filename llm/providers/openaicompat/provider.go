package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/internal/tlsutil"
	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/classify"
	"github.com/modelrelay/modelrelay/llm/normalize"
	"github.com/modelrelay/modelrelay/llm/providers"
	"github.com/modelrelay/modelrelay/types"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName is the unique identifier for this provider (e.g., "openai", "deepseek").
	ProviderName string

	// APIKey is the authentication key for the provider's API.
	APIKey string

	// BaseURL is the base URL for the provider's API (e.g., "https://api.deepseek.com").
	BaseURL string

	// DefaultModel is the model to use when none is specified in the request.
	DefaultModel string

	// FallbackModel is used when both request and DefaultModel are empty.
	FallbackModel string

	// Timeout is the HTTP client timeout for non-streaming calls. Defaults to 30s if zero.
	// Streaming calls are bound by the request context instead.
	Timeout time.Duration

	// EndpointPath is the chat completions endpoint path. Defaults to "/v1/chat/completions".
	EndpointPath string

	// ModelsEndpoint is the models list endpoint path, used for health checks.
	// Defaults to "/v1/models".
	ModelsEndpoint string

	// BuildHeaders is an optional function to set custom headers on each request.
	// If nil, the default "Authorization: Bearer <apiKey>" header is used.
	BuildHeaders func(req *http.Request, apiKey string)

	// RequestHook is an optional function to modify the request body before sending.
	// Use this for provider-specific fields.
	RequestHook func(req *llm.ChatRequest, body *providers.OpenAICompatRequest)

	// SupportsTools indicates whether this provider supports native function calling.
	// Defaults to true if not set.
	SupportsTools *bool

	// Classifier judges stream chunk and transport errors for retryability.
	// Providers with known non-standard failure wording register extended
	// patterns here. Nil falls back to the base classifier.
	Classifier *classify.Classifier
}

// Provider is the base implementation for all OpenAI-compatible LLM providers.
// Embed this in your provider struct and override what differs.
type Provider struct {
	Cfg          Config
	Client       *http.Client
	StreamClient *http.Client
	Logger       *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:          cfg,
		Client:       tlsutil.SecureHTTPClient(timeout),
		StreamClient: tlsutil.StreamingHTTPClient(),
		Logger:       logger,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

// SupportsNativeFunctionCalling returns whether this provider supports tool calling.
func (p *Provider) SupportsNativeFunctionCalling() bool {
	if p.Cfg.SupportsTools != nil {
		return *p.Cfg.SupportsTools
	}
	return true
}

// Classifier returns the classifier used for this provider's error judgments.
func (p *Provider) Classifier() *classify.Classifier { return p.Cfg.Classifier }

// buildHeaders applies headers to the HTTP request.
func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, apiKey)
		return
	}
	providers.BearerTokenHeaders(req, apiKey)
}

// endpoint builds the full URL for a given path.
func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.Cfg.BaseURL, "/"), path)
}

// buildBody assembles the wire request shared by Completion and Stream.
func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) providers.OpenAICompatRequest {
	body := providers.OpenAICompatRequest{
		Model:       providers.ChooseModel(req, p.Cfg.DefaultModel, p.Cfg.FallbackModel),
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		Tools:       providers.ConvertToolsToOpenAI(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if req.ToolChoice != "" {
		body.ToolChoice = req.ToolChoice
	}
	if p.Cfg.RequestHook != nil {
		p.Cfg.RequestHook(req, &body)
	}
	return body
}

// HealthCheck verifies the provider is reachable.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.Cfg.APIKey)

	resp, err := p.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("%s health check failed: status=%d msg=%s", p.Cfg.ProviderName, resp.StatusCode, msg)
	}

	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	payload, err := json.Marshal(p.buildBody(req, false))
	if err != nil {
		return nil, types.NewSerializationError("failed to marshal request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.Cfg.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, providers.NetworkError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, types.NewSerializationError("failed to decode completion response").
			WithProvider(p.Name()).
			WithCause(err)
	}

	return providers.ToChatResponse(oaResp, p.Name())
}

// Stream performs a streaming chat completion via SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	payload, err := json.Marshal(p.buildBody(req, true))
	if err != nil {
		return nil, types.NewSerializationError("failed to marshal request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.Cfg.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.StreamClient.Do(httpReq)
	if err != nil {
		return nil, providers.NetworkError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	return StreamSSE(ctx, resp.Body, p.Name(), p.Cfg.Classifier), nil
}

// Transcribe reports transcription as unsupported. Providers with a speech
// endpoint (OpenAI) embed this type and override.
func (p *Provider) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResult, error) {
	return nil, types.NewError(types.ErrInvalidRequest,
		fmt.Sprintf("%s does not support audio transcription", p.Name())).
		WithProvider(p.Name())
}

// StreamSSE parses an SSE stream from an OpenAI-compatible API and folds it
// into the normalized event stream. The caller must have verified the
// response status before handing over the body.
//
// 按约定：单个 chunk 解析失败只发出 Error 事件并继续读后续 chunk；
// 传输层故障（读错误、未收尾的 EOF）发出收尾 Error 事件并结束。
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string, classifier *classify.Classifier) <-chan llm.StreamEvent {
	ch := make(chan llm.StreamEvent)
	go func() {
		defer body.Close()
		defer close(ch)

		acc := normalize.NewDeltaAccumulator(classifier)
		reader := bufio.NewReader(body)

		emit := func(ev llm.StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- ev:
				return true
			}
		}
		closeOut := func(cause error) {
			if ev, ok := acc.TransportError(cause); ok {
				emit(ev)
			}
		}

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					if !acc.Finished() {
						closeOut(providers.NetworkError(
							fmt.Errorf("stream ended before completion: %w", io.ErrUnexpectedEOF), providerName))
					}
				} else {
					closeOut(providers.NetworkError(err, providerName))
				}
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				if !acc.Finished() {
					closeOut(types.NewError(types.ErrUpstreamError,
						"stream ended without a finish reason").WithProvider(providerName))
				}
				return
			}

			var oaResp providers.OpenAICompatResponse
			if err := json.Unmarshal([]byte(data), &oaResp); err != nil {
				if !emit(acc.ChunkError(types.NewSerializationError("malformed stream chunk").
					WithProvider(providerName).
					WithCause(err))) {
					return
				}
				continue
			}

			for _, choice := range oaResp.Choices {
				for _, ev := range acc.Feed(toDeltaFragment(choice, oaResp.Usage)) {
					if !emit(ev) {
						return
					}
				}
			}
		}
	}()
	return ch
}

// toDeltaFragment 把一个 wire chunk 选项折叠为累积器输入。
func toDeltaFragment(choice providers.OpenAICompatChoice, usage *providers.OpenAICompatUsage) normalize.DeltaFragment {
	frag := normalize.DeltaFragment{FinishReason: choice.FinishReason}
	if choice.Delta != nil {
		frag.Text = choice.Delta.Content
		for _, tc := range choice.Delta.ToolCalls {
			frag.ToolDeltas = append(frag.ToolDeltas, normalize.ToolDelta{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: tc.Function.Arguments,
			})
		}
	}
	if usage != nil {
		frag.Usage = &llm.ChatUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}
	return frag
}
