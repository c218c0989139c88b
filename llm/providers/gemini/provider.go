package gemini

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

// defaultRetryablePatterns 是 Gemini 特有的可重试错误措辞。
// RESOURCE_EXHAUSTED 以 429 返回时状态码已覆盖；无状态码的包装错误
// 靠这些模式兜底。
var defaultRetryablePatterns = []string{
	"resource_exhausted",
	"resource has been exhausted",
}

// GeminiProvider 实现 Google Gemini LLM 提供者。
// 响应是 candidate/part 形态：部件整块到达，工具调用不带 id，
// 由规范化层合成稳定 id。
type GeminiProvider struct {
	cfg          providers.GeminiConfig
	client       *http.Client
	streamClient *http.Client
	logger       *zap.Logger
	classifier   *classify.Classifier
}

var _ llm.Provider = (*GeminiProvider)(nil)

// NewGeminiProvider 创建新的 Gemini 提供者实例。
func NewGeminiProvider(cfg providers.GeminiConfig, logger *zap.Logger) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	patterns := cfg.RetryablePatterns
	if len(patterns) == 0 {
		patterns = defaultRetryablePatterns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiProvider{
		cfg:          cfg,
		client:       tlsutil.SecureHTTPClient(timeout),
		streamClient: tlsutil.StreamingHTTPClient(),
		logger:       logger,
		classifier:   classify.New(patterns...),
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) SupportsNativeFunctionCalling() bool { return true }

// Classifier 返回该提供者的错误分类器（含 Gemini 扩展模式）。
func (p *GeminiProvider) Classifier() *classify.Classifier { return p.classifier }

func (p *GeminiProvider) buildHeaders(req *http.Request) {
	// Gemini 使用 x-goog-api-key 认证
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// --- Gemini 在线格式 ---

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float32  `json:"temperature,omitempty"`
	TopP            float32  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	ResponseID    string               `json:"responseId,omitempty"`
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
}

// convertContents 将统一消息转换为 Gemini 格式：system 消息提取为
// systemInstruction，assistant 角色改名 model，工具调用与工具响应
// 转成对应的 part。
func convertContents(msgs []llm.Message) (*geminiContent, []geminiContent) {
	var systemInstruction *geminiContent
	var contents []geminiContent

	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			systemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: m.Content}},
			}
			continue
		}

		role := string(m.Role)
		if m.Role == llm.RoleAssistant {
			role = "model" // Gemini 使用 "model" 而不是 "assistant"
		}
		if m.Role == llm.RoleTool {
			role = "user" // 工具响应在 Gemini 里归入 user 轮
		}

		content := geminiContent{Role: role}

		if m.Role == llm.RoleTool {
			content.Parts = append(content.Parts, geminiPart{
				FunctionResponse: &geminiFunctionResponse{
					Name:     m.Name,
					Response: toResponseObject(m.Content),
				},
			})
			contents = append(contents, content)
			continue
		}

		if m.Content != "" {
			content.Parts = append(content.Parts, geminiPart{Text: m.Content})
		}

		for _, tc := range m.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				continue
			}
			content.Parts = append(content.Parts, geminiPart{
				FunctionCall: &geminiFunctionCall{
					Name: tc.Function.Name,
					Args: args,
				},
			})
		}

		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}

	return systemInstruction, contents
}

// toResponseObject 把工具响应正文折叠为对象：JSON 对象原样透传，
// 其余包装为 {"result": ...}。
func toResponseObject(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj
	}
	return map[string]any{"result": content}
}

func convertTools(tools []llm.ToolSchema) []geminiTool {
	if len(tools) == 0 {
		return nil
	}

	declarations := make([]geminiFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		if err := json.Unmarshal(t.Parameters, &params); err != nil {
			continue
		}
		declarations = append(declarations, geminiFunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}

	if len(declarations) == 0 {
		return nil
	}
	return []geminiTool{{FunctionDeclarations: declarations}}
}

func (p *GeminiProvider) buildBody(req *llm.ChatRequest) geminiRequest {
	systemInstruction, contents := convertContents(req.Messages)
	body := geminiRequest{
		Contents:          contents,
		Tools:             convertTools(req.Tools),
		SystemInstruction: systemInstruction,
	}
	if req.Temperature > 0 || req.TopP > 0 || req.MaxTokens > 0 || len(req.Stop) > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}
	return body
}

func (p *GeminiProvider) model(req *llm.ChatRequest) string {
	return providers.ChooseModel(req, p.cfg.Model, "gemini-3-pro")
}

// HealthCheck 验证 Gemini API 可达。
func (p *GeminiProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1beta/models", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("gemini health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// Completion 发起非流式生成。
func (p *GeminiProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	payload, err := json.Marshal(p.buildBody(req))
	if err != nil {
		return nil, types.NewSerializationError("failed to marshal request").WithCause(err)
	}

	model := p.model(req)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.cfg.BaseURL, "/"), model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.NetworkError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, types.NewSerializationError("failed to decode gemini response").
			WithProvider(p.Name()).
			WithCause(err)
	}

	return toChatResponse(gr, p.Name(), model), nil
}

// Stream 发起流式生成（alt=sse，data: 行承载 JSON chunk）。
func (p *GeminiProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	payload, err := json.Marshal(p.buildBody(req))
	if err != nil {
		return nil, types.NewSerializationError("failed to marshal request").WithCause(err)
	}

	model := p.model(req)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse",
		strings.TrimRight(p.cfg.BaseURL, "/"), model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, providers.NetworkError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		acc := normalize.NewPartsAccumulator(p.classifier)
		reader := bufio.NewReader(resp.Body)

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
							fmt.Errorf("stream ended before completion: %w", io.ErrUnexpectedEOF), p.Name()))
					}
				} else {
					closeOut(providers.NetworkError(err, p.Name()))
				}
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var gr geminiResponse
			if err := json.Unmarshal([]byte(data), &gr); err != nil {
				if !emit(acc.ChunkError(types.NewSerializationError("malformed stream chunk").
					WithProvider(p.Name()).
					WithCause(err))) {
					return
				}
				continue
			}

			for _, candidate := range gr.Candidates {
				for _, ev := range acc.Feed(toPartChunk(candidate, gr.UsageMetadata)) {
					if !emit(ev) {
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

// Transcribe 报告不支持语音转写。
func (p *GeminiProvider) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResult, error) {
	return nil, types.NewError(types.ErrInvalidRequest,
		"gemini does not support audio transcription").
		WithProvider(p.Name())
}

// toPartChunk 把一个候选折叠为累积器输入。
func toPartChunk(candidate geminiCandidate, usage *geminiUsageMetadata) normalize.PartChunk {
	chunk := normalize.PartChunk{FinishReason: candidate.FinishReason}
	for _, part := range candidate.Content.Parts {
		p := normalize.Part{Text: part.Text}
		if part.FunctionCall != nil {
			p.FunctionCall = &normalize.FunctionCallPart{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
		}
		chunk.Parts = append(chunk.Parts, p)
	}
	if usage != nil {
		chunk.Usage = &llm.ChatUsage{
			PromptTokens:     usage.PromptTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.TotalTokenCount,
		}
	}
	return chunk
}

// toChatResponse 把非流式响应折叠为统一结构。工具调用沿用流式
// 路径的 id 合成方案，两条路径产出的 id 形态一致。
func toChatResponse(gr geminiResponse, provider, model string) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(gr.Candidates))
	for _, candidate := range gr.Candidates {
		msg := llm.Message{Role: llm.RoleAssistant}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				msg.Content += part.Text
			}
			if part.FunctionCall != nil {
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:   normalize.SynthesizeCallID(part.FunctionCall.Name),
					Kind: llm.ToolCallKindFunction,
					Function: llm.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: normalize.EncodeArgs(part.FunctionCall.Args),
					},
				})
			}
		}
		choices = append(choices, llm.ChatChoice{
			Index:        candidate.Index,
			FinishReason: candidate.FinishReason,
			Message:      msg,
		})
	}

	resp := &llm.ChatResponse{
		ID:       gr.ResponseID,
		Provider: provider,
		Model:    model,
		Choices:  choices,
	}
	if gr.UsageMetadata != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		}
	}
	return resp
}
