package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/tlsutil"
	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/providers"
	"github.com/modelrelay/modelrelay/types"
)

// Config 配置 Whisper 转写客户端。
type Config struct {
	APIKey   string        `json:"api_key" yaml:"api_key"`
	BaseURL  string        `json:"base_url" yaml:"base_url"`
	Endpoint string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Model    string        `json:"model,omitempty" yaml:"model,omitempty"` // whisper-1
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ProviderName 用于错误标记，缺省 "openai"。
	ProviderName string `json:"-" yaml:"-"`
}

// DefaultConfig 返回默认 Whisper 配置。
func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://api.openai.com",
		Endpoint: "/v1/audio/transcriptions",
		Model:    "whisper-1",
		Timeout:  120 * time.Second,
	}
}

// Client 通过 OpenAI Whisper API 执行语音转写。
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient 创建 Whisper 转写客户端，零值字段按 DefaultConfig 补全。
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	return &Client{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

// SupportedFormats 返回 Whisper 可接受的音频容器格式。
func SupportedFormats() []string {
	return []string{"flac", "m4a", "mp3", "mp4", "mpeg", "mpga", "oga", "ogg", "wav", "webm"}
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe 将音频文件转写为文本。失败统一上抛结构化错误；
// 非抛出的降级结果由上层弹性装饰器合成。
func (c *Client) Transcribe(ctx context.Context, req *llm.TranscriptionRequest) (*llm.TranscriptionResult, error) {
	if req == nil || req.AudioPath == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "audio path is required").
			WithProvider(c.cfg.ProviderName)
	}

	file, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "cannot open audio file").
			WithProvider(c.cfg.ProviderName).
			WithCause(err)
	}
	defer file.Close()

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to create form file").WithCause(err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to copy audio").WithCause(err)
	}

	_ = writer.WriteField("model", model)
	if req.Language != "" {
		_ = writer.WriteField("language", req.Language)
	}
	if req.Prompt != "" {
		_ = writer.WriteField("prompt", req.Prompt)
	}
	_ = writer.WriteField("response_format", "verbose_json")
	writer.Close()

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, providers.NetworkError(err, c.cfg.ProviderName)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, c.cfg.ProviderName)
	}

	var wResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, types.NewSerializationError("failed to decode whisper response").
			WithProvider(c.cfg.ProviderName).
			WithCause(err)
	}

	return &llm.TranscriptionResult{
		Text:        wResp.Text,
		Language:    wResp.Language,
		DurationSec: wResp.Duration,
	}, nil
}
