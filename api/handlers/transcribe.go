package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/modelrelay/modelrelay/api"
	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🎙️ 语音转写 Handler
// =============================================================================

// 上传音频在内存中缓冲的上限，超出部分落盘到临时目录
const multipartMemoryLimit = 10 << 20 // 10 MB

// defaultMaxUploadBytes 是 Whisper 接口的单文件上限
const defaultMaxUploadBytes = 25 << 20 // 25 MB

// TranscribeHandler 语音转写处理器。上传内容写入临时文件后
// 以路径交给 Provider，请求结束即清理临时文件。
type TranscribeHandler struct {
	registry       *llm.ProviderRegistry
	metrics        *metrics.Collector
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewTranscribeHandler 创建转写处理器。maxUploadBytes 不为正时
// 使用 25MB 默认上限，collector 为 nil 时不记录指标。
func NewTranscribeHandler(registry *llm.ProviderRegistry, collector *metrics.Collector, maxUploadBytes int64, logger *zap.Logger) *TranscribeHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &TranscribeHandler{
		registry:       registry,
		metrics:        collector,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// HandleTranscription 处理语音转写请求
// @Summary 语音转写
// @Description 上传音频文件并返回转写文本，重试耗尽时返回含致歉文案的降级结果
// @Tags 转写
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "音频文件"
// @Param model formData string false "转写模型"
// @Param language formData string false "音频语言"
// @Param prompt formData string false "转写提示词"
// @Param provider formData string false "目标提供商"
// @Success 200 {object} api.TranscriptionResponse "转写结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 413 {object} Response "文件过大"
// @Router /v1/audio/transcriptions [post]
func (h *TranscribeHandler) HandleTranscription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorMessage(w, http.StatusRequestEntityTooLarge, types.ErrInvalidRequest,
				"audio file exceeds upload limit", h.logger)
			return
		}
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid multipart form").WithCause(err)
		WriteError(w, apiErr, h.logger)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "missing file field"), h.logger)
		return
	}
	defer file.Close()

	prov, perr := resolveProvider(h.registry, r.FormValue("provider"))
	if perr != nil {
		WriteError(w, perr, h.logger)
		return
	}

	audioPath, err := h.spoolUpload(file, header.Filename)
	if err != nil {
		h.logger.Error("failed to spool audio upload", zap.Error(err))
		WriteError(w, types.NewError(types.ErrInternalError, "failed to store audio upload").WithCause(err), h.logger)
		return
	}
	defer os.Remove(audioPath)

	req := &llm.TranscriptionRequest{
		AudioPath: audioPath,
		Model:     r.FormValue("model"),
		Language:  r.FormValue("language"),
		Prompt:    r.FormValue("prompt"),
	}

	name := prov.Name()
	start := time.Now()
	result, err := prov.Transcribe(r.Context(), req)
	duration := time.Since(start)

	if err != nil {
		// 弹性装饰器不抛错；裸 Provider 的配置/序列化错误从这里透出
		if h.metrics != nil {
			h.metrics.RecordLLMRequest(name, req.Model, "error", duration, 0, 0)
		}
		writeProviderError(w, err, h.logger)
		return
	}

	status := "success"
	if result.ErrorDetails != nil {
		status = "degraded"
		if h.metrics != nil {
			h.metrics.RecordDegradedResponse(name, "stt")
		}
	}
	if h.metrics != nil {
		h.metrics.RecordLLMRequest(name, req.Model, status, duration, 0, 0)
	}

	h.logger.Info("transcription",
		zap.String("provider", name),
		zap.String("file", header.Filename),
		zap.Int64("size", header.Size),
		zap.String("status", status),
		zap.Duration("duration", duration),
	)

	WriteSuccess(w, api.TranscriptionFromLLM(result, name))
}

// spoolUpload 把上传内容写入临时文件，保留原始扩展名，
// 返回临时文件路径。清理由调用方负责。
func (h *TranscribeHandler) spoolUpload(file io.Reader, filename string) (string, error) {
	ext := filepath.Ext(filename)
	tmp, err := os.CreateTemp("", "modelrelay-audio-*"+ext)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
