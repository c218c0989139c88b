package providers

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/normalize"
	"github.com/modelrelay/modelrelay/types"
)

// 降级文案。重试耗尽后终端用户只会看到这几段固定话术，
// 真实故障细节放在 _error_metadata / errorDetails 里。
const (
	// 最终错误可重试：上游过载或限流，稍候有望自行恢复
	apologyTransient = "抱歉，服务当前负载较高，暂时无法完成您的请求，请稍等片刻后重试。"
	// 最终错误不可重试：技术故障，原样重试大概率无效
	apologyPermanent = "抱歉，处理您的请求时遇到了技术问题，请稍后重试；若问题持续出现，请联系支持人员。"

	// 触发请求的用户消息较长时附加的提示
	courtesyNote = "您发送的内容较长，如多次失败可尝试拆分后分段发送。"

	// 语音转写降级文案
	apologySTT = "抱歉，语音转写服务暂时不可用，请稍后重试。"
)

// longMessageRunes 是附加长消息提示的阈值（字符数）。
const longMessageRunes = 100

// FinishReasonDegraded 标记降级合成的回复与流收尾。
const FinishReasonDegraded = "degraded"

// apologyFor 按最终错误的可重试性选择降级文案，
// 触发消息超过阈值时附加拆分提示。
func apologyFor(retryable bool, userContent string) string {
	apology := apologyPermanent
	if retryable {
		apology = apologyTransient
	}
	if utf8.RuneCountInString(userContent) > longMessageRunes {
		apology += courtesyNote
	}
	return apology
}

// degradedMessage 合成降级回复消息。合成结果仍走一次规范化，
// 规范化自身失败时原样返回合成对象，致歉文案绝不因序列化缺陷丢失。
func degradedMessage(apology string, meta llm.ErrorMetadata) llm.Message {
	synth := llm.Message{
		Role:     llm.RoleAssistant,
		Content:  apology,
		Metadata: meta.AsMap(),
	}
	if normalized, err := normalize.Message(&synth); err == nil {
		return *normalized
	}
	return synth
}

// degradedResponse 把降级消息包装为结构完整的聊天响应。
func degradedResponse(provider, model, apology string, meta llm.ErrorMetadata) *llm.ChatResponse {
	return &llm.ChatResponse{
		Provider: provider,
		Model:    model,
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: FinishReasonDegraded,
			Message:      degradedMessage(apology, meta),
		}},
		CreatedAt: time.Now(),
	}
}

// defaultPacingDelay 是降级合成流的默认片段间隔。
const defaultPacingDelay = 30 * time.Millisecond

// degradedStream 合成降级事件流：致歉文案按词级小块陆续发出，
// 片段之间有人工节奏延迟，最后恰好一个 Finish 事件携带完整文案与
// 故障元数据。消费方无需为彻底失败准备单独的错误分支。
func degradedStream(ctx context.Context, apology string, meta llm.ErrorMetadata, pacing time.Duration) <-chan llm.StreamEvent {
	if pacing <= 0 {
		pacing = defaultPacingDelay
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)

		for _, frag := range splitFragments(apology) {
			select {
			case <-ctx.Done():
				return
			case ch <- llm.ContentEvent(frag):
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pacing):
			}
		}

		finish := llm.FinishEvent(FinishReasonDegraded, apology, nil)
		finish.Metadata = meta.AsMap()
		select {
		case <-ctx.Done():
		case ch <- finish:
		}
	}()
	return ch
}

// fragmentRunes 是无空格文本的切块粒度。
const fragmentRunes = 4

// splitFragments 把文案切成词级小块，块拼接恒等于原文。
// 带空格的文本按空格后切分，连续长块（中文常见）按固定字符数细分。
func splitFragments(text string) []string {
	var out []string
	for _, piece := range strings.SplitAfter(text, " ") {
		runes := []rune(piece)
		for len(runes) > fragmentRunes {
			out = append(out, string(runes[:fragmentRunes]))
			runes = runes[fragmentRunes:]
		}
		if len(runes) > 0 {
			out = append(out, string(runes))
		}
	}
	return out
}

// degradedTranscription 合成转写降级结果。该路径不抛错，
// 调用方拿到固定文案与结构化故障说明。
func degradedTranscription(finalErr error, retryable bool) *llm.TranscriptionResult {
	details := &llm.ErrorDetails{Retryable: retryable}
	if finalErr != nil {
		details.Message = finalErr.Error()
	}
	if e := types.AsError(finalErr); e != nil {
		details.Status = e.HTTPStatus
	}
	return &llm.TranscriptionResult{
		Text:         apologySTT,
		ErrorDetails: details,
	}
}
