package providers

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/types"
)

func TestSplitFragments(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "空文本",
			text: "",
			want: nil,
		},
		{
			name: "中文按固定字符数切块",
			text: "抱歉服务暂时不可用",
			want: []string{"抱歉服务", "暂时不可", "用"},
		},
		{
			name: "带空格文本按词切分",
			text: "holdon 请稍候",
			want: []string{"hold", "on ", "请稍候"},
		},
		{
			name: "短文本单块",
			text: "好的",
			want: []string{"好的"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitFragments(tt.text)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.text, strings.Join(got, ""), "块拼接恒等于原文")
		})
	}
}

// Property: 任意文本切块后拼接恒等于原文。
func TestProperty_SplitFragmentsLossless(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.String().Draw(rt, "text")
		got := strings.Join(splitFragments(text), "")
		if got != text {
			rt.Fatalf("拼接结果不等于原文: %q != %q", got, text)
		}
	})
}

func TestApologyFor(t *testing.T) {
	longContent := strings.Repeat("长", 101)

	tests := []struct {
		name      string
		retryable bool
		content   string
		want      string
	}{
		{name: "可重试短消息", retryable: true, content: "你好", want: apologyTransient},
		{name: "不可重试短消息", retryable: false, content: "你好", want: apologyPermanent},
		{name: "可重试长消息附加提示", retryable: true, content: longContent, want: apologyTransient + courtesyNote},
		{name: "恰好阈值不附加", retryable: false, content: strings.Repeat("长", 100), want: apologyPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apologyFor(tt.retryable, tt.content))
		})
	}
}

func TestDegradedMessage_SurvivesNormalization(t *testing.T) {
	meta := llm.NewErrorMetadata("openai",
		types.NewError(types.ErrRateLimited, "rate limit").WithHTTPStatus(429),
		true, 3)

	msg := degradedMessage(apologyTransient, meta)

	assert.Equal(t, llm.RoleAssistant, msg.Role)
	assert.Equal(t, apologyTransient, msg.Content)

	// 规范化走了 JSON 往返，元数据变成 map 形态且键为 camelCase
	raw, ok := msg.Metadata[llm.ErrorMetadataKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "openai", raw["provider"])
	assert.Equal(t, true, raw["retryable"])
	assert.Equal(t, float64(429), raw["status"])
	assert.Equal(t, float64(3), raw["retryCount"])
	assert.Contains(t, raw, "originalError")
	assert.Contains(t, raw, "timestamp")
}

func TestDegradedResponse_Shape(t *testing.T) {
	meta := llm.NewErrorMetadata("gemini", errors.New("boom"), false, 0)
	resp := degradedResponse("gemini", "gemini-3-pro", apologyPermanent, meta)

	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "gemini-3-pro", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, FinishReasonDegraded, resp.Choices[0].FinishReason)
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestDegradedTranscription(t *testing.T) {
	t.Run("结构化错误携带状态码", func(t *testing.T) {
		res := degradedTranscription(
			types.NewError(types.ErrUpstreamTimeout, "gateway timeout").WithHTTPStatus(504),
			true)

		assert.Equal(t, apologySTT, res.Text)
		require.NotNil(t, res.ErrorDetails)
		assert.Equal(t, 504, res.ErrorDetails.Status)
		assert.True(t, res.ErrorDetails.Retryable)
		assert.Contains(t, res.ErrorDetails.Message, "gateway timeout")
	})

	t.Run("普通错误无状态码", func(t *testing.T) {
		res := degradedTranscription(errors.New("connection refused"), false)

		require.NotNil(t, res.ErrorDetails)
		assert.Zero(t, res.ErrorDetails.Status)
		assert.False(t, res.ErrorDetails.Retryable)
	})
}
