package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelrelay/modelrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 响应辅助函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "world", body["hello"])
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]int{"count": 3})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError_ExplicitStatus(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrInvalidRequest, "bad input").WithHTTPStatus(http.StatusTeapot)
	WriteError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusTeapot, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
	assert.Equal(t, "bad input", resp.Error.Message)
}

func TestWriteError_MappedStatus(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrRateLimited, "slow down").WithRetryable(true).WithProvider("openai")
	WriteError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "openai", resp.Error.Provider)
}

func TestWriteError_NilLogger(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		WriteError(w, types.NewError(types.ErrInternalError, "boom"), nil)
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusRequestEntityTooLarge, types.ErrInvalidRequest, "too big", zap.NewNop())

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "too big", resp.Error.Message)
}

func TestWriteProviderError(t *testing.T) {
	t.Run("structured error passes through", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := types.NewError(types.ErrModelOverloaded, "overloaded").WithRetryable(true)
		writeProviderError(w, err, zap.NewNop())

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("plain error wrapped as internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeProviderError(w, errors.New("socket exploded"), zap.NewNop())

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var resp Response
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	})
}

// =============================================================================
// 🧪 错误码映射测试
// =============================================================================

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrModelNotFound, http.StatusNotFound},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrQuotaExceeded, http.StatusPaymentRequired},
		{types.ErrContentFiltered, http.StatusUnprocessableEntity},
		{types.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{types.ErrModelOverloaded, http.StatusServiceUnavailable},
		{types.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{types.ErrNetworkError, http.StatusBadGateway},
		{types.ErrInternalError, http.StatusInternalServerError},
		{types.ErrSerialization, http.StatusInternalServerError},
		{types.ErrConfiguration, http.StatusInternalServerError},
		{types.ErrorCode("SOMETHING_NEW"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mapErrorCodeToHTTPStatus(tt.code), "code %s", tt.code)
	}
}

// =============================================================================
// 🧪 请求验证测试
// =============================================================================

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"relay"}`))

		var dst payload
		require.NoError(t, DecodeJSONBody(w, r, &dst, zap.NewNop()))
		assert.Equal(t, "relay", dst.Name)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"relay","bogus":1}`))

		var dst payload
		err := DecodeJSONBody(w, r, &dst, zap.NewNop())
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))

		var dst payload
		err := DecodeJSONBody(w, r, &dst, zap.NewNop())
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"plain json", "application/json", true},
		{"json with charset", "application/json; charset=utf-8", true},
		{"json with uppercase charset", "application/json; charset=UTF-8", true},
		{"text plain", "text/plain", false},
		{"missing", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			got := ValidateContentType(w, r, zap.NewNop())
			assert.Equal(t, tt.want, got)
			if !tt.want {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

// =============================================================================
// 🧪 响应包装器测试
// =============================================================================

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.True(t, rw.Written)

	// 第二次 WriteHeader 被忽略
	rw.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResponseWriter_WriteDefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	_, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.True(t, rw.Written)
	assert.Equal(t, "hello", rec.Body.String())
}
