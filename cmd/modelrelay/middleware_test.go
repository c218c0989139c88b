package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/modelrelay/modelrelay/types"
)

var middlewareNamespaceSeq uint64

func newMiddlewareCollector(t *testing.T) (*metrics.Collector, string) {
	t.Helper()
	ns := fmt.Sprintf("cmdmw_ns_%d", atomic.AddUint64(&middlewareNamespaceSeq, 1))
	return metrics.NewCollector(ns, zap.NewNop()), ns
}

func TestChain_AppliesInDeclaredOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	handler := Chain(inner, tag("outer"), tag("middle"), tag("inner"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "middle", "inner", "handler"}, order)
}

func TestRecovery_ConvertsPanicTo500(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	handler := Recovery(zap.NewNop())(inner)

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var ctxID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := types.RequestID(r.Context())
		require.True(t, ok)
		ctxID = id
	})

	handler := RequestID()(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))

	headerID := w.Header().Get("X-Request-ID")
	assert.True(t, strings.HasPrefix(headerID, "req-"))
	assert.Equal(t, headerID, ctxID)
}

func TestRequestID_PreservesClientProvided(t *testing.T) {
	var ctxID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = types.RequestID(r.Context())
	})

	handler := RequestID()(inner)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-supplied-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, "client-supplied-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-supplied-42", ctxID)
}

func TestRequestID_PromotesTraceHeader(t *testing.T) {
	var traceID string
	var traceOK bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, traceOK = types.TraceID(r.Context())
	})

	handler := RequestID()(inner)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Trace-ID", "trace-abc")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	require.True(t, traceOK)
	assert.Equal(t, "trace-abc", traceID)
}

func TestRequestID_NoTraceHeaderLeavesContextEmpty(t *testing.T) {
	var traceOK bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, traceOK = types.TraceID(r.Context())
	})

	handler := RequestID()(inner)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, traceOK)
}

func TestRequestLogger_CapturesStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	handler := RequestLogger(zap.NewNop())(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tea", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders()(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestCORS_AllowedOrigin(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS([]string{"https://app.example.com"})(inner)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Request-ID")
}

func TestCORS_DisallowedOriginGetsNoCORSHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS([]string{"https://app.example.com"})(inner)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightAllowed(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight should not reach handler")
	})

	handler := CORS([]string{"https://app.example.com"})(inner)

	r := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	r.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_UnconfiguredRejectsCrossOriginPreflight(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight should not reach handler")
	})

	handler := CORS(nil)(inner)

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://anywhere.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_UnconfiguredSameOriginPassesThrough(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	handler := CORS(nil)(inner)

	// 无 Origin 头的同源请求不受影响
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	ctx, cancel := testContext(t)
	defer cancel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimiter(ctx, 1, 3, zap.NewNop())(inner)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:5000"
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code, "request %d within burst", i)
	}
}

func TestRateLimiter_RejectsBeyondBurst(t *testing.T) {
	ctx, cancel := testContext(t)
	defer cancel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimiter(ctx, 0.001, 1, zap.NewNop())(inner)

	first := httptest.NewRecorder()
	r1 := httptest.NewRequest(http.MethodGet, "/", nil)
	r1.RemoteAddr = "10.0.0.2:5000"
	handler.ServeHTTP(first, r1)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.RemoteAddr = "10.0.0.2:5000"
	handler.ServeHTTP(second, r2)

	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "RATE_LIMITED")
}

func TestRateLimiter_TracksClientsSeparately(t *testing.T) {
	ctx, cancel := testContext(t)
	defer cancel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimiter(ctx, 0.001, 1, zap.NewNop())(inner)

	r1 := httptest.NewRequest(http.MethodGet, "/", nil)
	r1.RemoteAddr = "10.0.0.3:5000"
	handler.ServeHTTP(httptest.NewRecorder(), r1)

	// 第一个客户端已耗尽额度，第二个客户端不受影响
	w := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.RemoteAddr = "10.0.0.4:5000"
	handler.ServeHTTP(w, r2)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"static chat route", "/v1/chat/completions", "/v1/chat/completions"},
		{"static transcription route", "/v1/audio/transcriptions", "/v1/audio/transcriptions"},
		{"static health route", "/healthz", "/healthz"},
		{"numeric segment", "/v1/models/12345", "/v1/models/:id"},
		{"uuid segment", "/v1/models/550e8400-e29b-41d4-a716-446655440000", "/v1/models/:id"},
		{"hex segment", "/v1/requests/deadbeefcafe", "/v1/requests/:id"},
		{"plain words untouched", "/v1/models/gpt-preview", "/v1/models/gpt-preview"},
		{"mixed segments", "/tenants/42/jobs/99", "/tenants/:id/jobs/:id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestMetricsMiddleware_RecordsRequest(t *testing.T) {
	collector, ns := newMiddlewareCollector(t)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("payload"))
	})
	handler := MetricsMiddleware(collector)(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}")))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "payload", w.Body.String())

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, ns+"_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	histCount, err := testutil.GatherAndCount(prometheus.DefaultGatherer, ns+"_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, histCount)
}

func TestMetricsMiddleware_FlushPassthrough(t *testing.T) {
	collector, _ := newMiddlewareCollector(t)

	var isFlusher bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, isFlusher = w.(http.Flusher)
	})
	handler := MetricsMiddleware(collector)(inner)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	assert.True(t, isFlusher, "metrics wrapper must keep http.Flusher for SSE")
}

func TestOTelTracing_PassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, isFlusher := w.(http.Flusher)
		assert.True(t, isFlusher, "tracing wrapper must keep http.Flusher for SSE")
		w.WriteHeader(http.StatusAccepted)
	})

	handler := OTelTracing()(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestFullChain_StreamingWriterKeepsFlusher(t *testing.T) {
	collector, _ := newMiddlewareCollector(t)
	ctx, cancel := testContext(t)
	defer cancel()

	var isFlusher bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, isFlusher = w.(http.Flusher)
	})

	handler := Chain(inner,
		Recovery(zap.NewNop()),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(zap.NewNop()),
		CORS(nil),
		RateLimiter(ctx, 100, 10, zap.NewNop()),
		MetricsMiddleware(collector),
		OTelTracing(),
	)

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{}"))
	r.RemoteAddr = "10.0.0.9:5000"
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.True(t, isFlusher, "full middleware chain must preserve http.Flusher")
}

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithCancel(context.Background())
}
