package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/api/handlers"
	"github.com/modelrelay/modelrelay/config"
	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/modelrelay/modelrelay/internal/server"
	"github.com/modelrelay/modelrelay/internal/telemetry"
	"github.com/modelrelay/modelrelay/internal/tlsutil"
	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/circuitbreaker"
	llmfactory "github.com/modelrelay/modelrelay/llm/factory"
	"github.com/modelrelay/modelrelay/llm/idempotency"
	"github.com/modelrelay/modelrelay/llm/providers"
	"github.com/modelrelay/modelrelay/llm/retry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ModelRelay 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 提供者注册表与 Handlers
	registry          *llm.ProviderRegistry
	chatHandler       *handlers.ChatHandler
	transcribeHandler *handlers.TranscribeHandler
	healthHandler     *handlers.HealthHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// Redis 幂等缓存后端（未启用时为 nil）
	redisClient *redis.Client

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("modelrelay", s.logger)

	// 2. 初始化提供者注册表（含幂等缓存后端与弹性装饰）
	if err := s.initProviders(); err != nil {
		return fmt.Errorf("failed to init providers: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 启动 API 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("providers", s.registry.Len()),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initProviders 构建幂等缓存后端与弹性装饰后的提供者注册表
func (s *Server) initProviders() error {
	// 幂等缓存后端：Redis 不可用时退化为进程内存储
	var idem idempotency.Manager
	if s.cfg.Redis.Enabled {
		opts := &redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		}
		if s.cfg.Redis.TLS {
			opts.TLSConfig = tlsutil.DefaultTLSConfig()
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			s.logger.Warn("Redis not available, falling back to in-memory idempotency store",
				zap.String("addr", s.cfg.Redis.Addr),
				zap.Error(err))
			client.Close()
			idem = idempotency.NewMemoryManager(s.logger)
		} else {
			s.redisClient = client
			idem = idempotency.NewRedisManager(client, s.cfg.LLM.Resilience.Idempotency.KeyPrefix, s.logger)
			s.logger.Info("Redis idempotency store connected", zap.String("addr", s.cfg.Redis.Addr))
		}
	} else {
		idem = idempotency.NewMemoryManager(s.logger)
	}

	// 缓存命中/未命中走指标装饰器
	idem = metrics.InstrumentIdempotency(idem, s.metricsCollector)

	registry, err := llmfactory.NewRegistryFromConfig(llmfactory.RegistryConfig{
		Default:    s.cfg.LLM.Default,
		Providers:  convertProviderConfigs(s.cfg.LLM.Providers),
		Resilience: s.buildResilience(),
	}, idem, s.logger)
	if err != nil {
		return err
	}

	if registry.Len() == 0 {
		s.logger.Warn("no providers registered, chat and transcription endpoints will reject requests")
	}

	s.registry = registry
	return nil
}

// convertProviderConfigs 把配置层的提供商表转换为工厂入参
func convertProviderConfigs(in map[string]config.ProviderConfig) map[string]llmfactory.ProviderConfig {
	out := make(map[string]llmfactory.ProviderConfig, len(in))
	for name, pc := range in {
		out[name] = llmfactory.ProviderConfig{
			APIKey:            pc.APIKey,
			BaseURL:           pc.BaseURL,
			Model:             pc.Model,
			Timeout:           pc.Timeout,
			RetryablePatterns: pc.RetryablePatterns,
			Extra:             pc.Extra,
		}
	}
	return out
}

// buildResilience 把配置层的弹性段转换为装饰器配置，
// 并把重试回调接到指标收集器上。
func (s *Server) buildResilience() *providers.ResilienceConfig {
	rc := s.cfg.LLM.Resilience

	policy := retry.Policy{
		Enabled:      rc.Retry.Enabled,
		MaxRetries:   rc.Retry.MaxRetries,
		InitialDelay: rc.Retry.InitialDelay,
		MaxDelay:     rc.Retry.MaxDelay,
		Multiplier:   rc.Retry.Multiplier,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.metricsCollector.RecordRetryAttempt()
		},
	}

	cfg := &providers.ResilienceConfig{
		Retry:                policy,
		EnableIdempotency:    rc.Idempotency.Enabled,
		IdempotencyTTL:       rc.Idempotency.TTL,
		EnableCircuitBreaker: rc.CircuitBreaker.Enabled,
		PacingDelay:          rc.PacingDelay,
		EstimateUsage:        rc.EstimateUsage,
	}
	if rc.CircuitBreaker.Enabled {
		cfg.CircuitBreaker = &circuitbreaker.Config{
			Threshold:        rc.CircuitBreaker.Threshold,
			ResetTimeout:     rc.CircuitBreaker.ResetTimeout,
			HalfOpenMaxCalls: rc.CircuitBreaker.HalfOpenMaxCalls,
		}
	}
	return cfg
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.chatHandler = handlers.NewChatHandler(s.registry, s.metricsCollector, s.logger)
	s.transcribeHandler = handlers.NewTranscribeHandler(s.registry, s.metricsCollector, s.cfg.Server.MaxUploadBytes, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.registry, s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("providers", func(ctx context.Context) error {
		if s.registry.Len() == 0 {
			return fmt.Errorf("no providers registered")
		}
		return nil
	}))
	if s.redisClient != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 API 服务器
// =============================================================================

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由（OpenAI 兼容）
	// ========================================
	mux.HandleFunc("/v1/chat/completions", s.chatHandler.HandleCompletion)
	mux.HandleFunc("/v1/audio/transcriptions", s.transcribeHandler.HandleTranscription)
	mux.HandleFunc("/v1/models", s.chatHandler.HandleModels)

	// ========================================
	// 构建中间件链
	// ========================================
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:        fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout: s.cfg.Server.ReadTimeout,
		// 写超时沿用配置值（默认 0 即不限制），SSE 流不能被截断
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 关闭 API 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 停止遥测导出
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	// 5. 关闭 Redis 连接
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
