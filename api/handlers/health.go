package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/llm"
	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器。/health 聚合各提供者的探活结果，
// /ready 只运行注册的就绪检查。
type HealthHandler struct {
	registry *llm.ProviderRegistry
	logger   *zap.Logger
	checks   []HealthCheck
	mu       sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time                 `json:"timestamp"`
	Version   string                    `json:"version,omitempty"`
	Checks    map[string]CheckResult    `json:"checks,omitempty"`
	Providers map[string]ProviderStatus `json:"providers,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// ProviderStatus 单个提供者的探活结果
type ProviderStatus struct {
	Healthy   bool    `json:"healthy"`
	Latency   string  `json:"latency,omitempty"`
	ErrorRate float64 `json:"error_rate,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// NewHealthHandler 创建健康检查处理器。registry 为 nil 时
// /health 不带提供者明细。
func NewHealthHandler(registry *llm.ProviderRegistry, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		logger:   logger,
		checks:   make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求（带提供者明细的健康报告）
// @Summary 健康检查
// @Description 聚合所有提供者探活结果的健康报告
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务正常或部分降级"
// @Failure 503 {object} HealthStatus "全部提供者不可用"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	if h.registry != nil && h.registry.Len() > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := h.registry.HealthCheckAll(ctx)
		providers := make(map[string]ProviderStatus, len(results))
		healthyCount := 0
		for name, ph := range results {
			ps := ProviderStatus{}
			switch {
			case ph.Err != nil:
				ps.Error = ph.Err.Error()
			case ph.Status != nil:
				ps.Healthy = ph.Status.Healthy
				ps.Latency = ph.Status.Latency.String()
				ps.ErrorRate = ph.Status.ErrorRate
			}
			if ps.Healthy {
				healthyCount++
			}
			providers[name] = ps
		}
		status.Providers = providers

		switch {
		case healthyCount == 0:
			status.Status = "unhealthy"
		case healthyCount < len(results):
			status.Status = "degraded"
		}
	}

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 风格）
// @Summary Kubernetes 活跃度探针
// @Description Kubernetes 的活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	// Liveness probe - 只检查服务是否运行
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleReady 处理 /ready 或 /readyz 请求（就绪检查）
// @Summary 准备情况检查
// @Description 检查服务是否准备好接受流量
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已准备就绪"
// @Failure 503 {object} HealthStatus "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult),
	}

	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}

		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}

		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Description 返回版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		}

		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 基于探活函数的健康检查，适配 Redis ping、
// 注册表非空等任意探测逻辑。
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建探活函数检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{
		name: name,
		ping: ping,
	}
}

func (c *PingCheck) Name() string {
	return c.name
}

func (c *PingCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}
