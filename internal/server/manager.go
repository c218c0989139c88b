package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/modelrelay/modelrelay/internal/tlsutil"
)

// =============================================================================
// 🌐 HTTP 服务器生命周期
// =============================================================================

// Config 服务器配置
type Config struct {
	// 监听地址
	Addr string `yaml:"addr" json:"addr"`

	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时。0 表示不限制；SSE 流式连接的寿命不可预估，
	// API 端口必须配 0，否则长对话会被掐断
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// 空闲连接超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 请求头大小上限
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 优雅关闭的等待上限
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: 30 * time.Second,
	}
}

// Manager 管理一个 http.Server 的启动、运行与优雅关闭。
// API 端口与 Metrics 端口各持有一个实例。
type Manager struct {
	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	closed   bool

	config Config
	logger *zap.Logger
	errCh  chan error
}

// NewManager 创建服务器管理器，TLS 安全参数与错误日志已接到位。
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	logger = logger.With(zap.String("component", "http_server"))

	return &Manager{
		server: &http.Server{
			Addr:           config.Addr,
			Handler:        handler,
			ReadTimeout:    config.ReadTimeout,
			WriteTimeout:   config.WriteTimeout,
			IdleTimeout:    config.IdleTimeout,
			MaxHeaderBytes: config.MaxHeaderBytes,
			TLSConfig:      tlsutil.DefaultTLSConfig(),
			ErrorLog:       zap.NewStdLog(logger),
		},
		config: config,
		logger: logger,
		errCh:  make(chan error, 1),
	}
}

// =============================================================================
// 🎯 启动与关闭
// =============================================================================

// Start 在配置地址上开始服务（非阻塞）
func (m *Manager) Start() error {
	listener, err := m.bind()
	if err != nil {
		return err
	}

	m.logger.Info("starting HTTP server", zap.String("addr", listener.Addr().String()))
	go m.run("HTTP", func() error { return m.server.Serve(listener) })
	return nil
}

// StartTLS 以 HTTPS 开始服务（非阻塞），TLS 参数取 tlsutil 的安全默认值
func (m *Manager) StartTLS(certFile, keyFile string) error {
	listener, err := m.bind()
	if err != nil {
		return err
	}

	m.logger.Info("starting HTTPS server",
		zap.String("addr", listener.Addr().String()),
		zap.String("cert", certFile),
	)
	go m.run("HTTPS", func() error { return m.server.ServeTLS(listener, certFile, keyFile) })
	return nil
}

// bind 持锁建立监听，挡掉重复启动与关闭后启动
func (m *Manager) bind() (net.Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		return nil, fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = listener
	return listener, nil
}

// run 驱动阻塞的 serve 调用，异常退出送入错误通道
func (m *Manager) run(kind string, serve func() error) {
	err := serve()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}

	m.logger.Error(kind+" server failed", zap.Error(err))
	select {
	case m.errCh <- err:
	default:
	}
}

// Shutdown 优雅关闭：停止接收新连接，在 ShutdownTimeout 内等待存量
// 请求完成。重复调用是幂等的。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.listener = nil

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	m.logger.Info("HTTP server stopped", zap.Duration("drain", time.Since(start)))
	return nil
}

// WaitForShutdown 阻塞等待退出信号或服务异常，然后触发优雅关闭
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-m.errCh:
		if err != nil {
			m.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// =============================================================================
// 🔧 状态查询
// =============================================================================

// Errors 暴露 serve 循环的异步错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 返回配置的监听地址
func (m *Manager) Addr() string {
	return m.config.Addr
}

// ListenAddr 返回实际监听地址。配置 :0 随机端口时，返回内核
// 分配的真实端口；未启动时退回配置地址。
func (m *Manager) ListenAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 报告管理器是否尚未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
