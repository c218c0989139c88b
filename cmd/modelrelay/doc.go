// Copyright (c) ModelRelay Authors.
// Licensed under the MIT License.

/*
Package main 提供 ModelRelay 服务端程序入口。

# 概述

cmd/modelrelay 是 ModelRelay 网关的可执行入口，提供统一的
OpenAI 兼容 HTTP API（聊天补全、SSE 流式、语音转写、提供商列表）、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集与 OpenTelemetry 追踪。

# 核心类型

  - Server           — 主服务器，管理 API、Metrics 双端口及优雅关闭
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    CORS、RateLimiter（基于 IP）、MetricsMiddleware、OTelTracing
  - 幂等缓存后端：Redis（可选），不可用时退化为进程内存储
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 API → 关闭 Metrics → 停止遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
