// Copyright (c) ModelRelay Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ModelRelay HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 ModelRelay 所有 HTTP 端点的请求处理逻辑，
包括聊天补全、语音转写、提供者列表、健康检查以及统一的
响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
通过 Swagger 注解生成 API 文档。

# 核心类型

  - ChatHandler       — 聊天补全处理器，同一端点支持同步与 SSE 流式响应
  - TranscribeHandler — 语音转写处理器，负责 multipart 上传与临时文件生命周期
  - HealthHandler     — 服务健康检查（/health, /healthz, /ready）与版本信息
  - Response          — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo         — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter    — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck       — 可插拔健康检查接口（CheckFunc 适配任意探测函数）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - SSE 流式输出：stream 标记开启 text/event-stream，帧尾恒为 data: [DONE]
  - 提供者解析：按请求 provider 字段或注册表默认项路由
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
