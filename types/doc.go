// Copyright (c) ModelRelay Authors.
// Licensed under the MIT License.

/*
Package types 提供 ModelRelay 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、api、config 等
上层模块提供统一的类型契约。跨包共享的结构化错误与上下文传播工具
均定义于此，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - 错误分层：配置错误（构造期抛出，永不重试）、序列化错误、
    瞬时上游错误（可重试）与永久上游错误（不可重试）

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithProviderName
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 常用错误构造：NewConfigurationError / NewSerializationError
*/
package types
