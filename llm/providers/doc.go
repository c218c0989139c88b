// Copyright 2026 ModelRelay Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是所有具体 Provider 实现的公共基础层，并承载弹性装饰器。
各服务商子包（openai、deepseek、gemini、openaicompat）依赖本包完成
请求/响应转换与错误映射；上层通过 ResilientProvider 获得重试、降级、
熔断与幂等缓存能力。

# 核心类型

  - ResilienceConfig — 弹性装饰配置（重试策略、分类器模式、熔断、幂等 TTL、用量估算开关）
  - ResilientProvider — 弹性装饰器：重试耗尽后合成降级回复而非抛错
  - ClassifierSource — 内层 Provider 暴露自有分类器的可选接口

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为语义化的 types.Error（含 Retryable 标记）
  - ConvertMessagesToOpenAI / ConvertToolsToOpenAI — 统一消息与工具格式转换
  - ToChatResponse — OpenAI 兼容响应到 llm.ChatResponse 的转换（经 normalize 规范化）
  - ChooseModel — 按优先级选择模型（请求 > 默认 > 兜底）
  - BearerTokenHeaders / ReadErrorMessage / SafeCloseBody — HTTP 适配辅助

# 降级语义

重试耗尽后三个入口都返回语法合法的结果而非错误：

  - Completion 合成致歉消息，故障详情放进 Metadata["_error_metadata"]
  - Stream 返回按词切分的合成事件流，以 finish_reason "degraded" 收尾
  - Transcribe 返回带 ErrorDetails 的固定致歉文本

# 支持能力

  - 统一错误语义映射（401/403/429/5xx/529 等）
  - 幂等缓存（相同请求在 TTL 内直接返回缓存响应）
  - 上游缺失用量时的 token 估算回填
  - 熔断开路时的快速失败与降级
*/
package providers
