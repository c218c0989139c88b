// 版权所有 2026 ModelRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供统一的大语言模型接入层：Provider 抽象、重试与退避、
错误分类、响应与流式规范化，以及弹性降级能力。

# 概述

本包目标是屏蔽不同模型服务商在接口、鉴权、错误语义和流式协议上的差异，
对上层业务暴露一致的请求与响应模型。两类互不兼容的流式线协议
（OpenAI 的 delta 增量工具调用与 Gemini 的 candidate/part 整段函数调用）
统一为同一套事件词汇表。

典型场景：

- 单一 Provider 的快速接入与调用。
- 瞬时故障自动重试，重试耗尽后合成降级回复而非抛错。
- 流式输出与函数调用的统一事件消费。
- 熔断、幂等缓存与用量观测。

# Provider 抽象

核心接口是 [Provider]，包含补全、流式输出、语音转写、健康检查与
能力声明。基于该接口，系统可以在保持上层调用不变的前提下切换底层
模型服务。

# 核心类型

  - [Message] / [ToolCall]：规范化消息与工具调用（Arguments 恒为合法 JSON 文本）
  - [StreamEvent]：流式事件联合体（内容片段 / 工具调用片段 / 结束 / 错误）
  - [ChatRequest] / [ChatResponse]：统一请求与响应模型
  - [TranscriptionRequest] / [TranscriptionResult]：语音转写（仅接收文件路径）
  - [ErrorMetadata]：降级回复内嵌的故障元数据（_error_metadata）

# 子包

  - classify：瞬时/永久故障分类器（状态码 + 消息子串 + 可追加的厂商模式）
  - retry：指数退避调度器与重试执行器
  - normalize：响应规范化与两种流式线协议的事件规范化
  - providers：各 Provider 适配与弹性装饰器
  - factory：按名称构造 Provider 的选择器
  - circuitbreaker / idempotency / tokenizer / speech：支撑能力
*/
package llm
