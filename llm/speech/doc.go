// 版权所有 2026 ModelRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 speech 提供语音识别 (STT) 传输层，当前适配 OpenAI Whisper API。

# 概述

本包只负责"音频文件 → 转写文本"的 HTTP 往返：multipart 表单构造、
鉴权、错误映射与响应解码。转写请求以文件路径为输入，文件的创建与
清理（例如 API 层的临时上传文件）由调用方负责。

弹性语义（重试、降级为非抛出的错误结果）不在本包内，由 providers
包的弹性装饰器统一提供。

# 核心类型

  - Client：Whisper 转写客户端，Transcribe 执行一次转写。
  - Config：APIKey、BaseURL、模型与超时配置，Default 工厂补全缺省值。
*/
package speech
