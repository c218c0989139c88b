// Package openaicompat 是所有 OpenAI 兼容提供商的共享实现。
// OpenAI、DeepSeek 以及任意自定义 base URL 的兼容服务都嵌入本包的
// Provider，只覆盖各自不同的部分（名称、BaseURL、默认模型、请求头、
// 转写能力）。
package openaicompat
