// Package openai 适配 OpenAI 官方 API：聊天补全走 OpenAI 兼容基类，
// 语音转写走 Whisper multipart 端点。
package openai
