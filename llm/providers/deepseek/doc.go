// Package deepseek 适配 DeepSeek API（OpenAI 兼容格式）。
package deepseek
