// Package tokenizer 统计对话的 token 用量。
// OpenAI 系模型走 tiktoken 精确编码，其余模型退回 CJK 启发式估算器。
// 上游响应缺失用量统计时，弹性层用它补出带 Estimated 标记的估算值。
package tokenizer
