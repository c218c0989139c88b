// Package normalize 把各 Provider 的原生响应折叠为规范化形状。
//
// 同步响应经 [Message] 规范化为单条消息；流式响应按线协议分两条路径：
// delta 增量协议（按 id 关联的工具调用片段，参数按串接累积）走
// [DeltaAccumulator]，candidate/part 协议（每个 chunk 携带完整 part）走
// [PartsAccumulator]。两者输出同一套 StreamEvent 词汇表，消费方用一个
// 循环同时处理内容、工具调用与故障。
//
// 累积器从不向外抛错：chunk 级异常折叠为 Error 事件后继续，传输级
// 异常折叠为收尾 Error 事件。
package normalize
