// Package classify 判定一次失败是否值得重试。
//
// 判定顺序：错误携带 HTTP 状态码时仅看状态码（429 与常见 5xx 可重试）；
// 否则对错误消息做小写子串匹配。基础子串集之外，可为具体厂商追加
// 识别模式（如 Gemini 的 RESOURCE_EXHAUSTED 文案），基础判定始终优先。
// 分类器本身从不返回错误：消息缺失按空串处理，空串不命中任何模式。
package classify
