// 版权所有 2026 ModelRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 gemini 实现 Google Gemini 提供者适配。

与 OpenAI 兼容系的 delta 增量协议不同，Gemini 的流式响应是
candidate/part 形态：文本与函数调用以整块 part 到达，函数调用
不带调用 id，参数是原生 JSON 对象而非字符串。本包把这套线协议
交给 normalize.PartsAccumulator 折叠为统一事件流，调用 id 由
规范化层合成，参数编码为 JSON 文本，与 delta 路径产出同一形态。

请求侧的差异同样在此消化：system 消息提取为 systemInstruction，
assistant 角色映射为 model，工具响应包装为 functionResponse part。

认证使用 x-goog-api-key 请求头。流式端点通过 alt=sse 参数选择
SSE 帧格式。
*/
package gemini
