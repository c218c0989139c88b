package normalize

import (
	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/classify"
	"github.com/modelrelay/modelrelay/types"
)

// streamState 是两种累积器共享的底座：一条流生命周期内的累积文本、
// 打开的工具调用表（按 id 键）与收尾标记。状态只存在于所属流的
// producer 闭包中，不跨流共享。
type streamState struct {
	classifier *classify.Classifier
	content    []byte
	order      []string
	open       map[string]*llm.ToolCall
	finished   bool
}

func newStreamState(classifier *classify.Classifier) streamState {
	if classifier == nil {
		classifier = classify.New()
	}
	return streamState{
		classifier: classifier,
		open:       make(map[string]*llm.ToolCall),
	}
}

// Finished 报告该流是否已经发出收尾事件（Finish 或传输级 Error）。
func (s *streamState) Finished() bool { return s.finished }

// Content 返回当前累积的完整文本。
func (s *streamState) Content() string { return string(s.content) }

func (s *streamState) appendContent(text string) {
	s.content = append(s.content, text...)
}

// entry 返回（必要时创建）给定 id 的工具调用表项。
func (s *streamState) entry(id string) *llm.ToolCall {
	if tc, ok := s.open[id]; ok {
		return tc
	}
	tc := &llm.ToolCall{ID: id, Kind: llm.ToolCallKindFunction}
	s.open[id] = tc
	s.order = append(s.order, id)
	return tc
}

// finals 按首次打开顺序收集最终工具调用值；参数为空的条目补齐为
// "{}" 以维持"参数恒为合法 JSON"的约定。未打开任何条目时返回 nil。
func (s *streamState) finals() []llm.ToolCall {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(s.order))
	for _, id := range s.order {
		tc := *s.open[id]
		if tc.Function.Arguments == "" {
			tc.Function.Arguments = "{}"
		}
		out = append(out, tc)
	}
	return out
}

// finish 发出唯一的 Finish 事件并标记收尾。重复调用返回零事件。
func (s *streamState) finish(reason string, usage *llm.ChatUsage) (llm.StreamEvent, bool) {
	if s.finished {
		return llm.StreamEvent{}, false
	}
	s.finished = true
	ev := llm.FinishEvent(reason, s.Content(), s.finals())
	ev.Usage = usage
	return ev, true
}

// ChunkError 把一次 chunk 级处理异常折叠为 Error 事件。流不因此
// 收尾——坏 chunk 被跳过，后续 chunk 继续处理。
func (s *streamState) ChunkError(err error) llm.StreamEvent {
	return llm.ErrorEvent(classifiedError(s.classifier, err))
}

// TransportError 把传输级异常折叠为收尾 Error 事件，并保留传输挂载
// 的状态码。已收尾的流返回零事件（由调用方忽略）。
func (s *streamState) TransportError(err error) (llm.StreamEvent, bool) {
	if s.finished {
		return llm.StreamEvent{}, false
	}
	s.finished = true
	return llm.ErrorEvent(classifiedError(s.classifier, err)), true
}

// classifiedError 把任意错误折叠为带重试判定的结构化错误。
// 已结构化的错误保留状态码与 Provider 标记，仅补判定。
func classifiedError(c *classify.Classifier, err error) *types.Error {
	retryable := c.RetryableExtended(err)
	if e := types.AsError(err); e != nil {
		out := *e
		out.Retryable = retryable
		return &out
	}
	msg := "stream processing failed"
	if err != nil {
		msg = err.Error()
	}
	return types.NewError(types.ErrUpstreamError, msg).WithRetryable(retryable).WithCause(err)
}
