package normalize

import (
	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/classify"
)

// ToolDelta 是 delta 分片中的一条工具调用增量。带 ID 的增量打开
// （或定位）一个表项；不带 ID 的增量续写最近打开的表项。Name 与
// Args 都是增量片段，按到达顺序拼接。
type ToolDelta struct {
	ID   string
	Name string
	Args string
}

// DeltaFragment 是 OpenAI 风格 chunk 归一后的单条增量：文本增量、
// 工具调用增量、可选的收尾原因与用量。
type DeltaFragment struct {
	Text         string
	ToolDeltas   []ToolDelta
	FinishReason string
	Usage        *llm.ChatUsage
}

// DeltaAccumulator 把 delta 形态的分片流折叠为统一事件流：
// 文本增量原样转发，工具调用增量按 id 归并进打开表并随每次更新
// 发出快照，收尾原因触发唯一的 Finish 事件（带累积全文与最终
// 工具调用值）。
type DeltaAccumulator struct {
	streamState
	lastID string
}

// NewDeltaAccumulator 创建一个 delta 累积器。classifier 用于 chunk
// 级与传输级错误的重试判定，传 nil 时退回基础分类器。
func NewDeltaAccumulator(classifier *classify.Classifier) *DeltaAccumulator {
	return &DeltaAccumulator{streamState: newStreamState(classifier)}
}

// Feed 处理一条增量分片，返回产生的事件（可能为空）。收尾后的
// 分片被忽略。
func (a *DeltaAccumulator) Feed(frag DeltaFragment) []llm.StreamEvent {
	if a.finished {
		return nil
	}
	var events []llm.StreamEvent

	if frag.Text != "" {
		a.appendContent(frag.Text)
		events = append(events, llm.ContentEvent(frag.Text))
	}

	for _, d := range frag.ToolDeltas {
		tc := a.locate(d.ID)
		tc.Function.Name += d.Name
		tc.Function.Arguments += d.Args
		events = append(events, llm.ToolCallEvent(*tc))
	}

	if frag.FinishReason != "" {
		if ev, ok := a.finish(frag.FinishReason, frag.Usage); ok {
			events = append(events, ev)
		}
	}
	return events
}

// locate 返回增量应写入的表项：带 id 的增量打开或复用对应表项，
// 不带 id 的增量续写最近打开的表项（尚无表项时落到匿名表项，
// 保证永不丢增量）。
func (a *DeltaAccumulator) locate(id string) *llm.ToolCall {
	if id == "" {
		id = a.lastID
	}
	a.lastID = id
	return a.entry(id)
}
