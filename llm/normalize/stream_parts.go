package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/llm"
	"github.com/modelrelay/modelrelay/llm/classify"
)

// FunctionCallPart 是 candidate/part 形态中的一次完整函数调用：
// 名称加上任意结构的参数对象。
type FunctionCallPart struct {
	Name string
	Args any
}

// Part 是一个内容部件：纯文本或完整函数调用，二者取一。
type Part struct {
	Text         string
	FunctionCall *FunctionCallPart
}

// PartChunk 是 Gemini 风格 chunk 归一后的单条分片：整块部件列表、
// 可选的收尾原因与用量。部件整块到达，不做增量拼接。
type PartChunk struct {
	Parts        []Part
	FinishReason string
	Usage        *llm.ChatUsage
}

// PartsAccumulator 把 candidate/part 形态的分片流折叠为统一事件流。
// 上游不提供工具调用 id，这里为每次函数调用合成稳定 id
// （call_<名称>_<uuid 前 8 位>）后照常走打开表，使两种形态在
// Finish 事件上收敛到同一结构。
type PartsAccumulator struct {
	streamState
}

// NewPartsAccumulator 创建一个 parts 累积器。classifier 语义与
// NewDeltaAccumulator 相同。
func NewPartsAccumulator(classifier *classify.Classifier) *PartsAccumulator {
	return &PartsAccumulator{streamState: newStreamState(classifier)}
}

// Feed 处理一条分片，返回产生的事件（可能为空）。收尾后的分片
// 被忽略。
func (a *PartsAccumulator) Feed(chunk PartChunk) []llm.StreamEvent {
	if a.finished {
		return nil
	}
	var events []llm.StreamEvent

	for _, p := range chunk.Parts {
		if p.Text != "" {
			a.appendContent(p.Text)
			events = append(events, llm.ContentEvent(p.Text))
		}
		if p.FunctionCall != nil {
			tc := a.entry(SynthesizeCallID(p.FunctionCall.Name))
			tc.Function.Name = p.FunctionCall.Name
			tc.Function.Arguments = EncodeArgs(p.FunctionCall.Args)
			events = append(events, llm.ToolCallEvent(*tc))
		}
	}

	if chunk.FinishReason != "" {
		if ev, ok := a.finish(chunk.FinishReason, chunk.Usage); ok {
			events = append(events, ev)
		}
	}
	return events
}

// SynthesizeCallID 为缺省 id 的函数调用生成稳定 id。uuid 片段保证
// 同名函数的多次调用互不冲突。非流式的 parts 折叠也用同一方案，
// 两条路径产出的 id 格式一致。
func SynthesizeCallID(name string) string {
	return fmt.Sprintf("call_%s_%s", name, uuid.NewString()[:8])
}

// EncodeArgs 把任意参数对象编码为 JSON 文本；nil 与编码失败都退回
// 空对象，维持"参数恒为合法 JSON"的约定。
func EncodeArgs(args any) string {
	if args == nil {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
