package normalize

import (
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/modelrelay/modelrelay/llm"
)

// Property: 任意文本分片序列下，ContentFragment 事件的拼接恒等于
// Finish 事件的 FinalContent。
func TestProperty_FragmentsConcatenateToFinalContent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("content fragments concatenate to final content", prop.ForAll(
		func(texts []string) bool {
			acc := NewDeltaAccumulator(nil)

			var emitted strings.Builder
			for _, text := range texts {
				for _, ev := range acc.Feed(DeltaFragment{Text: text}) {
					if ev.Type != llm.EventContentFragment {
						t.Logf("unexpected event type %s before finish", ev.Type)
						return false
					}
					emitted.WriteString(ev.Text)
				}
			}

			events := acc.Feed(DeltaFragment{FinishReason: "stop"})
			if len(events) != 1 || events[0].Type != llm.EventFinish {
				t.Logf("expected single finish event, got %v", events)
				return false
			}

			want := strings.Join(texts, "")
			if events[0].FinalContent != want {
				t.Logf("final content %q, want %q", events[0].FinalContent, want)
				return false
			}
			return emitted.String() == want
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// Property: 无论收尾后再喂多少分片，一条流恰好产出一个收尾事件。
func TestProperty_ExactlyOneTerminalEvent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("streams terminate exactly once", prop.ForAll(
		func(before, after int) bool {
			acc := NewDeltaAccumulator(nil)

			terminal := 0
			count := func(events []llm.StreamEvent) {
				for _, ev := range events {
					if ev.Type == llm.EventFinish || ev.Type == llm.EventError {
						terminal++
					}
				}
			}

			for i := 0; i < before; i++ {
				count(acc.Feed(DeltaFragment{Text: "x"}))
			}
			count(acc.Feed(DeltaFragment{FinishReason: "stop"}))
			for i := 0; i < after; i++ {
				count(acc.Feed(DeltaFragment{Text: "y", FinishReason: "stop"}))
			}
			if ev, ok := acc.TransportError(nil); ok {
				count([]llm.StreamEvent{ev})
			}

			if terminal != 1 {
				t.Logf("expected 1 terminal event, got %d", terminal)
				return false
			}
			return true
		},
		gen.IntRange(0, 10),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// Property: 参数增量无论被切成多少片、在哪里切开，重组后的最终参数
// 都与原始 JSON 逐字节一致。
func TestProperty_ArgumentSplitsReassemble(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	const doc = `{"city":"Beijing","unit":"celsius","days":3}`

	properties.Property("argument deltas reassemble byte for byte", prop.ForAll(
		func(pieces int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))

			cuts := make([]int, 0, pieces-1)
			for i := 0; i < pieces-1; i++ {
				cuts = append(cuts, rng.Intn(len(doc)+1))
			}
			sort.Ints(cuts)

			acc := NewDeltaAccumulator(nil)
			acc.Feed(DeltaFragment{ToolDeltas: []ToolDelta{{ID: "call_1", Name: "forecast"}}})

			prev := 0
			for _, cut := range append(cuts, len(doc)) {
				acc.Feed(DeltaFragment{ToolDeltas: []ToolDelta{{Args: doc[prev:cut]}}})
				prev = cut
			}

			events := acc.Feed(DeltaFragment{FinishReason: "tool_calls"})
			if len(events) != 1 || len(events[0].FinalToolCalls) != 1 {
				t.Logf("expected one final tool call, got %v", events)
				return false
			}

			got := events[0].FinalToolCalls[0].Function.Arguments
			if got != doc {
				t.Logf("reassembled %q, want %q", got, doc)
				return false
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Property: parts 形态下每次函数调用得到一个独立条目，合成 id 携带
// 函数名前缀且互不重复。
func TestProperty_SynthesizedIDsUniquePerCall(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("synthesized ids are unique and prefixed", prop.ForAll(
		func(callCount int) bool {
			acc := NewPartsAccumulator(nil)

			for i := 0; i < callCount; i++ {
				acc.Feed(PartChunk{Parts: []Part{{
					FunctionCall: &FunctionCallPart{Name: "lookup", Args: map[string]any{"i": i}},
				}}})
			}

			events := acc.Feed(PartChunk{FinishReason: "STOP"})
			if len(events) != 1 {
				t.Logf("expected single finish, got %d events", len(events))
				return false
			}

			finals := events[0].FinalToolCalls
			if len(finals) != callCount {
				t.Logf("expected %d finals, got %d", callCount, len(finals))
				return false
			}

			seen := make(map[string]bool, len(finals))
			for _, tc := range finals {
				if !strings.HasPrefix(tc.ID, "call_lookup_") {
					t.Logf("id %q missing name prefix", tc.ID)
					return false
				}
				if seen[tc.ID] {
					t.Logf("duplicate id %q", tc.ID)
					return false
				}
				seen[tc.ID] = true
			}
			return true
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
