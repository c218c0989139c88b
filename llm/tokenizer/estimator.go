package tokenizer

// Estimator 按字符类别估算 token 数，没有精确编码表的模型用它兜底。
// 中日韩文字大约 1.5 字符折一个 token，其余文字大约 4 字符折一个。
type Estimator struct {
	model string
}

// chat 格式的经验开销：每条消息的角色标记与分隔符、会话收尾标记。
const (
	perMessageOverhead = 4
	conversationTail   = 3
)

// NewEstimator 创建启发式估算器。
func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}

	estimated := int(float64(cjk)/1.5 + float64(other)/4.0)
	if estimated < 1 {
		estimated = 1
	}
	return estimated, nil
}

func (e *Estimator) CountMessages(messages []Message) (int, error) {
	total := conversationTail
	for _, msg := range messages {
		tokens, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += tokens + perMessageOverhead
	}
	return total, nil
}

func (e *Estimator) Name() string {
	return "estimator"
}

// cjkRanges 覆盖常用中日韩区段与全角标点。
var cjkRanges = [...][2]rune{
	{0x4E00, 0x9FFF},   // CJK 统一表意文字
	{0x3400, 0x4DBF},   // 扩展 A
	{0x20000, 0x2A6DF}, // 扩展 B
	{0xF900, 0xFAFF},   // 兼容表意文字
	{0x3000, 0x303F},   // CJK 标点
	{0xFF00, 0xFFEF},   // 全角与半角形式
}

func isCJK(r rune) bool {
	for _, rg := range cjkRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}
