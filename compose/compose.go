// Package compose turns retrieved knowledge entries into a consultation
// answer. The default path is extractive and fully deterministic; an
// LLM provider can be plugged in for generative answers.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/junyiz/lawkb/category"
	"github.com/junyiz/lawkb/llm"
	"github.com/junyiz/lawkb/store"
)

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.2
)

const systemPrompt = `你是一名严谨的法律辅助咨询助手。请仅依据提供的知识库资料回答用户的法律问题：
- 回答使用中文，条理清晰，先给结论再给依据；
- 引用资料时注明资料编号；
- 资料不足以回答时如实说明，不要编造法律条文；
- 最后提醒用户咨询执业律师。`

// Input is everything the composer needs for one answer.
type Input struct {
	Question string
	Context  string
	Category category.Category
	Entries  []store.Entry
}

// Output is a composed answer.
type Output struct {
	Answer string
	Model  string
}

// Config tunes the generative path.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Composer builds answers. With a nil provider every answer is
// extractive.
type Composer struct {
	provider llm.Provider
	cfg      Config
}

// New creates a composer. provider may be nil.
func New(provider llm.Provider, cfg Config) *Composer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	return &Composer{provider: provider, cfg: cfg}
}

// Compose produces a non-empty answer for the question. The extractive
// path cannot fail; the generative path surfaces provider errors so the
// orchestrator can retry or fail the consultation.
func (c *Composer) Compose(ctx context.Context, in Input) (*Output, error) {
	if c.provider == nil {
		return &Output{Answer: c.extractive(in), Model: "extractive"}, nil
	}

	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Model: c.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(in)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("composing answer: %w", err)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return nil, fmt.Errorf("composing answer: provider returned empty content")
	}
	return &Output{Answer: answer, Model: resp.Model}, nil
}

// buildPrompt lays the retrieved entries out as numbered source blocks
// ahead of the question.
func buildPrompt(in Input) string {
	var b strings.Builder
	if len(in.Entries) == 0 {
		b.WriteString("知识库中没有找到相关资料。\n\n")
	} else {
		b.WriteString("知识库资料：\n")
		for i, e := range in.Entries {
			fmt.Fprintf(&b, "--- 资料 %d：%s ---\n%s\n", i+1, e.Title, truncateRunes(e.Content, 800))
			if e.Source != "" {
				fmt.Fprintf(&b, "（来源：%s）\n", e.Source)
			}
		}
		b.WriteString("\n")
	}
	if in.Context != "" {
		fmt.Fprintf(&b, "补充背景：%s\n\n", in.Context)
	}
	fmt.Fprintf(&b, "用户问题（领域：%s）：%s", category.Name(in.Category), in.Question)
	return b.String()
}

// extractive builds a deterministic answer by quoting the most
// question-relevant sentence of each cited entry.
func (c *Composer) extractive(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "关于您咨询的「%s」（领域：%s）：\n\n", truncateRunes(in.Question, 60), category.Name(in.Category))

	if len(in.Entries) == 0 {
		fmt.Fprintf(&b, "抱歉，知识库中暂未找到与您的问题直接相关的资料。%s\n\n",
			fallbackGuidance(in.Category))
		b.WriteString("以上内容仅供参考，具体问题建议咨询执业律师。")
		return b.String()
	}

	for i, e := range in.Entries {
		snippet := relevantSnippet(e.Content, in.Question)
		if snippet == "" {
			snippet = truncateRunes(e.Content, 160)
		}
		fmt.Fprintf(&b, "%d. 《%s》", i+1, e.Title)
		if e.Source != "" {
			fmt.Fprintf(&b, "（来源：%s）", e.Source)
		}
		fmt.Fprintf(&b, "：%s\n", snippet)
	}

	b.WriteString("\n以上内容依据知识库资料整理，仅供参考，具体问题建议咨询执业律师。")
	return b.String()
}

// fallbackGuidance gives a category-appropriate next step when the
// knowledge base has nothing to cite.
func fallbackGuidance(cat category.Category) string {
	switch cat {
	case category.LaborLaw:
		return "劳动争议通常可先与用人单位协商，协商不成可向劳动人事争议仲裁委员会申请仲裁。"
	case category.CriminalLaw:
		return "刑事问题事关重大，请尽快联系刑事辩护律师获取专业意见。"
	case category.AdministrativeLaw:
		return "对行政行为不服的，一般可在法定期限内申请行政复议或提起行政诉讼。"
	default:
		return "建议您整理相关证据材料，向专业法律人士进一步咨询。"
	}
}
