package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liao/mall-concierge/internal/chat"
	"github.com/liao/mall-concierge/internal/persona"
)

// PromptFields 每轮对话代入 prompt 的字段
type PromptFields struct {
	Question string
	Context  string
	History  string
}

// RenderPrompt 组装完整的导览员 prompt
func RenderPrompt(p *persona.Persona, f PromptFields) string {
	if p == nil {
		p = persona.Default()
	}
	var b strings.Builder

	// 身份定义
	fmt.Fprintf(&b, "You are %s, %s's %s digital concierge.\n", p.Name, p.Mall, p.Traits)
	b.WriteString("You are stationed at interactive kiosks throughout the mall and make every guest's visit easier.\n\n")

	b.WriteString("Your role includes:\n")
	b.WriteString(p.FormatDutiesForPrompt())
	b.WriteString("\n")

	// 规则
	fmt.Fprintf(&b, "Mention between %d and %d stores from the context that are relevant to the query.\n", p.MinShops, p.MaxShops)
	b.WriteString("Do not answer with bare titles and descriptions. Give each store's title and reframe its description around the visitor's query.\n")
	b.WriteString("Only use details found in the context. If nothing in the context fits, say so and ")
	fmt.Fprintf(&b, "direct the visitor to %s.\n", p.ConciergeCounter)
	b.WriteString("Respond in JSON only.\n\n")

	b.WriteString("This is the conversation history:\n")
	b.WriteString(f.History)
	b.WriteString("\n\n")

	b.WriteString("This is the new visitor query:\n")
	b.WriteString(f.Question)
	b.WriteString("\n\n")

	b.WriteString("Context (stores of the mall):\n")
	b.WriteString(f.Context)
	b.WriteString("\n\n")

	b.WriteString("Your JSON response has two fields. \"textResponse\" is your reply to the visitor. ")
	b.WriteString("\"shops\" lists the titles of all stores from the context, in the given order.\n")
	b.WriteString("{\"textResponse\": \"...\", \"shops\": [\"shop_1\", \"shop_2\", ...]}\n\n")
	b.WriteString("Your response:\n")

	return b.String()
}

// FormatHistory 按 visitor/assistant 标注历史消息
func FormatHistory(messages []chat.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case chat.RoleHuman:
			lines = append(lines, "visitor:\n"+m.Content)
		case chat.RoleAI:
			lines = append(lines, "assistant:\n"+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// Reply 模型按 prompt 要求返回的 JSON
type Reply struct {
	TextResponse string   `json:"textResponse"`
	Shops        []string `json:"shops"`
}

// ParseReply 解析模型回复，去掉 markdown 代码块；不是 JSON 时返回 false
func ParseReply(answer string) (Reply, bool) {
	text := strings.TrimSpace(answer)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var r Reply
	if err := json.Unmarshal([]byte(text), &r); err != nil || r.TextResponse == "" {
		return Reply{}, false
	}
	return r, true
}

// FormatReplyForChat 转成聊天窗口里直接可读的文本
func FormatReplyForChat(answer string) string {
	r, ok := ParseReply(answer)
	if !ok {
		return strings.TrimSpace(answer)
	}
	var b strings.Builder
	b.WriteString(r.TextResponse)
	if len(r.Shops) > 0 {
		b.WriteString("\n\n")
		for _, s := range r.Shops {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return strings.TrimSpace(b.String())
}
