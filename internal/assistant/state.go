package assistant

import (
	"slices"

	"github.com/liao/mall-concierge/internal/chat"
)

// State 单轮对话在各阶段之间流转的状态，阶段之间不共享可变数据
type State struct {
	ThreadID   string
	Question   string
	Candidates []string
	Context    string
	Answer     string
	Messages   []chat.Message
}

// Update 某个阶段产出的部分结果；nil 字段表示不修改
type Update struct {
	Candidates []string
	Context    *string
	Answer     *string
	Messages   []chat.Message // 追加，不覆盖
}

// Merge 返回合并后的新 State，原 State 不变
func (s State) Merge(u Update) State {
	next := s
	if u.Candidates != nil {
		next.Candidates = slices.Clone(u.Candidates)
	}
	if u.Context != nil {
		next.Context = *u.Context
	}
	if u.Answer != nil {
		next.Answer = *u.Answer
	}
	msgs := make([]chat.Message, 0, len(s.Messages)+len(u.Messages))
	msgs = append(msgs, s.Messages...)
	next.Messages = append(msgs, u.Messages...)
	return next
}

func ptr(s string) *string { return &s }
