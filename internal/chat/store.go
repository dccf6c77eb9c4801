package chat

import (
	"context"
	"time"
)

const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

type Message struct {
	Role      string    `json:"role"` // "human" / "ai"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store 按 thread_id 保存对话历史，只允许追加
type Store interface {
	Get(ctx context.Context, threadID string) ([]Message, error)
	Append(ctx context.Context, threadID string, msgs ...Message) error
}

func HumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content, Timestamp: time.Now()}
}

func AIMessage(content string) Message {
	return Message{Role: RoleAI, Content: content, Timestamp: time.Now()}
}

// Last 返回最近 n 条消息（n<=0 表示不截断）
func Last(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
