package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
)

type Session struct {
	Messages   []Message `json:"messages"`
	LastActive time.Time `json:"last_active"`
}

// MemoryStore 进程内会话存储，可选空闲过期和 JSON 快照
type MemoryStore struct {
	cache       *cache.Cache
	locks       *ThreadLocks
	sessionFile string
}

// NewMemoryStore ttl<=0 表示永不过期；sessionFile 为空时不做持久化
func NewMemoryStore(ttl time.Duration, sessionFile string) (*MemoryStore, error) {
	var c *cache.Cache
	if ttl > 0 {
		c = cache.New(ttl, ttl/2)
	} else {
		c = cache.New(cache.NoExpiration, 0)
	}

	m := &MemoryStore{
		cache:       c,
		locks:       NewThreadLocks(),
		sessionFile: sessionFile,
	}
	if sessionFile == "" {
		return m, nil
	}

	if err := os.MkdirAll(filepath.Dir(sessionFile), 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	// 尝试从文件恢复
	data, err := os.ReadFile(sessionFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read session file: %w", err)
	default:
		var sessions map[string]*Session
		if err := json.Unmarshal(data, &sessions); err != nil {
			slog.Warn("session file corrupted, starting empty", "file", sessionFile, "error", err)
			break
		}
		for id, s := range sessions {
			m.cache.Set(id, s, cache.DefaultExpiration)
		}
		slog.Info("sessions restored", "file", sessionFile, "count", len(sessions))
	}
	return m, nil
}

func (m *MemoryStore) Get(_ context.Context, threadID string) ([]Message, error) {
	s, ok := m.session(threadID)
	if !ok {
		return []Message{}, nil
	}
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, threadID string, msgs ...Message) error {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	var prev []Message
	if s, ok := m.session(threadID); ok {
		prev = s.Messages
	}
	// 写时复制，已经返回给调用方的切片不受影响
	next := make([]Message, 0, len(prev)+len(msgs))
	next = append(next, prev...)
	next = append(next, msgs...)

	m.cache.Set(threadID, &Session{Messages: next, LastActive: time.Now()}, cache.DefaultExpiration)
	return nil
}

// Save 持久化到文件
func (m *MemoryStore) Save() error {
	if m.sessionFile == "" {
		return nil
	}
	sessions := make(map[string]*Session)
	for id, item := range m.cache.Items() {
		if s, ok := item.Object.(*Session); ok {
			sessions[id] = s
		}
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	return os.WriteFile(m.sessionFile, data, 0644)
}

func (m *MemoryStore) session(threadID string) (*Session, bool) {
	x, ok := m.cache.Get(threadID)
	if !ok {
		return nil, false
	}
	s, ok := x.(*Session)
	return s, ok
}
