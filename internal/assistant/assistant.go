// Package assistant 串起检索、重排、生成和历史记录，处理一轮访客提问
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/liao/mall-concierge/internal/ai"
	"github.com/liao/mall-concierge/internal/chat"
	"github.com/liao/mall-concierge/internal/persona"
	"github.com/liao/mall-concierge/internal/rag"
	"github.com/liao/mall-concierge/internal/rerank"
)

// ErrMissingThreadID 调用方没有提供 thread_id
var ErrMissingThreadID = errors.New("thread_id is required to track conversation history")

// FallbackAnswer 生成失败时返回给访客的固定回复
const FallbackAnswer = `{"textResponse": "Sorry, I'm having trouble answering right now. Please try again in a moment or visit the concierge counter for help.", "shops": []}`

// 检索结果之间的分隔
const contextSeparator = " \n "

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

type ChatModel interface {
	GenerateChat(ctx context.Context, prompt string) (string, error)
}

type Options struct {
	TopK          int // 最终进入 prompt 的店铺数
	CandidateK    int // 开启重排时先检索的候选数
	HistoryWindow int
	History       bool // 是否记录对话历史
	Reranker      rerank.Reranker
	Persona       *persona.Persona
	Indexer       *rag.Indexer // Ingest 需要，不导入数据时可为空
}

type Reply struct {
	Response string         `json:"response"`
	History  []chat.Message `json:"history"`
}

type Assistant struct {
	retriever Retriever
	model     ChatModel
	store     chat.Store
	opts      Options
	locks     *chat.ThreadLocks
	stages    []stage
}

type stage struct {
	name string
	run  func(ctx context.Context, s State) Update
}

func New(retriever Retriever, model ChatModel, store chat.Store, opts Options) *Assistant {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.CandidateK < opts.TopK {
		opts.CandidateK = opts.TopK
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 6
	}
	if opts.Persona == nil {
		opts.Persona = persona.Default()
	}

	a := &Assistant{
		retriever: retriever,
		model:     model,
		store:     store,
		opts:      opts,
		locks:     chat.NewThreadLocks(),
	}

	a.stages = append(a.stages, stage{"retrieve", a.retrieve})
	if opts.Reranker != nil {
		a.stages = append(a.stages, stage{"rerank", a.rerank})
	}
	a.stages = append(a.stages, stage{"generate", a.generate})
	if opts.History {
		a.stages = append(a.stages, stage{"history", a.recordHistory})
	}

	names := make([]string, 0, len(a.stages))
	for _, st := range a.stages {
		names = append(names, st.name)
	}
	slog.Info("assistant pipeline ready", "stages", strings.Join(names, " -> "),
		"top_k", opts.TopK, "candidate_k", a.retrieveK())
	return a
}

// ProcessUserQuery 跑完整条流水线，返回回答和该 thread 的全部历史
func (a *Assistant) ProcessUserQuery(ctx context.Context, question, threadID string) (*Reply, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrMissingThreadID
	}

	unlock := a.locks.Lock(threadID)
	defer unlock()

	start := time.Now()
	prior, err := a.store.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	state := State{
		ThreadID: threadID,
		Question: question,
		Messages: prior,
	}
	for _, st := range a.stages {
		state = state.Merge(st.run(ctx, state))
	}

	if added := state.Messages[len(prior):]; len(added) > 0 {
		if err := a.store.Append(ctx, threadID, added...); err != nil {
			slog.Error("save history failed", "thread", threadID, "error", err)
			return nil, fmt.Errorf("save history: %w", err)
		}
	}

	slog.Info("query answered", "thread", threadID, "shops", len(state.Candidates),
		"history", len(state.Messages), "elapsed", time.Since(start).Round(time.Millisecond))
	return &Reply{Response: state.Answer, History: state.Messages}, nil
}

// History 返回 thread 的历史消息，未知 thread 返回空列表
func (a *Assistant) History(ctx context.Context, threadID string) ([]chat.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrMissingThreadID
	}
	msgs, err := a.store.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, nil
}

func (a *Assistant) retrieveK() int {
	if a.opts.Reranker != nil {
		return a.opts.CandidateK
	}
	return a.opts.TopK
}

func (a *Assistant) retrieve(ctx context.Context, s State) Update {
	docs, err := a.retriever.Retrieve(ctx, s.Question, a.retrieveK())
	if err != nil {
		slog.Warn("retrieve failed, answering without context", "thread", s.ThreadID, "error", err)
		return Update{Candidates: []string{}, Context: ptr("")}
	}
	if docs == nil {
		docs = []string{}
	}
	slog.Debug("retrieved shops", "thread", s.ThreadID, "count", len(docs))
	return Update{Candidates: docs, Context: ptr(strings.Join(docs, contextSeparator))}
}

func (a *Assistant) rerank(ctx context.Context, s State) Update {
	if len(s.Candidates) == 0 {
		return Update{}
	}
	keep := a.opts.TopK
	ranked, err := a.opts.Reranker.Rerank(ctx, s.Question, s.Candidates, keep)
	if err != nil {
		slog.Warn("rerank failed, keeping retrieval order", "thread", s.ThreadID, "error", err)
		ranked = s.Candidates
		if len(ranked) > keep {
			ranked = ranked[:keep]
		}
	}
	return Update{Candidates: ranked, Context: ptr(strings.Join(ranked, contextSeparator))}
}

func (a *Assistant) generate(ctx context.Context, s State) Update {
	prompt := ai.RenderPrompt(a.opts.Persona, ai.PromptFields{
		Question: s.Question,
		Context:  s.Context,
		History:  ai.FormatHistory(chat.Last(s.Messages, a.opts.HistoryWindow)),
	})
	answer, err := a.model.GenerateChat(ctx, prompt)
	if err != nil {
		slog.Warn("generate failed, using fallback answer", "thread", s.ThreadID, "error", err)
		return Update{Answer: ptr(FallbackAnswer)}
	}
	return Update{Answer: ptr(answer)}
}

func (a *Assistant) recordHistory(_ context.Context, s State) Update {
	return Update{Messages: []chat.Message{
		chat.HumanMessage(s.Question),
		chat.AIMessage(s.Answer),
	}}
}
