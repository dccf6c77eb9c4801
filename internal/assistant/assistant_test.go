package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liao/mall-concierge/internal/chat"
	"github.com/liao/mall-concierge/internal/rag"
)

type fakeRetriever struct {
	mu    sync.Mutex
	docs  []string
	err   error
	calls int
	lastK int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, k int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.docs) {
		return f.docs[:k], nil
	}
	return f.docs, nil
}

type fakeModel struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (f *fakeModel) GenerateChat(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("answer %d", len(f.prompts)), nil
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeReranker struct {
	calls int
	err   error
}

// Rerank 反转顺序，方便断言确实经过了重排
func (f *fakeReranker) Rerank(_ context.Context, _ string, candidates []string, keep int) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, 0, len(candidates))
	for i := len(candidates) - 1; i >= 0; i-- {
		out = append(out, candidates[i])
	}
	if len(out) > keep {
		out = out[:keep]
	}
	return out, nil
}

type failingStore struct {
	chat.Store
}

func (failingStore) Append(context.Context, string, ...chat.Message) error {
	return errors.New("disk full")
}

func newMemoryStore(t *testing.T) *chat.MemoryStore {
	t.Helper()
	s, err := chat.NewMemoryStore(0, "")
	require.NoError(t, err)
	return s
}

func shops(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Title: Shop %02d\n", i)
	}
	return out
}

func TestHistoryGrowsByTwoPerTurn(t *testing.T) {
	ctx := context.Background()
	a := New(&fakeRetriever{docs: shops(3)}, &fakeModel{}, newMemoryStore(t), Options{History: true})

	first, err := a.ProcessUserQuery(ctx, "where is the cinema?", "t1")
	require.NoError(t, err)
	require.Len(t, first.History, 2)
	assert.Equal(t, "answer 1", first.Response)

	second, err := a.ProcessUserQuery(ctx, "and parking?", "t1")
	require.NoError(t, err)
	require.Len(t, second.History, 4)
	for i := range first.History {
		assert.Equal(t, first.History[i].Role, second.History[i].Role)
		assert.Equal(t, first.History[i].Content, second.History[i].Content)
	}
	assert.Equal(t, chat.RoleHuman, second.History[2].Role)
	assert.Equal(t, "and parking?", second.History[2].Content)
	assert.Equal(t, chat.RoleAI, second.History[3].Role)
	assert.Equal(t, "answer 2", second.History[3].Content)

	// 其他 thread 不受影响
	other, err := a.ProcessUserQuery(ctx, "hi", "t2")
	require.NoError(t, err)
	assert.Len(t, other.History, 2)

	hist, err := a.History(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, hist, 4)
}

func TestMissingThreadIDMakesNoCalls(t *testing.T) {
	retriever := &fakeRetriever{docs: shops(3)}
	model := &fakeModel{}
	reranker := &fakeReranker{}
	a := New(retriever, model, newMemoryStore(t), Options{History: true, Reranker: reranker})

	for _, id := range []string{"", "   "} {
		_, err := a.ProcessUserQuery(context.Background(), "hello", id)
		assert.ErrorIs(t, err, ErrMissingThreadID)
	}
	_, err := a.History(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingThreadID)

	assert.Zero(t, retriever.calls)
	assert.Zero(t, reranker.calls)
	assert.Zero(t, model.calls())
}

func TestPromptHistoryKeepsLastSix(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, "t", chat.HumanMessage(fmt.Sprintf("q%d", i)), chat.AIMessage(fmt.Sprintf("a%d", i))))
	}

	model := &fakeModel{}
	a := New(&fakeRetriever{}, model, store, Options{History: true})
	_, err := a.ProcessUserQuery(ctx, "new question", "t")
	require.NoError(t, err)

	prompt := model.prompts[0]
	want := "This is the conversation history:\n" +
		"visitor:\nq2\nassistant:\na2\nvisitor:\nq3\nassistant:\na3\nvisitor:\nq4\nassistant:\na4\n\n"
	assert.Contains(t, prompt, want)
	assert.NotContains(t, prompt, "q1")
	assert.NotContains(t, prompt, "a1")
}

func TestRerankStage(t *testing.T) {
	retriever := &fakeRetriever{docs: shops(20)}
	reranker := &fakeReranker{}
	model := &fakeModel{}
	a := New(retriever, model, newMemoryStore(t), Options{TopK: 10, CandidateK: 20, Reranker: reranker})

	_, err := a.ProcessUserQuery(context.Background(), "shoes", "t")
	require.NoError(t, err)
	assert.Equal(t, 20, retriever.lastK)
	assert.Equal(t, 1, reranker.calls)

	prompt := model.prompts[0]
	assert.Contains(t, prompt, "Title: Shop 19\n \n Title: Shop 18\n")
	assert.Contains(t, prompt, "Title: Shop 10\n")
	assert.NotContains(t, prompt, "Title: Shop 09\n")
}

func TestRerankFailureKeepsRetrievalOrder(t *testing.T) {
	retriever := &fakeRetriever{docs: shops(20)}
	model := &fakeModel{}
	a := New(retriever, model, newMemoryStore(t), Options{TopK: 10, CandidateK: 20, Reranker: &fakeReranker{err: errors.New("timeout")}})

	_, err := a.ProcessUserQuery(context.Background(), "shoes", "t")
	require.NoError(t, err)

	prompt := model.prompts[0]
	assert.Contains(t, prompt, "Title: Shop 00\n \n Title: Shop 01\n")
	assert.Contains(t, prompt, "Title: Shop 09\n")
	assert.NotContains(t, prompt, "Title: Shop 10\n")
}

func TestWithoutRerankerRetrievesTopK(t *testing.T) {
	retriever := &fakeRetriever{docs: shops(20)}
	a := New(retriever, &fakeModel{}, newMemoryStore(t), Options{TopK: 10, CandidateK: 20})

	_, err := a.ProcessUserQuery(context.Background(), "shoes", "t")
	require.NoError(t, err)
	assert.Equal(t, 10, retriever.lastK)
}

func TestRetrieveFailureDegradesToEmptyContext(t *testing.T) {
	model := &fakeModel{}
	a := New(&fakeRetriever{err: errors.New("embedding quota")}, model, newMemoryStore(t), Options{History: true})

	reply, err := a.ProcessUserQuery(context.Background(), "food court?", "t")
	require.NoError(t, err)
	assert.Equal(t, "answer 1", reply.Response)
	assert.Contains(t, model.prompts[0], "Context (stores of the mall):\n\n\n")
}

func TestGenerateFailureUsesFallbackAnswer(t *testing.T) {
	a := New(&fakeRetriever{docs: shops(2)}, &fakeModel{err: errors.New("503")}, newMemoryStore(t), Options{History: true})

	reply, err := a.ProcessUserQuery(context.Background(), "hello", "t")
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, reply.Response)
	require.Len(t, reply.History, 2)
	assert.Equal(t, FallbackAnswer, reply.History[1].Content)
}

func TestStoreErrorPropagates(t *testing.T) {
	a := New(&fakeRetriever{}, &fakeModel{}, failingStore{Store: newMemoryStore(t)}, Options{History: true})

	_, err := a.ProcessUserQuery(context.Background(), "hello", "t")
	assert.ErrorContains(t, err, "disk full")
}

func TestHistoryDisabledLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	a := New(&fakeRetriever{}, &fakeModel{}, store, Options{History: false})

	reply, err := a.ProcessUserQuery(ctx, "hello", "t")
	require.NoError(t, err)
	assert.Empty(t, reply.History)

	hist, err := a.History(ctx, "t")
	require.NoError(t, err)
	assert.NotNil(t, hist)
	assert.Empty(t, hist)
}

func TestConcurrentTurnsOnOneThread(t *testing.T) {
	ctx := context.Background()
	a := New(&fakeRetriever{docs: shops(1)}, &fakeModel{}, newMemoryStore(t), Options{History: true})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.ProcessUserQuery(ctx, fmt.Sprintf("q%d", i), "shared")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	hist, err := a.History(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, hist, 40)
	for i := 0; i < len(hist); i += 2 {
		assert.Equal(t, chat.RoleHuman, hist[i].Role)
		assert.Equal(t, chat.RoleAI, hist[i+1].Role)
	}
}

func TestMergeDoesNotMutate(t *testing.T) {
	base := State{Question: "q", Messages: []chat.Message{chat.HumanMessage("old")}}
	next := base.Merge(Update{Context: ptr("ctx"), Messages: []chat.Message{chat.AIMessage("new")}})

	assert.Equal(t, "", base.Context)
	assert.Len(t, base.Messages, 1)
	assert.Equal(t, "ctx", next.Context)
	assert.Len(t, next.Messages, 2)
	assert.Equal(t, "q", next.Question)
}

type staticEmbedder struct{}

func (staticEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (staticEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	flat := filepath.Join(dir, "flat.json")
	require.NoError(t, os.WriteFile(flat, []byte(`[{"title": "Nike", "venue": "G1", "categories": ["Sports"], "keywords": ["shoes"], "description": "Sportswear."}]`), 0644))

	rawDir := filepath.Join(dir, "raw")
	require.NoError(t, os.Mkdir(rawDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rawDir, "p1.json"), []byte(`{"docs": [
		{"title": "Bata", "venue": "LG2", "categoryTree": [{"title": "Fashion", "subs": [{"title": "Shoes"}]}], "keywords": "shoes, sandals", "text": "<p>Footwear.</p>"}
	]}`), 0644))

	store, err := rag.NewStore(chromem.NewDB(), "shops", staticEmbedder{}.EmbedQuery)
	require.NoError(t, err)
	ix := rag.NewIndexer(store, staticEmbedder{}, 0)
	a := New(rag.NewRetriever(store, staticEmbedder{}), &fakeModel{}, newMemoryStore(t), Options{Indexer: ix})

	n, err := a.Ingest(ctx, flat, rag.FormatAuto)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = a.Ingest(ctx, rawDir, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, store.Count())

	bata, err := store.Get(ctx, "Bata | LG2")
	require.NoError(t, err)
	assert.True(t, strings.Contains(bata.Content, "Footwear."))

	_, err = a.Ingest(ctx, flat, "xml")
	assert.Error(t, err)

	_, err = New(&fakeRetriever{}, &fakeModel{}, newMemoryStore(t), Options{}).Ingest(ctx, flat, rag.FormatFlat)
	assert.ErrorIs(t, err, errNoIndexer)
}
