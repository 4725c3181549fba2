package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- in-memory fakes, scoped to this test file only ---

type fakeNotebooks struct {
	mu   sync.Mutex
	data map[uuid.UUID]Notebook
}

func newFakeNotebooks() *fakeNotebooks { return &fakeNotebooks{data: map[uuid.UUID]Notebook{}} }

func (f *fakeNotebooks) Create(_ context.Context, n *Notebook) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[n.ID] = *n
	return nil
}
func (f *fakeNotebooks) Get(_ context.Context, id uuid.UUID, includeDeleted bool) (*Notebook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.data[id]
	if !ok || (n.DeletedAt != nil && !includeDeleted) {
		return nil, nil
	}
	out := n
	return &out, nil
}
func (f *fakeNotebooks) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]Notebook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Notebook
	for _, n := range f.data {
		if n.OwnerID == ownerID && n.DeletedAt == nil {
			out = append(out, n)
		}
	}
	return out, nil
}
func (f *fakeNotebooks) Update(_ context.Context, n *Notebook) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[n.ID] = *n
	return nil
}
func (f *fakeNotebooks) SoftDelete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.data[id]
	now := time.Now()
	n.DeletedAt = &now
	f.data[id] = n
	return nil
}
func (f *fakeNotebooks) Restore(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.data[id]
	n.DeletedAt = nil
	f.data[id] = n
	return nil
}

type fakeSources struct {
	mu   sync.Mutex
	data map[uuid.UUID]Source
}

func newFakeSources() *fakeSources { return &fakeSources{data: map[uuid.UUID]Source{}} }

func (f *fakeSources) Create(_ context.Context, s *Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[s.ID] = *s
	return nil
}
func (f *fakeSources) Get(_ context.Context, id uuid.UUID) (*Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.data[id]
	if !ok {
		return nil, nil
	}
	out := s
	return &out, nil
}
func (f *fakeSources) ListByNotebook(_ context.Context, notebookID uuid.UUID) ([]Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Source
	for _, s := range f.data {
		if s.NotebookID == notebookID && s.DeletedAt == nil {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeSources) UpdateStatus(_ context.Context, id uuid.UUID, status SourceStatus, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.data[id]
	s.Status = status
	f.data[id] = s
	return nil
}
func (f *fakeSources) SoftDelete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.data[id]
	now := time.Now()
	s.DeletedAt = &now
	f.data[id] = s
	return nil
}

type fakeChunks struct {
	mu   sync.Mutex
	data []Chunk
}

func (f *fakeChunks) BulkCreate(_ context.Context, chunks []Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, chunks...)
	return nil
}
func (f *fakeChunks) SearchByEmbedding(_ context.Context, _ []float32, notebookID uuid.UUID, sourceID *uuid.UUID, topK int, _ float64) ([]RetrievedChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RetrievedChunk
	for _, c := range f.data {
		if c.NotebookID != notebookID {
			continue
		}
		if sourceID != nil && c.SourceID != *sourceID {
			continue
		}
		out = append(out, RetrievedChunk{Chunk: c, Similarity: 1})
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out, nil
}
func (f *fakeChunks) ListBySource(_ context.Context, sourceID uuid.UUID) ([]Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Chunk
	for _, c := range f.data {
		if c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeChunks) DeleteBySource(_ context.Context, sourceID uuid.UUID) error { return nil }

type fakeConversations struct {
	mu   sync.Mutex
	data map[uuid.UUID]Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{data: map[uuid.UUID]Conversation{}}
}
func (f *fakeConversations) Create(_ context.Context, c *Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[c.ID] = *c
	return nil
}
func (f *fakeConversations) Get(_ context.Context, id uuid.UUID) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.data[id]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}
func (f *fakeConversations) ListByNotebook(_ context.Context, notebookID uuid.UUID) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Conversation
	for _, c := range f.data {
		if c.NotebookID == notebookID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeMessages struct {
	mu   sync.Mutex
	data map[uuid.UUID][]Message
}

func newFakeMessages() *fakeMessages { return &fakeMessages{data: map[uuid.UUID][]Message{}} }

func (f *fakeMessages) Create(_ context.Context, m *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[m.ConversationID] = append(f.data[m.ConversationID], *m)
	return nil
}
func (f *fakeMessages) ListRecent(_ context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.data[conversationID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	return append([]Message{}, all[len(all)-limit:]...), nil
}

type fakeHistory struct {
	mu   sync.Mutex
	data []GenerationHistory
}

func (f *fakeHistory) Create(_ context.Context, h *GenerationHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, *h)
	return nil
}
func (f *fakeHistory) NextVersion(_ context.Context, notebookID uuid.UUID, kind GenerationKind) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, h := range f.data {
		if h.NotebookID == notebookID && h.Kind == kind && h.Version > max {
			max = h.Version
		}
	}
	return max + 1, nil
}
func (f *fakeHistory) ListByNotebook(_ context.Context, notebookID uuid.UUID, kind GenerationKind) ([]GenerationHistory, error) {
	return nil, nil
}

type fakeStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStorage() *fakeStorage { return &fakeStorage{data: map[string][]byte{}} }

func (f *fakeStorage) Store(_ context.Context, key string, data []byte, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	return key, nil
}
func (f *fakeStorage) Retrieve(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}
func (f *fakeStorage) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	delete(f.data, key)
	return ok, nil
}
func (f *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}
func (f *fakeStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://example.test/" + key, nil
}

type fakeLLM struct {
	embedDim  int
	chatReply string
	chatErr   error
}

func (f *fakeLLM) GenerateChat(_ context.Context, _ []ChatMessage, _ ChatOptions) (string, error) {
	return f.chatReply, f.chatErr
}
func (f *fakeLLM) GenerateEmbeddings(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.embedDim)
		out[i][0] = 1
	}
	return out, nil
}
func (f *fakeLLM) GenerateQuiz(context.Context, string, int, string) (map[string]any, error) {
	return map[string]any{"questions": []any{}}, nil
}
func (f *fakeLLM) GenerateSummary(context.Context, string) (map[string]any, error) {
	return map[string]any{"summary": "ok"}, nil
}
func (f *fakeLLM) GenerateStudyGuide(context.Context, string) (map[string]any, error) {
	return map[string]any{"guide": "ok"}, nil
}
func (f *fakeLLM) GenerateMindmap(context.Context, string, string) (map[string]any, error) {
	return map[string]any{"mindmap": "ok"}, nil
}

type fixedChunker struct{ texts []string }

func (c fixedChunker) Chunk(text string) []ChunkCandidate {
	if text == "" {
		return nil
	}
	return []ChunkCandidate{{Text: text, ChunkIndex: 0, StartOffset: 0, EndOffset: len(text)}}
}

type syncDispatcher struct{}

func (syncDispatcher) Dispatch(task func(ctx context.Context)) { task(context.Background()) }

func newTestService(t *testing.T) (*Service, *fakeNotebooks, *fakeSources, *fakeConversations, *fakeMessages, *fakeStorage, *fakeLLM) {
	t.Helper()
	notebooks := newFakeNotebooks()
	sources := newFakeSources()
	chunks := &fakeChunks{}
	conversations := newFakeConversations()
	messages := newFakeMessages()
	history := &fakeHistory{}
	storage := newFakeStorage()
	llm := &fakeLLM{embedDim: 4, chatReply: "hello there"}

	svc := NewService(
		DefaultConfig(),
		notebooks, sources, chunks, conversations, messages, history,
		storage, llm, fixedChunker{}, syncDispatcher{},
		nil, nil,
		nil,
		testLogger(),
	)
	return svc, notebooks, sources, conversations, messages, storage, llm
}

func TestIngestUpload_TextSourceIsProcessedSynchronously(t *testing.T) {
	ctx := context.Background()
	svc, notebooks, sources, _, _, _, _ := newTestService(t)

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)
	_ = notebooks

	out, err := svc.IngestUpload(ctx, nb.ID, nil, "", "plain text content", "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, SourceStatusProcessing, out[0].Status, "IngestUpload reports each source's status as created")

	stored, err := sources.Get(ctx, out[0].SourceID)
	require.NoError(t, err)
	require.Equal(t, SourceStatusCompleted, stored.Status)
}

func TestIngestUpload_RejectsWhenNoInputProvided(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _, _, _ := newTestService(t)

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)

	_, err = svc.IngestUpload(ctx, nb.ID, nil, "", "", "")
	require.Error(t, err)
}

func TestIngestUpload_UnknownNotebookIsNotFound(t *testing.T) {
	svc, _, _, _, _, _, _ := newTestService(t)
	_, err := svc.IngestUpload(context.Background(), uuid.New(), nil, "", "text", "")
	require.Error(t, err)
}

func TestGetNotebook_CrossTenantIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _, _, _ := newTestService(t)

	owner := uuid.New()
	other := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)

	_, err = svc.GetNotebook(ctx, other, nb.ID)
	require.Error(t, err, "a different owner must not be able to load another tenant's notebook")
}

func TestDeleteNotebook_SoftDeleteExcludesFromList(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _, _, _ := newTestService(t)

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteNotebook(ctx, owner, nb.ID))

	list, err := svc.ListNotebooks(ctx, owner)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = svc.GetNotebook(ctx, owner, nb.ID)
	require.Error(t, err)

	restored, err := svc.RestoreNotebook(ctx, owner, nb.ID)
	require.NoError(t, err)
	require.Nil(t, restored.DeletedAt)
}

func TestSendMessageWithRAG_GroundsReplyInRetrievedChunks(t *testing.T) {
	ctx := context.Background()
	svc, _, sources, conversations, _, storage, _ := newTestService(t)

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)

	out, err := svc.IngestUpload(ctx, nb.ID, nil, "", "some grounding text", "")
	require.NoError(t, err)
	_ = storage
	_ = sources

	conv, err := svc.CreateConversation(ctx, owner, nb.ID, nil, ModeChat, nil)
	require.NoError(t, err)
	_ = conversations

	msg, err := svc.SendMessageWithRAG(ctx, conv.ID, owner, "what does it say?")
	require.NoError(t, err)
	require.Equal(t, RoleAssistant, msg.Role)
	require.Equal(t, "hello there", msg.Content)
	require.NotEmpty(t, msg.ChunkIDs, "retrieved chunks should be attached to the reply")
	_ = out
}

type charCountTokenCounter struct{}

func (charCountTokenCounter) Count(text string) int { return len(text) }

func TestTruncateToContextBudget_DropsLowestRankedChunksOverBudget(t *testing.T) {
	ctx := context.Background()
	svc, notebooks, _, _, _, _, _ := newTestService(t)
	svc.tokens = charCountTokenCounter{}

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)
	nb.MaxContextTokens = 15
	require.NoError(t, notebooks.Update(ctx, nb))

	retrieved := []RetrievedChunk{
		{Chunk: Chunk{PlainText: "0123456789"}, Similarity: 0.9},
		{Chunk: Chunk{PlainText: "abcde"}, Similarity: 0.8},
		{Chunk: Chunk{PlainText: "this one pushes over budget"}, Similarity: 0.7},
	}

	kept := svc.truncateToContextBudget(ctx, nb.ID, retrieved)
	require.Len(t, kept, 2, "third chunk should be dropped once the 15-char budget is exceeded")
}

func TestTruncateToContextBudget_AlwaysKeepsAtLeastOneChunk(t *testing.T) {
	ctx := context.Background()
	svc, notebooks, _, _, _, _, _ := newTestService(t)
	svc.tokens = charCountTokenCounter{}

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)
	nb.MaxContextTokens = 1
	require.NoError(t, notebooks.Update(ctx, nb))

	retrieved := []RetrievedChunk{{Chunk: Chunk{PlainText: "way over the tiny budget"}, Similarity: 0.9}}
	kept := svc.truncateToContextBudget(ctx, nb.ID, retrieved)
	require.Len(t, kept, 1)
}

func TestTruncateToContextBudget_UnknownNotebookPassesThrough(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _, _, _ := newTestService(t)
	svc.tokens = charCountTokenCounter{}

	retrieved := []RetrievedChunk{{Chunk: Chunk{PlainText: "a"}}, {Chunk: Chunk{PlainText: "b"}}}
	kept := svc.truncateToContextBudget(ctx, uuid.New(), retrieved)
	require.Len(t, kept, 2, "notebook lookup fails for an unknown id, so truncation is skipped")
}

func TestSendMessageWithRAG_UnknownConversationIsNotFound(t *testing.T) {
	svc, _, _, _, _, _, _ := newTestService(t)
	_, err := svc.SendMessageWithRAG(context.Background(), uuid.New(), uuid.New(), "hi")
	require.Error(t, err)
}

func TestSendMessageWithRAG_OtherUsersConversationIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _, _, _ := newTestService(t)

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)
	conv, err := svc.CreateConversation(ctx, owner, nb.ID, nil, ModeChat, nil)
	require.NoError(t, err)

	_, err = svc.SendMessageWithRAG(ctx, conv.ID, uuid.New(), "hi")
	require.Error(t, err)
}

func TestSendMessageWithContext_FallsBackToApologyOnLLMFailure(t *testing.T) {
	ctx := context.Background()
	notebooks := newFakeNotebooks()
	sources := newFakeSources()
	chunks := &fakeChunks{}
	conversations := newFakeConversations()
	messages := newFakeMessages()
	history := &fakeHistory{}
	storage := newFakeStorage()
	llm := &fakeLLM{embedDim: 4, chatErr: errors.New("upstream exploded")}

	svc := NewService(DefaultConfig(), notebooks, sources, chunks, conversations, messages, history,
		storage, llm, fixedChunker{}, syncDispatcher{}, nil, nil, nil, testLogger())

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)
	conv, err := svc.CreateConversation(ctx, owner, nb.ID, nil, ModeTutor, nil)
	require.NoError(t, err)

	msg, err := svc.SendMessageWithContext(ctx, conv.ID, owner, "hi")
	require.NoError(t, err)
	require.Contains(t, msg.Content, "I'm sorry")
}

func TestGenerateQuiz_RejectsInvalidSize(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _, _, _ := newTestService(t)

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)

	_, err = svc.GenerateQuiz(ctx, GenerationRequest{NotebookID: nb.ID, UserID: owner}, QuizOptions{NumQuestions: 7, Difficulty: "easy"})
	require.Error(t, err)
}

func TestGenerateMindmapFromText_RejectsInvalidFormat(t *testing.T) {
	svc, _, _, _, _, _, _ := newTestService(t)
	_, err := svc.GenerateMindmapFromText(context.Background(), "some text", "pdf")
	require.Error(t, err)
}

func TestGenerateMindmapFromText_RequiresText(t *testing.T) {
	svc, _, _, _, _, _, _ := newTestService(t)
	_, err := svc.GenerateMindmapFromText(context.Background(), "", "json")
	require.Error(t, err)
}

func TestGenerateSummary_UsesOnlyCompletedSources(t *testing.T) {
	ctx := context.Background()
	svc, _, sources, _, _, _, _ := newTestService(t)

	owner := uuid.New()
	nb, err := svc.CreateNotebook(ctx, owner, NotebookInput{Title: "n"})
	require.NoError(t, err)

	_, err = svc.GenerateSummary(ctx, GenerationRequest{NotebookID: nb.ID, UserID: owner})
	require.Error(t, err, "no completed sources yet, generation should fail validation")

	out, err := svc.IngestUpload(ctx, nb.ID, nil, "", "grounding content", "")
	require.NoError(t, err)
	require.Len(t, out, 1)

	result, err := svc.GenerateSummary(ctx, GenerationRequest{NotebookID: nb.ID, UserID: owner})
	require.NoError(t, err)
	require.Equal(t, GenerationSummary, result.Kind)
	require.Equal(t, 1, result.Version)

	_ = sources
}
