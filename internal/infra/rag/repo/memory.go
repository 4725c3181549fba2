package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

// MemoryNotebookRepository is an in-memory rag.NotebookRepository.
type MemoryNotebookRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]rag.Notebook
}

func NewMemoryNotebookRepository() *MemoryNotebookRepository {
	return &MemoryNotebookRepository{data: make(map[uuid.UUID]rag.Notebook)}
}

func (r *MemoryNotebookRepository) Create(_ context.Context, n *rag.Notebook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[n.ID] = *n
	return nil
}

func (r *MemoryNotebookRepository) Get(_ context.Context, id uuid.UUID, includeDeleted bool) (*rag.Notebook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	if n.DeletedAt != nil && !includeDeleted {
		return nil, nil
	}
	out := n
	return &out, nil
}

func (r *MemoryNotebookRepository) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]rag.Notebook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rag.Notebook
	for _, n := range r.data {
		if n.OwnerID == ownerID && n.DeletedAt == nil {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryNotebookRepository) Update(_ context.Context, n *rag.Notebook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[n.ID]
	if !ok {
		return nil
	}
	n.CreatedAt = existing.CreatedAt
	n.DeletedAt = existing.DeletedAt
	n.UpdatedAt = time.Now()
	r.data[n.ID] = *n
	return nil
}

func (r *MemoryNotebookRepository) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.data[id]
	if !ok {
		return nil
	}
	now := time.Now()
	n.DeletedAt = &now
	r.data[id] = n
	return nil
}

func (r *MemoryNotebookRepository) Restore(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.data[id]
	if !ok {
		return nil
	}
	n.DeletedAt = nil
	r.data[id] = n
	return nil
}

var _ rag.NotebookRepository = (*MemoryNotebookRepository)(nil)

// MemorySourceRepository is an in-memory rag.SourceRepository.
type MemorySourceRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]rag.Source
}

func NewMemorySourceRepository() *MemorySourceRepository {
	return &MemorySourceRepository{data: make(map[uuid.UUID]rag.Source)}
}

func (r *MemorySourceRepository) Create(_ context.Context, s *rag.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[s.ID] = *s
	return nil
}

func (r *MemorySourceRepository) Get(_ context.Context, id uuid.UUID) (*rag.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[id]
	if !ok || s.DeletedAt != nil {
		return nil, nil
	}
	out := s
	return &out, nil
}

func (r *MemorySourceRepository) ListByNotebook(_ context.Context, notebookID uuid.UUID) ([]rag.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rag.Source
	for _, s := range r.data {
		if s.NotebookID == notebookID && s.DeletedAt == nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySourceRepository) UpdateStatus(_ context.Context, id uuid.UUID, status rag.SourceStatus, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if !ok {
		return nil
	}
	s.Status = status
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		s.Metadata[k] = v
	}
	s.UpdatedAt = time.Now()
	r.data[id] = s
	return nil
}

func (r *MemorySourceRepository) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if !ok {
		return nil
	}
	now := time.Now()
	s.DeletedAt = &now
	r.data[id] = s
	return nil
}

var _ rag.SourceRepository = (*MemorySourceRepository)(nil)

// MemoryChunkRepository is an in-memory rag.ChunkRepository.
type MemoryChunkRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID][]rag.Chunk // keyed by notebook
}

func NewMemoryChunkRepository() *MemoryChunkRepository {
	return &MemoryChunkRepository{data: make(map[uuid.UUID][]rag.Chunk)}
}

func (r *MemoryChunkRepository) BulkCreate(_ context.Context, chunks []rag.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range chunks {
		r.data[c.NotebookID] = append(r.data[c.NotebookID], c)
	}
	return nil
}

func (r *MemoryChunkRepository) SearchByEmbedding(_ context.Context, queryVec []float32, notebookID uuid.UUID, sourceID *uuid.UUID, topK int, threshold float64) ([]rag.RetrievedChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []rag.RetrievedChunk
	for _, c := range r.data[notebookID] {
		if len(c.EmbeddingVector) == 0 {
			continue
		}
		if sourceID != nil && c.SourceID != *sourceID {
			continue
		}
		candidates = append(candidates, rag.RetrievedChunk{Chunk: c, Similarity: cosineSimilarity(queryVec, c.EmbeddingVector)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
	return filterByThreshold(candidates, threshold, topK), nil
}

func (r *MemoryChunkRepository) ListBySource(_ context.Context, sourceID uuid.UUID) ([]rag.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rag.Chunk
	for _, chunks := range r.data {
		for _, c := range chunks {
			if c.SourceID == sourceID {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *MemoryChunkRepository) DeleteBySource(_ context.Context, sourceID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for notebookID, chunks := range r.data {
		kept := chunks[:0]
		for _, c := range chunks {
			if c.SourceID != sourceID {
				kept = append(kept, c)
			}
		}
		r.data[notebookID] = kept
	}
	return nil
}

var _ rag.ChunkRepository = (*MemoryChunkRepository)(nil)

// MemoryConversationRepository is an in-memory rag.ConversationRepository.
type MemoryConversationRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]rag.Conversation
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{data: make(map[uuid.UUID]rag.Conversation)}
}

func (r *MemoryConversationRepository) Create(_ context.Context, c *rag.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[c.ID] = *c
	return nil
}

func (r *MemoryConversationRepository) Get(_ context.Context, id uuid.UUID) (*rag.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.data[id]
	if !ok || c.DeletedAt != nil {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (r *MemoryConversationRepository) ListByNotebook(_ context.Context, notebookID uuid.UUID) ([]rag.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rag.Conversation
	for _, c := range r.data {
		if c.NotebookID == notebookID && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var _ rag.ConversationRepository = (*MemoryConversationRepository)(nil)

// MemoryMessageRepository is an in-memory rag.MessageRepository.
type MemoryMessageRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID][]rag.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{data: make(map[uuid.UUID][]rag.Message)}
}

func (r *MemoryMessageRepository) Create(_ context.Context, m *rag.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[m.ConversationID] = append(r.data[m.ConversationID], *m)
	return nil
}

func (r *MemoryMessageRepository) ListRecent(_ context.Context, conversationID uuid.UUID, limit int) ([]rag.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.data[conversationID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	start := len(all) - limit
	out := make([]rag.Message, limit)
	copy(out, all[start:])
	return out, nil
}

var _ rag.MessageRepository = (*MemoryMessageRepository)(nil)

// MemoryGenerationHistoryRepository is an in-memory audit log.
type MemoryGenerationHistoryRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID][]rag.GenerationHistory
}

func NewMemoryGenerationHistoryRepository() *MemoryGenerationHistoryRepository {
	return &MemoryGenerationHistoryRepository{data: make(map[uuid.UUID][]rag.GenerationHistory)}
}

func (r *MemoryGenerationHistoryRepository) Create(_ context.Context, h *rag.GenerationHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[h.NotebookID] = append(r.data[h.NotebookID], *h)
	return nil
}

func (r *MemoryGenerationHistoryRepository) NextVersion(_ context.Context, notebookID uuid.UUID, kind rag.GenerationKind) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, h := range r.data[notebookID] {
		if h.Kind == kind && h.Version > max {
			max = h.Version
		}
	}
	return max + 1, nil
}

func (r *MemoryGenerationHistoryRepository) ListByNotebook(_ context.Context, notebookID uuid.UUID, kind rag.GenerationKind) ([]rag.GenerationHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rag.GenerationHistory
	for _, h := range r.data[notebookID] {
		if h.Kind == kind && h.DeletedAt == nil {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

var _ rag.GenerationHistoryRepository = (*MemoryGenerationHistoryRepository)(nil)
