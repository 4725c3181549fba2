package rag

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StorageProvider abstracts the object store backing Source bytes.
type StorageProvider interface {
	Store(ctx context.Context, key string, data []byte, meta map[string]string) (string, error)
	Retrieve(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	GetSignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// CacheProvider is a TTL key-value store with JSON-serialized values.
//
// Get returns ok=false for a missing or expired key, or when the stored
// value fails to deserialize into dest; it never returns an error for
// those cases. Set is write-through and best-effort: callers must not
// depend on a successful write.
type CacheProvider interface {
	Get(ctx context.Context, key string, dest any) (ok bool, err error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, prefix string) error
	HealthCheck(ctx context.Context) error
}

// ChatMessage is one turn passed to the LLM chat endpoint.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatOptions configures a single GenerateChat call.
type ChatOptions struct {
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
}

// LLMClient is a resilient client for chat completion and embedding
// generation over an OpenAI-compatible HTTP API.
type LLMClient interface {
	GenerateChat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)
	GenerateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error)

	GenerateQuiz(ctx context.Context, sourceText string, numQuestions int, difficulty string) (map[string]any, error)
	GenerateSummary(ctx context.Context, sourceText string) (map[string]any, error)
	GenerateStudyGuide(ctx context.Context, sourceText string) (map[string]any, error)
	GenerateMindmap(ctx context.Context, sourceText string, format string) (map[string]any, error)
}

// Chunker splits text into overlapping, offset-tracked windows.
type Chunker interface {
	Chunk(text string) []ChunkCandidate
}

// TokenCounter estimates the LLM token cost of a string, used to keep
// assembled chat context within a Notebook's MaxContextTokens budget.
type TokenCounter interface {
	Count(text string) int
}

// ChunkCandidate is one window produced by a Chunker, prior to embedding.
type ChunkCandidate struct {
	Text        string
	ChunkIndex  int
	StartOffset int
	EndOffset   int
	TokenCount  int
}

// NotebookRepository persists Notebook rows. Reads default to excluding
// soft-deleted rows unless includeDeleted is true.
type NotebookRepository interface {
	Create(ctx context.Context, n *Notebook) error
	Get(ctx context.Context, id uuid.UUID, includeDeleted bool) (*Notebook, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Notebook, error)
	Update(ctx context.Context, n *Notebook) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, id uuid.UUID) error
}

// SourceRepository persists Source rows and drives ingestion status.
type SourceRepository interface {
	Create(ctx context.Context, s *Source) error
	Get(ctx context.Context, id uuid.UUID) (*Source, error)
	ListByNotebook(ctx context.Context, notebookID uuid.UUID) ([]Source, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status SourceStatus, metadata map[string]any) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// ChunkRepository persists Chunks and serves top-k similarity search.
type ChunkRepository interface {
	BulkCreate(ctx context.Context, chunks []Chunk) error
	SearchByEmbedding(ctx context.Context, queryVec []float32, notebookID uuid.UUID, sourceID *uuid.UUID, topK int, threshold float64) ([]RetrievedChunk, error)
	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]Chunk, error)
	DeleteBySource(ctx context.Context, sourceID uuid.UUID) error
}

// ConversationRepository persists Conversation rows.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation) error
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListByNotebook(ctx context.Context, notebookID uuid.UUID) ([]Conversation, error)
}

// MessageRepository persists Message rows.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
}

// GenerationHistoryRepository audits derived-artifact generations.
type GenerationHistoryRepository interface {
	Create(ctx context.Context, h *GenerationHistory) error
	NextVersion(ctx context.Context, notebookID uuid.UUID, kind GenerationKind) (int, error)
	ListByNotebook(ctx context.Context, notebookID uuid.UUID, kind GenerationKind) ([]GenerationHistory, error)
}

// RateLimitResult is the outcome of a single rate-limit check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter enforces a fixed-window limit per (identity, path).
type RateLimiter interface {
	Allow(ctx context.Context, identity, path string, limit int, window time.Duration) (RateLimitResult, error)
}

// Dispatcher runs work after the HTTP response is sent, detached from
// the request's deadline and database session.
type Dispatcher interface {
	Dispatch(task func(ctx context.Context))
}
