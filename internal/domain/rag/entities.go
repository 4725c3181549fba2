package rag

import (
	"time"

	"github.com/google/uuid"
)

// SourceType identifies how a Source's bytes were acquired.
type SourceType string

const (
	SourceTypePDF  SourceType = "pdf"
	SourceTypeURL  SourceType = "url"
	SourceTypeText SourceType = "text"
)

// SourceStatus tracks the ingestion state machine.
type SourceStatus string

const (
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusCompleted  SourceStatus = "completed"
	SourceStatusFailed     SourceStatus = "failed"
)

// ConversationMode selects the system prompt used for a conversation.
type ConversationMode string

const (
	ModeChat         ConversationMode = "chat"
	ModeTutor        ConversationMode = "tutor"
	ModeFactChecker  ConversationMode = "fact-checker"
	ModeBrainstormer ConversationMode = "brainstormer"
)

// MessageRole identifies the speaker of a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// GenerationKind tags the type of derived artifact recorded in history.
type GenerationKind string

const (
	GenerationSummary     GenerationKind = "summary"
	GenerationQuiz        GenerationKind = "quiz"
	GenerationStudyGuide  GenerationKind = "guide"
	GenerationMindmap     GenerationKind = "mindmap"
)

// GenerationHistoryRetention is the default audit retention window.
// Enforcement mechanism (scheduled job vs read-time filter) is left to
// the deployment; this constant is the only behavior spec.md pins down.
const GenerationHistoryRetention = 90 * 24 * time.Hour

// Notebook is the top-level tenant-scoped container for study material.
type Notebook struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Title           string
	Description     *string
	Language        string
	Tone            string
	MaxContextTokens int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Source is one ingested document owned by a Notebook.
type Source struct {
	ID          uuid.UUID
	NotebookID  uuid.UUID
	Type        SourceType
	Title       string
	OriginalURL *string
	StorageKey  *string
	Metadata    map[string]any
	Status      SourceStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Chunk is a contiguous span of a Source's text plus its embedding.
type Chunk struct {
	ID             uuid.UUID
	SourceID       uuid.UUID
	NotebookID     uuid.UUID
	PlainText      string
	ChunkIndex     int
	StartOffset    *int
	EndOffset      *int
	EmbeddingJSON  []float32
	EmbeddingVector []float32
	Metadata       map[string]any
	CreatedAt      time.Time
}

// Conversation is a thread of Messages scoped to a Notebook and user.
type Conversation struct {
	ID         uuid.UUID
	NotebookID uuid.UUID
	UserID     uuid.UUID
	Title      *string
	Mode       ConversationMode
	SourceID   *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Message is one turn in a Conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           MessageRole
	Content        string
	ChunkIDs       []uuid.UUID
	Metadata       map[string]any
	CreatedAt      time.Time
}

// GenerationHistory audits a derived-artifact generation call.
type GenerationHistory struct {
	ID         uuid.UUID
	NotebookID uuid.UUID
	UserID     uuid.UUID
	Kind       GenerationKind
	ModelName  string
	Version    int
	Content    string
	Preview    string
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// Quiz is a versioned quiz artifact for a notebook. No repository stores
// it; generated quizzes are recorded as GenerationHistory rows.
type Quiz struct {
	ID         uuid.UUID
	NotebookID uuid.UUID
	SourceID   *uuid.UUID
	HistoryID  uuid.UUID
	Content    map[string]any
	Version    int
	CreatedAt  time.Time
}

// StudyGuide is a versioned study-guide artifact. No repository stores
// it; generated guides are recorded as GenerationHistory rows.
type StudyGuide struct {
	ID         uuid.UUID
	NotebookID uuid.UUID
	SourceID   *uuid.UUID
	HistoryID  uuid.UUID
	Content    map[string]any
	Version    int
	CreatedAt  time.Time
}

// RetrievedChunk is a Chunk annotated with its similarity score for a query.
type RetrievedChunk struct {
	Chunk      Chunk
	Similarity float64
}
