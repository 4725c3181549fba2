package rag

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/studyforge/notebook-api/pkg/errors"
)

// Config tunes the ingestion and retrieval pipelines.
type Config struct {
	MaxFileBytes        int64
	AllowedExtensions   map[string]bool
	TopK                int
	SimilarityThreshold float64
	HistoryLimit        int
	PromptHistoryLimit  int
	PresignTTL          time.Duration
	FetchTimeout        time.Duration
	ChatTemperature     float32
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileBytes:        50 << 20,
		AllowedExtensions:   map[string]bool{"pdf": true, "txt": true, "md": true},
		TopK:                5,
		SimilarityThreshold: 0.7,
		HistoryLimit:        10,
		PromptHistoryLimit:  5,
		PresignTTL:          600 * time.Second,
		FetchTimeout:        60 * time.Second,
		ChatTemperature:     0.7,
	}
}

// PDFExtractor extracts plain text from PDF bytes. It is a narrow seam
// so the domain service never imports a PDF library directly.
type PDFExtractor func(data []byte) (string, error)

// URLFetcher retrieves the bytes behind an external URL. It is a narrow
// seam so the domain service never imports net/http concerns directly.
type URLFetcher func(ctx context.Context, rawURL string) ([]byte, error)

// Service orchestrates ingestion and RAG-grounded chat for notebooks.
type Service struct {
	cfg Config

	notebooks     NotebookRepository
	sources       SourceRepository
	chunks        ChunkRepository
	conversations ConversationRepository
	messages      MessageRepository
	history       GenerationHistoryRepository

	storage    StorageProvider
	llm        LLMClient
	chunker    Chunker
	dispatcher Dispatcher
	extractPDF PDFExtractor
	fetchURL   URLFetcher
	tokens     TokenCounter

	logger *slog.Logger
}

// NewService wires a Service from its repository and infra dependencies.
func NewService(
	cfg Config,
	notebooks NotebookRepository,
	sources SourceRepository,
	chunks ChunkRepository,
	conversations ConversationRepository,
	messages MessageRepository,
	history GenerationHistoryRepository,
	storage StorageProvider,
	llm LLMClient,
	chunker Chunker,
	dispatcher Dispatcher,
	extractPDF PDFExtractor,
	fetchURL URLFetcher,
	tokens TokenCounter,
	logger *slog.Logger,
) *Service {
	return &Service{
		cfg:           cfg,
		notebooks:     notebooks,
		sources:       sources,
		chunks:        chunks,
		conversations: conversations,
		messages:      messages,
		history:       history,
		storage:       storage,
		llm:           llm,
		chunker:       chunker,
		dispatcher:    dispatcher,
		extractPDF:    extractPDF,
		fetchURL:      fetchURL,
		tokens:        tokens,
		logger:        logger.With("component", "rag.service"),
	}
}

// IngestedSource is the per-file outcome returned by IngestUpload.
type IngestedSource struct {
	SourceID uuid.UUID
	Title    string
	Status   SourceStatus
}

// UploadFile is one file in a bulk upload request.
type UploadFile struct {
	Filename string
	Content  []byte
}

// IngestUpload validates the inputs, creates one Source per accepted
// input (files, a URL, or raw text), and dispatches ProcessSource for
// each in the background. Rejected files are skipped, not fatal.
func (s *Service) IngestUpload(ctx context.Context, notebookID uuid.UUID, files []UploadFile, sourceURL, text, title string) ([]IngestedSource, error) {
	notebook, err := s.notebooks.Get(ctx, notebookID, false)
	if err != nil {
		return nil, apperrors.Internal("failed to load notebook", err)
	}
	if notebook == nil {
		return nil, apperrors.NotFound("notebook not found")
	}

	var out []IngestedSource

	for _, f := range files {
		ext := extensionOf(f.Filename)
		if int64(len(f.Content)) > s.cfg.MaxFileBytes || !s.cfg.AllowedExtensions[ext] {
			s.logger.Warn("rejected file in bulk upload", "filename", f.Filename, "size", len(f.Content), "ext", ext)
			continue
		}
		fileTitle := firstNonEmpty(title, f.Filename)
		src, ingestErr := s.createSourceAndDispatch(ctx, notebookID, sourceTypeForExt(ext), fileTitle, nil, f.Content)
		if ingestErr != nil {
			return nil, ingestErr
		}
		out = append(out, src)
	}

	if strings.TrimSpace(sourceURL) != "" {
		fileTitle := firstNonEmpty(title, sourceURL)
		src, ingestErr := s.createSourceAndDispatch(ctx, notebookID, SourceTypeURL, fileTitle, &sourceURL, nil)
		if ingestErr != nil {
			return nil, ingestErr
		}
		out = append(out, src)
	}

	if strings.TrimSpace(text) != "" {
		fileTitle := firstNonEmpty(title, "Pasted text")
		src, ingestErr := s.createSourceAndDispatch(ctx, notebookID, SourceTypeText, fileTitle, nil, []byte(text))
		if ingestErr != nil {
			return nil, ingestErr
		}
		out = append(out, src)
	}

	if len(out) == 0 {
		return nil, apperrors.Validation("no valid input provided", nil)
	}
	return out, nil
}

func (s *Service) createSourceAndDispatch(ctx context.Context, notebookID uuid.UUID, typ SourceType, title string, originalURL *string, content []byte) (IngestedSource, error) {
	now := time.Now()
	src := &Source{
		ID:         uuid.New(),
		NotebookID: notebookID,
		Type:       typ,
		Title:      title,
		Status:     SourceStatusProcessing,
		Metadata:   map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var storageKey string
	if originalURL != nil {
		src.OriginalURL = originalURL
		storageKey = *originalURL
	} else {
		storageKey = fmt.Sprintf("%s/notebooks/%s/sources/%d-%s", notebookID, notebookID, now.UnixMilli(), sanitizeFilename(title))
		if _, err := s.storage.Store(ctx, storageKey, content, nil); err != nil {
			return IngestedSource{}, apperrors.External("failed to store source bytes", err)
		}
	}
	src.StorageKey = &storageKey

	if err := s.sources.Create(ctx, src); err != nil {
		return IngestedSource{}, apperrors.Internal("failed to persist source", err)
	}

	sourceID := src.ID
	key := storageKey
	s.dispatcher.Dispatch(func(bgCtx context.Context) {
		s.ProcessSource(bgCtx, sourceID, key)
	})

	return IngestedSource{SourceID: src.ID, Title: src.Title, Status: src.Status}, nil
}

// ProcessSource runs the ingestion state machine for a single source:
// fetch bytes, extract text, chunk, embed, persist, and mark the
// terminal status. It never leaves a Source stuck in `processing`.
func (s *Service) ProcessSource(ctx context.Context, sourceID uuid.UUID, storageKey string) {
	src, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		s.logger.Error("process_source: load failed", "source_id", sourceID, "error", err)
		return
	}
	if src == nil {
		return
	}

	if err := s.sources.UpdateStatus(ctx, sourceID, SourceStatusProcessing, nil); err != nil {
		s.logger.Error("process_source: set processing failed", "source_id", sourceID, "error", err)
		return
	}

	if failReason := s.runIngestion(ctx, src, normalizeStorageKey(storageKey)); failReason != "" {
		_ = s.sources.UpdateStatus(ctx, sourceID, SourceStatusFailed, map[string]any{"error": failReason})
		s.logger.Warn("process_source: failed", "source_id", sourceID, "reason", failReason)
		return
	}

	if err := s.sources.UpdateStatus(ctx, sourceID, SourceStatusCompleted, nil); err != nil {
		s.logger.Error("process_source: set completed failed", "source_id", sourceID, "error", err)
	}
}

// runIngestion performs steps 4-7 of the ingestion algorithm, returning
// a non-empty failure reason on any terminal error.
func (s *Service) runIngestion(ctx context.Context, src *Source, storageKey string) string {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	// A presigned URL is requested per the contract even though the
	// in-process fetch below reads via StorageProvider directly; real
	// deployments may front Retrieve with the signed URL instead. URL
	// sources have no object-store key yet, so this step is skipped.
	if src.Type != SourceTypeURL {
		if _, err := s.storage.GetSignedURL(fetchCtx, storageKey, s.cfg.PresignTTL); err != nil {
			s.logger.Warn("process_source: presign failed, continuing with direct retrieve", "error", err)
		}
	}

	text, err := s.extractText(fetchCtx, src, storageKey)
	if err != nil {
		return err.Error()
	}
	if strings.TrimSpace(text) == "" {
		return "No text extracted"
	}

	candidates := s.chunker.Chunk(text)
	if len(candidates) == 0 {
		return "No text extracted"
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	embeddings, err := s.llm.GenerateEmbeddings(ctx, texts, "")
	if err != nil {
		return fmt.Sprintf("embedding failed: %v", err)
	}
	if len(embeddings) != len(candidates) {
		return "embedding count mismatch"
	}

	now := time.Now()
	chunks := make([]Chunk, len(candidates))
	for i, c := range candidates {
		start, end := c.StartOffset, c.EndOffset
		chunks[i] = Chunk{
			ID:              uuid.New(),
			SourceID:        src.ID,
			NotebookID:      src.NotebookID,
			PlainText:       c.Text,
			ChunkIndex:      c.ChunkIndex,
			StartOffset:     &start,
			EndOffset:       &end,
			EmbeddingJSON:   embeddings[i],
			EmbeddingVector: embeddings[i],
			Metadata:        map[string]any{"tokenCount": c.TokenCount},
			CreatedAt:       now,
		}
	}
	if err := s.chunks.BulkCreate(ctx, chunks); err != nil {
		return fmt.Sprintf("failed to persist chunks: %v", err)
	}
	return ""
}

func (s *Service) extractText(ctx context.Context, src *Source, storageKey string) (string, error) {
	if src.Type == SourceTypeText {
		data, err := s.storage.Retrieve(ctx, storageKey)
		if err != nil {
			return "", fmt.Errorf("failed to read stored text: %w", err)
		}
		return string(data), nil
	}

	if src.Type == SourceTypeURL {
		if s.fetchURL == nil {
			return "", fmt.Errorf("Unsupported file type")
		}
		data, err := s.fetchURL(ctx, derefString(src.OriginalURL))
		if err != nil {
			return "", fmt.Errorf("failed to fetch url: %w", err)
		}
		return s.decodeByExtension(extensionOfURL(derefString(src.OriginalURL)), data)
	}

	data, err := s.storage.Retrieve(ctx, storageKey)
	if err != nil {
		return "", fmt.Errorf("failed to fetch source bytes: %w", err)
	}
	return s.decodeByExtension(extensionOf(storageKey), data)
}

// decodeByExtension routes raw source bytes through the extractor that
// matches ext, regardless of whether the bytes came from object storage
// or a fetched URL — a PDF served from a URL still needs extractPDF.
func (s *Service) decodeByExtension(ext string, data []byte) (string, error) {
	switch ext {
	case "pdf":
		if s.extractPDF == nil {
			return "", fmt.Errorf("pdf extraction unavailable")
		}
		return s.extractPDF(data)
	case "txt", "md", "":
		return string(data), nil
	default:
		return "", fmt.Errorf("Unsupported file type")
	}
}

// SendMessageWithRAG embeds userMessage, retrieves grounding chunks from
// the notebook's vector index, and generates a grounded reply.
func (s *Service) SendMessageWithRAG(ctx context.Context, conversationID, userID uuid.UUID, userMessage string) (*Message, error) {
	conv, recent, err := s.loadAuthorizedConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	queryVec, err := s.embedQuery(ctx, userMessage)
	if err != nil {
		return nil, err
	}

	retrieved, err := s.chunks.SearchByEmbedding(ctx, queryVec, conv.NotebookID, conv.SourceID, s.cfg.TopK, s.cfg.SimilarityThreshold)
	if err != nil {
		return nil, apperrors.External("chunk search failed", err)
	}

	retrieved = s.truncateToContextBudget(ctx, conv.NotebookID, retrieved)
	systemPrompt := buildRAGSystemPrompt(retrieved)
	messages := s.assemblePrompt(systemPrompt, recent, userMessage)
	answer := s.generateOrApologize(ctx, messages)

	chunkIDs := make([]uuid.UUID, len(retrieved))
	for i, r := range retrieved {
		chunkIDs[i] = r.Chunk.ID
	}
	return s.persistTurn(ctx, conversationID, userMessage, answer, chunkIDs)
}

// SendMessageWithContext is the non-retrieval variant: it selects a
// fixed system prompt by conversation mode instead of grounding chunks.
func (s *Service) SendMessageWithContext(ctx context.Context, conversationID, userID uuid.UUID, userMessage string) (*Message, error) {
	conv, recent, err := s.loadAuthorizedConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	systemPrompt := modeSystemPrompts[conv.Mode]
	if systemPrompt == "" {
		systemPrompt = modeSystemPrompts[ModeChat]
	}
	messages := s.assemblePrompt(systemPrompt, recent, userMessage)
	answer := s.generateOrApologize(ctx, messages)

	return s.persistTurn(ctx, conversationID, userMessage, answer, nil)
}

var modeSystemPrompts = map[ConversationMode]string{
	ModeChat:         "You are a helpful study assistant.",
	ModeTutor:        "You are a patient tutor. Explain concepts step by step and check understanding before moving on.",
	ModeFactChecker:  "You are a fact checker. Scrutinize claims, point out uncertainty, and flag anything unverifiable.",
	ModeBrainstormer: "You are a creative brainstorming partner. Offer multiple divergent ideas before narrowing down.",
}

func (s *Service) loadAuthorizedConversation(ctx context.Context, conversationID, userID uuid.UUID) (*Conversation, []Message, error) {
	var conv *Conversation
	var recent []Message
	var convErr, msgErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		conv, convErr = s.conversations.Get(ctx, conversationID)
	}()
	go func() {
		defer wg.Done()
		recent, msgErr = s.messages.ListRecent(ctx, conversationID, s.cfg.HistoryLimit)
	}()
	wg.Wait()

	if convErr != nil {
		return nil, nil, apperrors.Internal("failed to load conversation", convErr)
	}
	if conv == nil || conv.UserID != userID {
		return nil, nil, apperrors.NotFound("conversation not found")
	}
	if msgErr != nil {
		s.logger.Warn("failed to load recent messages", "error", msgErr)
		recent = nil
	}
	return conv, recent, nil
}

func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.llm.GenerateEmbeddings(ctx, []string{text}, "")
	if err != nil {
		return nil, apperrors.External("failed to embed query", err)
	}
	if len(embeddings) == 0 {
		return nil, apperrors.External("no embedding returned", nil)
	}
	return embeddings[0], nil
}

// truncateToContextBudget drops the lowest-ranked retrieved chunks
// (SearchByEmbedding returns them ordered best-match first) once their
// cumulative token count would exceed the notebook's MaxContextTokens.
// A notebook with no configured budget (<=0) is passed through
// unmodified. Failure to load the notebook is non-fatal: the caller
// already has retrieved chunks worth answering with, so this degrades
// to no truncation rather than failing the chat turn.
func (s *Service) truncateToContextBudget(ctx context.Context, notebookID uuid.UUID, retrieved []RetrievedChunk) []RetrievedChunk {
	if len(retrieved) == 0 || s.tokens == nil {
		return retrieved
	}
	notebook, err := s.notebooks.Get(ctx, notebookID, false)
	if err != nil || notebook == nil || notebook.MaxContextTokens <= 0 {
		return retrieved
	}

	budget := notebook.MaxContextTokens
	kept := make([]RetrievedChunk, 0, len(retrieved))
	used := 0
	for _, r := range retrieved {
		count := s.tokens.Count(r.Chunk.PlainText)
		if used > 0 && used+count > budget {
			break
		}
		kept = append(kept, r)
		used += count
	}
	if len(kept) == 0 {
		kept = retrieved[:1]
	}
	return kept
}

func buildRAGSystemPrompt(retrieved []RetrievedChunk) string {
	if len(retrieved) == 0 {
		return modeSystemPrompts[ModeChat]
	}
	var b strings.Builder
	b.WriteString("You are a helpful study assistant. Answer using only the context below; if it doesn't contain the answer, say so.\n\n")
	for i, r := range retrieved {
		fmt.Fprintf(&b, "[Chunk %d]: %s\n\n", i, r.Chunk.PlainText)
	}
	return strings.TrimSpace(b.String())
}

func (s *Service) assemblePrompt(systemPrompt string, recent []Message, userMessage string) []ChatMessage {
	messages := []ChatMessage{{Role: "system", Content: systemPrompt}}

	history := recent
	if len(history) > s.cfg.PromptHistoryLimit {
		history = history[len(history)-s.cfg.PromptHistoryLimit:]
	}
	for _, m := range history {
		messages = append(messages, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: userMessage})
	return messages
}

func (s *Service) generateOrApologize(ctx context.Context, messages []ChatMessage) string {
	answer, err := s.llm.GenerateChat(ctx, messages, ChatOptions{Temperature: s.cfg.ChatTemperature})
	if err != nil || strings.TrimSpace(answer) == "" {
		s.logger.Warn("chat generation failed, returning apology", "error", err)
		return "I'm sorry, I wasn't able to generate a response just now. Please try again."
	}
	return answer
}

func (s *Service) persistTurn(ctx context.Context, conversationID uuid.UUID, userMessage, answer string, chunkIDs []uuid.UUID) (*Message, error) {
	now := time.Now()
	userMsg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        userMessage,
		ChunkIDs:       chunkIDs,
		CreatedAt:      now,
	}
	if err := s.messages.Create(ctx, userMsg); err != nil {
		return nil, apperrors.Internal("failed to persist user message", err)
	}

	assistantMsg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        answer,
		ChunkIDs:       chunkIDs,
		CreatedAt:      time.Now(),
	}
	if err := s.messages.Create(ctx, assistantMsg); err != nil {
		return nil, apperrors.Internal("failed to persist assistant message", err)
	}
	return assistantMsg, nil
}

func normalizeStorageKey(key string) string {
	u, err := url.Parse(key)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return key
	}
	return strings.TrimPrefix(u.Path, "/")
}

func extensionOf(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	return ext
}

// extensionOfURL strips query/fragment before extension detection so
// "https://host/report.pdf?download=1" still matches "pdf".
func extensionOfURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return extensionOf(raw)
	}
	return extensionOf(parsed.Path)
}

func sourceTypeForExt(ext string) SourceType {
	if ext == "pdf" {
		return SourceTypePDF
	}
	return SourceTypeText
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		return "file"
	}
	return name
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
