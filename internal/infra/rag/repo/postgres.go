// Package repo implements rag's repositories against Postgres (with
// pgvector for chunk embeddings) and an in-memory test double, adapted
// from the document/chunk repositories in the uploadask reference pack.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

// PostgresNotebookRepository persists Notebooks.
type PostgresNotebookRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresNotebookRepository(pool *pgxpool.Pool) *PostgresNotebookRepository {
	return &PostgresNotebookRepository{pool: pool}
}

func (r *PostgresNotebookRepository) Create(ctx context.Context, n *rag.Notebook) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notebooks (id, owner_id, title, description, language, tone, max_context_tokens, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, n.ID, n.OwnerID, n.Title, n.Description, n.Language, n.Tone, n.MaxContextTokens, n.CreatedAt, n.UpdatedAt)
	return err
}

func (r *PostgresNotebookRepository) Get(ctx context.Context, id uuid.UUID, includeDeleted bool) (*rag.Notebook, error) {
	query := `
		SELECT id, owner_id, title, description, language, tone, max_context_tokens, created_at, updated_at, deleted_at
		FROM notebooks WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	row := r.pool.QueryRow(ctx, query, id)
	var n rag.Notebook
	if err := row.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Description, &n.Language, &n.Tone, &n.MaxContextTokens, &n.CreatedAt, &n.UpdatedAt, &n.DeletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (r *PostgresNotebookRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]rag.Notebook, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, title, description, language, tone, max_context_tokens, created_at, updated_at, deleted_at
		FROM notebooks WHERE owner_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rag.Notebook
	for rows.Next() {
		var n rag.Notebook
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Description, &n.Language, &n.Tone, &n.MaxContextTokens, &n.CreatedAt, &n.UpdatedAt, &n.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresNotebookRepository) Update(ctx context.Context, n *rag.Notebook) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notebooks SET title=$1, description=$2, language=$3, tone=$4, max_context_tokens=$5, updated_at=NOW()
		WHERE id=$6 AND deleted_at IS NULL
	`, n.Title, n.Description, n.Language, n.Tone, n.MaxContextTokens, n.ID)
	return err
}

func (r *PostgresNotebookRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE notebooks SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

func (r *PostgresNotebookRepository) Restore(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE notebooks SET deleted_at = NULL WHERE id = $1`, id)
	return err
}

var _ rag.NotebookRepository = (*PostgresNotebookRepository)(nil)

// PostgresSourceRepository persists Sources.
type PostgresSourceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSourceRepository(pool *pgxpool.Pool) *PostgresSourceRepository {
	return &PostgresSourceRepository{pool: pool}
}

func (r *PostgresSourceRepository) Create(ctx context.Context, s *rag.Source) error {
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO sources (id, notebook_id, type, title, original_url, storage_key, metadata, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.NotebookID, s.Type, s.Title, s.OriginalURL, s.StorageKey, meta, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *PostgresSourceRepository) Get(ctx context.Context, id uuid.UUID) (*rag.Source, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, notebook_id, type, title, original_url, storage_key, metadata, status, created_at, updated_at, deleted_at
		FROM sources WHERE id = $1 AND deleted_at IS NULL
	`, id)
	var s rag.Source
	var meta []byte
	if err := row.Scan(&s.ID, &s.NotebookID, &s.Type, &s.Title, &s.OriginalURL, &s.StorageKey, &meta, &s.Status, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(meta, &s.Metadata)
	return &s, nil
}

func (r *PostgresSourceRepository) ListByNotebook(ctx context.Context, notebookID uuid.UUID) ([]rag.Source, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, notebook_id, type, title, original_url, storage_key, metadata, status, created_at, updated_at, deleted_at
		FROM sources WHERE notebook_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC
	`, notebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rag.Source
	for rows.Next() {
		var s rag.Source
		var meta []byte
		if err := rows.Scan(&s.ID, &s.NotebookID, &s.Type, &s.Title, &s.OriginalURL, &s.StorageKey, &meta, &s.Status, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &s.Metadata)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresSourceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status rag.SourceStatus, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE sources SET status=$1, metadata = metadata || $2::jsonb, updated_at = NOW() WHERE id = $3
	`, status, meta, id)
	return err
}

func (r *PostgresSourceRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE sources SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

var _ rag.SourceRepository = (*PostgresSourceRepository)(nil)

// PostgresChunkRepository stores Chunks and serves cosine-similarity search.
type PostgresChunkRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresChunkRepository(pool *pgxpool.Pool) *PostgresChunkRepository {
	return &PostgresChunkRepository{pool: pool}
}

func (r *PostgresChunkRepository) BulkCreate(ctx context.Context, chunks []rag.Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		legacy, err := json.Marshal(c.EmbeddingJSON)
		if err != nil {
			return err
		}
		var vec any
		if len(c.EmbeddingVector) > 0 {
			vec = pgvector.NewVector(c.EmbeddingVector)
		}
		batch.Queue(`
			INSERT INTO chunks (id, source_id, notebook_id, plain_text, chunk_index, start_offset, end_offset, embedding_json, embedding_vector, metadata, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, c.ID, c.SourceID, c.NotebookID, c.PlainText, c.ChunkIndex, c.StartOffset, c.EndOffset, legacy, vec, meta, c.CreatedAt)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// SearchByEmbedding orders by cosine distance in Postgres (index
// friendly), over-fetching topK*3 candidates, then filters and scores
// by cosine similarity in the application layer.
func (r *PostgresChunkRepository) SearchByEmbedding(ctx context.Context, queryVec []float32, notebookID uuid.UUID, sourceID *uuid.UUID, topK int, threshold float64) ([]rag.RetrievedChunk, error) {
	overFetch := topK * 3
	if overFetch <= 0 {
		overFetch = 30
	}
	query := `
		SELECT id, source_id, notebook_id, plain_text, chunk_index, start_offset, end_offset, metadata, embedding_vector, created_at,
			(embedding_vector <=> $1) AS distance
		FROM chunks
		WHERE embedding_vector IS NOT NULL AND notebook_id = $2
	`
	args := []any{pgvector.NewVector(queryVec), notebookID}
	argPos := 3
	if sourceID != nil {
		query += ` AND source_id = $` + itoa(argPos)
		args = append(args, *sourceID)
		argPos++
	}
	query += ` ORDER BY distance ASC LIMIT $` + itoa(argPos)
	args = append(args, overFetch)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []rag.RetrievedChunk
	for rows.Next() {
		var (
			c            rag.Chunk
			meta         []byte
			embeddingRaw any
			distance     float64
		)
		if err := rows.Scan(&c.ID, &c.SourceID, &c.NotebookID, &c.PlainText, &c.ChunkIndex, &c.StartOffset, &c.EndOffset, &meta, &embeddingRaw, &c.CreatedAt, &distance); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &c.Metadata)
		vec, err := normalizeEmbedding(embeddingRaw)
		if err != nil {
			return nil, err
		}
		c.EmbeddingVector = vec
		similarity := cosineSimilarity(queryVec, vec)
		candidates = append(candidates, rag.RetrievedChunk{Chunk: c, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return filterByThreshold(candidates, threshold, topK), nil
}

// ListBySource returns every chunk for a source in index order, used by
// generation (summary/quiz/guide/mindmap) to assemble full source text
// without going through similarity search.
func (r *PostgresChunkRepository) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]rag.Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, source_id, notebook_id, plain_text, chunk_index, start_offset, end_offset, metadata, created_at
		FROM chunks WHERE source_id = $1 ORDER BY chunk_index ASC
	`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rag.Chunk
	for rows.Next() {
		var (
			c    rag.Chunk
			meta []byte
		)
		if err := rows.Scan(&c.ID, &c.SourceID, &c.NotebookID, &c.PlainText, &c.ChunkIndex, &c.StartOffset, &c.EndOffset, &meta, &c.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &c.Metadata)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresChunkRepository) DeleteBySource(ctx context.Context, sourceID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chunks WHERE source_id = $1`, sourceID)
	return err
}

var _ rag.ChunkRepository = (*PostgresChunkRepository)(nil)

// PostgresConversationRepository persists Conversations.
type PostgresConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresConversationRepository(pool *pgxpool.Pool) *PostgresConversationRepository {
	return &PostgresConversationRepository{pool: pool}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c *rag.Conversation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations (id, notebook_id, user_id, title, mode, source_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.NotebookID, c.UserID, c.Title, c.Mode, c.SourceID, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *PostgresConversationRepository) Get(ctx context.Context, id uuid.UUID) (*rag.Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, notebook_id, user_id, title, mode, source_id, created_at, updated_at, deleted_at
		FROM conversations WHERE id = $1 AND deleted_at IS NULL
	`, id)
	var c rag.Conversation
	if err := row.Scan(&c.ID, &c.NotebookID, &c.UserID, &c.Title, &c.Mode, &c.SourceID, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresConversationRepository) ListByNotebook(ctx context.Context, notebookID uuid.UUID) ([]rag.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, notebook_id, user_id, title, mode, source_id, created_at, updated_at, deleted_at
		FROM conversations WHERE notebook_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC
	`, notebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rag.Conversation
	for rows.Next() {
		var c rag.Conversation
		if err := rows.Scan(&c.ID, &c.NotebookID, &c.UserID, &c.Title, &c.Mode, &c.SourceID, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ rag.ConversationRepository = (*PostgresConversationRepository)(nil)

// PostgresMessageRepository persists Messages.
type PostgresMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageRepository(pool *pgxpool.Pool) *PostgresMessageRepository {
	return &PostgresMessageRepository{pool: pool}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *rag.Message) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	chunkIDs := make([]string, len(m.ChunkIDs))
	for i, id := range m.ChunkIDs {
		chunkIDs[i] = id.String()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, chunk_ids, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, m.ID, m.ConversationID, m.Role, m.Content, chunkIDs, meta, m.CreatedAt)
	return err
}

func (r *PostgresMessageRepository) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]rag.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, chunk_ids, metadata, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rag.Message
	for rows.Next() {
		var (
			m        rag.Message
			meta     []byte
			chunkIDs []string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &chunkIDs, &meta, &m.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &m.Metadata)
		for _, s := range chunkIDs {
			if id, err := uuid.Parse(s); err == nil {
				m.ChunkIDs = append(m.ChunkIDs, id)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows arrive newest-first; callers that build chat context need
	// chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

var _ rag.MessageRepository = (*PostgresMessageRepository)(nil)

// PostgresGenerationHistoryRepository audits derived-artifact generations.
type PostgresGenerationHistoryRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresGenerationHistoryRepository(pool *pgxpool.Pool) *PostgresGenerationHistoryRepository {
	return &PostgresGenerationHistoryRepository{pool: pool}
}

func (r *PostgresGenerationHistoryRepository) Create(ctx context.Context, h *rag.GenerationHistory) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO generation_history (id, notebook_id, user_id, kind, model_name, version, content, preview, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, h.ID, h.NotebookID, h.UserID, h.Kind, h.ModelName, h.Version, h.Content, h.Preview, h.CreatedAt)
	return err
}

func (r *PostgresGenerationHistoryRepository) NextVersion(ctx context.Context, notebookID uuid.UUID, kind rag.GenerationKind) (int, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM generation_history
		WHERE notebook_id = $1 AND kind = $2 AND deleted_at IS NULL
	`, notebookID, kind)
	var next int
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (r *PostgresGenerationHistoryRepository) ListByNotebook(ctx context.Context, notebookID uuid.UUID, kind rag.GenerationKind) ([]rag.GenerationHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, notebook_id, user_id, kind, model_name, version, content, preview, created_at, deleted_at
		FROM generation_history
		WHERE notebook_id = $1 AND kind = $2 AND deleted_at IS NULL
		ORDER BY version DESC
	`, notebookID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rag.GenerationHistory
	for rows.Next() {
		var h rag.GenerationHistory
		if err := rows.Scan(&h.ID, &h.NotebookID, &h.UserID, &h.Kind, &h.ModelName, &h.Version, &h.Content, &h.Preview, &h.CreatedAt, &h.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

var _ rag.GenerationHistoryRepository = (*PostgresGenerationHistoryRepository)(nil)

func itoa(v int) string { return strconv.Itoa(v) }

func normalizeEmbedding(raw any) ([]float32, error) {
	switch v := raw.(type) {
	case pgvector.Vector:
		return append([]float32(nil), v.Slice()...), nil
	case []float32:
		return append([]float32(nil), v...), nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		trimmed = strings.TrimPrefix(trimmed, "[")
		trimmed = strings.TrimSuffix(trimmed, "]")
		if trimmed == "" {
			return nil, nil
		}
		parts := strings.Split(trimmed, ",")
		out := make([]float32, 0, len(parts))
		for _, p := range parts {
			numStr := strings.TrimSpace(p)
			if numStr == "" {
				continue
			}
			f, err := strconv.ParseFloat(numStr, 32)
			if err != nil {
				return nil, err
			}
			out = append(out, float32(f))
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported embedding type %T", raw)
	}
}

// cosineSimilarity computes cos(theta) between two equal-length vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// filterByThreshold keeps candidates with similarity >= threshold,
// writing the score into each chunk's metadata, and returns at most
// topK of them, preserving the DB's cosine-distance ordering.
func filterByThreshold(candidates []rag.RetrievedChunk, threshold float64, topK int) []rag.RetrievedChunk {
	var out []rag.RetrievedChunk
	for _, cand := range candidates {
		if cand.Similarity < threshold {
			continue
		}
		if cand.Chunk.Metadata == nil {
			cand.Chunk.Metadata = map[string]any{}
		}
		cand.Chunk.Metadata["similarity_score"] = cand.Similarity
		out = append(out, cand)
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out
}
