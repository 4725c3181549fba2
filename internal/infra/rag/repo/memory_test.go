package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

func TestMemoryNotebookRepository_SoftDeleteExcludesFromListAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryNotebookRepository()
	owner := uuid.New()
	n := &rag.Notebook{ID: uuid.New(), OwnerID: owner, Title: "n1", CreatedAt: time.Now()}
	require.NoError(t, r.Create(ctx, n))

	require.NoError(t, r.SoftDelete(ctx, n.ID))

	got, err := r.Get(ctx, n.ID, false)
	require.NoError(t, err)
	require.Nil(t, got)

	list, err := r.ListByOwner(ctx, owner)
	require.NoError(t, err)
	require.Empty(t, list)

	got, err = r.Get(ctx, n.ID, true)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, r.Restore(ctx, n.ID))
	got, err = r.Get(ctx, n.ID, false)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestMemoryNotebookRepository_CrossTenantIsolation(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryNotebookRepository()
	ownerA, ownerB := uuid.New(), uuid.New()
	require.NoError(t, r.Create(ctx, &rag.Notebook{ID: uuid.New(), OwnerID: ownerA, Title: "a", CreatedAt: time.Now()}))
	require.NoError(t, r.Create(ctx, &rag.Notebook{ID: uuid.New(), OwnerID: ownerB, Title: "b", CreatedAt: time.Now()}))

	listA, err := r.ListByOwner(ctx, ownerA)
	require.NoError(t, err)
	require.Len(t, listA, 1)
	require.Equal(t, "a", listA[0].Title)
}

func vec(values ...float32) []float32 { return values }

func TestMemoryChunkRepository_SearchByEmbeddingRespectsThresholdAndTopK(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryChunkRepository()
	notebookID := uuid.New()

	chunks := []rag.Chunk{
		{ID: uuid.New(), NotebookID: notebookID, SourceID: uuid.New(), PlainText: "exact", EmbeddingVector: vec(1, 0, 0)},
		{ID: uuid.New(), NotebookID: notebookID, SourceID: uuid.New(), PlainText: "close", EmbeddingVector: vec(0.9, 0.1, 0)},
		{ID: uuid.New(), NotebookID: notebookID, SourceID: uuid.New(), PlainText: "orthogonal", EmbeddingVector: vec(0, 1, 0)},
	}
	require.NoError(t, r.BulkCreate(ctx, chunks))

	results, err := r.SearchByEmbedding(ctx, vec(1, 0, 0), notebookID, nil, 5, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2, "the orthogonal chunk is below the similarity threshold")
	require.Equal(t, "exact", results[0].Chunk.PlainText, "best match first")

	results, err = r.SearchByEmbedding(ctx, vec(1, 0, 0), notebookID, nil, 1, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1, "topK caps the result set")
}

func TestMemoryChunkRepository_SearchScopedToSource(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryChunkRepository()
	notebookID := uuid.New()
	sourceA, sourceB := uuid.New(), uuid.New()

	require.NoError(t, r.BulkCreate(ctx, []rag.Chunk{
		{ID: uuid.New(), NotebookID: notebookID, SourceID: sourceA, PlainText: "from-a", EmbeddingVector: vec(1, 0)},
		{ID: uuid.New(), NotebookID: notebookID, SourceID: sourceB, PlainText: "from-b", EmbeddingVector: vec(1, 0)},
	}))

	results, err := r.SearchByEmbedding(ctx, vec(1, 0), notebookID, &sourceA, 5, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "from-a", results[0].Chunk.PlainText)
}

func TestMemoryChunkRepository_DeleteBySource(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryChunkRepository()
	notebookID := uuid.New()
	sourceID := uuid.New()
	require.NoError(t, r.BulkCreate(ctx, []rag.Chunk{
		{ID: uuid.New(), NotebookID: notebookID, SourceID: sourceID, EmbeddingVector: vec(1, 0)},
	}))

	require.NoError(t, r.DeleteBySource(ctx, sourceID))

	chunks, err := r.ListBySource(ctx, sourceID)
	require.NoError(t, err)
	require.Empty(t, chunks)
}
