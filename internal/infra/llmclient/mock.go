package llmclient

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

// Mock is a deterministic rag.LLMClient used when no LLM API key is
// configured, following the fallback rule: real if the key is present,
// otherwise a canned implementation. Embeddings are hashed into stable
// pseudo-random vectors so retrieval and caching tests behave
// predictably without network access.
type Mock struct {
	dim int
}

// NewMock constructs a deterministic mock of the given embedding dimension.
func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 32
	}
	return &Mock{dim: dim}
}

var _ rag.LLMClient = (*Mock)(nil)

func (m *Mock) GenerateChat(_ context.Context, messages []rag.ChatMessage, _ rag.ChatOptions) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	last := messages[len(messages)-1]
	return fmt.Sprintf("mock response to: %s", last.Content), nil
}

func (m *Mock) GenerateEmbeddings(_ context.Context, texts []string, _ string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = deterministicVector(text, m.dim)
	}
	return vectors, nil
}

func deterministicVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(text))
	seed := hash.Sum64()
	for i := 0; i < dim; i++ {
		seed = seed*1099511628211 + 1469598103934665603
		vector[i] = float32(seed%997) / 997.0
	}
	return vector
}

func (m *Mock) GenerateQuiz(context.Context, string, int, string) (map[string]any, error) {
	return map[string]any{"questions": []any{}}, nil
}

func (m *Mock) GenerateSummary(context.Context, string) (map[string]any, error) {
	return map[string]any{"summary": "", "key_points": []any{}}, nil
}

func (m *Mock) GenerateStudyGuide(context.Context, string) (map[string]any, error) {
	return map[string]any{"sections": []any{}}, nil
}

func (m *Mock) GenerateMindmap(context.Context, string, string) (map[string]any, error) {
	return map[string]any{"root": "", "children": []any{}}, nil
}
