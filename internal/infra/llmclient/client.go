// Package llmclient adapts the chatgpt HTTP client into rag.LLMClient,
// adding batched/cached embedding generation, chat-response caching,
// and tolerant JSON parsing for derived-artifact generation.
package llmclient

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/studyforge/notebook-api/internal/domain/rag"
	"github.com/studyforge/notebook-api/internal/infra/llm/chatgpt"
	apperrors "github.com/studyforge/notebook-api/pkg/errors"
)

// Config tunes batching, caching and retry behavior.
type Config struct {
	ChatModel            string
	EmbeddingModel       string
	BatchSize            int
	MaxConcurrentBatches int
	ChatCacheTTL         time.Duration
	EmbeddingCacheTTL    time.Duration
	MaxRetries           int
	RetryBaseDelay       time.Duration
}

// DefaultConfig matches spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		ChatModel:            "gpt-4o-mini",
		EmbeddingModel:       "text-embedding-3-small",
		BatchSize:            20,
		MaxConcurrentBatches: 3,
		ChatCacheTTL:         600 * time.Second,
		EmbeddingCacheTTL:    86400 * time.Second,
		MaxRetries:           3,
		RetryBaseDelay:       time.Second,
	}
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req chatgpt.ChatCompletionRequest) (chatgpt.ChatCompletionResponse, error)
	CreateEmbedding(ctx context.Context, req chatgpt.EmbeddingRequest) (chatgpt.EmbeddingResponse, error)
}

// Client is the production rag.LLMClient backed by an OpenAI-compatible
// chat/embedding HTTP API with a cache-backed fast path.
type Client struct {
	cfg    Config
	raw    chatClient
	cache  rag.CacheProvider
	logger *slog.Logger
}

// New constructs a Client. cache may be nil, in which case caching is
// skipped entirely (every call reaches the upstream API).
func New(cfg Config, raw *chatgpt.Client, cache rag.CacheProvider, logger *slog.Logger) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = DefaultConfig().MaxConcurrentBatches
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}
	return &Client{cfg: cfg, raw: raw, cache: cache, logger: logger.With("component", "llmclient")}
}

var _ rag.LLMClient = (*Client)(nil)

// GenerateChat performs a chat completion, serving from cache when the
// call is deterministic enough to be worth memoizing (temperature<=0.7).
func (c *Client) GenerateChat(ctx context.Context, messages []rag.ChatMessage, opts rag.ChatOptions) (string, error) {
	req := c.buildChatRequest(messages, opts)
	cacheable := opts.Temperature <= 0.7 && c.cache != nil

	var cacheKey string
	if cacheable {
		cacheKey = "llm:chat:" + c.hashChatRequest(req)
		var cached string
		if ok, _ := c.cache.Get(ctx, cacheKey, &cached); ok {
			return cached, nil
		}
	}

	resp, err := c.raw.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if !resp.Usage.IsZero() {
		c.logger.Debug("chat completion token usage",
			"promptTokens", resp.Usage.PromptTokens,
			"completionTokens", resp.Usage.CompletionTokens,
			"totalTokens", resp.Usage.TotalTokens)
	}

	if cacheable {
		if err := c.cache.Set(ctx, cacheKey, text, c.cfg.ChatCacheTTL); err != nil {
			c.logger.Warn("chat cache write failed", "error", err)
		}
	}
	return text, nil
}

func (c *Client) buildChatRequest(messages []rag.ChatMessage, opts rag.ChatOptions) chatgpt.ChatCompletionRequest {
	out := make([]chatgpt.Message, 0, len(messages)+1)
	if strings.TrimSpace(opts.SystemPrompt) != "" {
		out = append(out, chatgpt.Message{Role: "system", Content: opts.SystemPrompt})
	}
	for _, m := range messages {
		out = append(out, chatgpt.Message{Role: m.Role, Content: m.Content})
	}
	return chatgpt.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Messages:    out,
		Temperature: opts.Temperature,
	}
}

// hashChatRequest builds a stable cache key over the request shape.
// The request is encoded in its struct's fixed field order, so equal
// requests always hash identically.
func (c *Client) hashChatRequest(req chatgpt.ChatCompletionRequest) string {
	payload, _ := json.Marshal(req)
	sum := md5.Sum(payload)
	return fmt.Sprintf("%x", sum)
}

// GenerateEmbeddings embeds texts, serving cached vectors per-text and
// batching the remainder under a bounded concurrency semaphore with
// retry on transient upstream failures.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if model == "" {
		model = c.cfg.EmbeddingModel
	}
	results := make([][]float32, len(texts))
	var toFetch []int // indices into texts still needing an embedding

	for i, text := range texts {
		key := c.embeddingCacheKey(model, text)
		if c.cache != nil {
			var cached []float32
			if ok, _ := c.cache.Get(ctx, key, &cached); ok {
				results[i] = cached
				continue
			}
		}
		toFetch = append(toFetch, i)
	}
	if len(toFetch) == 0 {
		return results, nil
	}

	batches := chunkIndices(toFetch, c.cfg.BatchSize)
	sem := make(chan struct{}, c.cfg.MaxConcurrentBatches)
	errCh := make(chan error, len(batches))
	done := make(chan struct{}, len(batches))

	for _, batch := range batches {
		batch := batch
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}
			inputs := make([]string, len(batch))
			for j, idx := range batch {
				inputs[j] = texts[idx]
			}
			vectors, err := c.embedBatchWithRetry(ctx, model, inputs)
			if err != nil {
				errCh <- err
				return
			}
			for j, idx := range batch {
				results[idx] = vectors[j]
				if c.cache != nil {
					key := c.embeddingCacheKey(model, texts[idx])
					if werr := c.cache.Set(ctx, key, vectors[j], c.cfg.EmbeddingCacheTTL); werr != nil {
						c.logger.Warn("embedding cache write failed", "error", werr)
					}
				}
			}
		}()
	}

	for range batches {
		<-done
	}
	select {
	case err := <-errCh:
		return nil, apperrors.External("embedding generation failed", err)
	default:
	}
	return results, nil
}

func (c *Client) embeddingCacheKey(model, text string) string {
	sum := md5.Sum([]byte(text))
	return fmt.Sprintf("embed:%s:%x", model, sum)
}

func chunkIndices(indices []int, size int) [][]int {
	var batches [][]int
	for i := 0; i < len(indices); i += size {
		end := i + size
		if end > len(indices) {
			end = len(indices)
		}
		batches = append(batches, indices[i:end])
	}
	return batches
}

func (c *Client) embedBatchWithRetry(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	var lastErr error
	delay := c.cfg.RetryBaseDelay
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		resp, err := c.raw.CreateEmbedding(ctx, chatgpt.EmbeddingRequest{Model: model, Input: inputs})
		if err == nil {
			if !resp.Usage.IsZero() {
				c.logger.Debug("embedding token usage",
					"promptTokens", resp.Usage.PromptTokens,
					"totalTokens", resp.Usage.TotalTokens,
					"batchSize", len(inputs))
			}
			return extractVectors(resp, len(inputs))
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	var statusErr *chatgpt.StatusError
	if !errors.As(err, &statusErr) {
		// Network-level errors (timeouts, connection resets) are
		// transient by nature.
		return true
	}
	switch statusErr.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func extractVectors(resp chatgpt.EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(resp.Data), want)
	}
	ordered := make([]struct {
		idx int
		vec []float32
	}, len(resp.Data))
	for i, d := range resp.Data {
		ordered[i] = struct {
			idx int
			vec []float32
		}{idx: d.Index, vec: d.Embedding}
	}
	// Some gateways omit "index"; in that case every Index is zero and
	// the response is already in request order.
	hasIndex := false
	for _, o := range ordered {
		if o.idx != 0 {
			hasIndex = true
			break
		}
	}
	if hasIndex {
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].idx < ordered[j].idx })
	}
	out := make([][]float32, len(ordered))
	for i, o := range ordered {
		out[i] = o.vec
	}
	return out, nil
}
