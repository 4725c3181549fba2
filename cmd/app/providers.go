package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/studyforge/notebook-api/internal/domain/auth"
	"github.com/studyforge/notebook-api/internal/domain/rag"
	"github.com/studyforge/notebook-api/internal/infra/config"
	"github.com/studyforge/notebook-api/internal/infra/llm/chatgpt"
	"github.com/studyforge/notebook-api/internal/infra/llmclient"
	ragcache "github.com/studyforge/notebook-api/internal/infra/rag/cache"
	ragchunker "github.com/studyforge/notebook-api/internal/infra/rag/chunker"
	ragdispatcher "github.com/studyforge/notebook-api/internal/infra/rag/dispatcher"
	"github.com/studyforge/notebook-api/internal/infra/rag/extract"
	ragratelimit "github.com/studyforge/notebook-api/internal/infra/rag/ratelimit"
	ragrepo "github.com/studyforge/notebook-api/internal/infra/rag/repo"
	ragstorage "github.com/studyforge/notebook-api/internal/infra/rag/storage"
	"github.com/studyforge/notebook-api/internal/infra/rag/urlfetch"
	"github.com/studyforge/notebook-api/internal/infra/userrepo"
)

func provideChatGPTClient(cfg *config.Config) (*chatgpt.Client, error) {
	return chatgpt.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.RateLimitPerSecond, cfg.LLM.RateLimitBurst)
}

func provideAuthConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		Secret:          cfg.Auth.JWTSecret,
		TokenTTL:        cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	}
}

func provideAuthRepository(cfg *config.Config, logger *slog.Logger) auth.Repository {
	fallback := userrepo.NewMemoryRepository()
	dsn := strings.TrimSpace(cfg.Auth.Postgres.DSN)
	if dsn == "" {
		logger.Info("auth postgres dsn not set, using memory repository")
		return fallback
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid auth postgres dsn, using memory repository", "error", err)
		return fallback
	}
	if cfg.Auth.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Auth.Postgres.MaxConns
	}
	if cfg.Auth.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Auth.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize auth postgres pool, using memory repository", "error", err)
		return fallback
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("auth postgres ping failed, using memory repository", "error", err)
		pool.Close()
		return fallback
	}
	logger.Info("auth postgres repository enabled")
	return userrepo.NewPostgresRepository(pool)
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}

func provideNotebookConfig(cfg *config.Config) rag.Config {
	out := rag.DefaultConfig()
	out.MaxFileBytes = int64(cfg.Notebook.MaxFileMB) * 1024 * 1024
	out.TopK = cfg.Notebook.MaxSimilarityResults
	out.SimilarityThreshold = cfg.Notebook.VectorSearchThreshold
	out.FetchTimeout = time.Duration(cfg.Notebook.RequestTimeoutSeconds) * time.Second
	out.ChatTemperature = cfg.LLM.Temperature
	return out
}

func provideRAGChunker(cfg *config.Config) rag.Chunker {
	return ragchunker.New(cfg.Notebook.ChunkSizeChars, cfg.Notebook.ChunkOverlapChars)
}

func provideRAGTokenCounter() rag.TokenCounter {
	return ragchunker.NewTokenCounter()
}

func provideRAGDispatcher(logger *slog.Logger) rag.Dispatcher {
	return ragdispatcher.New(logger)
}

func providePDFExtractor() rag.PDFExtractor {
	return extract.PDFText
}

func provideURLFetcher() rag.URLFetcher {
	return urlfetch.New().Fetch
}

func provideRAGStorage(cfg *config.Config, logger *slog.Logger) rag.StorageProvider {
	endpoint := strings.TrimSpace(cfg.Notebook.Storage.Endpoint)
	accessKey := strings.TrimSpace(cfg.Notebook.Storage.AccessKey)
	secretKey := strings.TrimSpace(cfg.Notebook.Storage.SecretKey)
	bucket := strings.TrimSpace(cfg.Notebook.Storage.Bucket)
	region := strings.TrimSpace(cfg.Notebook.Storage.Region)

	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		logger.Info("notebook storage not fully configured, using memory storage")
		return ragstorage.NewMemory()
	}
	s3, err := ragstorage.NewS3Storage(endpoint, accessKey, secretKey, bucket, region, logger)
	if err != nil {
		logger.Error("failed to initialize notebook s3 storage, using memory storage", "error", err)
		return ragstorage.NewMemory()
	}
	logger.Info("notebook s3 storage enabled", "endpoint", endpoint, "bucket", bucket)
	return s3
}

func notebookValkeyClient(cfg *config.Config, logger *slog.Logger) (valkey.Client, bool) {
	if !cfg.Notebook.Redis.Enabled {
		return nil, false
	}
	opt, err := buildValkeyOptions(cfg.Notebook.Redis.Addr)
	if err != nil {
		logger.Error("invalid notebook valkey configuration", "error", err)
		return nil, false
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create notebook valkey client", "error", err)
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("notebook valkey ping failed", "error", err)
		return nil, false
	}
	return client, true
}

func provideRAGCache(cfg *config.Config, logger *slog.Logger) rag.CacheProvider {
	if client, ok := notebookValkeyClient(cfg, logger); ok {
		logger.Info("notebook valkey cache enabled", "addr", cfg.Notebook.Redis.Addr)
		return ragcache.NewValkey(client)
	}
	return ragcache.NewMemory()
}

func provideRAGRateLimiter(cfg *config.Config, logger *slog.Logger) rag.RateLimiter {
	if client, ok := notebookValkeyClient(cfg, logger); ok {
		logger.Info("notebook valkey rate limiter enabled", "addr", cfg.Notebook.Redis.Addr)
		return ragratelimit.NewValkey(client)
	}
	return ragratelimit.NewMemory()
}

func provideRAGLLMClient(client *chatgpt.Client, cache rag.CacheProvider, cfg *config.Config, logger *slog.Logger) rag.LLMClient {
	if client == nil || strings.TrimSpace(cfg.LLM.APIKey) == "" {
		logger.Warn("llm api key missing, using mock notebook llm client")
		return llmclient.NewMock(cfg.Notebook.EmbeddingDimension)
	}
	llmCfg := llmclient.DefaultConfig()
	llmCfg.ChatModel = cfg.LLM.Model
	llmCfg.EmbeddingModel = cfg.LLM.EmbeddingModel
	llmCfg.BatchSize = cfg.Notebook.EmbeddingBatchSize
	llmCfg.MaxConcurrentBatches = cfg.Notebook.EmbeddingMaxConcurrent
	llmCfg.ChatCacheTTL = time.Duration(cfg.Notebook.CacheTTLChatSeconds) * time.Second
	llmCfg.EmbeddingCacheTTL = time.Duration(cfg.Notebook.CacheTTLEmbeddingSeconds) * time.Second
	return llmclient.New(llmCfg, client, cache, logger)
}

var (
	ragPoolOnce sync.Once
	ragPool     *pgxpool.Pool
)

func ragPostgresPool(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	ragPoolOnce.Do(func() {
		dsn := strings.TrimSpace(cfg.Notebook.Postgres.DSN)
		if dsn == "" {
			logger.Info("notebook postgres dsn not set, using memory repositories")
			return
		}
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			logger.Error("invalid notebook postgres dsn, using memory repositories", "error", err)
			return
		}
		registerPgVector(poolConfig, logger)
		if cfg.Notebook.Postgres.MaxConns > 0 {
			poolConfig.MaxConns = cfg.Notebook.Postgres.MaxConns
		}
		if cfg.Notebook.Postgres.MinConns > 0 {
			poolConfig.MinConns = cfg.Notebook.Postgres.MinConns
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			logger.Error("failed to initialize notebook postgres pool, using memory repositories", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("notebook postgres ping failed, using memory repositories", "error", err)
			pool.Close()
			return
		}
		logger.Info("notebook postgres repository enabled")
		ragPool = pool
	})
	return ragPool
}

func provideRAGNotebookRepository(cfg *config.Config, logger *slog.Logger) rag.NotebookRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return ragrepo.NewPostgresNotebookRepository(pool)
	}
	return ragrepo.NewMemoryNotebookRepository()
}

func provideRAGSourceRepository(cfg *config.Config, logger *slog.Logger) rag.SourceRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return ragrepo.NewPostgresSourceRepository(pool)
	}
	return ragrepo.NewMemorySourceRepository()
}

func provideRAGChunkRepository(cfg *config.Config, logger *slog.Logger) rag.ChunkRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return ragrepo.NewPostgresChunkRepository(pool)
	}
	return ragrepo.NewMemoryChunkRepository()
}

func provideRAGConversationRepository(cfg *config.Config, logger *slog.Logger) rag.ConversationRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return ragrepo.NewPostgresConversationRepository(pool)
	}
	return ragrepo.NewMemoryConversationRepository()
}

func provideRAGMessageRepository(cfg *config.Config, logger *slog.Logger) rag.MessageRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return ragrepo.NewPostgresMessageRepository(pool)
	}
	return ragrepo.NewMemoryMessageRepository()
}

func provideRAGGenerationHistoryRepository(cfg *config.Config, logger *slog.Logger) rag.GenerationHistoryRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return ragrepo.NewPostgresGenerationHistoryRepository(pool)
	}
	return ragrepo.NewMemoryGenerationHistoryRepository()
}

func provideRAGService(
	cfg rag.Config,
	notebooks rag.NotebookRepository,
	sources rag.SourceRepository,
	chunks rag.ChunkRepository,
	conversations rag.ConversationRepository,
	messages rag.MessageRepository,
	history rag.GenerationHistoryRepository,
	storage rag.StorageProvider,
	llm rag.LLMClient,
	chunker rag.Chunker,
	dispatcher rag.Dispatcher,
	extractPDF rag.PDFExtractor,
	fetchURL rag.URLFetcher,
	tokens rag.TokenCounter,
	logger *slog.Logger,
) *rag.Service {
	return rag.NewService(cfg, notebooks, sources, chunks, conversations, messages, history, storage, llm, chunker, dispatcher, extractPDF, fetchURL, tokens, logger)
}

func registerPgVector(poolConfig *pgxpool.Config, logger *slog.Logger) {
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var oid uint32
		if err := conn.QueryRow(ctx, "SELECT 'vector'::regtype::oid").Scan(&oid); err != nil {
			logger.Error("failed to lookup pgvector oid", "error", err)
			return err
		}
		conn.TypeMap().RegisterType(&pgtype.Type{
			Name:  "vector",
			OID:   oid,
			Codec: pgtype.TextCodec{},
		})
		return nil
	}
}
