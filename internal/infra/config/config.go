package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	LLM      LLMConfig      `yaml:"llm"`
	Auth     AuthConfig     `yaml:"auth"`
	Notebook NotebookConfig `yaml:"notebook"`
}

// NotebookConfig controls the RAG notebook pipeline: ingestion, vector
// search, caching, and rate limiting tuning knobs.
type NotebookConfig struct {
	ChunkSizeChars           int                 `yaml:"chunkSizeChars"`
	ChunkOverlapChars        int                 `yaml:"chunkOverlapChars"`
	MaxFileMB                int                 `yaml:"maxFileMb"`
	EmbeddingDimension       int                 `yaml:"embeddingDimension"`
	VectorSearchThreshold    float64             `yaml:"vectorSearchThreshold"`
	MaxSimilarityResults     int                 `yaml:"maxSimilarityResults"`
	RequestTimeoutSeconds    int                 `yaml:"requestTimeoutSeconds"`
	RateLimitDefault         string              `yaml:"rateLimitDefault"`
	RateLimitDocumentUpload  string              `yaml:"rateLimitDocumentUpload"`
	CacheTTLChatSeconds      int                 `yaml:"cacheTtlChatSeconds"`
	CacheTTLEmbeddingSeconds int                 `yaml:"cacheTtlEmbeddingSeconds"`
	EmbeddingMaxConcurrent   int                 `yaml:"embeddingMaxConcurrentBatches"`
	EmbeddingBatchSize       int                 `yaml:"embeddingBatchSize"`
	Storage                  UploadStorageConfig `yaml:"storage"`
	Redis                    RedisConfig         `yaml:"redis"`
	Postgres                 PostgresConfig      `yaml:"postgres"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries of POST requests that end
// with a 5xx status; paths listed in Exclude are never retried.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// LLMConfig contains ChatGPT/OpenAI settings, including the outbound
// throttling applied to the shared HTTP transport.
// TODO : support other LLM providers and for different features, use different LLMs.
type LLMConfig struct {
	APIKey             string  `yaml:"apiKey"`
	BaseURL            string  `yaml:"baseUrl"`
	Model              string  `yaml:"model"`
	EmbeddingModel     string  `yaml:"embeddingModel"`
	Temperature        float32 `yaml:"temperature"`
	RateLimitPerSecond float64 `yaml:"rateLimitPerSecond"`
	RateLimitBurst     int     `yaml:"rateLimitBurst"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret       string         `yaml:"jwtSecret"`
	AccessTokenTTL  time.Duration  `yaml:"accessTokenTtl"`
	RefreshTokenTTL time.Duration  `yaml:"refreshTokenTtl"`
	Postgres        PostgresConfig `yaml:"postgres"`
}

// RedisConfig contains connection information for cache storage.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// UploadStorageConfig configures S3-compatible object storage.
type UploadStorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_READ_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_WRITE_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(parsed)
		}
	}
	if v := os.Getenv("LLM_RATE_LIMIT_PER_SECOND"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.RateLimitPerSecond = parsed
		}
	}
	if v := os.Getenv("LLM_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.LLM.RateLimitBurst = parsed
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUTH_ACCESS_TOKEN_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.AccessTokenTTL = parsed
		}
	}
	if v := os.Getenv("AUTH_REFRESH_TOKEN_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.RefreshTokenTTL = parsed
		}
	}
	if v := os.Getenv("AUTH_POSTGRES_DSN"); v != "" {
		cfg.Auth.Postgres.DSN = v
	}
	if v := os.Getenv("AUTH_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Auth.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("AUTH_POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Auth.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_ENABLED"); v != "" {
		cfg.HTTP.Retry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RETRY_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Retry.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_BASE_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Retry.BaseBackoff = parsed
		}
	}
	if v := os.Getenv("CHUNK_SIZE_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.ChunkSizeChars = parsed
		}
	}
	if v := os.Getenv("MAX_CHUNK_SIZE_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.ChunkOverlapChars = parsed
		}
	}
	if v := os.Getenv("VECTOR_SEARCH_THRESHOLD"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Notebook.VectorSearchThreshold = parsed
		}
	}
	if v := os.Getenv("MAX_SIMILARITY_RESULTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.MaxSimilarityResults = parsed
		}
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.EmbeddingDimension = parsed
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.RequestTimeoutSeconds = parsed
		}
	}
	if v := os.Getenv("RATE_LIMIT_DEFAULT"); v != "" {
		cfg.Notebook.RateLimitDefault = v
	}
	if v := os.Getenv("RATE_LIMIT_DOCUMENT_UPLOAD"); v != "" {
		cfg.Notebook.RateLimitDocumentUpload = v
	}
	if v := os.Getenv("CACHE_TTL_CHAT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.CacheTTLChatSeconds = parsed
		}
	}
	if v := os.Getenv("CACHE_TTL_EMBEDDING_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.CacheTTLEmbeddingSeconds = parsed
		}
	}
	if v := os.Getenv("EMBEDDING_MAX_CONCURRENT_BATCHES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.EmbeddingMaxConcurrent = parsed
		}
	}
	if v := os.Getenv("NOTEBOOK_MAX_FILE_MB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.MaxFileMB = parsed
		}
	}
	if v := os.Getenv("NOTEBOOK_STORAGE_ENDPOINT"); v != "" {
		cfg.Notebook.Storage.Endpoint = v
	}
	if v := os.Getenv("NOTEBOOK_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Notebook.Storage.AccessKey = v
	}
	if v := os.Getenv("NOTEBOOK_STORAGE_SECRET_KEY"); v != "" {
		cfg.Notebook.Storage.SecretKey = v
	}
	if v := os.Getenv("NOTEBOOK_STORAGE_BUCKET"); v != "" {
		cfg.Notebook.Storage.Bucket = v
	}
	if v := os.Getenv("NOTEBOOK_STORAGE_REGION"); v != "" {
		cfg.Notebook.Storage.Region = v
	}
	if v := os.Getenv("NOTEBOOK_REDIS_ENABLED"); v != "" {
		cfg.Notebook.Redis.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("NOTEBOOK_REDIS_ADDR"); v != "" {
		cfg.Notebook.Redis.Addr = v
	}
	if v := os.Getenv("NOTEBOOK_POSTGRES_DSN"); v != "" {
		cfg.Notebook.Postgres.DSN = v
	}
	if v := os.Getenv("NOTEBOOK_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("NOTEBOOK_POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Notebook.Postgres.MinConns = int32(parsed)
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address: ":8080",
			AllowedOrigins: []string{
				"*",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 150 * time.Millisecond,
				Exclude: []string{
					"/api/v1/auth/login",
					"/api/v1/auth/register",
					"/api/v1/auth/refresh",
				},
			},
		},
		LLM: LLMConfig{
			Model:              "gpt-4o-mini",
			EmbeddingModel:     "text-embedding-3-small",
			Temperature:        0.2,
			RateLimitPerSecond: 5,
			RateLimitBurst:     10,
		},
		Auth: AuthConfig{
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
			Postgres: PostgresConfig{
				DSN:      "",
				MaxConns: 5,
				MinConns: 1,
			},
		},
		Notebook: NotebookConfig{
			ChunkSizeChars:           512,
			ChunkOverlapChars:        100,
			MaxFileMB:                50,
			EmbeddingDimension:       1536,
			VectorSearchThreshold:    0.7,
			MaxSimilarityResults:     5,
			RequestTimeoutSeconds:    30,
			RateLimitDefault:         "100/hour",
			RateLimitDocumentUpload:  "10/day",
			CacheTTLChatSeconds:      600,
			CacheTTLEmbeddingSeconds: 86400,
			EmbeddingMaxConcurrent:   3,
			EmbeddingBatchSize:       20,
			Storage:                  UploadStorageConfig{},
			Redis: RedisConfig{
				Enabled: false,
				Addr:    "",
			},
			Postgres: PostgresConfig{
				DSN:      "",
				MaxConns: 5,
				MinConns: 1,
			},
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if strings.TrimSpace(c.LLM.EmbeddingModel) == "" {
		return errors.New("llm.embeddingModel cannot be empty")
	}
	if c.LLM.RateLimitPerSecond < 0 {
		return errors.New("llm.rateLimitPerSecond cannot be negative")
	}
	if c.LLM.RateLimitPerSecond > 0 && c.LLM.RateLimitBurst <= 0 {
		return errors.New("llm.rateLimitBurst must be positive when llm.rateLimitPerSecond is set")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret cannot be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return errors.New("auth.accessTokenTtl must be positive")
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("auth.refreshTokenTtl must be positive")
	}
	if c.Notebook.ChunkSizeChars <= 0 {
		return errors.New("notebook.chunkSizeChars must be positive")
	}
	if c.Notebook.MaxFileMB <= 0 {
		return errors.New("notebook.maxFileMb must be positive")
	}
	if c.Notebook.EmbeddingDimension <= 0 {
		return errors.New("notebook.embeddingDimension must be positive")
	}
	if c.Notebook.VectorSearchThreshold < 0 || c.Notebook.VectorSearchThreshold > 1 {
		return errors.New("notebook.vectorSearchThreshold must be between 0 and 1")
	}
	if c.Notebook.MaxSimilarityResults <= 0 {
		return errors.New("notebook.maxSimilarityResults must be positive")
	}
	if c.Notebook.RequestTimeoutSeconds <= 0 {
		return errors.New("notebook.requestTimeoutSeconds must be positive")
	}
	if c.Notebook.Redis.Enabled && strings.TrimSpace(c.Notebook.Redis.Addr) == "" {
		return errors.New("notebook.redis.addr cannot be empty when notebook.redis is enabled")
	}
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var result []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val != "" {
			result = append(result, val)
		}
	}
	return result
}
