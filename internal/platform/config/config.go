package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// クロール対象のドキュメントサイト設定
	Site SiteConfig

	// クローラー設定
	Crawler CrawlerConfig

	// チャンク分割設定
	Chunking ChunkingConfig

	// Embedding設定
	Embedding EmbeddingConfig

	// Qdrant接続設定
	Qdrant QdrantConfig

	// 検索品質検証設定
	Validation ValidationConfig

	// 実行ログ（JSON Lines）の出力先
	RunLogPath string
}

// SiteConfig はクロール対象サイトの設定
type SiteConfig struct {
	BaseURL string
}

// CrawlerConfig はクローラーの動作設定
type CrawlerConfig struct {
	Delay          time.Duration // リクエスト間隔
	RequestTimeout time.Duration
	MaxRetries     int
	UserAgent      string
	MaxPages       int // 0 は無制限
}

// ChunkingConfig はチャンク分割の設定
type ChunkingConfig struct {
	MinTokens     int
	MaxTokens     int
	OverlapTokens int
}

// EmbeddingConfig はEmbeddingプロバイダの設定
type EmbeddingConfig struct {
	Provider string // "gemini" or "openai"

	Gemini GeminiConfig
	OpenAI OpenAIConfig

	BatchSize         int
	RequestsPerMinute int
	WorkerCount       int
}

// GeminiConfig はGemini API設定
type GeminiConfig struct {
	APIKey    string
	Model     string
	Dimension int
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey    string
	Model     string
	Dimension int
}

// QdrantConfig はQdrant接続設定
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// ValidationConfig は検索品質検証の設定
type ValidationConfig struct {
	TopK               int
	RelevanceThreshold float64
	CosineThreshold    float64
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Site: SiteConfig{
			BaseURL: getEnv("DOCS_BASE_URL", ""),
		},
		Crawler: CrawlerConfig{
			Delay:          getEnvAsDuration("CRAWLER_DELAY", time.Second),
			RequestTimeout: getEnvAsDuration("CRAWLER_REQUEST_TIMEOUT", 30*time.Second),
			MaxRetries:     getEnvAsInt("CRAWLER_MAX_RETRIES", 3),
			UserAgent:      getEnv("CRAWLER_USER_AGENT", "docsite-rag/1.0"),
			MaxPages:       getEnvAsInt("CRAWLER_MAX_PAGES", 0),
		},
		Chunking: ChunkingConfig{
			MinTokens:     getEnvAsInt("CHUNK_MIN_TOKENS", 500),
			MaxTokens:     getEnvAsInt("CHUNK_MAX_TOKENS", 1200),
			OverlapTokens: getEnvAsInt("CHUNK_OVERLAP_TOKENS", 100),
		},
		Embedding: EmbeddingConfig{
			Provider: getEnv("EMBEDDING_PROVIDER", "gemini"),
			Gemini: GeminiConfig{
				APIKey:    getEnv("GEMINI_API_KEY", ""),
				Model:     getEnv("GEMINI_EMBEDDING_MODEL", "gemini-embedding-001"),
				Dimension: getEnvAsInt("GEMINI_EMBEDDING_DIMENSION", 768),
			},
			OpenAI: OpenAIConfig{
				APIKey:    getEnv("OPENAI_API_KEY", ""),
				Model:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
				Dimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			},
			BatchSize:         getEnvAsInt("EMBEDDING_BATCH_SIZE", 10),
			RequestsPerMinute: getEnvAsInt("EMBEDDING_REQUESTS_PER_MINUTE", 60),
			WorkerCount:       getEnvAsInt("EMBEDDING_WORKER_COUNT", 4),
		},
		Qdrant: QdrantConfig{
			Host:       getEnv("QDRANT_HOST", "localhost"),
			Port:       getEnvAsInt("QDRANT_PORT", 6334),
			APIKey:     getEnv("QDRANT_API_KEY", ""),
			UseTLS:     getEnvAsBool("QDRANT_USE_TLS", false),
			Collection: getEnv("QDRANT_COLLECTION", "textbook_content"),
		},
		Validation: ValidationConfig{
			TopK:               getEnvAsInt("VALIDATION_TOP_K", 5),
			RelevanceThreshold: getEnvAsFloat("VALIDATION_RELEVANCE_THRESHOLD", 0.7),
			CosineThreshold:    getEnvAsFloat("VALIDATION_COSINE_THRESHOLD", 0.3),
		},
		RunLogPath: getEnv("RUN_LOG_PATH", "ingestion_runs.jsonl"),
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	if c.Chunking.MinTokens <= 0 {
		return fmt.Errorf("CHUNK_MIN_TOKENS must be positive: %d", c.Chunking.MinTokens)
	}
	if c.Chunking.MaxTokens < c.Chunking.MinTokens {
		return fmt.Errorf("CHUNK_MAX_TOKENS (%d) must be >= CHUNK_MIN_TOKENS (%d)", c.Chunking.MaxTokens, c.Chunking.MinTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MinTokens {
		return fmt.Errorf("CHUNK_OVERLAP_TOKENS (%d) must be in [0, CHUNK_MIN_TOKENS)", c.Chunking.OverlapTokens)
	}

	switch c.Embedding.Provider {
	case "gemini":
		if c.Embedding.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when EMBEDDING_PROVIDER=gemini")
		}
	case "openai":
		if c.Embedding.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER: %q", c.Embedding.Provider)
	}

	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be positive: %d", c.Embedding.BatchSize)
	}

	if c.Validation.TopK <= 0 {
		return fmt.Errorf("VALIDATION_TOP_K must be positive: %d", c.Validation.TopK)
	}
	if c.Validation.RelevanceThreshold < 0 || c.Validation.RelevanceThreshold > 1 {
		return fmt.Errorf("VALIDATION_RELEVANCE_THRESHOLD must be in [0, 1]: %f", c.Validation.RelevanceThreshold)
	}

	return nil
}

// EmbeddingDimension はアクティブなプロバイダのベクトル次元を返します
func (c *Config) EmbeddingDimension() int {
	if c.Embedding.Provider == "openai" {
		return c.Embedding.OpenAI.Dimension
	}
	return c.Embedding.Gemini.Dimension
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数をDurationとして取得します（例: "1s", "500ms"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
