package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/docsite-rag/internal/core/ingestion"
	"github.com/jinford/docsite-rag/internal/infra/gemini"
	"github.com/jinford/docsite-rag/internal/infra/openai"
	"github.com/jinford/docsite-rag/internal/infra/qdrant"
	"github.com/jinford/docsite-rag/internal/platform/config"
	"github.com/jinford/docsite-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *qdrant.Store
	Embedder ingestion.Embedder
}

// NewAppContext は設定を読み込み、Embedderとベクトルストアを初期化する。
// Qdrantへの接続確認まで行うため、起動時の設定・接続エラーはここで失敗する。
func NewAppContext(ctx context.Context, envFile string, debug bool) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	loggerConfig := logger.DefaultConfig()
	if debug {
		loggerConfig = logger.DebugConfig()
	}
	appLogger := logger.New(loggerConfig)

	embedder, err := newEmbedder(ctx, cfg, appLogger)
	if err != nil {
		return nil, err
	}

	store, err := qdrant.NewStore(&qdrant.Config{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.Collection,
	}, appLogger)
	if err != nil {
		return nil, err
	}

	if err := store.HealthCheck(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &AppContext{
		Config:   cfg,
		Logger:   appLogger,
		Store:    store,
		Embedder: embedder,
	}, nil
}

// Close はAppContextが保持するリソースを解放する
func (ac *AppContext) Close() {
	if ac.Store != nil {
		_ = ac.Store.Close()
	}
}

// newEmbedder は設定に応じたプロバイダのEmbedderを作成し、
// キャッシュとレート制限のデコレータで包んで返す
func newEmbedder(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) (ingestion.Embedder, error) {
	var base ingestion.Embedder

	switch cfg.Embedding.Provider {
	case "gemini":
		embedder, err := gemini.NewEmbedder(ctx, cfg.Embedding.Gemini.APIKey,
			gemini.WithEmbeddingModel(cfg.Embedding.Gemini.Model),
			gemini.WithEmbeddingDimension(cfg.Embedding.Gemini.Dimension),
			gemini.WithLogger(appLogger),
		)
		if err != nil {
			return nil, err
		}
		base = embedder
	case "openai":
		base = openai.NewEmbedder(cfg.Embedding.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.Embedding.OpenAI.Model),
			openai.WithEmbeddingDimension(cfg.Embedding.OpenAI.Dimension),
			openai.WithLogger(appLogger),
		)
	default:
		return nil, fmt.Errorf("未対応のEmbeddingプロバイダ: %s", cfg.Embedding.Provider)
	}

	// レート制限はAPI呼び出しの直前にかけ、キャッシュヒットはトークンを消費しない
	throttled := ingestion.NewThrottledEmbedder(base, cfg.Embedding.RequestsPerMinute)
	return ingestion.NewCachingEmbedder(throttled), nil
}
