package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/jinford/docsite-rag/internal/core/ingestion"
	"github.com/jinford/docsite-rag/internal/platform/retry"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimension はデフォルトのベクトル次元
	DefaultEmbeddingDimension = 768
	// maxBatchSize はGemini Embedding APIの1リクエスト最大件数
	maxBatchSize = 100

	// taskTypeDocument はインジェスト対象チャンク向けのタスク種別
	taskTypeDocument = "RETRIEVAL_DOCUMENT"
	// taskTypeQuery は検索クエリ向けのタスク種別
	taskTypeQuery = "RETRIEVAL_QUERY"

	providerName = "gemini"
)

// Embedder は Gemini API を使用してテキストをベクトルに変換する。
// ドキュメントとクエリで異なるタスク種別を指定することで検索精度を上げる。
type Embedder struct {
	client      *genai.Client
	model       string
	dimension   int
	retryPolicy retry.Policy
	logger      *slog.Logger
}

type embedderOptions struct {
	model       string
	dimension   int
	retryPolicy retry.Policy
	logger      *slog.Logger
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithRetryPolicy はリトライポリシーを上書きする
func WithRetryPolicy(policy retry.Policy) EmbedderOption {
	return func(o *embedderOptions) {
		o.retryPolicy = policy
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) EmbedderOption {
	return func(o *embedderOptions) {
		o.logger = logger
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(ctx context.Context, apiKey string, opts ...EmbedderOption) (*Embedder, error) {
	options := embedderOptions{
		model:       DefaultEmbeddingModel,
		dimension:   DefaultEmbeddingDimension,
		retryPolicy: retry.DefaultPolicy(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("Geminiクライアントの作成に失敗: %w", err)
	}

	return &Embedder{
		client:      client,
		model:       options.model,
		dimension:   options.dimension,
		retryPolicy: options.retryPolicy,
		logger:      options.logger,
	}, nil
}

// Embed は検索クエリ1件の Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text}, taskTypeQuery)
	if err != nil {
		return nil, err
	}

	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	return vectors[0], nil
}

// BatchEmbed はドキュメントチャンクの Embedding をバッチで生成する
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	if len(texts) > maxBatchSize {
		return nil, fmt.Errorf("batch size exceeds maximum of %d", maxBatchSize)
	}

	return e.embed(ctx, texts, taskTypeDocument)
}

func (e *Embedder) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	config := &genai.EmbedContentConfig{
		TaskType: taskType,
	}
	if e.dimension > 0 {
		config.OutputDimensionality = genai.Ptr(int32(e.dimension))
	}

	var vectors [][]float32
	err := retry.Do(ctx, e.logger, "gemini embedding", e.retryPolicy, func(ctx context.Context) error {
		resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, config)
		if err != nil {
			return wrapAPIError(err)
		}

		vectors = vectors[:0]
		for _, emb := range resp.Embeddings {
			vectors = append(vectors, emb.Values)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return vectors, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// MaxBatchSize はバッチ処理の最大サイズを返す
func (e *Embedder) MaxBatchSize() int {
	return maxBatchSize
}

// wrapAPIError はAPIエラーをProviderErrorに変換する。
// 4xx（429以外）はリトライしても無駄なのでPermanent扱いにする。
func wrapAPIError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return &ingestion.ProviderError{Provider: providerName, Err: err}
	}

	provErr := &ingestion.ProviderError{
		Provider:   providerName,
		StatusCode: apiErr.Code,
		RetryAfter: retryAfterFrom(apiErr),
		Err:        err,
	}

	if apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
		return retry.Permanent(provErr)
	}
	return provErr
}

// retryAfterFrom はRESOURCE_EXHAUSTEDエラーのRetryInfoを解釈する
func retryAfterFrom(apiErr genai.APIError) time.Duration {
	for _, detail := range apiErr.Details {
		if t, ok := detail["@type"].(string); !ok || t != "type.googleapis.com/google.rpc.RetryInfo" {
			continue
		}
		delay, ok := detail["retryDelay"].(string)
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// インターフェース実装の確認
var _ ingestion.Embedder = (*Embedder)(nil)
