package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jinford/docsite-rag/internal/core/document"
)

// ErrDimensionMismatch はEmbeddingの次元が設定と一致しないことを表す
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は検索クエリ1件のEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed はドキュメントチャンクのEmbeddingをバッチで生成する。
	// 返却するベクトル数は入力テキスト数と一致しなければならない。
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName はモデル名を返す
	ModelName() string

	// Dimension はベクトル次元数を返す
	Dimension() int

	// MaxBatchSize はバッチ処理の最大サイズを返す
	MaxBatchSize() int
}

// ProviderError はEmbedding APIの呼び出し失敗を表す
type ProviderError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration // APIが指示した待機時間（0なら指示なし）
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s embedding API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s embedding API error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetryAfterHint はAPIのretry-after指示を返す（retry.RetryAfterHinterを実装）
func (e *ProviderError) RetryAfterHint() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

// ValidateVectors はベクトル数と次元が期待値と一致することを検証する
func ValidateVectors(vectors [][]float32, wantCount, wantDimension int) error {
	if len(vectors) != wantCount {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), wantCount)
	}
	for i, v := range vectors {
		if len(v) != wantDimension {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrDimensionMismatch, i, len(v), wantDimension)
		}
	}
	return nil
}

// CachingEmbedder はチャンクハッシュをキーにEmbeddingを再利用するデコレータ。
// オーバーラップ等で同一テキストが繰り返し現れた場合のAPI呼び出しを省く。
type CachingEmbedder struct {
	inner Embedder

	mu    sync.RWMutex
	cache map[string][]float32

	hits   int64
	misses int64
}

// NewCachingEmbedder は新しいCachingEmbedderを作成する
func NewCachingEmbedder(inner Embedder) *CachingEmbedder {
	return &CachingEmbedder{
		inner: inner,
		cache: make(map[string][]float32),
	}
}

// Embed は単一テキストのEmbeddingを生成する（クエリ用のためキャッシュしない）
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.inner.Embed(ctx, text)
}

// BatchEmbed はキャッシュに無いテキストのみを下位のEmbedderへ渡す
func (c *CachingEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	var missingTexts []string
	var missingIndexes []int

	c.mu.RLock()
	for i, text := range texts {
		key := document.ContentHash(text)
		if vec, ok := c.cache[key]; ok {
			results[i] = vec
		} else {
			missingTexts = append(missingTexts, text)
			missingIndexes = append(missingIndexes, i)
		}
	}
	c.mu.RUnlock()

	hitCount := int64(len(texts) - len(missingTexts))

	if len(missingTexts) == 0 {
		c.mu.Lock()
		c.hits += hitCount
		c.mu.Unlock()
		return results, nil
	}

	vectors, err := c.inner.BatchEmbed(ctx, missingTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missingTexts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(missingTexts))
	}

	c.mu.Lock()
	for i, vec := range vectors {
		results[missingIndexes[i]] = vec
		c.cache[document.ContentHash(missingTexts[i])] = vec
	}
	c.hits += hitCount
	c.misses += int64(len(missingTexts))
	c.mu.Unlock()

	return results, nil
}

// Stats はキャッシュのヒット数とミス数を返す
func (c *CachingEmbedder) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// ModelName はモデル名を返す
func (c *CachingEmbedder) ModelName() string { return c.inner.ModelName() }

// Dimension はベクトル次元数を返す
func (c *CachingEmbedder) Dimension() int { return c.inner.Dimension() }

// MaxBatchSize はバッチ処理の最大サイズを返す
func (c *CachingEmbedder) MaxBatchSize() int { return c.inner.MaxBatchSize() }

// インターフェース実装の確認
var _ Embedder = (*CachingEmbedder)(nil)
