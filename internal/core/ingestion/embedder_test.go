package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachingEmbedder(t *testing.T) {
	t.Run("同一テキストは2回目以降キャッシュから返す", func(t *testing.T) {
		inner := &stubEmbedder{}
		cached := NewCachingEmbedder(inner)

		first, err := cached.BatchEmbed(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		require.Len(t, first, 2)

		second, err := cached.BatchEmbed(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// 2回目はAPIを呼ばない
		calls, sizes := inner.calls()
		assert.Equal(t, 1, calls)
		assert.Equal(t, []int{2}, sizes)

		hits, misses := cached.Stats()
		assert.Equal(t, int64(2), hits)
		assert.Equal(t, int64(2), misses)
	})

	t.Run("未キャッシュのテキストのみ下位へ渡す", func(t *testing.T) {
		inner := &stubEmbedder{}
		cached := NewCachingEmbedder(inner)

		_, err := cached.BatchEmbed(context.Background(), []string{"a"})
		require.NoError(t, err)

		results, err := cached.BatchEmbed(context.Background(), []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, results, 3)
		for _, v := range results {
			assert.Len(t, v, 3)
		}

		_, sizes := inner.calls()
		assert.Equal(t, []int{1, 2}, sizes)
	})

	t.Run("クエリのEmbedはキャッシュを通さない", func(t *testing.T) {
		inner := &stubEmbedder{}
		cached := NewCachingEmbedder(inner)

		vec, err := cached.Embed(context.Background(), "query")
		require.NoError(t, err)
		assert.Len(t, vec, 3)

		hits, misses := cached.Stats()
		assert.Zero(t, hits)
		assert.Zero(t, misses)
	})

	t.Run("下位のエラーをそのまま返す", func(t *testing.T) {
		inner := &stubEmbedder{failAfter: 1}
		cached := NewCachingEmbedder(inner)

		_, err := cached.BatchEmbed(context.Background(), []string{"a"})
		assert.Error(t, err)
	})
}

func TestCachingEmbedder_CacheHitsBypassThrottle(t *testing.T) {
	inner := &stubEmbedder{}
	throttled := NewThrottledEmbedder(inner, 2)
	cached := NewCachingEmbedder(throttled)

	_, err := cached.BatchEmbed(context.Background(), []string{"a"})
	require.NoError(t, err)
	_, err = cached.BatchEmbed(context.Background(), []string{"a"})
	require.NoError(t, err)

	// キャッシュヒットはレート制限のトークンを消費しない
	status := throttled.RateLimiterStatus()
	assert.Equal(t, 1, status.AvailableTokens)

	calls, _ := inner.calls()
	assert.Equal(t, 1, calls)
}

func TestValidateVectors(t *testing.T) {
	vectors := [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}

	t.Run("数と次元が一致すれば成功", func(t *testing.T) {
		assert.NoError(t, ValidateVectors(vectors, 2, 3))
	})

	t.Run("ベクトル数の不一致", func(t *testing.T) {
		assert.Error(t, ValidateVectors(vectors, 3, 3))
	})

	t.Run("次元の不一致はErrDimensionMismatch", func(t *testing.T) {
		err := ValidateVectors(vectors, 2, 768)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestProviderError(t *testing.T) {
	inner := errors.New("rate limited")
	err := &ProviderError{
		Provider:   "gemini",
		StatusCode: 429,
		RetryAfter: 30 * time.Second,
		Err:        inner,
	}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "429")

	hint, ok := err.RetryAfterHint()
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, hint)

	noHint := &ProviderError{Provider: "openai", Err: inner}
	_, ok = noHint.RetryAfterHint()
	assert.False(t, ok)
}
