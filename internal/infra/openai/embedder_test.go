package openai

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docsite-rag/internal/core/ingestion"
)

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)

	assert.Equal(t, "custom-model", embedder.ModelName())
	assert.Equal(t, 42, embedder.Dimension())
}

func TestNewEmbedderDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key")

	assert.Equal(t, DefaultEmbeddingModel, embedder.ModelName())
	assert.Equal(t, DefaultEmbeddingDimension, embedder.Dimension())
	assert.Equal(t, maxBatchSize, embedder.MaxBatchSize())
}

func TestRetryAfterFrom(t *testing.T) {
	t.Run("秒数指定のヘッダー", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"30"}}}
		assert.Equal(t, 30*time.Second, retryAfterFrom(resp))
	})

	t.Run("ヘッダーなし", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		assert.Equal(t, time.Duration(0), retryAfterFrom(resp))
	})

	t.Run("レスポンスなし", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), retryAfterFrom(nil))
	})

	t.Run("不正な値", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"soon"}}}
		assert.Equal(t, time.Duration(0), retryAfterFrom(resp))
	})
}

func TestWrapAPIError_NonAPIError(t *testing.T) {
	err := wrapAPIError(assert.AnError)

	var provErr *ingestion.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "openai", provErr.Provider)
	assert.Equal(t, 0, provErr.StatusCode)
}
