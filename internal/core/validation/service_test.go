package validation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docsite-rag/internal/core/document"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubQueryEmbedder は固定ベクトルを返すスタブ
type stubQueryEmbedder struct{}

func (s *stubQueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (s *stubQueryEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func (s *stubQueryEmbedder) ModelName() string { return "stub-model" }
func (s *stubQueryEmbedder) Dimension() int    { return 3 }
func (s *stubQueryEmbedder) MaxBatchSize() int { return 100 }

// stubRetriever は固定の検索結果を返すスタブ
type stubRetriever struct {
	hits []RetrievedChunk
}

func (s *stubRetriever) Search(ctx context.Context, vector []float32, topK int) ([]RetrievedChunk, error) {
	if topK > len(s.hits) {
		topK = len(s.hits)
	}
	return s.hits[:topK], nil
}

func (s *stubRetriever) RetrieveChunk(ctx context.Context, id uuid.UUID) (mo.Option[RetrievedChunk], error) {
	for _, hit := range s.hits {
		if hit.ID == id {
			return mo.Some(hit), nil
		}
	}
	return mo.None[RetrievedChunk](), nil
}

// testHit は整合の取れたペイロードを持つ検索結果を作る
func testHit(text string, position int, score float32) RetrievedChunk {
	id := uuid.New()
	return RetrievedChunk{
		ID:    id,
		Score: score,
		Payload: document.Payload{
			DocumentID: uuid.New().String(),
			ChunkID:    id.String(),
			URL:        "https://docs.example.com/page",
			Title:      "Test Page",
			Text:       text,
			Position:   position,
			TokenCount: 100,
		},
	}
}

func TestValidatorRun_GoldenSet(t *testing.T) {
	relevant := testHit("Inverse kinematics computes joint angles from an end effector pose.", 0, 0.95)
	other := testHit("Unrelated content about something else entirely.", 1, 0.40)

	retriever := &stubRetriever{hits: []RetrievedChunk{relevant, other}}
	validator := NewValidator(&stubQueryEmbedder{}, retriever, &Options{TopK: 5, RelevanceThreshold: 0.7}, newTestLogger())

	queries := []QuerySpec{{
		Text:           "What is inverse kinematics?",
		Category:       CategoryFactual,
		GoldenChunkIDs: []string{relevant.ID.String()},
	}}

	report, err := validator.Run(context.Background(), queries)
	require.NoError(t, err)
	require.Len(t, report.Queries, 1)

	result := report.Queries[0]
	assert.Equal(t, "golden", result.Evaluation)
	assert.InDelta(t, 1.0, result.PrecisionAt1, 1e-9)
	assert.InDelta(t, 1.0, result.MRR, 1e-9)
	assert.True(t, result.Results[0].Relevant)
	assert.False(t, result.Results[1].Relevant)
}

func TestValidatorRun_GoldenDocumentID(t *testing.T) {
	hit := testHit("Forward kinematics derives the end effector pose from joint angles.", 0, 0.9)

	retriever := &stubRetriever{hits: []RetrievedChunk{hit}}
	validator := NewValidator(&stubQueryEmbedder{}, retriever, DefaultOptions(), newTestLogger())

	queries := []QuerySpec{{
		Text:              "Describe forward kinematics",
		Category:          CategoryFactual,
		GoldenDocumentIDs: []string{hit.Payload.DocumentID},
	}}

	report, err := validator.Run(context.Background(), queries)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.Queries[0].PrecisionAt1, 1e-9)
}

func TestValidatorRun_SimilarityFallback(t *testing.T) {
	// クエリと同じ語彙のチャンクは閾値を超え、無関係なチャンクは超えない
	relevant := testHit("what is inverse kinematics", 0, 0.9)
	irrelevant := testHit("completely different topic entirely unrelated words", 1, 0.3)

	retriever := &stubRetriever{hits: []RetrievedChunk{relevant, irrelevant}}
	validator := NewValidator(&stubQueryEmbedder{}, retriever, &Options{TopK: 5, RelevanceThreshold: 0.7}, newTestLogger())

	queries := []QuerySpec{{Text: "What is inverse kinematics?", Category: CategoryFactual}}

	report, err := validator.Run(context.Background(), queries)
	require.NoError(t, err)

	result := report.Queries[0]
	assert.Equal(t, "similarity", result.Evaluation)
	assert.True(t, result.Results[0].Relevant)
	assert.False(t, result.Results[1].Relevant)
	assert.InDelta(t, 1.0, result.MRR, 1e-9)
}

func TestValidatorRun_MetadataMismatch(t *testing.T) {
	good := testHit("inverse kinematics joint angles", 0, 0.9)

	// ペイロードのchunk_idがポイントIDと食い違っているレコード
	broken := testHit("forward kinematics pose", 1, 0.8)
	broken.Payload.ChunkID = uuid.New().String()

	retriever := &stubRetriever{hits: []RetrievedChunk{good, broken}}
	validator := NewValidator(&stubQueryEmbedder{}, retriever, DefaultOptions(), newTestLogger())

	report, err := validator.Run(context.Background(), []QuerySpec{
		{Text: "kinematics", Category: CategoryFactual},
	})
	require.NoError(t, err)

	result := report.Queries[0]
	assert.True(t, result.Results[0].MetadataOK)
	assert.False(t, result.Results[1].MetadataOK)
	assert.InDelta(t, 0.5, result.MetadataAccuracy, 1e-9)
}

func TestValidatorRun_AggregatesByCategory(t *testing.T) {
	hit := testHit("robot path planning algorithms", 0, 0.9)
	retriever := &stubRetriever{hits: []RetrievedChunk{hit}}
	validator := NewValidator(&stubQueryEmbedder{}, retriever, DefaultOptions(), newTestLogger())

	queries := []QuerySpec{
		{Text: "robot path planning", Category: CategoryConceptual},
		{Text: "robot path planning algorithms", Category: CategoryConceptual},
		{Text: "unrelated factual question", Category: CategoryFactual},
	}

	report, err := validator.Run(context.Background(), queries)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Overall.Queries)
	assert.Equal(t, 2, report.ByCategory[CategoryConceptual].Queries)
	assert.Equal(t, 1, report.ByCategory[CategoryFactual].Queries)
}

func TestValidatorRun_DefaultQueriesWhenEmpty(t *testing.T) {
	retriever := &stubRetriever{hits: []RetrievedChunk{testHit("robotics content", 0, 0.5)}}
	validator := NewValidator(&stubQueryEmbedder{}, retriever, DefaultOptions(), newTestLogger())

	report, err := validator.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, report.Queries, len(DefaultQueries()))
}

func TestReport_WriteJSON(t *testing.T) {
	retriever := &stubRetriever{hits: []RetrievedChunk{testHit("inverse kinematics", 0, 0.9)}}
	validator := NewValidator(&stubQueryEmbedder{}, retriever, DefaultOptions(), newTestLogger())

	report, err := validator.Run(context.Background(), []QuerySpec{
		{Text: "inverse kinematics", Category: CategoryFactual},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Report
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, report.EmbeddingModel, loaded.EmbeddingModel)
	assert.Len(t, loaded.Queries, 1)
}

func TestLoadQueries(t *testing.T) {
	t.Run("正常なファイル", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queries.json")
		content := `[{"text": "What is SLAM?", "category": "factual", "golden_chunk_ids": ["abc"]}]`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		queries, err := LoadQueries(path)
		require.NoError(t, err)
		require.Len(t, queries, 1)
		assert.Equal(t, "What is SLAM?", queries[0].Text)
		assert.True(t, queries[0].HasGolden())
	})

	t.Run("空の配列はエラー", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queries.json")
		require.NoError(t, os.WriteFile(path, []byte(`[]`), 0644))

		_, err := LoadQueries(path)
		assert.Error(t, err)
	})

	t.Run("textが空のクエリはエラー", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queries.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"category": "factual"}]`), 0644))

		_, err := LoadQueries(path)
		assert.Error(t, err)
	})

	t.Run("存在しないファイルはエラー", func(t *testing.T) {
		_, err := LoadQueries(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}
