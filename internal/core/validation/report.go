package validation

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// RetrievedResult は検索結果1件の評価詳細
type RetrievedResult struct {
	ChunkID    string  `json:"chunk_id"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Position   int     `json:"position"`
	Score      float32 `json:"score"`
	Similarity float64 `json:"similarity"`
	Relevant   bool    `json:"relevant"`
	MetadataOK bool    `json:"metadata_ok"`
}

// QueryResult はクエリ1件分の評価結果
type QueryResult struct {
	Query            string            `json:"query"`
	Category         string            `json:"category"`
	Evaluation       string            `json:"evaluation"` // golden / similarity
	Results          []RetrievedResult `json:"results"`
	PrecisionAt1     float64           `json:"precision_at_1"`
	PrecisionAt3     float64           `json:"precision_at_3"`
	PrecisionAt5     float64           `json:"precision_at_5"`
	MRR              float64           `json:"mrr"`
	NDCG             float64           `json:"ndcg"`
	MetadataAccuracy float64           `json:"metadata_accuracy"`
}

// Aggregate は複数クエリの指標の平均値
type Aggregate struct {
	Queries          int     `json:"queries"`
	PrecisionAt1     float64 `json:"precision_at_1"`
	PrecisionAt3     float64 `json:"precision_at_3"`
	PrecisionAt5     float64 `json:"precision_at_5"`
	MRR              float64 `json:"mrr"`
	NDCG             float64 `json:"ndcg"`
	MetadataAccuracy float64 `json:"metadata_accuracy"`
}

// Report は検証実行全体のレポート
type Report struct {
	GeneratedAt        time.Time            `json:"generated_at"`
	EmbeddingModel     string               `json:"embedding_model"`
	TopK               int                  `json:"top_k"`
	RelevanceThreshold float64              `json:"relevance_threshold"`
	Queries            []QueryResult        `json:"queries"`
	Overall            Aggregate            `json:"overall"`
	ByCategory         map[string]Aggregate `json:"by_category"`
}

// WriteJSON はレポートをインデント付きJSONとしてファイルに書き出す
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("レポートのシリアライズに失敗: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("レポートの書き込みに失敗: %w", err)
	}
	return nil
}

// aggregate はクエリ結果の平均を計算する
func aggregate(results []QueryResult) Aggregate {
	agg := Aggregate{Queries: len(results)}
	if len(results) == 0 {
		return agg
	}

	for _, r := range results {
		agg.PrecisionAt1 += r.PrecisionAt1
		agg.PrecisionAt3 += r.PrecisionAt3
		agg.PrecisionAt5 += r.PrecisionAt5
		agg.MRR += r.MRR
		agg.NDCG += r.NDCG
		agg.MetadataAccuracy += r.MetadataAccuracy
	}

	n := float64(len(results))
	agg.PrecisionAt1 /= n
	agg.PrecisionAt3 /= n
	agg.PrecisionAt5 /= n
	agg.MRR /= n
	agg.NDCG /= n
	agg.MetadataAccuracy /= n
	return agg
}
