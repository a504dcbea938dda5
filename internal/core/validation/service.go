package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/docsite-rag/internal/core/document"
	"github.com/jinford/docsite-rag/internal/core/ingestion"
)

const (
	// DefaultTopK は検索で取得する件数のデフォルト
	DefaultTopK = 5
	// DefaultRelevanceThreshold は類似度による関連判定の閾値のデフォルト
	DefaultRelevanceThreshold = 0.7
)

// RetrievedChunk はベクトルストアから取得した1件の検索結果
type RetrievedChunk struct {
	ID      uuid.UUID
	Score   float32
	Payload document.Payload
}

// Retriever はベクトルストアへの読み取り専用アクセスのインターフェース
type Retriever interface {
	// Search はクエリベクトルに近い順にtopK件を返す
	Search(ctx context.Context, vector []float32, topK int) ([]RetrievedChunk, error)

	// RetrieveChunk はIDで1件取得する。存在しない場合はNone。
	RetrieveChunk(ctx context.Context, id uuid.UUID) (mo.Option[RetrievedChunk], error)
}

// Options は検証実行のオプション
type Options struct {
	TopK               int
	RelevanceThreshold float64
}

// DefaultOptions はデフォルトの検証オプションを返す
func DefaultOptions() *Options {
	return &Options{
		TopK:               DefaultTopK,
		RelevanceThreshold: DefaultRelevanceThreshold,
	}
}

// Validator は保存済みコレクションに対する検索品質の検証を実行する。
// インジェストと同じEmbedderを使うことでEmbedding空間の一貫性を保証する。
type Validator struct {
	embedder  ingestion.Embedder
	retriever Retriever
	opts      *Options
	logger    *slog.Logger
}

// NewValidator は新しいValidatorを作成する
func NewValidator(embedder ingestion.Embedder, retriever Retriever, opts *Options, logger *slog.Logger) *Validator {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		embedder:  embedder,
		retriever: retriever,
		opts:      opts,
		logger:    logger,
	}
}

// Run は全クエリを順に評価してレポートを生成する。
// クエリのEmbeddingや検索の失敗は接続性の問題であるため、実行全体を中断する。
func (v *Validator) Run(ctx context.Context, queries []QuerySpec) (*Report, error) {
	if len(queries) == 0 {
		queries = DefaultQueries()
	}

	report := &Report{
		GeneratedAt:        time.Now().UTC(),
		EmbeddingModel:     v.embedder.ModelName(),
		TopK:               v.opts.TopK,
		RelevanceThreshold: v.opts.RelevanceThreshold,
		ByCategory:         make(map[string]Aggregate),
	}

	byCategory := make(map[string][]QueryResult)
	for i := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := v.evaluateQuery(ctx, &queries[i])
		if err != nil {
			return nil, fmt.Errorf("クエリ「%s」の評価に失敗: %w", queries[i].Text, err)
		}

		report.Queries = append(report.Queries, *result)
		byCategory[result.Category] = append(byCategory[result.Category], *result)

		v.logger.Info("クエリを評価",
			"query", result.Query,
			"category", result.Category,
			"precision@1", result.PrecisionAt1,
			"mrr", result.MRR,
			"ndcg", result.NDCG,
		)
	}

	report.Overall = aggregate(report.Queries)
	for category, results := range byCategory {
		report.ByCategory[category] = aggregate(results)
	}

	v.logger.Info("検証完了",
		"queries", report.Overall.Queries,
		"precision@5", report.Overall.PrecisionAt5,
		"mrr", report.Overall.MRR,
		"ndcg", report.Overall.NDCG,
		"metadataAccuracy", report.Overall.MetadataAccuracy,
	)
	return report, nil
}

// evaluateQuery はクエリ1件を 埋め込み→検索→関連判定→メタデータ検査→指標計算 の順に評価する
func (v *Validator) evaluateQuery(ctx context.Context, query *QuerySpec) (*QueryResult, error) {
	vector, err := v.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("クエリのEmbedding生成に失敗: %w", err)
	}

	hits, err := v.retriever.Search(ctx, vector, v.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("検索に失敗: %w", err)
	}

	result := &QueryResult{
		Query:    query.Text,
		Category: query.Category,
	}
	if query.HasGolden() {
		result.Evaluation = "golden"
	} else {
		result.Evaluation = "similarity"
	}

	relevant := make([]bool, len(hits))
	gains := make([]float64, len(hits))
	metadataOK := 0

	for i, hit := range hits {
		similarity := TextSimilarity(query.Text, hit.Payload.Text)

		var isRelevant bool
		if query.HasGolden() {
			isRelevant = v.inGoldenSet(query, &hit)
			if isRelevant {
				gains[i] = 1
			}
		} else {
			isRelevant = similarity >= v.opts.RelevanceThreshold
			gains[i] = similarity
		}
		relevant[i] = isRelevant

		ok, err := v.checkMetadata(ctx, &hit)
		if err != nil {
			return nil, err
		}
		if ok {
			metadataOK++
		}

		result.Results = append(result.Results, RetrievedResult{
			ChunkID:    hit.Payload.ChunkID,
			URL:        hit.Payload.URL,
			Title:      hit.Payload.Title,
			Position:   hit.Payload.Position,
			Score:      hit.Score,
			Similarity: similarity,
			Relevant:   isRelevant,
			MetadataOK: ok,
		})
	}

	result.PrecisionAt1 = PrecisionAtK(relevant, 1)
	result.PrecisionAt3 = PrecisionAtK(relevant, 3)
	result.PrecisionAt5 = PrecisionAtK(relevant, 5)
	result.MRR = ReciprocalRank(relevant)
	result.NDCG = NDCGAtK(gains, v.opts.TopK)
	if len(hits) > 0 {
		result.MetadataAccuracy = float64(metadataOK) / float64(len(hits))
	}
	return result, nil
}

// inGoldenSet は検索結果が正解セットに含まれるかを判定する
func (v *Validator) inGoldenSet(query *QuerySpec, hit *RetrievedChunk) bool {
	for _, id := range query.GoldenChunkIDs {
		if id == hit.Payload.ChunkID || id == hit.ID.String() {
			return true
		}
	}
	for _, id := range query.GoldenDocumentIDs {
		if id == hit.Payload.DocumentID {
			return true
		}
	}
	return false
}

// checkMetadata は検索結果のペイロードの内部整合性を検査する。
// ペイロードとベクトルの対応付けが壊れるインジェストのバグを検出する。
func (v *Validator) checkMetadata(ctx context.Context, hit *RetrievedChunk) (bool, error) {
	p := hit.Payload
	if p.URL == "" || p.Text == "" || p.DocumentID == "" || p.ChunkID == "" {
		return false, nil
	}
	if p.ChunkID != hit.ID.String() {
		return false, nil
	}
	if p.Position < 0 {
		return false, nil
	}
	// 検索クエリとレコードのEmbeddingモデルが一致しない場合は別空間のベクトル
	if p.EmbeddingModel != "" && p.EmbeddingModel != v.embedder.ModelName() {
		return false, nil
	}

	// IDで再取得して検索結果と同じメタデータが返ることを確認する
	fetched, err := v.retriever.RetrieveChunk(ctx, hit.ID)
	if err != nil {
		return false, fmt.Errorf("チャンクの再取得に失敗: %w", err)
	}
	stored, ok := fetched.Get()
	if !ok {
		return false, nil
	}
	return stored.Payload.URL == p.URL &&
		stored.Payload.Title == p.Title &&
		stored.Payload.Position == p.Position, nil
}
