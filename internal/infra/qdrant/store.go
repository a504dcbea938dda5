package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/samber/mo"

	"github.com/jinford/docsite-rag/internal/core/document"
	"github.com/jinford/docsite-rag/internal/core/ingestion"
	"github.com/jinford/docsite-rag/internal/core/validation"
)

// payloadフィールドのキー名。検証のメタデータ整合性検査が参照するため、
// 書き込みと読み出しで必ず一致させる。
const (
	fieldDocumentID     = "document_id"
	fieldChunkID        = "chunk_id"
	fieldURL            = "url"
	fieldTitle          = "title"
	fieldText           = "text"
	fieldPosition       = "position"
	fieldTokenCount     = "token_count"
	fieldDocumentHash   = "document_hash"
	fieldChunkHash      = "chunk_hash"
	fieldEmbeddingModel = "embedding_model"
	fieldIngestedAt     = "ingested_at"
)

// Config はQdrant接続の設定
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// CollectionInfo はコレクションの状態
type CollectionInfo struct {
	Name      string
	Points    uint64
	Dimension uint64
	Distance  string
}

// Store はQdrantをベクトルストアとして使う実装。
// インジェストの書き込みと検証の読み取りの両方を提供する。
type Store struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

// NewStore は新しいStoreを作成する
func NewStore(cfg *Config, logger *slog.Logger) (*Store, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("コレクション名が指定されていません")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("Qdrantクライアントの作成に失敗: %w", err)
	}

	return &Store{
		client:     client,
		collection: cfg.Collection,
		logger:     logger,
	}, nil
}

// Close は接続を閉じる
func (s *Store) Close() error {
	return s.client.Close()
}

// HealthCheck はQdrantへの到達性を確認する
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("Qdrantに接続できません: %w", err)
	}
	return nil
}

// EnsureCollection はコレクションが存在しない場合のみ作成する（コサイン距離）
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("コレクションの存在確認に失敗: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("コレクションの作成に失敗: %w", err)
	}

	// document_id によるフィルタ（状態確認・削除）を高速化するためのインデックス
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      fieldDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("ペイロードインデックスの作成に失敗: %w", err)
	}

	s.logger.Info("コレクションを作成",
		"collection", s.collection,
		"dimension", dimension,
	)
	return nil
}

// DocumentState は保存済みドキュメントのハッシュとチャンク数を返す
func (s *Store) DocumentState(ctx context.Context, documentID uuid.UUID) (mo.Option[ingestion.StoredDocument], error) {
	filter := documentFilter(documentID)

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(1)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return mo.None[ingestion.StoredDocument](), fmt.Errorf("ドキュメント状態の取得に失敗: %w", err)
	}
	if len(points) == 0 {
		return mo.None[ingestion.StoredDocument](), nil
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return mo.None[ingestion.StoredDocument](), fmt.Errorf("チャンク数の取得に失敗: %w", err)
	}

	hash := points[0].Payload[fieldDocumentHash].GetStringValue()
	return mo.Some(ingestion.StoredDocument{
		Hash:       hash,
		ChunkCount: int(count),
	}), nil
}

// DeleteDocumentChunks はドキュメントに属する全ポイントを削除する
func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID uuid.UUID) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("チャンクの削除に失敗: %w", err)
	}
	return nil
}

// UpsertChunks はベクトルレコードを一括upsertする。
// IDがURL・位置から決定的に導出されるため、同じ内容の再実行は重複を生まない。
func (s *Store) UpsertChunks(ctx context.Context, records []*document.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, record := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(record.ID.String()),
			Vectors: qdrant.NewVectors(record.Vector...),
			Payload: payloadToValueMap(&record.Payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("チャンクのupsertに失敗: %w", err)
	}
	return nil
}

// Search はクエリベクトルに近い順にtopK件を返す
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]validation.RetrievedChunk, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("検索に失敗: %w", err)
	}

	results := make([]validation.RetrievedChunk, 0, len(points))
	for _, point := range points {
		id, err := uuid.Parse(point.Id.GetUuid())
		if err != nil {
			return nil, fmt.Errorf("ポイントIDのパースに失敗: %w", err)
		}
		results = append(results, validation.RetrievedChunk{
			ID:      id,
			Score:   point.Score,
			Payload: valueMapToPayload(point.Payload),
		})
	}
	return results, nil
}

// RetrieveChunk はIDで1件取得する
func (s *Store) RetrieveChunk(ctx context.Context, id uuid.UUID) (mo.Option[validation.RetrievedChunk], error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id.String())},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return mo.None[validation.RetrievedChunk](), fmt.Errorf("チャンクの取得に失敗: %w", err)
	}
	if len(points) == 0 {
		return mo.None[validation.RetrievedChunk](), nil
	}

	return mo.Some(validation.RetrievedChunk{
		ID:      id,
		Payload: valueMapToPayload(points[0].Payload),
	}), nil
}

// Info はコレクションのポイント数・次元・距離関数を返す
func (s *Store) Info(ctx context.Context) (*CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("コレクション情報の取得に失敗: %w", err)
	}

	result := &CollectionInfo{
		Name:   s.collection,
		Points: info.GetPointsCount(),
	}

	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		result.Dimension = params.GetSize()
		result.Distance = params.GetDistance().String()
	}
	return result, nil
}

// documentFilter はdocument_idによる絞り込み条件を作る
func documentFilter(documentID uuid.UUID) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(fieldDocumentID, documentID.String()),
		},
	}
}

// payloadToValueMap はペイロードをQdrantの値マップに変換する
func payloadToValueMap(p *document.Payload) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		fieldDocumentID:     p.DocumentID,
		fieldChunkID:        p.ChunkID,
		fieldURL:            p.URL,
		fieldTitle:          p.Title,
		fieldText:           p.Text,
		fieldPosition:       int64(p.Position),
		fieldTokenCount:     int64(p.TokenCount),
		fieldDocumentHash:   p.DocumentHash,
		fieldChunkHash:      p.ChunkHash,
		fieldEmbeddingModel: p.EmbeddingModel,
		fieldIngestedAt:     p.IngestedAt.Format(time.RFC3339),
	})
}

// valueMapToPayload はQdrantの値マップをペイロードに復元する
func valueMapToPayload(values map[string]*qdrant.Value) document.Payload {
	p := document.Payload{
		DocumentID:     values[fieldDocumentID].GetStringValue(),
		ChunkID:        values[fieldChunkID].GetStringValue(),
		URL:            values[fieldURL].GetStringValue(),
		Title:          values[fieldTitle].GetStringValue(),
		Text:           values[fieldText].GetStringValue(),
		Position:       int(values[fieldPosition].GetIntegerValue()),
		TokenCount:     int(values[fieldTokenCount].GetIntegerValue()),
		DocumentHash:   values[fieldDocumentHash].GetStringValue(),
		ChunkHash:      values[fieldChunkHash].GetStringValue(),
		EmbeddingModel: values[fieldEmbeddingModel].GetStringValue(),
	}
	if ts, err := time.Parse(time.RFC3339, values[fieldIngestedAt].GetStringValue()); err == nil {
		p.IngestedAt = ts
	}
	return p
}

// インターフェース実装の確認
var (
	_ ingestion.VectorStore = (*Store)(nil)
	_ validation.Retriever  = (*Store)(nil)
)
