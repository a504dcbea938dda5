package document

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status はドキュメントのパイプライン処理状態
type Status string

const (
	StatusPending   Status = "pending"
	StatusCrawled   Status = "crawled"
	StatusExtracted Status = "extracted"
	StatusChunked   Status = "chunked"
	StatusEmbedded  Status = "embedded"
	StatusStored    Status = "stored"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// statusTransitions はパイプラインで許可される状態遷移
var statusTransitions = map[Status][]Status{
	StatusPending:   {StatusCrawled, StatusFailed},
	StatusCrawled:   {StatusExtracted, StatusFailed},
	StatusExtracted: {StatusChunked, StatusSkipped, StatusFailed},
	StatusChunked:   {StatusEmbedded, StatusFailed},
	StatusEmbedded:  {StatusStored, StatusFailed},
	StatusStored:    {StatusDone, StatusFailed},
}

// CanTransition はsからnextへの遷移が許可されているかを返す
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Document はクロールした1ページに対応するドキュメント
type Document struct {
	ID          uuid.UUID
	URL         string
	Title       string
	Content     string // 抽出済みプレーンテキスト
	ContentHash string
	Status      Status
	LowQuality  bool // 本文抽出の品質ゲートに引っかかったページ
	FetchedAt   time.Time
	Chunks      []*Chunk
}

// Chunk はドキュメントを分割したチャンク
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Position   int // ドキュメント内の0始まりの通し番号
	Text       string
	TokenCount int
	Hash       string
	Vector     []float32
}

// VectorRecord はベクトルストアに保存する1ポイント分のレコード
type VectorRecord struct {
	ID      uuid.UUID
	Vector  []float32
	Payload Payload
}

// Payload はベクトルストアのポイントに付与するメタデータ
type Payload struct {
	DocumentID     string    `json:"document_id"`
	ChunkID        string    `json:"chunk_id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Text           string    `json:"text"`
	Position       int       `json:"position"`
	TokenCount     int       `json:"token_count"`
	DocumentHash   string    `json:"document_hash"`
	ChunkHash      string    `json:"chunk_hash"`
	EmbeddingModel string    `json:"embedding_model"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// ContentHash はコンテンツのSHA256ハッシュを計算する
func ContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// NewDocumentID はURLから決定的なドキュメントIDを導出する。
// 同じURLは常に同じIDになるため、再実行時のupsertが冪等になる。
func NewDocumentID(url string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url))
}

// NewChunkID はドキュメントIDとチャンク位置から決定的なチャンクIDを導出する
func NewChunkID(documentID uuid.UUID, position int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%d", documentID, position)))
}

// Transition はドキュメントの状態を検証付きで遷移させる
func (d *Document) Transition(next Status) error {
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("invalid status transition: %s -> %s", d.Status, next)
	}
	d.Status = next
	return nil
}

// NewDocument は抽出前のドキュメントを作成する
func NewDocument(url string, fetchedAt time.Time) *Document {
	return &Document{
		ID:        NewDocumentID(url),
		URL:       url,
		Status:    StatusCrawled,
		FetchedAt: fetchedAt,
	}
}
