package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jinford/docsite-rag/internal/core/crawl"
)

// RunRecord は1回のインジェスト実行の記録（JSON Lines形式で追記される）
type RunRecord struct {
	StartedAt        time.Time         `json:"started_at"`
	DurationMS       int64             `json:"duration_ms"`
	BaseURL          string            `json:"base_url"`
	PagesCrawled     int               `json:"pages_crawled"`
	DocumentsNew     int               `json:"documents_new"`
	DocumentsUpdated int               `json:"documents_updated"`
	DocumentsSkipped int               `json:"documents_skipped"`
	DocumentsFailed  int               `json:"documents_failed"`
	LowQualityPages  int               `json:"low_quality_pages"`
	ChunksStored     int               `json:"chunks_stored"`
	EmbeddingModel   string            `json:"embedding_model"`
	FailedURLs       []crawl.FailedURL `json:"failed_urls,omitempty"`
	FailedDocuments  []FailedDocument  `json:"failed_documents,omitempty"`
}

// FailedDocument は処理に失敗したドキュメントの記録
type FailedDocument struct {
	URL    string `json:"url"`
	Stage  string `json:"stage"` // extract / chunk / embed / store
	Reason string `json:"reason"`
}

// RunLog は実行記録をJSON Linesファイルへ追記する
type RunLog struct {
	path string
}

// NewRunLog は新しいRunLogを作成する。pathが空の場合は何も記録しない。
func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

// Append は実行記録を1行追記する
func (l *RunLog) Append(record *RunRecord) error {
	if l.path == "" {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}
	return nil
}
