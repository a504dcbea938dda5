package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/docsite-rag/internal/core/chunk"
	"github.com/jinford/docsite-rag/internal/core/crawl"
	"github.com/jinford/docsite-rag/internal/core/document"
	"github.com/jinford/docsite-rag/internal/core/extract"
)

const (
	// DefaultWorkerCount はドキュメント処理ワーカー数（I/Oバウンド）
	DefaultWorkerCount = 4
	// DefaultEmbedBatchSize はEmbedding APIのデフォルトバッチサイズ
	DefaultEmbedBatchSize = 10
)

// Crawler はページ収集のインターフェース
type Crawler interface {
	Crawl(ctx context.Context, baseURL string) (*crawl.Result, error)
}

// Extractor はHTMLからの本文抽出インターフェース
type Extractor interface {
	Extract(html []byte, pageURL *url.URL) (*extract.Extraction, error)
}

// Chunker はテキスト分割のインターフェース
type Chunker interface {
	Split(text string) []chunk.Chunk
}

// StoredDocument はベクトルストアに保存済みのドキュメントの状態
type StoredDocument struct {
	Hash       string
	ChunkCount int
}

// VectorStore はベクトルストアへの保存インターフェース
type VectorStore interface {
	// EnsureCollection はコレクションを冪等に作成する
	EnsureCollection(ctx context.Context, dimension int) error

	// DocumentState は保存済みドキュメントの状態を返す。未保存の場合はNone。
	DocumentState(ctx context.Context, documentID uuid.UUID) (mo.Option[StoredDocument], error)

	// DeleteDocumentChunks はドキュメントに属する全チャンクを削除する
	DeleteDocumentChunks(ctx context.Context, documentID uuid.UUID) error

	// UpsertChunks はチャンクのベクトルレコードを一括upsertする
	UpsertChunks(ctx context.Context, records []*document.VectorRecord) error
}

// ServiceConfig はインジェストサービスの設定
type ServiceConfig struct {
	WorkerCount    int
	EmbedBatchSize int
}

// DefaultServiceConfig はデフォルトのサービス設定を返す
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		WorkerCount:    DefaultWorkerCount,
		EmbedBatchSize: DefaultEmbedBatchSize,
	}
}

// RunStats はインジェスト実行の統計情報
type RunStats struct {
	PagesCrawled     int
	DocumentsNew     int
	DocumentsUpdated int
	DocumentsSkipped int
	DocumentsFailed  int
	LowQualityPages  int
	ChunksStored     int
	StartedAt        time.Time
	Duration         time.Duration
	FailedURLs       []crawl.FailedURL
	FailedDocuments  []FailedDocument
}

// docResult はドキュメント1件の処理結果
type docResult struct {
	url        string
	status     document.Status
	isUpdate   bool
	chunkCount int
	lowQuality bool
	stage      string
	err        error
}

// Service はインジェストパイプライン全体を調整する。
// クロール結果をワーカープールで 抽出→分割→Embedding→保存 の順に処理する。
type Service struct {
	crawler   Crawler
	extractor Extractor
	chunker   Chunker
	embedder  Embedder
	store     VectorStore
	config    *ServiceConfig
	runLog    *RunLog
	logger    *slog.Logger

	// 実際に使用するバッチサイズ（Embedder.MaxBatchSize()でクリップ済み）
	effectiveBatchSize int
}

// NewService は新しいServiceを作成する
func NewService(
	crawler Crawler,
	extractor Extractor,
	chunker Chunker,
	embedder Embedder,
	store VectorStore,
	config *ServiceConfig,
	runLog *RunLog,
	logger *slog.Logger,
) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultWorkerCount
	}

	effectiveBatchSize := config.EmbedBatchSize
	if effectiveBatchSize <= 0 {
		effectiveBatchSize = DefaultEmbedBatchSize
	}
	if max := embedder.MaxBatchSize(); max > 0 && effectiveBatchSize > max {
		logger.Info("EmbedBatchSizeをEmbedderの最大値でクリップ",
			"configured", effectiveBatchSize,
			"max", max,
		)
		effectiveBatchSize = max
	}

	return &Service{
		crawler:            crawler,
		extractor:          extractor,
		chunker:            chunker,
		embedder:           embedder,
		store:              store,
		config:             config,
		runLog:             runLog,
		logger:             logger,
		effectiveBatchSize: effectiveBatchSize,
	}
}

// Run はベースURL配下のドキュメントをインジェストする。
// 一部のドキュメントの失敗では全体を止めず、全件失敗した場合のみエラーを返す。
func (s *Service) Run(ctx context.Context, baseURL string) (*RunStats, error) {
	stats := &RunStats{StartedAt: time.Now()}

	// コレクションを先に確保する（ストア到達不能ならここで失敗）
	if err := s.store.EnsureCollection(ctx, s.embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("ベクトルストアの初期化に失敗: %w", err)
	}

	result, err := s.crawler.Crawl(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("クロールに失敗: %w", err)
	}
	stats.PagesCrawled = len(result.Pages)
	stats.FailedURLs = result.FailedURLs

	if len(result.Pages) == 0 {
		return nil, fmt.Errorf("クロール対象のページが見つかりませんでした: %s", baseURL)
	}

	pageChan := make(chan *crawl.Page, len(result.Pages))
	resultChan := make(chan *docResult, len(result.Pages))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer close(pageChan)
		for _, page := range result.Pages {
			select {
			case pageChan <- page:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(s.config.WorkerCount)
	for i := 0; i < s.config.WorkerCount; i++ {
		go func() {
			defer wg.Done()
			s.documentWorker(ctx, pageChan, resultChan)
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for res := range resultChan {
		if res.err != nil {
			s.logger.Warn("ドキュメントの処理に失敗",
				"url", res.url,
				"stage", res.stage,
				"error", res.err,
			)
			stats.DocumentsFailed++
			stats.FailedDocuments = append(stats.FailedDocuments, FailedDocument{
				URL:    res.url,
				Stage:  res.stage,
				Reason: res.err.Error(),
			})
			continue
		}

		if res.lowQuality {
			stats.LowQualityPages++
		}

		switch res.status {
		case document.StatusSkipped:
			stats.DocumentsSkipped++
		default:
			if res.isUpdate {
				stats.DocumentsUpdated++
			} else {
				stats.DocumentsNew++
			}
			stats.ChunksStored += res.chunkCount
		}
	}

	stats.Duration = time.Since(stats.StartedAt)

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	s.logger.Info("インジェスト完了",
		"pages", stats.PagesCrawled,
		"new", stats.DocumentsNew,
		"updated", stats.DocumentsUpdated,
		"skipped", stats.DocumentsSkipped,
		"failed", stats.DocumentsFailed,
		"lowQuality", stats.LowQualityPages,
		"chunks", stats.ChunksStored,
		"duration", stats.Duration.String(),
	)

	if s.runLog != nil {
		if err := s.runLog.Append(s.buildRecord(baseURL, stats)); err != nil {
			s.logger.Warn("実行ログの書き込みに失敗", "error", err)
		}
	}

	// 全ドキュメントが失敗した場合のみエラー扱いにする
	processed := stats.DocumentsNew + stats.DocumentsUpdated + stats.DocumentsSkipped
	if processed == 0 && stats.DocumentsFailed > 0 {
		return stats, fmt.Errorf("全ドキュメントの処理に失敗しました（%d件）", stats.DocumentsFailed)
	}

	return stats, nil
}

// documentWorker はページを1件ずつパイプライン処理するワーカー
func (s *Service) documentWorker(ctx context.Context, pageChan <-chan *crawl.Page, resultChan chan<- *docResult) {
	for page := range pageChan {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res := s.processPage(ctx, page)
		select {
		case resultChan <- res:
		case <-ctx.Done():
			return
		}
	}
}

// processPage は1ページを 抽出→変更検知→分割→Embedding→保存 の順に処理する
func (s *Service) processPage(ctx context.Context, page *crawl.Page) *docResult {
	res := &docResult{url: page.URL}

	pageURL, err := url.Parse(page.URL)
	if err != nil {
		res.stage = "extract"
		res.err = fmt.Errorf("invalid page URL: %w", err)
		return res
	}

	extraction, err := s.extractor.Extract(page.HTML, pageURL)
	if err != nil {
		res.stage = "extract"
		res.err = err
		return res
	}
	res.lowQuality = extraction.LowQuality

	doc := document.NewDocument(page.URL, page.FetchedAt)
	doc.Title = extraction.Title
	doc.Content = extraction.Text
	doc.ContentHash = document.ContentHash(extraction.Text)
	if err := doc.Transition(document.StatusExtracted); err != nil {
		res.stage = "extract"
		res.err = err
		return res
	}

	// 変更検知: 保存済みハッシュと一致する場合は再処理しない。
	// ハッシュが一致してもレコードが欠落していれば取り込み直す。
	state, err := s.store.DocumentState(ctx, doc.ID)
	if err != nil {
		res.stage = "store"
		res.err = err
		return res
	}
	if stored, ok := state.Get(); ok {
		if stored.Hash == doc.ContentHash && stored.ChunkCount > 0 {
			s.logger.Debug("変更なしのためスキップ", "url", doc.URL)
			res.status = document.StatusSkipped
			return res
		}
		res.isUpdate = true
	}

	pieces := s.chunker.Split(doc.Content)
	if len(pieces) == 0 {
		res.stage = "chunk"
		res.err = fmt.Errorf("チャンクが生成されませんでした")
		return res
	}
	if err := doc.Transition(document.StatusChunked); err != nil {
		res.stage = "chunk"
		res.err = err
		return res
	}

	for _, piece := range pieces {
		doc.Chunks = append(doc.Chunks, &document.Chunk{
			ID:         document.NewChunkID(doc.ID, piece.Position),
			DocumentID: doc.ID,
			Position:   piece.Position,
			Text:       piece.Text,
			TokenCount: piece.TokenCount,
			Hash:       document.ContentHash(piece.Text),
		})
	}

	// 全バッチのEmbeddingが成功した場合のみ保存へ進む
	if err := s.embedChunks(ctx, doc.Chunks); err != nil {
		res.stage = "embed"
		res.err = err
		return res
	}
	if err := doc.Transition(document.StatusEmbedded); err != nil {
		res.stage = "embed"
		res.err = err
		return res
	}

	// 更新の場合は旧チャンクを先に削除する（チャンク数減少時の残骸を防ぐ）
	if res.isUpdate {
		if err := s.store.DeleteDocumentChunks(ctx, doc.ID); err != nil {
			res.stage = "store"
			res.err = err
			return res
		}
	}

	records := s.buildRecords(doc)
	if err := s.store.UpsertChunks(ctx, records); err != nil {
		res.stage = "store"
		res.err = err
		return res
	}
	if err := doc.Transition(document.StatusStored); err != nil {
		res.stage = "store"
		res.err = err
		return res
	}

	if err := doc.Transition(document.StatusDone); err != nil {
		res.stage = "store"
		res.err = err
		return res
	}
	res.status = document.StatusDone
	res.chunkCount = len(records)

	s.logger.Debug("ドキュメントを保存",
		"url", doc.URL,
		"chunks", len(records),
		"update", res.isUpdate,
	)
	return res
}

// embedChunks はチャンクのEmbeddingをバッチ生成してチャンクに書き込む
func (s *Service) embedChunks(ctx context.Context, chunks []*document.Chunk) error {
	for start := 0; start < len(chunks); start += s.effectiveBatchSize {
		end := start + s.effectiveBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := s.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return err
		}
		if err := ValidateVectors(vectors, len(batch), s.embedder.Dimension()); err != nil {
			return err
		}

		for i, c := range batch {
			c.Vector = vectors[i]
		}
	}
	return nil
}

// buildRecords はドキュメントのチャンクからベクトルレコードを構築する
func (s *Service) buildRecords(doc *document.Document) []*document.VectorRecord {
	now := time.Now().UTC()
	records := make([]*document.VectorRecord, 0, len(doc.Chunks))
	for _, c := range doc.Chunks {
		records = append(records, &document.VectorRecord{
			ID:     c.ID,
			Vector: c.Vector,
			Payload: document.Payload{
				DocumentID:     doc.ID.String(),
				ChunkID:        c.ID.String(),
				URL:            doc.URL,
				Title:          doc.Title,
				Text:           c.Text,
				Position:       c.Position,
				TokenCount:     c.TokenCount,
				DocumentHash:   doc.ContentHash,
				ChunkHash:      c.Hash,
				EmbeddingModel: s.embedder.ModelName(),
				IngestedAt:     now,
			},
		})
	}
	return records
}

// buildRecord は実行記録を構築する
func (s *Service) buildRecord(baseURL string, stats *RunStats) *RunRecord {
	return &RunRecord{
		StartedAt:        stats.StartedAt,
		DurationMS:       stats.Duration.Milliseconds(),
		BaseURL:          baseURL,
		PagesCrawled:     stats.PagesCrawled,
		DocumentsNew:     stats.DocumentsNew,
		DocumentsUpdated: stats.DocumentsUpdated,
		DocumentsSkipped: stats.DocumentsSkipped,
		DocumentsFailed:  stats.DocumentsFailed,
		LowQualityPages:  stats.LowQualityPages,
		ChunksStored:     stats.ChunksStored,
		EmbeddingModel:   s.embedder.ModelName(),
		FailedURLs:       stats.FailedURLs,
		FailedDocuments:  stats.FailedDocuments,
	}
}
