package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/docsite-rag/internal/core/chunk"
	"github.com/jinford/docsite-rag/internal/core/crawl"
	"github.com/jinford/docsite-rag/internal/core/extract"
	"github.com/jinford/docsite-rag/internal/core/ingestion"
)

// IngestAction はドキュメントサイトをクロールしてベクトルストアに取り込むアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	baseURL := cmd.String("base-url")
	limit := cmd.Int("limit")
	debug := cmd.Bool("debug")

	appCtx, err := NewAppContext(ctx, envFile, debug)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config
	if baseURL == "" {
		baseURL = cfg.Site.BaseURL
	}
	if baseURL == "" {
		return fmt.Errorf("--base-url または DOCS_BASE_URL を指定してください")
	}

	maxPages := cfg.Crawler.MaxPages
	if limit > 0 {
		maxPages = limit
	}

	crawler := crawl.NewCrawler(crawl.Options{
		Delay:          cfg.Crawler.Delay,
		RequestTimeout: cfg.Crawler.RequestTimeout,
		MaxRetries:     cfg.Crawler.MaxRetries,
		UserAgent:      cfg.Crawler.UserAgent,
		MaxPages:       maxPages,
	}, appCtx.Logger)

	chunker, err := chunk.NewTokenChunker(
		cfg.Chunking.MinTokens,
		cfg.Chunking.MaxTokens,
		cfg.Chunking.OverlapTokens,
	)
	if err != nil {
		return fmt.Errorf("Chunkerの初期化に失敗: %w", err)
	}

	service := ingestion.NewService(
		crawler,
		extract.NewExtractor(),
		chunker,
		appCtx.Embedder,
		appCtx.Store,
		&ingestion.ServiceConfig{
			WorkerCount:    cfg.Embedding.WorkerCount,
			EmbedBatchSize: cfg.Embedding.BatchSize,
		},
		ingestion.NewRunLog(cfg.RunLogPath),
		appCtx.Logger,
	)

	stats, err := service.Run(ctx, baseURL)
	if err != nil {
		return err
	}

	renderIngestSummary(stats)
	return nil
}

// renderIngestSummary は実行結果のサマリーをテーブル表示する
func renderIngestSummary(stats *ingestion.RunStats) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("項目", "件数")
	table.Append("クロールしたページ", fmt.Sprintf("%d", stats.PagesCrawled))
	table.Append("新規ドキュメント", fmt.Sprintf("%d", stats.DocumentsNew))
	table.Append("更新ドキュメント", fmt.Sprintf("%d", stats.DocumentsUpdated))
	table.Append("スキップ（変更なし）", fmt.Sprintf("%d", stats.DocumentsSkipped))
	table.Append("失敗", fmt.Sprintf("%d", stats.DocumentsFailed))
	table.Append("低品質ページ", fmt.Sprintf("%d", stats.LowQualityPages))
	table.Append("保存したチャンク", fmt.Sprintf("%d", stats.ChunksStored))
	table.Append("所要時間", stats.Duration.Round(time.Millisecond).String())
	table.Render()

	if len(stats.FailedURLs) > 0 {
		fmt.Printf("\n取得に失敗したURL: %d件\n", len(stats.FailedURLs))
		for _, failed := range stats.FailedURLs {
			fmt.Printf("  %s (status=%d): %s\n", failed.URL, failed.StatusCode, failed.Reason)
		}
	}

	if len(stats.FailedDocuments) > 0 {
		fmt.Printf("\n処理に失敗したドキュメント: %d件\n", len(stats.FailedDocuments))
		for _, failed := range stats.FailedDocuments {
			fmt.Printf("  %s [%s]: %s\n", failed.URL, failed.Stage, failed.Reason)
		}
	}
}
