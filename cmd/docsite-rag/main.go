package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docsite-rag/cmd/docsite-rag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定（各コマンドが設定読み込み後に上書きする）
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "docsite-rag",
		Usage: "ドキュメントサイト向け RAG インジェストおよび検索品質検証パイプライン",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "ドキュメントサイトをクロールしてベクトルストアに取り込む",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "base-url",
						Usage: "クロール開始URL（未指定の場合は DOCS_BASE_URL）",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "処理するページ数の上限（0 は無制限）",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "デバッグログを有効化",
					},
				},
				Action: commands.IngestAction,
			},
			{
				Name:  "validate",
				Usage: "保存済みコレクションの検索品質を検証する",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "queries-file",
						Usage: "検証クエリのJSONファイル（未指定の場合は組み込みクエリセット）",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "検索で取得する件数",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "レポートのJSON出力先パス",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "デバッグログを有効化",
					},
				},
				Action: commands.ValidateAction,
			},
			{
				Name:  "search",
				Usage: "コレクションに対して検索を実行する",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "取得する件数",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "デバッグログを有効化",
					},
				},
				Action: commands.SearchAction,
			},
			{
				Name:  "status",
				Usage: "コレクションの状態を表示する",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "デバッグログを有効化",
					},
				},
				Action: commands.StatusAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatalf("エラー: %v", err)
	}
}
