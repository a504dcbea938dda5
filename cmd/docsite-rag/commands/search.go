package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docsite-rag/internal/core/validation"
)

// SearchAction はコレクションに対して1回の検索を実行して結果を表示するアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	query := cmd.String("query")
	topK := cmd.Int("top-k")
	debug := cmd.Bool("debug")

	if query == "" {
		return fmt.Errorf("--query は必須です")
	}

	appCtx, err := NewAppContext(ctx, envFile, debug)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config
	if topK <= 0 {
		topK = cfg.Validation.TopK
	}

	vector, err := appCtx.Embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("クエリのEmbedding生成に失敗: %w", err)
	}

	hits, err := appCtx.Store.Search(ctx, vector, topK)
	if err != nil {
		return err
	}

	if len(hits) == 0 {
		fmt.Println("結果が見つかりませんでした")
		return nil
	}

	fmt.Printf("\n=== 検索結果: %s ===\n", query)
	for i, hit := range hits {
		// コサインスコアが下限を下回る結果はノイズとして表示しない
		if float64(hit.Score) < cfg.Validation.CosineThreshold {
			fmt.Printf("\n%d件目以降はスコアが下限 (%.2f) を下回るため省略\n", i+1, cfg.Validation.CosineThreshold)
			break
		}
		similarity := validation.TextSimilarity(query, hit.Payload.Text)
		annotation := ""
		if similarity >= cfg.Validation.RelevanceThreshold {
			annotation = " [関連あり]"
		}

		fmt.Printf("\n%d. %s (score=%.4f)%s\n", i+1, hit.Payload.Title, hit.Score, annotation)
		fmt.Printf("   %s (チャンク %d)\n", hit.Payload.URL, hit.Payload.Position)
		fmt.Printf("   %s\n", truncateString(hit.Payload.Text, 200))
	}
	return nil
}
