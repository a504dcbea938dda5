package commands

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/docsite-rag/internal/core/validation"
)

// ValidateAction は保存済みコレクションに対する検索品質の検証を実行するアクション
func ValidateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	queriesFile := cmd.String("queries-file")
	topK := cmd.Int("top-k")
	output := cmd.String("output")
	debug := cmd.Bool("debug")

	appCtx, err := NewAppContext(ctx, envFile, debug)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config

	var queries []validation.QuerySpec
	if queriesFile != "" {
		queries, err = validation.LoadQueries(queriesFile)
		if err != nil {
			return err
		}
	}

	if topK <= 0 {
		topK = cfg.Validation.TopK
	}

	validator := validation.NewValidator(appCtx.Embedder, appCtx.Store, &validation.Options{
		TopK:               topK,
		RelevanceThreshold: cfg.Validation.RelevanceThreshold,
	}, appCtx.Logger)

	report, err := validator.Run(ctx, queries)
	if err != nil {
		return err
	}

	if output != "" {
		if err := report.WriteJSON(output); err != nil {
			return err
		}
		appCtx.Logger.Info("レポートを出力", "path", output)
	}

	renderValidationReport(report)
	return nil
}

// renderValidationReport は検証結果のサマリーをテーブル表示する
func renderValidationReport(report *validation.Report) {
	fmt.Printf("\n=== 検索品質検証（モデル: %s, top-k: %d）===\n\n", report.EmbeddingModel, report.TopK)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("クエリ", "カテゴリ", "判定", "P@1", "P@5", "MRR", "NDCG")
	for _, q := range report.Queries {
		table.Append(
			truncateString(q.Query, 40),
			q.Category,
			q.Evaluation,
			fmt.Sprintf("%.2f", q.PrecisionAt1),
			fmt.Sprintf("%.2f", q.PrecisionAt5),
			fmt.Sprintf("%.2f", q.MRR),
			fmt.Sprintf("%.2f", q.NDCG),
		)
	}
	table.Render()

	fmt.Println()
	aggTable := tablewriter.NewWriter(os.Stdout)
	aggTable.Header("集計", "クエリ数", "P@1", "P@3", "P@5", "MRR", "NDCG", "メタデータ精度")
	appendAggregate(aggTable, "全体", report.Overall)

	categories := make([]string, 0, len(report.ByCategory))
	for category := range report.ByCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		appendAggregate(aggTable, category, report.ByCategory[category])
	}
	aggTable.Render()
}

func appendAggregate(table *tablewriter.Table, label string, agg validation.Aggregate) {
	table.Append(
		label,
		fmt.Sprintf("%d", agg.Queries),
		fmt.Sprintf("%.2f", agg.PrecisionAt1),
		fmt.Sprintf("%.2f", agg.PrecisionAt3),
		fmt.Sprintf("%.2f", agg.PrecisionAt5),
		fmt.Sprintf("%.2f", agg.MRR),
		fmt.Sprintf("%.2f", agg.NDCG),
		fmt.Sprintf("%.2f", agg.MetadataAccuracy),
	)
}

// truncateString は表示用に文字列を切り詰める
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
