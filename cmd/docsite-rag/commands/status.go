package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// StatusAction はコレクションの状態を表示するアクション
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	debug := cmd.Bool("debug")

	appCtx, err := NewAppContext(ctx, envFile, debug)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	info, err := appCtx.Store.Info(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("項目", "値")
	table.Append("コレクション", info.Name)
	table.Append("ポイント数", fmt.Sprintf("%d", info.Points))
	table.Append("ベクトル次元", fmt.Sprintf("%d", info.Dimension))
	table.Append("距離関数", info.Distance)
	table.Append("Embeddingモデル", appCtx.Embedder.ModelName())
	table.Append("設定上の次元", fmt.Sprintf("%d", appCtx.Embedder.Dimension()))
	table.Render()

	// コレクションの次元と設定の次元の食い違いは検索品質を壊すため警告する
	if info.Dimension > 0 && int(info.Dimension) != appCtx.Embedder.Dimension() {
		fmt.Printf("\n警告: コレクションの次元(%d)が設定上の次元(%d)と一致しません\n",
			info.Dimension, appCtx.Embedder.Dimension())
	}
	return nil
}
