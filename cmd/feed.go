package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shouni/go-image-exact/pkg/feed"
)

// フィードURLを保持するフラグ変数
var feedURL string

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "RSS/Atomフィードの各記事から画像参照を抽出します",
	Long: `指定されたURLからRSSまたはAtomフィードを取得し、各記事のリンクを1件の Unit として
batch と同じ並列抽出を実行します。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireFetchers(); err != nil {
			return err
		}

		processedURL, err := ensureScheme(feedURL)
		if err != nil {
			return fmt.Errorf("URLスキームの処理エラー: %w", err)
		}
		logger.Info().Str("feed", processedURL).Dur("timeout", overallTimeout()).Msg("フィードを取得します")

		// 1. フィードの取得と記事リンクごとの Unit 生成
		ctx, cancel := context.WithTimeout(context.Background(), overallTimeout())
		defer cancel()

		units, parsedFeed, err := feed.NewParser(globalFeedFetcher).FetchUnits(ctx, processedURL)
		if err != nil {
			return fmt.Errorf("フィード解析の実行エラー: %w", err)
		}
		if len(units) == 0 {
			return fmt.Errorf("フィードに記事リンクがありません: %s", processedURL)
		}
		logger.Info().Str("title", parsedFeed.Title).Int("items", len(units)).Msg("フィードを解析しました")

		// 2. 並列抽出
		return runUnits(units, cmd.OutOrStdout())
	},
}

func init() {
	feedCmd.Flags().StringVarP(&feedURL, "url", "u", "", "解析対象のフィード (RSS/Atom) URL")
	feedCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "最大並列実行数 (0 で設定ファイルの値)")
	feedCmd.Flags().StringVarP(&outputDir, "out", "o", "", "出力先ディレクトリ (空で設定ファイルの値)")

	// URLフラグを必須にする
	_ = feedCmd.MarkFlagRequired("url")
}
