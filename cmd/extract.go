package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shouni/go-image-exact/internal/pipeline"
	"github.com/shouni/go-image-exact/pkg/flow"
)

var (
	extractURL string
	extractOut string
)

// readURLFromStdin は標準入力から1行だけURLを読み込みます。
func readURLFromStdin() (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stderr, "処理するURLを入力してください: ")

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("標準入力の読み取りエラー: %w", err)
		}
		return "", fmt.Errorf("URLが入力されていません")
	}
	return strings.TrimSpace(scanner.Text()), nil
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "指定されたURLのページから画像参照を抽出し、JSONで出力します",
	Long: `指定されたURL (--url、設定ファイルの url、または標準入力の順) のページを取得し、
含まれる画像参照を JSON 配列として標準出力または --out のファイルに書き込みます。
抽出に失敗した場合は failure として終了コード1を返します。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireFetchers(); err != nil {
			return err
		}

		// 1. 処理対象URLの決定 (フラグ > 設定ファイル > 標準入力)
		target := extractURL
		if target == "" && stageConfig.URL == "" {
			logger.Info().Msg("URLが指定されていないため、標準入力からURLを読み込みます...")
			var err error
			if target, err = readURLFromStdin(); err != nil {
				return err
			}
		}
		if target != "" {
			processedURL, err := ensureScheme(target)
			if err != nil {
				return fmt.Errorf("URLスキームの処理エラー: %w", err)
			}
			target = processedURL
		}

		// 2. 依存性の初期化
		p, err := pipeline.NewProcessor(stageConfig, globalPageFetcher, logger)
		if err != nil {
			return err
		}
		if target == "" {
			// 属性がないため、設定の url が必須になる
			if err := p.Validate(); err != nil {
				return fmt.Errorf("設定ファイルの検証エラー: %w", err)
			}
		}

		// 3. メインロジックの実行
		ctx, cancel := context.WithTimeout(context.Background(), overallTimeout())
		defer cancel()

		res := pipeline.ExtractURLImages(ctx, p, target)
		if res.Relationship != flow.Success || res.Err != nil {
			return fmt.Errorf("画像抽出パイプラインの実行エラー (unit: %s): %w", res.Unit.ID(), res.Err)
		}

		// 4. 結果の出力
		body := res.Unit.Body()
		if extractOut != "" {
			if err := writeFileAtomic(extractOut, body); err != nil {
				return err
			}
			logger.Info().Str("file", extractOut).Int("bytes", len(body)).Msg("抽出結果を書き込みました")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractURL, "url", "u", "", "抽出対象のURL")
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "抽出結果 (JSON) の書き込み先ファイル")
}
