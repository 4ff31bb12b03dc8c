package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shouni/go-image-exact/internal/pipeline"
	"github.com/shouni/go-image-exact/pkg/batch"
	"github.com/shouni/go-image-exact/pkg/flow"
	"github.com/shouni/go-image-exact/pkg/processor"
	"github.com/shouni/go-image-exact/pkg/types"
)

// コマンドラインフラグ変数を定義
var (
	inputURLs   string // --urls フラグで受け取るカンマ区切りのURLリスト
	concurrency int    // --concurrency フラグで受け取る並列実行数
	outputDir   string // --out フラグで受け取る出力先ディレクトリ
)

// runUnits は、Unit をまとめてステージに通し、出力チャネルごとに書き出します。
// batch と feed の両コマンドから利用されます。
func runUnits(units []*flow.Unit, w io.Writer) error {
	p, err := pipeline.NewProcessor(stageConfig, globalPageFetcher, logger)
	if err != nil {
		return err
	}

	n := concurrency
	if n <= 0 {
		n = stageConfig.Concurrency
	}
	dir := outputDir
	if dir == "" {
		dir = stageConfig.OutputDir
	}

	session := flow.NewMemorySession()
	runner := batch.NewParallelRunner(p, session, n, batch.WithRateLimit(stageConfig.RateLimit))

	// 全体処理のコンテキストを設定 (件数に比例させる)
	ctx, cancel := context.WithTimeout(context.Background(), overallTimeout()*batchRounds(len(units), n))
	defer cancel()

	logger.Info().Int("units", len(units)).Int("concurrency", n).Str("out", dir).Msg("並列抽出を開始します")
	results := runner.Run(ctx, units)

	if err := writeSession(dir, session, p.Relationships()); err != nil {
		return err
	}
	printSummary(w, results)
	return nil
}

// batchRounds は同時実行数で割った処理ラウンド数 (最低1) を返します。
func batchRounds(units, concurrency int) time.Duration {
	if concurrency <= 0 {
		concurrency = 1
	}
	rounds := (units + concurrency - 1) / concurrency
	if rounds < 1 {
		rounds = 1
	}
	return time.Duration(rounds)
}

// printSummary は処理結果を整形して出力します。
func printSummary(w io.Writer, results []types.UnitResult) {
	fmt.Fprintln(w, "--- 画像抽出結果 ---")

	successCount := 0
	failureCount := 0
	for i, res := range results {
		// Transfer に失敗した Unit は success を試みていてもエラーを持つ
		if res.Relationship == flow.Success.Name && res.Error == nil {
			successCount++
			fmt.Fprintf(w, "✅ [%d] %s\n", i+1, res.URL)
			fmt.Fprintf(w, "     画像数: %d (unit: %s)\n", res.ImageCount, res.UnitID)
			continue
		}
		failureCount++
		fmt.Fprintf(w, "❌ [%d] %s\n", i+1, res.URL)
		fmt.Fprintf(w, "     エラー: %v\n", res.Error)
	}

	fmt.Fprintln(w, "-------------------------------")
	fmt.Fprintf(w, "完了: success %d 件, failure %d 件\n", successCount, failureCount)
}

// readURLList は --urls またはカンマ区切り/改行区切りの標準入力からURLを読み込みます。
func readURLList(flagValue string, r io.Reader) ([]string, error) {
	var raw []string
	if flagValue != "" {
		raw = strings.Split(flagValue, ",")
	} else {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			raw = append(raw, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("標準入力の読み取りエラー: %w", err)
		}
	}

	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		processed, err := ensureScheme(u)
		if err != nil {
			return nil, fmt.Errorf("URLスキームの処理エラー: %w", err)
		}
		urls = append(urls, processed)
	}
	return urls, nil
}

// unitsFromURLs は各URLを url 属性に持つ Unit を生成します。
func unitsFromURLs(urls []string) []*flow.Unit {
	units := make([]*flow.Unit, 0, len(urls))
	for _, u := range urls {
		units = append(units, flow.NewUnitWithAttributes(map[string]string{processor.URLAttribute: u}))
	}
	return units
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "複数のURLを並列で処理し、画像参照を抽出します",
	Long: `--urls フラグでカンマ区切りのURLリストを受け取るか、標準入力からURLを一行ずつ読み込み、
指定された最大同時実行数で並列抽出を実行します。結果は <out>/<success|failure>/<unit-id>.json に書き込まれます。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireFetchers(); err != nil {
			return err
		}

		if inputURLs == "" {
			logger.Info().Msg("URLが指定されていないため、標準入力からURLを読み込みます (Ctrl+DまたはEOFで終了)...")
		}
		urls, err := readURLList(inputURLs, os.Stdin)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			return fmt.Errorf("処理対象のURLが一つも指定されていません")
		}

		return runUnits(unitsFromURLs(urls), cmd.OutOrStdout())
	},
}

func init() {
	batchCmd.Flags().StringVarP(&inputURLs, "urls", "u", "",
		"抽出対象のカンマ区切りURLリスト (例: url1,url2,url3)")
	batchCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0,
		fmt.Sprintf("最大並列実行数 (0 で設定ファイルの値、既定: %d)", batch.DefaultMaxConcurrency))
	batchCmd.Flags().StringVarP(&outputDir, "out", "o", "", "出力先ディレクトリ (空で設定ファイルの値)")
}
