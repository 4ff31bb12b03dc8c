package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	clibase "github.com/shouni/go-cli-base"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/spf13/cobra"

	"github.com/shouni/go-image-exact/internal/config"
	"github.com/shouni/go-image-exact/pkg/feed"
	"github.com/shouni/go-image-exact/pkg/imageextract"
)

// --- グローバル定数 ---

const (
	appName           = "image-exact"
	defaultTimeoutSec = 10 // 秒
	defaultMaxRetries = 3  // デフォルトのリトライ回数

	// 全体処理のタイムアウト定数 (クライアントタイムアウトが0の場合に利用)
	DefaultOverallTimeout = 20 * time.Second
)

// --- グローバル変数とフラグ構造体 ---

// AppFlags はこのアプリケーション固有の永続フラグを保持
type AppFlags struct {
	TimeoutSec int    // --timeout タイムアウト
	MaxRetries int    // --max-retries リトライ回数
	UserAgent  string // --user-agent ページ取得時の User-Agent
}

var Flags AppFlags

var (
	globalPageFetcher imageextract.Fetcher // ページ取得用 (httpkit + User-Agent 付与)
	globalFeedFetcher feed.Fetcher         // フィード取得用 (httpkit)
	stageConfig       config.StageConfig
	logger            zerolog.Logger
)

// --- 初期化とロジック (clibaseへのコールバックとして利用) ---

// addAppPersistentFlags は、アプリケーション固有の永続フラグをルートコマンドに追加します。
func addAppPersistentFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().IntVar(&Flags.TimeoutSec, "timeout", defaultTimeoutSec, "HTTPリクエストのタイムアウト時間（秒）")
	rootCmd.PersistentFlags().IntVar(&Flags.MaxRetries, "max-retries", defaultMaxRetries, "HTTPリクエストのリトライ最大回数")
	rootCmd.PersistentFlags().StringVar(&Flags.UserAgent, "user-agent", "", "ページ取得時の User-Agent (設定ファイルより優先)")
}

// initAppPreRunE は、clibase共通処理の後に実行される、アプリケーション固有のPersistentPreRunEです。
func initAppPreRunE(cmd *cobra.Command, args []string) error {
	// 1. ロガーの初期化
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if clibase.Flags.Verbose {
		level = zerolog.DebugLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("app", appName).Logger()

	// 2. ステージ設定の読み込み (--config は clibase の共通フラグ、個別フラグが設定ファイルより優先)
	cfg, err := config.Load(clibase.Flags.ConfigFile)
	if err != nil {
		return err
	}
	if Flags.UserAgent != "" {
		cfg.UserAgent = Flags.UserAgent
	}
	if cfg.URL != "" {
		// フラグで渡したURLと同じくスキームを補完する
		if cfg.URL, err = ensureScheme(cfg.URL); err != nil {
			return fmt.Errorf("設定ファイルの url が不正です: %w", err)
		}
	}
	stageConfig = cfg

	// 3. 共有フェッチャーの初期化
	timeout := time.Duration(Flags.TimeoutSec) * time.Second
	logger.Debug().
		Dur("timeout", timeout).
		Int("max_retries", Flags.MaxRetries).
		Str("config", clibase.Flags.ConfigFile).
		Msg("HTTPクライアントを設定しました")

	globalPageFetcher = newPageFetcher(timeout, uint64(Flags.MaxRetries), cfg.UserAgent)
	globalFeedFetcher = httpkit.New(
		timeout,
		httpkit.WithMaxRetries(uint64(Flags.MaxRetries)),
	)

	return nil
}

// overallTimeout はクライアントタイムアウトの2倍を全体のタイムアウトとして返します。
func overallTimeout() time.Duration {
	if Flags.TimeoutSec <= 0 {
		return DefaultOverallTimeout
	}
	return time.Duration(Flags.TimeoutSec*2) * time.Second
}

// requireFetchers は PreRun で初期化された依存性を検証します。
func requireFetchers() error {
	if globalPageFetcher == nil || globalFeedFetcher == nil {
		return fmt.Errorf("HTTPクライアントが初期化されていません")
	}
	return nil
}

// --- エントリポイント ---

// Execute は、rootCmd を実行するメイン関数です。clibaseのExecuteを使用する。
func Execute() {
	clibase.Execute(
		appName,
		addAppPersistentFlags,
		initAppPreRunE,
		extractCmd,
		batchCmd,
		feedCmd,
	)
}
