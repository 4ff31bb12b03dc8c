package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	DefaultExtractTimeout = 30 * time.Second
	DefaultConcurrency    = 6
	DefaultRateLimit      = 200 * time.Millisecond
	DefaultOutputDir      = "out"
)

// StageConfig は、画像抽出ステージの設定ファイル (YAML) のスキーマです。
type StageConfig struct {
	// URL は Unit に url 属性がない場合の既定の抽出対象URLです。
	URL string `yaml:"url"`
	// Timeout は1件の抽出に許す時間です。
	Timeout time.Duration `yaml:"timeout"`
	// Concurrency は batch/feed の最大同時実行数です。
	Concurrency int `yaml:"concurrency"`
	// RateLimit は抽出開始の最小間隔です。
	RateLimit time.Duration `yaml:"rateLimit"`
	// OutputDir は batch/feed の出力先ディレクトリです。
	OutputDir string `yaml:"outputDir"`
	// UserAgent はページ取得時の User-Agent です。空なら既定値を使います。
	UserAgent string `yaml:"userAgent"`
}

// Default はデフォルト値を持つ設定を返します。
func Default() StageConfig {
	return StageConfig{
		Timeout:     DefaultExtractTimeout,
		Concurrency: DefaultConcurrency,
		RateLimit:   DefaultRateLimit,
		OutputDir:   DefaultOutputDir,
	}
}

// Load は YAML ファイルを読み込み、未指定の項目にデフォルト値を適用します。
// path が空の場合はデフォルト設定を返します。
func Load(path string) (StageConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("設定ファイルの読み込みに失敗しました (%s): %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("設定ファイルのパースに失敗しました (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("設定ファイルの値が不正です (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate は設定値の範囲を検証します。
func (c StageConfig) Validate() error {
	var errs []error
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout は0以上である必要があります"))
	}
	if c.Concurrency < 0 {
		errs = append(errs, errors.New("concurrency は0以上である必要があります"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rateLimit は0以上である必要があります"))
	}
	return errors.Join(errs...)
}
