package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shouni/go-image-exact/internal/config"
	"github.com/shouni/go-image-exact/pkg/flow"
	"github.com/shouni/go-image-exact/pkg/imageextract"
	"github.com/shouni/go-image-exact/pkg/processor"
)

// NewProcessor は、Fetcher から抽出サービスとステージを組み立てます。
func NewProcessor(cfg config.StageConfig, fetcher imageextract.Fetcher, logger zerolog.Logger) (*processor.Processor, error) {
	// 1. 抽出サービスを初期化 (DI)
	extractor, err := imageextract.NewExtractor(fetcher)
	if err != nil {
		return nil, fmt.Errorf("Extractorの初期化エラー: %w", err)
	}

	// 2. ステージを初期化
	p, err := processor.New(extractor, processor.Config{
		URL:     cfg.URL,
		Timeout: cfg.Timeout,
	}, processor.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("Processorの初期化エラー: %w", err)
	}
	return p, nil
}

// Result は1件の Unit を処理した結果です。
type Result struct {
	Unit         *flow.Unit
	Relationship flow.Relationship
	Err          error
}

// ExtractURLImages は、1件の Unit を生成してステージに通すメインの処理パイプラインです。
// rawURL が空の場合、Unit に url 属性を設定せず、設定の既定URLに任せます。
func ExtractURLImages(ctx context.Context, p *processor.Processor, rawURL string) Result {
	unit := flow.NewUnit()
	if rawURL != "" {
		unit.SetAttribute(processor.URLAttribute, rawURL)
	}

	session := flow.NewMemorySession()
	rel, err := p.Process(ctx, session, unit)
	return Result{Unit: unit, Relationship: rel, Err: err}
}
