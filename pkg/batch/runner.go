package batch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shouni/go-image-exact/pkg/flow"
	"github.com/shouni/go-image-exact/pkg/types"
)

const (
	// DefaultMaxConcurrency は、並列処理のデフォルトの最大同時実行数を定義します。
	DefaultMaxConcurrency = 6
	// DefaultRateLimit は、抽出開始の最小間隔を定義します。
	DefaultRateLimit = 200 * time.Millisecond
)

// Stage は1件の Unit を処理して送り先を決めるステージです。
// *processor.Processor がこのインターフェースを満たします。
type Stage interface {
	Process(ctx context.Context, session flow.Session, unit *flow.Unit) (flow.Relationship, error)
	// ResolveURL は、Unit の属性とステージの既定値から対象URLを決定します。
	ResolveURL(unit *flow.Unit) string
}

// Runner は複数の Unit をまとめて処理する機能を提供するインターフェースです。
type Runner interface {
	Run(ctx context.Context, units []*flow.Unit) []types.UnitResult
}

// ParallelRunner は Runner インターフェースを実装する並列処理構造体です。
type ParallelRunner struct {
	stage          Stage
	session        flow.Session
	maxConcurrency int           // 最大並列数を保持するフィールド
	rateLimit      time.Duration // 抽出開始の最小間隔 (0 で無制限)
}

// Option は ParallelRunner の設定を行うための関数型です。
type Option func(*ParallelRunner)

// WithRateLimit は抽出開始の最小間隔を設定します。0 以下で無制限になります。
func WithRateLimit(d time.Duration) Option {
	return func(r *ParallelRunner) {
		r.rateLimit = d
	}
}

// NewParallelRunner は ParallelRunner を初期化します。
// 依存性として Stage と、ルーティング先の Session、最大同時実行数を受け取ります。
func NewParallelRunner(stage Stage, session flow.Session, maxConcurrency int, opts ...Option) *ParallelRunner {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	r := &ParallelRunner{
		stage:          stage,
		session:        session,
		maxConcurrency: maxConcurrency,
		rateLimit:      DefaultRateLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run はすべての Unit をステージに渡し、入力と同じ順序で結果を返します。
// コンテキストが終了しても各 Unit はステージに渡され、failure へ送られます。
func (r *ParallelRunner) Run(ctx context.Context, units []*flow.Unit) []types.UnitResult {
	var wg sync.WaitGroup
	results := make([]types.UnitResult, len(units))

	// バッファ付きチャネルをセマフォとして使用し、同時実行数を制限する
	semaphore := make(chan struct{}, r.maxConcurrency)

	var rateLimiter <-chan time.Time
	if r.rateLimit > 0 {
		ticker := time.NewTicker(r.rateLimit)
		defer ticker.Stop()
		rateLimiter = ticker.C
	}

	for i, unit := range units {
		if unit == nil {
			unit = flow.NewUnit()
		}
		wg.Add(1)

		// リソース（スロット）の確保。maxConcurrency件実行中の場合はここでブロックして待機。
		semaphore <- struct{}{}

		go func(i int, u *flow.Unit) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if rateLimiter != nil {
				select {
				case <-rateLimiter:
				case <-ctx.Done():
				}
			}

			rel, err := r.stage.Process(ctx, r.session, u)
			results[i] = newResult(r.stage.ResolveURL(u), u, rel, err)
		}(i, unit)
	}

	wg.Wait()
	return results
}

func newResult(url string, u *flow.Unit, rel flow.Relationship, err error) types.UnitResult {
	res := types.UnitResult{
		UnitID:       u.ID(),
		URL:          url,
		Relationship: rel.Name,
		Error:        err,
	}
	if rel == flow.Success && err == nil {
		var images []json.RawMessage
		if json.Unmarshal(u.Body(), &images) == nil {
			res.ImageCount = len(images)
		}
	}
	return res
}
