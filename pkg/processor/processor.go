package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shouni/go-image-exact/pkg/flow"
	"github.com/shouni/go-image-exact/pkg/types"
)

// URLAttribute は、対象URLを読み取る Unit 属性名であり、同名の設定オプション名でもあります。
const URLAttribute = "url"

var (
	// ErrNoURL は、属性にも設定にも対象URLが存在しないことを示します。
	ErrNoURL = errors.New("対象URLが指定されていません")
	// ErrExtraction は、抽出サービスの呼び出しが失敗したことを示します。
	ErrExtraction = errors.New("画像の抽出に失敗しました")
	// ErrCommit は、Unit のボディ書き込みが失敗したことを示します。
	ErrCommit = errors.New("ボディの書き込みに失敗しました")
	// ErrTransfer は、Unit を出力チャネルへ送れなかったことを示します。
	ErrTransfer = errors.New("Unit の送信に失敗しました")
)

// ImageExtractor は、URLから画像参照を抽出する外部サービスです。
type ImageExtractor interface {
	ExtractImages(ctx context.Context, url string) ([]types.Image, error)
}

// Config はステージの設定です。
type Config struct {
	// URL は Unit に url 属性がない場合に使われる既定の対象URLです。
	URL string
	// Timeout は1回の抽出に許す時間です。0 の場合は呼び出し元の ctx のみに従います。
	Timeout time.Duration
}

// Processor は、URLの画像参照を抽出して JSON ボディとして書き込み、
// Unit を success または failure へ送るパイプラインステージです。
// 呼び出し間で可変状態を持たないため、複数の Unit に対して並行に呼び出せます。
type Processor struct {
	extractor ImageExtractor
	cfg       Config
	logger    zerolog.Logger
}

// Option は Processor の設定を行うための関数型です。
type Option func(*Processor)

// WithLogger はロガーを設定します。
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// New は新しい Processor を生成します。
func New(extractor ImageExtractor, cfg Config, opts ...Option) (*Processor, error) {
	if extractor == nil {
		return nil, fmt.Errorf("processor.New: ImageExtractor cannot be nil")
	}
	p := &Processor{
		extractor: extractor,
		cfg:       cfg,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ----------------------------------------------------------------------
// エンジン境界の宣言
// ----------------------------------------------------------------------

// URLProperty は、ステージが宣言する唯一の設定オプションです。
var URLProperty = flow.PropertyDescriptor{
	Name:        URLAttribute,
	Description: "画像を抽出するページのURL (Unit の url 属性がない場合の既定値)",
	Required:    true,
	Validators:  []flow.Validator{flow.NonEmptyValidator},
}

// Properties はステージが受け付ける設定オプションを返します。
func (p *Processor) Properties() []flow.PropertyDescriptor {
	return []flow.PropertyDescriptor{URLProperty}
}

// Relationships はステージの出力チャネルを返します。
func (p *Processor) Relationships() []flow.Relationship {
	return []flow.Relationship{flow.Success, flow.Failure}
}

// ReadsAttributes はステージが読み取る Unit 属性を返します。
func (p *Processor) ReadsAttributes() []string {
	return []string{URLAttribute}
}

// Validate は設定をプロパティ宣言に照らして検証します。
func (p *Processor) Validate() error {
	return URLProperty.Validate(p.cfg.URL)
}

// ----------------------------------------------------------------------
// メイン処理
// ----------------------------------------------------------------------

// ResolveURL は、このステージの設定で Unit の対象URLを決定します。
func (p *Processor) ResolveURL(unit *flow.Unit) string {
	return ResolveURL(unit, p.cfg)
}

// ResolveURL は Unit の url 属性を優先し、空であれば設定の既定URLを返します。
func ResolveURL(unit *flow.Unit, cfg Config) string {
	if v, ok := unit.Attribute(URLAttribute); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return strings.TrimSpace(cfg.URL)
}

// OnTrigger は Unit を1件処理し、送り先の出力チャネルを返します。
// unit が nil の場合は空の Unit を生成して処理します。
func (p *Processor) OnTrigger(ctx context.Context, session flow.Session, unit *flow.Unit) flow.Relationship {
	rel, _ := p.Process(ctx, session, unit)
	return rel
}

// Process は OnTrigger と同じ処理を行い、failure へ送った原因のエラーも返します。
// Unit は必ず success と failure のどちらか一方にだけ送られます。
//
// session.Transfer 自体が失敗した場合は、送信を試みた出力チャネルと ErrTransfer を
// 含むエラーを返します。このとき Unit はどのチャネルにも届いていないため、
// 呼び出し側はエラーが nil の場合に限り送信済みとみなしてください。
func (p *Processor) Process(ctx context.Context, session flow.Session, unit *flow.Unit) (flow.Relationship, error) {
	if unit == nil {
		unit = flow.NewUnit()
	}

	// 1. 対象URLの決定
	url := ResolveURL(unit, p.cfg)
	logger := p.logger.With().Str("unit", unit.ID()).Str("url", url).Logger()
	if url == "" {
		logger.Warn().Err(ErrNoURL).Msg("対象URLがないため failure へ送ります")
		return p.route(session, unit, flow.Failure, ErrNoURL, logger)
	}

	// 2. 抽出の実行
	payload, err := p.extract(ctx, url)
	if err != nil {
		logger.Warn().Err(err).Msg("画像を抽出できなかったため failure へ送ります")
		return p.route(session, unit, flow.Failure, err, logger)
	}

	// 3. ボディの置き換え (失敗時はリトライしない)
	err = session.Write(unit, func(w io.Writer) error {
		_, werr := w.Write(payload)
		return werr
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrCommit, err)
		logger.Error().Err(err).Msg("画像ファイルを処理できませんでした")
		return p.route(session, unit, flow.Failure, err, logger)
	}

	logger.Debug().Int("bytes", len(payload)).Msg("success へ送ります")
	return p.route(session, unit, flow.Success, nil, logger)
}

// extract は抽出サービスを呼び出し、結果を JSON 配列にシリアライズします。
func (p *Processor) extract(ctx context.Context, url string) ([]byte, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	images, err := p.extractor.ExtractImages(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w (URL: %s): %w", ErrExtraction, url, err)
	}
	if images == nil {
		images = []types.Image{}
	}

	payload, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("%w: JSONのシリアライズに失敗しました: %w", ErrExtraction, err)
	}
	return payload, nil
}

// route は Unit を送ります。Transfer の失敗は ErrTransfer として原因のエラーに加えます。
func (p *Processor) route(session flow.Session, unit *flow.Unit, rel flow.Relationship, cause error, logger zerolog.Logger) (flow.Relationship, error) {
	if err := session.Transfer(unit, rel); err != nil {
		err = fmt.Errorf("%w (%s): %w", ErrTransfer, rel.Name, err)
		logger.Error().Err(err).Msg("Unit をどの出力チャネルにも送れませんでした")
		return rel, errors.Join(cause, err)
	}
	return rel, cause
}
