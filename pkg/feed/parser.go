package feed

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/shouni/go-image-exact/pkg/flow"
)

// Fetcher はフィード本文を取得するインターフェースです。
// cmd では *httpkit.Client をそのまま渡します。
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Parser は RSS/Atom フィードを画像抽出ステージの入力 (Unit) に変換します。
// 各記事のリンクが1件の Unit の url 属性になります。
type Parser struct {
	client Fetcher
	feeds  *gofeed.Parser
}

// NewParser は Fetcher を注入して Parser を生成します。
func NewParser(client Fetcher) *Parser {
	return &Parser{client: client, feeds: gofeed.NewParser()}
}

// FetchAndParse はフィードを取得し、RSS/Atom のどちらかとして解釈します。
func (p *Parser) FetchAndParse(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	body, err := p.client.FetchBytes(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得失敗 (URL: %s): %w", feedURL, err)
	}

	parsed, err := p.feeds.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパース失敗 (URL: %s): %w", feedURL, err)
	}
	return parsed, nil
}

// FetchUnits はフィードを取得し、記事リンクごとの Unit を返します。
// リンクを1件も持たないフィードはエラーにせず、空のスライスを返します。
func (p *Parser) FetchUnits(ctx context.Context, feedURL string) ([]*flow.Unit, *gofeed.Feed, error) {
	parsed, err := p.FetchAndParse(ctx, feedURL)
	if err != nil {
		return nil, nil, err
	}
	return UnitsFromLinks(NewFeedAdapter(parsed), feedURL), parsed, nil
}
