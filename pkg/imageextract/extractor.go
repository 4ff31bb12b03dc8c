package imageextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	textUtils "github.com/shouni/go-utils/text"
	"golang.org/x/net/html/charset"

	"github.com/shouni/go-image-exact/pkg/types"
)

// ErrInvalidURL は、抽出対象のURLが絶対 http(s) URL でないことを示します。
var ErrInvalidURL = errors.New("無効な抽出対象URLです")

// Extractor は、Fetcher を使って画像参照の抽出プロセスを管理します。
type Extractor struct {
	fetcher Fetcher
}

// NewExtractor は、新しいExtractorのインスタンスを生成します。
func NewExtractor(fetcher Fetcher) (*Extractor, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("imageextract.NewExtractor: Fetcher cannot be nil")
	}
	return &Extractor{
		fetcher: fetcher,
	}, nil
}

// ----------------------------------------------------------------------
// 定数定義 (解析関連のみ)
// ----------------------------------------------------------------------
const (
	imageSelector = "img"
	baseSelector  = "base[href]"

	// 画像URLを探す属性。遅延読み込み用の data-src も対象にします。
	srcAttr     = "src"
	lazySrcAttr = "data-src"
	srcsetAttr  = "srcset"

	dataURIScheme = "data:"
)

// ----------------------------------------------------------------------
// メイン関数 (メソッド化)
// ----------------------------------------------------------------------

// ExtractImages は指定されたURLからHTMLを取得し、含まれる画像参照を文書順に返します。
// 画像が1件もない場合は、エラーではなく空のスライスを返します。
func (e *Extractor) ExtractImages(ctx context.Context, rawURL string) ([]types.Image, error) {
	pageURL, err := parsePageURL(rawURL)
	if err != nil {
		return nil, err
	}

	// 1. Fetcherから生のバイト配列を取得 (通信の責務)
	htmlBytes, err := e.fetcher.FetchBytes(ctx, pageURL.String())
	if err != nil {
		return nil, fmt.Errorf("ページの取得に失敗しました (URL: %s): %w", pageURL, err)
	}

	// 2. 文字コードを判定してUTF-8に変換
	reader, err := charset.NewReader(bytes.NewReader(htmlBytes), "")
	if err != nil {
		return nil, fmt.Errorf("文字コードの判定に失敗しました (URL: %s): %w", pageURL, err)
	}

	// 3. goquery.Documentに変換 (解析の責務)
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("HTML解析に失敗しました (URL: %s): %w", pageURL, err)
	}

	return ExtractFromDocument(doc, pageURL), nil
}

// ExtractFromDocument は goquery.Document から画像参照を抽出します。
// 相対URLは <base href> (存在する場合) またはページURLを基準に解決されます。
func ExtractFromDocument(doc *goquery.Document, pageURL *url.URL) []types.Image {
	base := resolveBase(doc, pageURL)
	images := make([]types.Image, 0)

	doc.Find(imageSelector).Each(func(i int, s *goquery.Selection) {
		src := imageSource(s)
		if src == "" || strings.HasPrefix(strings.ToLower(src), dataURIScheme) {
			return
		}

		abs, ok := resolveReference(base, src)
		if !ok {
			return
		}

		images = append(images, types.Image{
			Src:    abs,
			Alt:    textUtils.NormalizeText(s.AttrOr("alt", "")),
			Title:  textUtils.NormalizeText(s.AttrOr("title", "")),
			Width:  strings.TrimSpace(s.AttrOr("width", "")),
			Height: strings.TrimSpace(s.AttrOr("height", "")),
		})
	})

	return images
}

// ----------------------------------------------------------------------
// ヘルパー関数
// ----------------------------------------------------------------------

// parsePageURL は抽出対象URLを検証します。http/https の絶対URLのみ受け付けます。
func parsePageURL(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: URLが空です", ErrInvalidURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: httpまたはhttpsを指定してください: %s", ErrInvalidURL, trimmed)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: ホストがありません: %s", ErrInvalidURL, trimmed)
	}
	return u, nil
}

// resolveBase は <base href> を考慮した相対URL解決の基準を返します。
func resolveBase(doc *goquery.Document, pageURL *url.URL) *url.URL {
	href, ok := doc.Find(baseSelector).First().Attr("href")
	if !ok {
		return pageURL
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return pageURL
	}
	return pageURL.ResolveReference(ref)
}

// imageSource は src, data-src, srcset の先頭候補の順に画像URLを探します。
func imageSource(s *goquery.Selection) string {
	if src := strings.TrimSpace(s.AttrOr(srcAttr, "")); src != "" {
		return src
	}
	if src := strings.TrimSpace(s.AttrOr(lazySrcAttr, "")); src != "" {
		return src
	}
	return firstSrcsetCandidate(s.AttrOr(srcsetAttr, ""))
}

// firstSrcsetCandidate は "a.png 1x, b.png 2x" 形式から先頭のURLを取り出します。
func firstSrcsetCandidate(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func resolveReference(base *url.URL, ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(u).String(), true
}
