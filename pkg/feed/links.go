package feed

import (
	"github.com/mmcdole/gofeed"

	"github.com/shouni/go-image-exact/pkg/flow"
	"github.com/shouni/go-image-exact/pkg/processor"
)

// 汎用抽出のためのインターフェースとアダプター

// LinkSource は、リンクアイテムのリストを提供できる任意の型を表します。
type LinkSource interface {
	GetLinks() []string
}

// FeedAdapter は gofeed.Feed を LinkSource に適合させるためのアダプターです。
type FeedAdapter struct {
	*gofeed.Feed
}

// NewFeedAdapter は gofeed.Feed から新しいアダプターを作成します。
func NewFeedAdapter(feed *gofeed.Feed) *FeedAdapter {
	return &FeedAdapter{Feed: feed}
}

// GetLinks は LinkSource インターフェースを満たし、gofeed.Feed からリンクを抽出します。
func (a *FeedAdapter) GetLinks() []string {
	if a.Feed == nil || len(a.Items) == 0 {
		return []string{}
	}

	urls := make([]string, 0, len(a.Items))
	for _, item := range a.Items {
		if item != nil && item.Link != "" {
			urls = append(urls, item.Link)
		}
	}
	return urls
}

// GetAllLinks は LinkSource インターフェースを満たすオブジェクトからリンクを抽出する汎用関数です。
func GetAllLinks(source LinkSource) []string {
	if source == nil {
		return []string{}
	}
	return source.GetLinks()
}

// UnitsFromLinks は、各リンクを url 属性に持つ Unit を生成します。
// feed.source 属性には元のフィードURLを記録します。
func UnitsFromLinks(source LinkSource, feedURL string) []*flow.Unit {
	links := GetAllLinks(source)
	units := make([]*flow.Unit, 0, len(links))
	for _, link := range links {
		units = append(units, flow.NewUnitWithAttributes(map[string]string{
			processor.URLAttribute: link,
			SourceAttribute:        feedURL,
		}))
	}
	return units
}

// SourceAttribute は Unit の生成元フィードURLを保持する属性名です。
const SourceAttribute = "feed.source"
