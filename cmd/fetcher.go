package cmd

import (
	"net/http"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
)

// pageAccept は、ページ取得時に送る Accept ヘッダーです。
const pageAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// headerDoer は、httpkit の共通ヘッダーを上書きしてから次の Doer に委譲します。
type headerDoer struct {
	next      httpkit.Doer
	userAgent string
}

// Do は httpkit.Doer インターフェースを満たします。
func (d *headerDoer) Do(req *http.Request) (*http.Response, error) {
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", pageAccept)
	}
	return d.next.Do(req)
}

// newPageFetcher は、ページ取得用の httpkit.Client を生成します。
// userAgent が空の場合は httpkit.UserAgent がそのまま使われます。
func newPageFetcher(timeout time.Duration, maxRetries uint64, userAgent string) *httpkit.Client {
	if timeout <= 0 {
		timeout = httpkit.DefaultHTTPTimeout
	}
	return httpkit.New(
		timeout,
		httpkit.WithMaxRetries(maxRetries),
		httpkit.WithHTTPClient(&headerDoer{
			next:      &http.Client{Timeout: timeout},
			userAgent: userAgent,
		}),
	)
}
