package crawl

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// sitemapMaxDepth はsitemapindexの再帰追跡の上限
const sitemapMaxDepth = 3

// sitemapURLSet は <urlset> 形式のサイトマップ
type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

// sitemapIndex は <sitemapindex> 形式のサイトマップ
type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// discoverFromSitemap はベースURLのsitemap.xmlからページURL一覧を取得する。
// サイトマップが存在しない場合は空のスライスを返す（エラーにはしない）。
func (c *Crawler) discoverFromSitemap(ctx context.Context, base *url.URL) ([]string, error) {
	sitemapURL := base.ResolveReference(&url.URL{Path: "/sitemap.xml"}).String()
	return c.fetchSitemap(ctx, base, sitemapURL, 0)
}

// fetchSitemap はサイトマップを取得・解析する。sitemapindexの場合は子を再帰的に辿る。
func (c *Crawler) fetchSitemap(ctx context.Context, base *url.URL, sitemapURL string, depth int) ([]string, error) {
	if depth > sitemapMaxDepth {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: sitemapURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// サイトマップなし。リンク辿りにフォールバックする
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: sitemapURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: sitemapURL, Err: err}
	}

	// まずurlsetとして解析を試みる
	var urlset sitemapURLSet
	if err := xml.Unmarshal(body, &urlset); err == nil && len(urlset.URLs) > 0 {
		var urls []string
		for _, entry := range urlset.URLs {
			if normalized, ok := NormalizeURL(entry.Loc, base); ok {
				urls = append(urls, normalized)
			}
		}
		return urls, nil
	}

	// 次にsitemapindexとして解析する
	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, child := range index.Sitemaps {
			childURLs, err := c.fetchSitemap(ctx, base, child.Loc, depth+1)
			if err != nil {
				c.logger.Warn("子サイトマップの取得に失敗", "url", child.Loc, "error", err)
				continue
			}
			urls = append(urls, childURLs...)
		}
		return urls, nil
	}

	return nil, nil
}
