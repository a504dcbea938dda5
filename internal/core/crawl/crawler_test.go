package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Delay:          time.Millisecond,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
		RetryInterval:  5 * time.Millisecond,
		UserAgent:      "docsite-rag-test/1.0",
		Parallelism:    2,
	}
}

func pageURLs(result *Result) []string {
	urls := make([]string, 0, len(result.Pages))
	for _, p := range result.Pages {
		urls = append(urls, p.URL)
	}
	sort.Strings(urls)
	return urls
}

func TestCrawl_SitemapFirst(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/docs/intro</loc></url>
  <url><loc>%s/docs/kinematics</loc></url>
</urlset>`, server.URL, server.URL)
	})
	mux.HandleFunc("/docs/intro", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		// サイトマップモードではリンクは辿らない
		fmt.Fprint(w, `<html><body><a href="/docs/hidden">link</a>intro</body></html>`)
	})
	mux.HandleFunc("/docs/kinematics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>kinematics</body></html>`)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	crawler := NewCrawler(testOptions(), testLogger())
	result, err := crawler.Crawl(context.Background(), server.URL+"/docs")
	require.NoError(t, err)

	assert.Equal(t, []string{server.URL + "/docs/intro", server.URL + "/docs/kinematics"}, pageURLs(result))
	assert.Empty(t, result.FailedURLs)
}

func TestCrawl_SitemapIndex(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/sitemap-docs.xml</loc></sitemap>
</sitemapindex>`, server.URL)
	})
	mux.HandleFunc("/sitemap-docs.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/docs/intro</loc></url>
</urlset>`, server.URL)
	})
	mux.HandleFunc("/docs/intro", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>intro</body></html>`)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	crawler := NewCrawler(testOptions(), testLogger())
	result, err := crawler.Crawl(context.Background(), server.URL+"/docs")
	require.NoError(t, err)

	assert.Equal(t, []string{server.URL + "/docs/intro"}, pageURLs(result))
}

func TestCrawl_FallbackToLinkFollowing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
<a href="/docs/a">a</a>
<a href="/docs/b#section">b</a>
<a href="/docs/image.png">img</a>
<a href="https://other.example.com/x">external</a>
</body></html>`)
	})
	mux.HandleFunc("/docs/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>a</body></html>`)
	})
	mux.HandleFunc("/docs/b", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>b</body></html>`)
	})
	// sitemap.xml は404（フォールバック発動）
	server := httptest.NewServer(mux)
	defer server.Close()

	crawler := NewCrawler(testOptions(), testLogger())
	result, err := crawler.Crawl(context.Background(), server.URL+"/docs")
	require.NoError(t, err)

	assert.Equal(t, []string{
		server.URL + "/docs",
		server.URL + "/docs/a",
		server.URL + "/docs/b",
	}, pageURLs(result))
}

func TestCrawl_MaxPagesLimit(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, `<url><loc>%s/docs/page%d</loc></url>`, server.URL, i)
		}
		fmt.Fprint(w, `</urlset>`)
	})
	mux.HandleFunc("/docs/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>page</body></html>`)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	opts := testOptions()
	opts.MaxPages = 3
	crawler := NewCrawler(opts, testLogger())
	result, err := crawler.Crawl(context.Background(), server.URL+"/docs")
	require.NoError(t, err)

	assert.LessOrEqual(t, len(result.Pages), 3)
	assert.NotEmpty(t, result.Pages)
}

func TestCrawl_RecordsFailedURLs(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/docs/ok</loc></url>
  <url><loc>%s/docs/broken</loc></url>
</urlset>`, server.URL, server.URL)
	})
	mux.HandleFunc("/docs/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	})
	mux.HandleFunc("/docs/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	crawler := NewCrawler(testOptions(), testLogger())
	result, err := crawler.Crawl(context.Background(), server.URL+"/docs")
	require.NoError(t, err)

	assert.Equal(t, []string{server.URL + "/docs/ok"}, pageURLs(result))
	require.Len(t, result.FailedURLs, 1)
	assert.Equal(t, server.URL+"/docs/broken", result.FailedURLs[0].URL)
	assert.Equal(t, http.StatusInternalServerError, result.FailedURLs[0].StatusCode)
}

func TestCrawl_RetriesWithGrowingInterval(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts []time.Time
	)

	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/docs/flaky</loc></url>
</urlset>`, server.URL)
	})
	mux.HandleFunc("/docs/flaky", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		mu.Unlock()
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	opts := testOptions()
	opts.MaxRetries = 3
	opts.RetryInterval = 30 * time.Millisecond

	crawler := NewCrawler(opts, testLogger())
	result, err := crawler.Crawl(context.Background(), server.URL+"/docs")
	require.NoError(t, err)
	require.Len(t, result.FailedURLs, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 3)

	// 1回目のリトライ待機は初期値、2回目は倍の待機を挟む
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), 30*time.Millisecond)
	assert.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), 60*time.Millisecond)
}

func TestCrawl_InvalidBaseURL(t *testing.T) {
	crawler := NewCrawler(testOptions(), testLogger())

	_, err := crawler.Crawl(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	base, err := url.Parse("https://docs.example.com/docs")
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{name: "フラグメント除去", raw: "https://docs.example.com/docs/intro#section", want: "https://docs.example.com/docs/intro", ok: true},
		{name: "クエリ保持", raw: "https://docs.example.com/docs/intro?version=2", want: "https://docs.example.com/docs/intro?version=2", ok: true},
		{name: "アセットパスは除外", raw: "https://docs.example.com/docs/assets/logo.bin", ok: false},
		{name: "検索ページは除外", raw: "https://docs.example.com/docs/search", ok: false},
		{name: "末尾スラッシュ除去", raw: "https://docs.example.com/docs/intro/", want: "https://docs.example.com/docs/intro", ok: true},
		{name: "相対URL解決", raw: "/docs/guide/setup", want: "https://docs.example.com/docs/guide/setup", ok: true},
		{name: "別ホストは除外", raw: "https://other.example.com/docs/x", ok: false},
		{name: "ベースパス外は除外", raw: "https://docs.example.com/blog/post", ok: false},
		{name: "ベースパスの接頭辞一致のみでは除外", raw: "https://docs.example.com/docs-old/x", ok: false},
		{name: "画像は除外", raw: "https://docs.example.com/docs/figure.png", ok: false},
		{name: "mailtoは除外", raw: "mailto:team@example.com", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeURL(tt.raw, base)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
