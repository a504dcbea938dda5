package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jinford/docsite-rag/internal/platform/retry"
)

// Page はクロールで取得した1ページ
type Page struct {
	URL       string
	HTML      []byte
	FetchedAt time.Time
}

// FailedURL は取得に失敗したURLの記録
type FailedURL struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Reason     string `json:"reason"`
}

// FetchError はページ取得の失敗を表す
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options はクローラーの動作設定
type Options struct {
	Delay          time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	RetryInterval  time.Duration // リトライ初回の待機時間（以降は指数的に増加）
	UserAgent      string
	MaxPages       int // 0 は無制限
	Parallelism    int
}

// DefaultOptions はデフォルトのクローラー設定を返す
func DefaultOptions() Options {
	return Options{
		Delay:          time.Second,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		RetryInterval:  time.Second,
		UserAgent:      "docsite-rag/1.0",
		Parallelism:    2,
	}
}

// Result はクロール全体の結果
type Result struct {
	Pages      []*Page
	FailedURLs []FailedURL
}

// Crawler はドキュメントサイトをクロールしてHTMLページを収集する。
// sitemap.xmlがあればそこからURL一覧を取得し、なければリンクを幅優先で辿る。
type Crawler struct {
	opts        Options
	retryPolicy retry.Policy
	logger      *slog.Logger
	httpClient  *http.Client
}

// NewCrawler は新しいCrawlerを作成する
func NewCrawler(opts Options, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 2
	}
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = opts.MaxRetries
	if opts.RetryInterval > 0 {
		policy.InitialInterval = opts.RetryInterval
	}
	return &Crawler{
		opts:        opts,
		retryPolicy: policy,
		logger:      logger,
		httpClient: &http.Client{
			Timeout: opts.RequestTimeout,
		},
	}
}

// Crawl はベースURL配下のページを収集する。
// contextがキャンセルされた場合、処理中のページ以降のリクエストは発行されない。
func (c *Crawler) Crawl(ctx context.Context, baseURL string) (*Result, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", baseURL)
	}

	// サイトマップを優先する
	seedURLs, err := c.discoverFromSitemap(ctx, base)
	if err != nil {
		c.logger.Warn("サイトマップの取得に失敗。リンク辿りにフォールバック", "error", err)
		seedURLs = nil
	}
	followLinks := len(seedURLs) == 0

	if followLinks {
		c.logger.Info("リンク辿りでクロールを開始", "baseURL", baseURL)
	} else {
		c.logger.Info("サイトマップからクロールを開始", "baseURL", baseURL, "urls", len(seedURLs))
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(base.Hostname()),
		colly.UserAgent(c.opts.UserAgent),
		colly.Async(true),
	)
	collector.SetRequestTimeout(c.opts.RequestTimeout)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.opts.Parallelism,
		Delay:       c.opts.Delay,
	}); err != nil {
		return nil, fmt.Errorf("failed to set crawl limit: %w", err)
	}

	var (
		mu       sync.Mutex
		pages    []*Page
		failed   []FailedURL
		attempts = make(map[string]int)
	)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		mu.Lock()
		limitReached := c.opts.MaxPages > 0 && len(pages) >= c.opts.MaxPages
		mu.Unlock()
		if limitReached {
			r.Abort()
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		contentType := strings.ToLower(r.Headers.Get("Content-Type"))
		if contentType != "" && !strings.Contains(contentType, "html") {
			c.logger.Debug("HTML以外のレスポンスをスキップ", "url", r.Request.URL.String(), "contentType", contentType)
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if c.opts.MaxPages > 0 && len(pages) >= c.opts.MaxPages {
			return
		}
		pages = append(pages, &Page{
			URL:       r.Request.URL.String(),
			HTML:      r.Body,
			FetchedAt: time.Now(),
		})
	})

	if followLinks {
		collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
			link := e.Request.AbsoluteURL(e.Attr("href"))
			normalized, ok := NormalizeURL(link, base)
			if !ok {
				return
			}
			// 訪問済みURLはcolly側で重複排除される
			_ = e.Request.Visit(normalized)
		})
	}

	collector.OnError(func(r *colly.Response, err error) {
		requestURL := r.Request.URL.String()

		mu.Lock()
		attempts[requestURL]++
		attempt := attempts[requestURL]
		mu.Unlock()

		if attempt < c.opts.MaxRetries && ctx.Err() == nil {
			// リトライ間隔は試行回数に応じて指数的に延ばす
			wait := c.retryPolicy.Interval(attempt)
			c.logger.Warn("ページ取得に失敗。リトライします",
				"url", requestURL,
				"attempt", attempt,
				"maxRetries", c.opts.MaxRetries,
				"wait", wait.String(),
				"error", err,
			)
			select {
			case <-time.After(wait):
				if retryErr := r.Request.Retry(); retryErr == nil {
					return
				}
			case <-ctx.Done():
			}
		}

		c.logger.Warn("ページ取得を断念", "url", requestURL, "error", err)
		mu.Lock()
		failed = append(failed, FailedURL{
			URL:        requestURL,
			StatusCode: r.StatusCode,
			Reason:     err.Error(),
		})
		mu.Unlock()
	})

	if followLinks {
		startURL, ok := NormalizeURL(baseURL, base)
		if !ok {
			startURL = baseURL
		}
		if err := collector.Visit(startURL); err != nil {
			return nil, &FetchError{URL: startURL, Err: err}
		}
	} else {
		for _, u := range seedURLs {
			if ctx.Err() != nil {
				break
			}
			if err := collector.Visit(u); err != nil {
				c.logger.Debug("URLの登録をスキップ", "url", u, "error", err)
			}
		}
	}

	collector.Wait()

	if err := ctx.Err(); err != nil {
		c.logger.Info("クロールが中断されました", "collected", len(pages))
		return &Result{Pages: pages, FailedURLs: failed}, err
	}

	c.logger.Info("クロール完了", "pages", len(pages), "failed", len(failed))
	return &Result{Pages: pages, FailedURLs: failed}, nil
}
