package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// ErrNoContent は本文をまったく抽出できなかったことを表す
var ErrNoContent = errors.New("no extractable content")

// MinContentLength は品質ゲートの最小本文長（文字数）
const MinContentLength = 100

// MinTextRatio は品質ゲートで要求する、HTMLバイト数に対する本文文字数の最小比率。
// 巨大なページからほぼ空のテキストしか取れなかった場合を検出する。
const MinTextRatio = 0.001

// mainContentSelectors は本文コンテナの優先順位付きセレクタ。
// Docusaurus系サイトの構造を優先し、一般的なセマンティック要素へフォールバックする。
var mainContentSelectors = []string{
	"main div[class*='docItem']",
	"article",
	".markdown",
	"div[class*='docContent']",
	"main",
	"[role='main']",
	".theme-doc-markdown",
}

// noiseSelectors は本文から除去するナビゲーション・装飾要素
var noiseSelectors = []string{
	"nav",
	"aside",
	"header",
	"footer",
	"script",
	"style",
	"noscript",
	".breadcrumbs",
	".pagination-nav",
	".theme-doc-toc-desktop",
	".theme-doc-toc-mobile",
	".theme-edit-this-page",
}

// blockSelector は構造を保ったテキスト抽出の対象ブロック要素
const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, dt, dd"

// Extraction はHTMLから抽出した結果
type Extraction struct {
	Title      string
	Text       string
	LowQuality bool // 品質ゲート（最小本文長）を下回ったページ
}

// Extractor はHTMLページから本文テキストとタイトルを抽出します
type Extractor struct {
	minContentLength int
	minTextRatio     float64
}

// NewExtractor は新しいExtractorを作成します
func NewExtractor() *Extractor {
	return &Extractor{
		minContentLength: MinContentLength,
		minTextRatio:     MinTextRatio,
	}
}

// Extract はHTMLから本文とタイトルを抽出する。
// セレクタベースの抽出が失敗した場合はreadabilityによる抽出にフォールバックする。
func (e *Extractor) Extract(html []byte, pageURL *url.URL) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := extractTitle(doc)
	text := e.extractMainContent(doc)

	// セレクタで本文が取れない場合はreadabilityにフォールバック
	if text == "" {
		article, err := readability.FromReader(bytes.NewReader(html), pageURL)
		if err == nil {
			text = normalizeWhitespace(article.TextContent)
			if title == "" {
				title = strings.TrimSpace(article.Title)
			}
		}
	}

	if text == "" {
		return nil, ErrNoContent
	}

	return &Extraction{
		Title:      title,
		Text:       text,
		LowQuality: len([]rune(text)) < e.qualityThreshold(len(html)),
	}, nil
}

// qualityThreshold は品質ゲートの最小本文長を返す。
// 絶対下限とHTMLサイズ比の大きい方を採用する。
func (e *Extractor) qualityThreshold(htmlSize int) int {
	threshold := e.minContentLength
	if relative := int(e.minTextRatio * float64(htmlSize)); relative > threshold {
		threshold = relative
	}
	return threshold
}

// extractMainContent はセレクタ優先順位に従って本文テキストを抽出する
func (e *Extractor) extractMainContent(doc *goquery.Document) string {
	for _, selector := range noiseSelectors {
		doc.Find(selector).Remove()
	}

	for _, selector := range mainContentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if text := blockText(sel); text != "" {
			return text
		}
	}

	return ""
}

// blockText はブロック要素単位でテキストを連結し、文書構造を段落として保存する。
// ネストしたブロック（li内のp等）は外側の要素のみを採用して二重取得を防ぐ。
func blockText(sel *goquery.Selection) string {
	blocks := sel.Find(blockSelector)
	if blocks.Length() == 0 {
		return normalizeWhitespace(sel.Text())
	}

	nodes := make(map[*html.Node]bool, blocks.Length())
	blocks.Each(func(_ int, b *goquery.Selection) {
		for _, n := range b.Nodes {
			nodes[n] = true
		}
	})

	var parts []string
	blocks.Each(func(_ int, b *goquery.Selection) {
		// 祖先が既にブロックとして選択されている場合はスキップ
		skip := false
		for p := b.Parent(); p.Length() > 0; p = p.Parent() {
			if nodes[p.Nodes[0]] {
				skip = true
				break
			}
		}
		if skip {
			return
		}

		name := goquery.NodeName(b)

		var text string
		if name == "pre" {
			// コードブロックは整形を崩さない
			text = strings.TrimRight(b.Text(), "\n")
		} else {
			text = normalizeWhitespace(b.Text())
		}
		if text == "" {
			return
		}

		// 見出しはレベルに応じた#プレフィックスを付け、段落の区切りとして残す
		if level := headingLevel(name); level > 0 {
			text = strings.Repeat("#", level) + " " + text
		}
		parts = append(parts, text)
	})

	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// headingLevel は要素名が見出し（h1〜h6）であればレベルを、そうでなければ0を返す
func headingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}

// extractTitle はタイトルを抽出する。優先順位: <title> → <h1> → og:title
func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return stripSiteSuffix(title)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return ""
}

// stripSiteSuffix は "ページ名 | サイト名" 形式のサイト名部分を除去する
func stripSiteSuffix(title string) string {
	for _, sep := range []string{" | ", " - ", " · "} {
		if idx := strings.Index(title, sep); idx > 0 {
			return strings.TrimSpace(title[:idx])
		}
	}
	return title
}

// normalizeWhitespace は連続する空白を1つにまとめ、前後の空白を除去する
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
