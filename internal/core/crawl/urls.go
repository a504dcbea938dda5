package crawl

import (
	"net/url"
	"path"
	"strings"
)

// skippedExtensions はHTMLドキュメントとして扱わない拡張子のセット
var skippedExtensions = map[string]bool{
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".gif":   true,
	".svg":   true,
	".ico":   true,
	".webp":  true,
	".css":   true,
	".js":    true,
	".json":  true,
	".xml":   true,
	".pdf":   true,
	".zip":   true,
	".tar":   true,
	".gz":    true,
	".mp4":   true,
	".webm":  true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
}

// skippedPathSegments はドキュメント本文を含まないパスのセグメント
var skippedPathSegments = []string{
	"/assets/",
	"/img/",
	"/images/",
	"/static/",
	"/api/",
	"/tag/",
	"/category/",
	"/search",
	"/login",
	"/sitemap",
}

// NormalizeURL はURLを正規化して返す。クロール対象外のURLの場合はfalseを返す。
// 正規化: フラグメントの除去（クエリは保持）、末尾スラッシュの除去（ルートを除く）。
func NormalizeURL(rawURL string, base *url.URL) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	u = base.ResolveReference(u)

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	// 同一ホスト配下かつベースパス配下のみクロール対象
	if u.Hostname() != base.Hostname() {
		return "", false
	}
	if !underBasePath(u.Path, base.Path) {
		return "", false
	}

	if ext := strings.ToLower(path.Ext(u.Path)); skippedExtensions[ext] {
		return "", false
	}
	lower := strings.ToLower(u.Path)
	for _, seg := range skippedPathSegments {
		if strings.Contains(lower, seg) {
			return "", false
		}
	}

	u.Fragment = ""

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), true
}

// underBasePath はパスがベースパスの配下（またはベースパス自体）かを判定する
func underBasePath(p, base string) bool {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		return true
	}
	p = strings.TrimSuffix(p, "/")
	return p == base || strings.HasPrefix(p, base+"/")
}
