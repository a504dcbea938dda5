package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk は分割後の1チャンク
type Chunk struct {
	Text       string
	TokenCount int
	Position   int // ドキュメント内の0始まりの通し番号
}

// TokenChunker はトークン数を基準にテキストを分割します。
// 文境界を優先しつつ、チャンク間のオーバーラップはトークン単位で正確に一致させます。
type TokenChunker struct {
	encoder *tiktoken.Tiktoken

	minTokens int // 最小トークン数（デフォルト: 500）
	maxTokens int // 最大トークン数（デフォルト: 1200）
	overlap   int // オーバーラップトークン数（デフォルト: 100）
}

// NewTokenChunker は新しいTokenChunkerを作成します
func NewTokenChunker(minTokens, maxTokens, overlap int) (*TokenChunker, error) {
	if minTokens <= 0 || maxTokens < minTokens {
		return nil, fmt.Errorf("invalid token bounds: min=%d max=%d", minTokens, maxTokens)
	}
	if overlap < 0 || overlap >= minTokens {
		return nil, fmt.Errorf("overlap (%d) must be in [0, minTokens)", overlap)
	}

	// cl100k_baseエンコーダを使用（Embeddingモデルのトークナイザと互換）
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}

	return &TokenChunker{
		encoder:   encoder,
		minTokens: minTokens,
		maxTokens: maxTokens,
		overlap:   overlap,
	}, nil
}

// sentenceBoundary は文末または段落区切りを検出する。
// 区切り文字自体は前方のフラグメントに含める。
var sentenceBoundary = regexp.MustCompile(`[.!?。！？](?:\s+|$)|\n{2,}`)

// Split はテキストをチャンク化します。
// 結果のチャンクは入力順に並び、各チャンクのテキストはトークン列のデコード結果です。
func (c *TokenChunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// 文・段落単位のフラグメントを個別にエンコードし、通しのトークン列を作る。
	// 同時にフラグメント末尾のトークン位置を分割候補として記録する。
	var flat []int
	var boundaries []int
	for _, frag := range cutFragments(text) {
		tokens := c.encoder.Encode(frag, nil, nil)
		if len(tokens) == 0 {
			continue
		}
		flat = append(flat, tokens...)
		boundaries = append(boundaries, len(flat))
	}

	total := len(flat)
	if total == 0 {
		return nil
	}

	// 全体が1チャンクに収まる場合は最小トークン数を要求しない
	if total <= c.maxTokens {
		return []Chunk{c.newChunk(flat, 0)}
	}

	spans := c.computeSpans(total, boundaries)

	chunks := make([]Chunk, 0, len(spans))
	for i, span := range spans {
		chunks = append(chunks, c.newChunk(flat[span[0]:span[1]], i))
	}
	return chunks
}

// CountTokens はテキストのトークン数をカウントします
func (c *TokenChunker) CountTokens(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

// computeSpans はトークン列上のチャンク範囲を決定する
func (c *TokenChunker) computeSpans(total int, boundaries []int) [][2]int {
	var spans [][2]int

	p := 0
	for p < total {
		remaining := total - p
		if remaining <= c.maxTokens {
			spans = append(spans, [2]int{p, total})
			break
		}

		end := c.pickBoundary(p, boundaries)
		spans = append(spans, [2]int{p, end})

		// 次のチャンクは直前チャンク末尾のoverlapトークンを先頭に持つ
		p = end - c.overlap
	}

	// 末尾チャンクが最小トークン数を下回る場合は分割点を手前にずらす。
	// 直前チャンクとの統合はそのチャンクの開始時点で残りが最大を超えていた
	// ことが確定しているため、必ず最大トークン数を超えてしまい選べない。
	if len(spans) >= 2 {
		last := spans[len(spans)-1]
		if last[1]-last[0] < c.minTokens {
			spans = c.shiftLastBoundary(spans, boundaries, total)
		}
	}

	return spans
}

// pickBoundary は開始位置pに対するチャンク終端を選ぶ。
// (p+min, p+max] 内の最も後ろの文境界を優先し、境界がなければp+maxで強制分割する。
func (c *TokenChunker) pickBoundary(p int, boundaries []int) int {
	limit := p + c.maxTokens
	best := -1
	for _, b := range boundaries {
		if b <= p {
			continue
		}
		if b > limit {
			break
		}
		best = b
	}
	if best >= p+c.minTokens {
		return best
	}
	// 文境界が見つからない（1文がmaxを超える等）場合はトークン位置で分割
	return limit
}

// shiftLastBoundary は末尾2チャンクの分割点を手前に動かし、双方が最小トークン数を満たすようにする
func (c *TokenChunker) shiftLastBoundary(spans [][2]int, boundaries []int, total int) [][2]int {
	prev := spans[len(spans)-2]

	// 新しい分割点bの条件:
	//   prevが最小を満たす: b - prev[0] >= min
	//   末尾が最小を満たす: total - (b - overlap) >= min
	//   prevが最大を超えない: b - prev[0] <= max（元のendより手前なので自明）
	maxB := total - c.minTokens + c.overlap
	best := -1
	for _, b := range boundaries {
		if b < prev[0]+c.minTokens || b > maxB || b > prev[1] {
			continue
		}
		best = b
	}
	if best < 0 {
		// 境界で調整できない場合はトークン位置で分割する
		best = maxB
		if best < prev[0]+c.minTokens {
			// 調整不能。短い末尾チャンクを許容する
			return spans
		}
	}

	spans[len(spans)-2] = [2]int{prev[0], best}
	spans[len(spans)-1] = [2]int{best - c.overlap, total}
	return spans
}

// newChunk はトークン列からチャンクを作成する。
// テキストはデコード結果なので、隣接チャンクのオーバーラップ部分は文字列としても一致する。
func (c *TokenChunker) newChunk(tokens []int, position int) Chunk {
	return Chunk{
		Text:       c.encoder.Decode(tokens),
		TokenCount: len(tokens),
		Position:   position,
	}
}

// cutFragments はテキストを文・段落単位のフラグメントに切り分ける。
// フラグメントを連結すると必ず元のテキストに一致する。
func cutFragments(text string) []string {
	matches := sentenceBoundary.FindAllStringIndex(text, -1)

	var fragments []string
	start := 0
	for _, m := range matches {
		end := m[1]
		if end <= start {
			continue
		}
		fragments = append(fragments, text[start:end])
		start = end
	}
	if start < len(text) {
		fragments = append(fragments, text[start:])
	}
	return fragments
}
