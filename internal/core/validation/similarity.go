package validation

import "strings"

// TextSimilarity はクエリとチャンク本文の単語集合のJaccard係数を返す（0.0〜1.0）。
// 決定的な軽量評価であり、正解セットが無いクエリの段階的関連度判定に使う。
func TextSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for word := range setA {
		if setB[word] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,!?;:()\"'`[]{}")
		if word != "" {
			set[word] = true
		}
	}
	return set
}
