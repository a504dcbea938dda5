package validation

import (
	"math"
	"sort"
)

// PrecisionAtK は上位K件のうち関連ありと判定された割合を返す。
// 結果がK件に満たない場合は実際の件数を分母にする。
func PrecisionAtK(relevant []bool, k int) float64 {
	if k <= 0 || len(relevant) == 0 {
		return 0
	}
	if k > len(relevant) {
		k = len(relevant)
	}

	hits := 0
	for _, r := range relevant[:k] {
		if r {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

// ReciprocalRank は最初に関連ありと判定された結果の順位の逆数を返す。
// 関連する結果が1件も無い場合は0。
func ReciprocalRank(relevant []bool) float64 {
	for i, r := range relevant {
		if r {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// NDCGAtK は上位K件のランク割引ゲインを理想順序で正規化した値を返す。
// ゲインは二値（0/1）でも段階値（類似度）でもよい。
func NDCGAtK(gains []float64, k int) float64 {
	if k <= 0 || len(gains) == 0 {
		return 0
	}
	if k > len(gains) {
		k = len(gains)
	}

	dcg := dcgAtK(gains, k)

	ideal := append([]float64(nil), gains...)
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))
	idcg := dcgAtK(ideal, k)

	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func dcgAtK(gains []float64, k int) float64 {
	var dcg float64
	for i := 0; i < k; i++ {
		dcg += gains[i] / math.Log2(float64(i)+2)
	}
	return dcg
}
