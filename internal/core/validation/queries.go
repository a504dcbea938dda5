package validation

import (
	"encoding/json"
	"fmt"
	"os"
)

// クエリカテゴリ
const (
	CategoryFactual     = "factual"
	CategoryConceptual  = "conceptual"
	CategoryProcedural  = "procedural"
	CategoryComparative = "comparative"
)

// QuerySpec は検証用クエリの定義。
// GoldenChunkIDs / GoldenDocumentIDs が指定されている場合は二値判定、
// 未指定の場合はクエリとチャンク本文のテキスト類似度で段階判定を行う。
type QuerySpec struct {
	Text              string   `json:"text"`
	Category          string   `json:"category"`
	GoldenChunkIDs    []string `json:"golden_chunk_ids,omitempty"`
	GoldenDocumentIDs []string `json:"golden_document_ids,omitempty"`
}

// HasGolden は正解セットが定義されているかを返す
func (q *QuerySpec) HasGolden() bool {
	return len(q.GoldenChunkIDs) > 0 || len(q.GoldenDocumentIDs) > 0
}

// DefaultQueries は組み込みの検証クエリセットを返す
func DefaultQueries() []QuerySpec {
	return []QuerySpec{
		{Text: "What is inverse kinematics?", Category: CategoryFactual},
		{Text: "Describe forward kinematics", Category: CategoryFactual},
		{Text: "Explain robot path planning", Category: CategoryConceptual},
		{Text: "How does PID controller work?", Category: CategoryProcedural},
		{Text: "What are the types of robot actuators?", Category: CategoryComparative},
	}
}

// LoadQueries はJSONファイルから検証クエリを読み込む
func LoadQueries(path string) ([]QuerySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("クエリファイルの読み込みに失敗: %w", err)
	}

	var queries []QuerySpec
	if err := json.Unmarshal(data, &queries); err != nil {
		return nil, fmt.Errorf("クエリファイルのパースに失敗: %w", err)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("クエリファイルにクエリが定義されていません: %s", path)
	}

	for i, q := range queries {
		if q.Text == "" {
			return nil, fmt.Errorf("クエリ%d: textが空です", i)
		}
	}
	return queries, nil
}
