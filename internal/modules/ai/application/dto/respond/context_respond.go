package respond

import "InsightLink/internal/modules/ai/domain/contextitem"

type ContextItemRespond struct {
	Uid            string  `json:"uid"`
	Namespace      string  `json:"namespace"`
	Tier           string  `json:"tier"`
	RelevanceScore float64 `json:"relevance_score"`
	TokenCount     int     `json:"token_count"`
	UsedSummary    bool    `json:"used_summary"`
}

type ContextPreviewRespond struct {
	Context  string               `json:"context"`
	Items    []ContextItemRespond `json:"items"`
	Stats    contextitem.Stats    `json:"stats"`
	CacheHit bool                 `json:"cache_hit"`
	Degraded bool                 `json:"degraded"`
}

type ContextInvalidateRespond struct {
	Pattern string `json:"pattern"`
	Removed int64  `json:"removed"`
}
