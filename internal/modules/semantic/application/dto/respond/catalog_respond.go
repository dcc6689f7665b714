package respond

// CatalogWriteRespond 写入结果
type CatalogWriteRespond struct {
	Kind         string `json:"kind"`
	Key          string `json:"key"`
	HasSummary   bool   `json:"hasSummary"`
	ModelVersion string `json:"modelVersion"`
}

// SeedRespond 种子导入统计
type SeedRespond struct {
	Metrics  int `json:"metrics"`
	Glossary int `json:"glossary"`
	Rules    int `json:"rules"`
	Examples int `json:"examples"`
}

func (s SeedRespond) Total() int {
	return s.Metrics + s.Glossary + s.Rules + s.Examples
}
