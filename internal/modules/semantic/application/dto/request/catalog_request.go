package request

// MetricRequest 新建或覆盖指标
type MetricRequest struct {
	Key          string   `json:"key" yaml:"key" binding:"required"`
	Name         string   `json:"name" yaml:"name" binding:"required"`
	Description  string   `json:"description" yaml:"description"`
	Aggregation  string   `json:"aggregation" yaml:"aggregation" binding:"required"` // 例如 SUM(amount)
	BaseTable    string   `json:"base_table" yaml:"base_table" binding:"required"`
	Dimensions   []string `json:"dimensions" yaml:"dimensions"`
	Certified    bool     `json:"certified" yaml:"certified"`
	Domain       string   `json:"domain" yaml:"domain"`
	DataSourceID string   `json:"data_source_id" yaml:"data_source_id"`
}

type GlossaryRequest struct {
	Key        string   `json:"key" yaml:"key" binding:"required"`
	Term       string   `json:"term" yaml:"term" binding:"required"`
	Definition string   `json:"definition" yaml:"definition" binding:"required"`
	Synonyms   []string `json:"synonyms" yaml:"synonyms"`
	Domain     string   `json:"domain" yaml:"domain"`
}

type RuleRequest struct {
	Key    string `json:"key" yaml:"key" binding:"required"`
	Title  string `json:"title" yaml:"title" binding:"required"`
	Body   string `json:"body" yaml:"body" binding:"required"`
	Domain string `json:"domain" yaml:"domain"`
}

type ExampleRequest struct {
	Key          string `json:"key" yaml:"key" binding:"required"`
	Question     string `json:"question" yaml:"question" binding:"required"`
	SQL          string `json:"sql" yaml:"sql" binding:"required"`
	DataSourceID string `json:"data_source_id" yaml:"data_source_id"`
	Domain       string `json:"domain" yaml:"domain"`
}

// CatalogFile 种子文件结构
type CatalogFile struct {
	Metrics  []MetricRequest   `yaml:"metrics"`
	Glossary []GlossaryRequest `yaml:"glossary"`
	Rules    []RuleRequest     `yaml:"rules"`
	Examples []ExampleRequest  `yaml:"examples"`
}
