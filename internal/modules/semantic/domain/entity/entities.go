package entity

import (
	"strconv"
	"strings"
	"time"

	"InsightLink/internal/modules/ai/domain/contextitem"
)

// Document 写入向量库的一条业务元数据
type Document struct {
	Namespace contextitem.Namespace
	Key       string
	Text      string
	Metadata  map[string]string
}

// Documented 可以被向量化的业务对象
type Documented interface {
	Document() Document
}

// BusinessMetric 指标定义，certified 指标在上下文里优先级最高
type BusinessMetric struct {
	Id           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	ItemKey      string    `gorm:"column:item_key;type:varchar(128);not null;uniqueIndex" json:"key"`
	Name         string    `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Description  string    `gorm:"column:description;type:text" json:"description"`
	Aggregation  string    `gorm:"column:aggregation;type:varchar(255);not null" json:"aggregation"`
	BaseTable    string    `gorm:"column:base_table;type:varchar(128);not null" json:"baseTable"`
	Dimensions   []string  `gorm:"column:dimensions;type:text;serializer:json" json:"dimensions"`
	Certified    bool      `gorm:"column:certified;not null;default:false" json:"certified"`
	Domain       string    `gorm:"column:domain;type:varchar(64);index" json:"domain"`
	DataSourceId string    `gorm:"column:data_source_id;type:varchar(64);index" json:"dataSourceId,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (BusinessMetric) TableName() string { return "semantic_metric" }

func (m BusinessMetric) Document() Document {
	var b strings.Builder
	b.WriteString(m.Name)
	if m.Certified {
		b.WriteString(" (certified)")
	}
	b.WriteString(": ")
	b.WriteString(m.Description)
	b.WriteString(" Definition: ")
	b.WriteString(m.Aggregation)
	b.WriteString(" FROM ")
	b.WriteString(m.BaseTable)
	if len(m.Dimensions) > 0 {
		b.WriteString(". Dimensions: ")
		b.WriteString(strings.Join(m.Dimensions, ", "))
	}
	b.WriteString(".")
	return Document{
		Namespace: contextitem.NamespaceMetric,
		Key:       m.ItemKey,
		Text:      b.String(),
		Metadata: compact(map[string]string{
			contextitem.MetaName:         m.Name,
			contextitem.MetaDomain:       m.Domain,
			contextitem.MetaCertified:    strconv.FormatBool(m.Certified),
			contextitem.MetaAggregation:  m.Aggregation,
			contextitem.MetaBaseTable:    m.BaseTable,
			contextitem.MetaDimensions:   strings.Join(m.Dimensions, ","),
			contextitem.MetaDataSourceID: m.DataSourceId,
		}),
	}
}

// GlossaryTerm 业务术语
type GlossaryTerm struct {
	Id         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	ItemKey    string    `gorm:"column:item_key;type:varchar(128);not null;uniqueIndex" json:"key"`
	Term       string    `gorm:"column:term;type:varchar(128);not null" json:"term"`
	Definition string    `gorm:"column:definition;type:text;not null" json:"definition"`
	Synonyms   []string  `gorm:"column:synonyms;type:text;serializer:json" json:"synonyms"`
	Domain     string    `gorm:"column:domain;type:varchar(64);index" json:"domain"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (GlossaryTerm) TableName() string { return "semantic_glossary" }

func (g GlossaryTerm) Document() Document {
	text := g.Term + ": " + g.Definition
	if len(g.Synonyms) > 0 {
		text += " Also known as " + strings.Join(g.Synonyms, ", ") + "."
	}
	return Document{
		Namespace: contextitem.NamespaceGlossary,
		Key:       g.ItemKey,
		Text:      text,
		Metadata:  compact(map[string]string{contextitem.MetaName: g.Term, contextitem.MetaDomain: g.Domain}),
	}
}

// BusinessRule 口径规则，例如"收入不含测试订单"
type BusinessRule struct {
	Id        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	ItemKey   string    `gorm:"column:item_key;type:varchar(128);not null;uniqueIndex" json:"key"`
	Title     string    `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Body      string    `gorm:"column:body;type:text;not null" json:"body"`
	Domain    string    `gorm:"column:domain;type:varchar(64);index" json:"domain"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (BusinessRule) TableName() string { return "semantic_rule" }

func (r BusinessRule) Document() Document {
	return Document{
		Namespace: contextitem.NamespaceRule,
		Key:       r.ItemKey,
		Text:      r.Title + ": " + r.Body,
		Metadata:  compact(map[string]string{contextitem.MetaName: r.Title, contextitem.MetaDomain: r.Domain}),
	}
}

// QueryExample 已验证的问题与 SQL
type QueryExample struct {
	Id           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	ItemKey      string    `gorm:"column:item_key;type:varchar(128);not null;uniqueIndex" json:"key"`
	Question     string    `gorm:"column:question;type:text;not null" json:"question"`
	SqlText      string    `gorm:"column:sql_text;type:text;not null" json:"sql"`
	DataSourceId string    `gorm:"column:data_source_id;type:varchar(64);index" json:"dataSourceId,omitempty"`
	Domain       string    `gorm:"column:domain;type:varchar(64);index" json:"domain"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (QueryExample) TableName() string { return "semantic_example" }

func (e QueryExample) Document() Document {
	return Document{
		Namespace: contextitem.NamespaceExample,
		Key:       e.ItemKey,
		Text:      "Q: " + e.Question + "\nSQL: " + e.SqlText,
		Metadata: compact(map[string]string{
			contextitem.MetaDomain:       e.Domain,
			contextitem.MetaSQL:          e.SqlText,
			contextitem.MetaDataSourceID: e.DataSourceId,
		}),
	}
}

// DataSource 配置里登记的数据源，嵌入 datasource 命名空间供发现使用
type DataSource struct {
	ID          string
	Name        string
	Description string
	Domain      string
	Schema      string
}

func (d DataSource) Document() Document {
	return Document{
		Namespace: contextitem.NamespaceDataSource,
		Key:       d.ID,
		Text:      d.Name + ": " + d.Description + " Tables: " + d.Schema,
		Metadata:  compact(map[string]string{contextitem.MetaName: d.Name, contextitem.MetaDomain: d.Domain}),
	}
}

func compact(m map[string]string) map[string]string {
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			delete(m, k)
		}
	}
	return m
}
