package embedding

import "time"

// AIEmbeddingRecord 每个 (namespace, key) 一条，向量本身存放在向量库
type AIEmbeddingRecord struct {
	Id           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Namespace    string    `gorm:"column:namespace;type:varchar(32);not null;uniqueIndex:uk_ns_key,priority:1"`
	ItemKey      string    `gorm:"column:item_key;type:varchar(128);not null;uniqueIndex:uk_ns_key,priority:2"`
	VectorId     string    `gorm:"column:vector_id;type:varchar(191);not null"`
	SourceText   string    `gorm:"column:source_text;type:text;not null"`
	MetadataJson string    `gorm:"column:metadata_json;type:text"`
	ModelVersion string    `gorm:"column:model_version;type:varchar(64);not null;index"`
	Dimension    int       `gorm:"column:dimension;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AIEmbeddingRecord) TableName() string { return "ai_embedding_record" }

// SearchHit 相似度检索命中
type SearchHit struct {
	Key      string            `json:"key"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AIUserDomainGrant 用户可见的业务域，domain 为 * 表示全部
type AIUserDomainGrant struct {
	Id        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserId    string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:uk_user_domain,priority:1"`
	Domain    string    `gorm:"column:domain;type:varchar(64);not null;uniqueIndex:uk_user_domain,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (AIUserDomainGrant) TableName() string { return "ai_user_domain_grant" }
