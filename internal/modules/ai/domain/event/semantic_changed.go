package event

import (
	"encoding/json"
	"time"
)

const (
	TypeSemanticChanged = "semantic.changed"
	HeaderEventType     = "event_type"
)

const (
	ActionUpsert  = "upsert"
	ActionDelete  = "delete"
	ActionReembed = "reembed"
)

// SemanticChanged 业务元数据（指标/术语/规则/示例/数据源）发生写入
type SemanticChanged struct {
	EventID      string `json:"eventId"`
	Kind         string `json:"kind"`
	Key          string `json:"key"`
	DataSourceID string `json:"dataSourceId,omitempty"`
	Action       string `json:"action"`

	// 换绑数据源时的旧绑定
	PreviousDataSourceID string    `json:"previousDataSourceId,omitempty"`
	OccurredAt           time.Time `json:"occurredAt"`
}

// PartitionKey 同一对象的事件保持有序
func (e SemanticChanged) PartitionKey() []byte {
	return []byte(e.Kind + ":" + e.Key)
}

func (e SemanticChanged) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeSemanticChanged(b []byte) (SemanticChanged, error) {
	var e SemanticChanged
	err := json.Unmarshal(b, &e)
	return e, err
}
