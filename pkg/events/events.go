// Package events defines the record change events published to Kafka.
package events

import "time"

// 事件类型
const (
	RecordCreated = "created"
	RecordUpdated = "updated"
	RecordDeleted = "deleted"
)

// RecordEvent 描述一次健康记录变更，只携带标识与类型，不携带 payload 数值。
type RecordEvent struct {
	Type       string    `json:"type"`
	RecordID   string    `json:"recordId"`
	UserID     string    `json:"userId"`
	RecordType string    `json:"recordType,omitempty"`
	At         time.Time `json:"at"`
}
