package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// HealthRecord 定义了 health_records 表的 ORM 模型，每条记录只属于一个用户。
// user_id 是指向 users 的外键，删除用户时级联删除其记录。
type HealthRecord struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID     string    `gorm:"type:char(36);not null;index:idx_records_user_observed,priority:1" json:"userId"`
	Type       string    `gorm:"type:varchar(32);not null" json:"type"`
	Payload    Payload   `gorm:"type:json;not null" json:"payload"`
	ObservedAt time.Time `gorm:"not null;index:idx_records_user_observed,priority:2" json:"observedAt"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	// 仅用于建立外键约束，不预加载
	Owner *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (HealthRecord) TableName() string {
	return "health_records"
}

// Payload 是记录的结构化数值，按 JSON 文本存取。
// 以 string 写入数据库，避免 MySQL JSON 列拒绝 binary 字符集的参数。
type Payload json.RawMessage

// Value 实现 driver.Valuer。
func (p Payload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return "null", nil
	}
	return string(p), nil
}

// Scan 实现 sql.Scanner。
func (p *Payload) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		*p = append((*p)[:0], v...)
	case string:
		*p = Payload(v)
	case nil:
		*p = nil
	default:
		return fmt.Errorf("payload: unsupported scan type %T", src)
	}
	return nil
}

// MarshalJSON 原样输出 JSON。
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON 保存原始 JSON。
func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return fmt.Errorf("payload: UnmarshalJSON on nil pointer")
	}
	*p = append((*p)[:0], data...)
	return nil
}

// RecordFilter 是列表查询的筛选条件。时间范围为左闭右开 [From, To)。
type RecordFilter struct {
	Type string
	From *time.Time
	To   *time.Time
}

// RecordCursor 标记 keyset 分页的位置：上一页最后一条记录的 (ObservedAt, ID)。
type RecordCursor struct {
	ObservedAt time.Time
	ID         string
}
