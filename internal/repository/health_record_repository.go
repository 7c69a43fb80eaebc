package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"health-smart-go/internal/common"
	"health-smart-go/internal/model"

	"gorm.io/gorm"
)

// HealthRecordRepository 定义了健康记录的持久化操作。
// 所有方法都带 userID，并在 SQL 条件中同时匹配记录 ID 与归属用户。
type HealthRecordRepository interface {
	Create(ctx context.Context, record *model.HealthRecord) error
	FindOwned(ctx context.Context, userID, recordID string) (*model.HealthRecord, error)
	ListPage(ctx context.Context, userID string, filter model.RecordFilter, after *model.RecordCursor, limit int) ([]model.HealthRecord, error)
	UpdateOwned(ctx context.Context, userID, recordID string, payload model.Payload, observedAt *time.Time) (*model.HealthRecord, error)
	DeleteOwned(ctx context.Context, userID, recordID string) error
}

type healthRecordRepository struct {
	db *gorm.DB
}

// NewHealthRecordRepository 创建一个新的 HealthRecordRepository 实例。
func NewHealthRecordRepository(db *gorm.DB) HealthRecordRepository {
	return &healthRecordRepository{db: db}
}

// Create 写入一条新记录。归属用户已不存在时（外键约束失败）返回 common.ErrUnauthenticated。
func (r *healthRecordRepository) Create(ctx context.Context, record *model.HealthRecord) error {
	err := r.db.WithContext(ctx).Create(record).Error
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return fmt.Errorf("owner %s no longer exists: %w", record.UserID, common.ErrUnauthenticated)
	}
	return err
}

// FindOwned 查找属于 userID 的记录；不存在或不属于该用户时返回 common.ErrNotFound。
func (r *healthRecordRepository) FindOwned(ctx context.Context, userID, recordID string) (*model.HealthRecord, error) {
	return findOwned(r.db.WithContext(ctx), userID, recordID)
}

func findOwned(db *gorm.DB, userID, recordID string) (*model.HealthRecord, error) {
	var record model.HealthRecord
	err := db.Where("id = ? AND user_id = ?", recordID, userID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ListPage 按 (observed_at, id) 升序返回 after 之后的至多 limit 条记录。
func (r *healthRecordRepository) ListPage(ctx context.Context, userID string, filter model.RecordFilter, after *model.RecordCursor, limit int) ([]model.HealthRecord, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		q = q.Where("observed_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("observed_at < ?", filter.To.UTC())
	}
	if after != nil {
		at := after.ObservedAt.UTC()
		q = q.Where("(observed_at > ? OR (observed_at = ? AND id > ?))", at, at, after.ID)
	}

	var records []model.HealthRecord
	err := q.Order("observed_at ASC").Order("id ASC").Limit(limit).Find(&records).Error
	return records, err
}

// UpdateOwned 以单条条件 UPDATE（id 与 user_id 同时匹配）修改记录，并在同一事务内读回。
func (r *healthRecordRepository) UpdateOwned(ctx context.Context, userID, recordID string, payload model.Payload, observedAt *time.Time) (*model.HealthRecord, error) {
	var updated *model.HealthRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"payload":    payload,
			"updated_at": time.Now().UTC(),
		}
		if observedAt != nil {
			updates["observed_at"] = observedAt.UTC()
		}
		res := tx.Model(&model.HealthRecord{}).
			Where("id = ? AND user_id = ?", recordID, userID).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		// MySQL 在值未变化时 RowsAffected 为 0，归属以同一事务内的读回结果为准
		rec, err := findOwned(tx, userID, recordID)
		if err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteOwned 删除属于 userID 的记录；没有行被删除时返回 common.ErrNotFound。
func (r *healthRecordRepository) DeleteOwned(ctx context.Context, userID, recordID string) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", recordID, userID).Delete(&model.HealthRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}
