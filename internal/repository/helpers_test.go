package repository

import (
	"strings"
	"testing"

	"health-smart-go/internal/config"
	"health-smart-go/internal/model"
	"health-smart-go/pkg/database"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestDB 为每个测试打开独立的内存 sqlite 并建表。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + name + "?mode=memory&cache=shared",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// seedOwners 创建记录所属的用户；health_records.user_id 受外键约束。
func seedOwners(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, db.Create(&model.User{ID: id, Email: id + "@example.com", Password: "hash"}).Error)
	}
}

func newTestRecordRepository(t *testing.T) HealthRecordRepository {
	t.Helper()
	db := newTestDB(t)
	seedOwners(t, db, "user-a", "user-b")
	return NewHealthRecordRepository(db)
}
