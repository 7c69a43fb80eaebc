// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"health-smart-go/internal/model"

	"gorm.io/gorm"
)

// AutoMigrate 创建或更新所有表结构与索引。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.User{}, &model.HealthRecord{})
}
