package database

import (
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/pkg/log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接并迁移表结构
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := AutoMigrate(DB); err != nil {
		log.Fatal("failed to migrate database", err)
	}

	log.Info("MySQL database connected successfully")
}

// AutoMigrate 创建或更新所有业务表。发票与报价单共用 Document 结构，分表存储。
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Client{},
		&model.BusinessSettings{},
		&model.PaymentOption{},
		&model.Conversation{},
		&model.ChatMessage{},
	); err != nil {
		return err
	}
	for _, kind := range []model.DocumentKind{model.KindInvoice, model.KindEstimate} {
		if err := db.Table(kind.Table()).AutoMigrate(&model.Document{}); err != nil {
			return err
		}
	}
	return nil
}
