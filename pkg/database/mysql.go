// Package database 负责 MySQL 与 Redis 连接的初始化。
package database

import (
	"time"

	"docchat-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// DB 是全局的 gorm 数据库句柄。
var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接并配置连接池。
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("连接 MySQL 失败", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("获取底层 sql.DB 失败", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("MySQL 连接初始化成功")
}
