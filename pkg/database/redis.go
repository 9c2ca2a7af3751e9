package database

import (
	"context"

	"docchat-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 是全局的 Redis 客户端。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端并验证连通性。
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := RDB.Ping(context.Background()).Err(); err != nil {
		log.Fatal("连接 Redis 失败", err)
	}

	log.Info("Redis 连接初始化成功")
}
