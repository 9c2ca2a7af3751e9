package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docchat-go/internal/model"
	"docchat-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// 回答缓存的有效期：含联网结果的回答时效性更差，TTL 更短。
const (
	AnswerTTL    = 3600 * time.Second
	AnswerWebTTL = 1800 * time.Second
)

// AnswerCacheRepository 定义了回答缓存的操作接口。
// 键是 (房间, 问题文本, 联网开关) 的纯函数，由调用方计算。
type AnswerCacheRepository interface {
	Get(ctx context.Context, key string) (*model.Answer, bool)
	Set(ctx context.Context, key string, answer *model.Answer, ttl time.Duration) error
	EvictAll(ctx context.Context) error
}

type redisAnswerCacheRepository struct {
	redisClient *redis.Client
}

// NewAnswerCacheRepository 创建一个新的 AnswerCacheRepository 实例。
func NewAnswerCacheRepository(redisClient *redis.Client) AnswerCacheRepository {
	return &redisAnswerCacheRepository{redisClient: redisClient}
}

func answerKey(key string) string {
	return fmt.Sprintf("answer:%s", key)
}

// Get 读取缓存的回答。任何错误都按未命中处理。
func (r *redisAnswerCacheRepository) Get(ctx context.Context, key string) (*model.Answer, bool) {
	jsonData, err := r.redisClient.Get(ctx, answerKey(key)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warnf("读取回答缓存失败，按未命中处理: %v", err)
		return nil, false
	}
	var answer model.Answer
	if err := json.Unmarshal([]byte(jsonData), &answer); err != nil {
		log.Warnf("解析回答缓存失败，按未命中处理: %v", err)
		return nil, false
	}
	return &answer, true
}

// Set 写入缓存的回答。
func (r *redisAnswerCacheRepository) Set(ctx context.Context, key string, answer *model.Answer, ttl time.Duration) error {
	jsonData, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("序列化回答缓存失败: %w", err)
	}
	if err := r.redisClient.Set(ctx, answerKey(key), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("写入回答缓存失败: %w", err)
	}
	return nil
}

// EvictAll 清空全部回答缓存。
// 缓存键无法反查涉及哪些文档，文档变更时整体失效（缓存可随时重建）。
func (r *redisAnswerCacheRepository) EvictAll(ctx context.Context) error {
	keys, err := r.redisClient.Keys(ctx, "answer:*").Result()
	if err != nil {
		return fmt.Errorf("枚举回答缓存键失败: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("删除回答缓存失败: %w", err)
	}
	return nil
}
