package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docchat-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// PassageTTL 是段落缓存条目的有效期，从最后一次写入起算（非滑动）。
const PassageTTL = 24 * time.Hour

// PassageEntry 是段落缓存中的一条记录：分块文本与其伪向量。
// 任何时刻都可以仅凭分块文本重建，丢失是安全的。
type PassageEntry struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

// PassageCacheRepository 定义了段落缓存的操作接口。
// 缓存纯属建议性：未命中绝不是错误，只是强制走回退路径。
type PassageCacheRepository interface {
	Put(ctx context.Context, documentID string, chunkIndex int, text string, vector []float32) error
	Get(ctx context.Context, documentID string, chunkIndex int) (*PassageEntry, bool)
	EvictAll(ctx context.Context, documentID string) error
}

type redisPassageCacheRepository struct {
	redisClient *redis.Client
}

// NewPassageCacheRepository 创建一个新的 PassageCacheRepository 实例。
func NewPassageCacheRepository(redisClient *redis.Client) PassageCacheRepository {
	return &redisPassageCacheRepository{redisClient: redisClient}
}

func passageKey(documentID string, chunkIndex int) string {
	return fmt.Sprintf("passage:%s:%d", documentID, chunkIndex)
}

// Put 写入一条段落缓存，TTL 重置为 24 小时。
func (r *redisPassageCacheRepository) Put(ctx context.Context, documentID string, chunkIndex int, text string, vector []float32) error {
	entry := PassageEntry{Text: text, Vector: vector}
	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化段落缓存失败: %w", err)
	}
	if err := r.redisClient.Set(ctx, passageKey(documentID, chunkIndex), jsonData, PassageTTL).Err(); err != nil {
		return fmt.Errorf("写入段落缓存失败: %w", err)
	}
	return nil
}

// Get 读取一条段落缓存。任何错误都按未命中处理（缓存错误即未命中）。
func (r *redisPassageCacheRepository) Get(ctx context.Context, documentID string, chunkIndex int) (*PassageEntry, bool) {
	jsonData, err := r.redisClient.Get(ctx, passageKey(documentID, chunkIndex)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warnf("读取段落缓存失败，按未命中处理: %v", err)
		return nil, false
	}
	var entry PassageEntry
	if err := json.Unmarshal([]byte(jsonData), &entry); err != nil {
		log.Warnf("解析段落缓存失败，按未命中处理: %v", err)
		return nil, false
	}
	return &entry, true
}

// EvictAll 按模式删除某文档的全部段落缓存，用于文档删除与重处理前。
func (r *redisPassageCacheRepository) EvictAll(ctx context.Context, documentID string) error {
	pattern := fmt.Sprintf("passage:%s:*", documentID)
	keys, err := r.redisClient.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("枚举段落缓存键失败: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("删除段落缓存失败: %w", err)
	}
	return nil
}
