package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docchat-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// 房间消息列表的保留配置。
const (
	messageListTTL     = 7 * 24 * time.Hour
	DefaultHistorySize = 200
)

// MessageRepository 定义了房间消息历史的操作接口。
// 消息以 JSON 形式存放在每个房间的 Redis 列表中，只保留最近 N 条。
type MessageRepository interface {
	Append(ctx context.Context, roomID string, msg *model.Message) error
	History(ctx context.Context, roomID string, limit int) ([]model.Message, error)
	Update(ctx context.Context, roomID string, msg *model.Message) error
}

type redisMessageRepository struct {
	redisClient *redis.Client
	historySize int
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(redisClient *redis.Client, historySize int) MessageRepository {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &redisMessageRepository{redisClient: redisClient, historySize: historySize}
}

func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// Append 追加一条消息并裁剪到最近 N 条。
func (r *redisMessageRepository) Append(ctx context.Context, roomID string, msg *model.Message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}
	key := roomMessagesKey(roomID)
	pipe := r.redisClient.TxPipeline()
	pipe.RPush(ctx, key, jsonData)
	pipe.LTrim(ctx, key, int64(-r.historySize), -1)
	pipe.Expire(ctx, key, messageListTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入房间消息失败: %w", err)
	}
	return nil
}

// History 返回房间最近的消息，按时间先后排序。
func (r *redisMessageRepository) History(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > r.historySize {
		limit = r.historySize
	}
	items, err := r.redisClient.LRange(ctx, roomMessagesKey(roomID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取房间消息失败: %w", err)
	}
	messages := make([]model.Message, 0, len(items))
	for _, item := range items {
		var msg model.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			// 单条脏数据跳过，不影响整体回放
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// findMessageIndex 在序列化消息列表中定位目标 ID 的下标。
// 单条脏数据只影响自身，不影响其余条目的位置。
func findMessageIndex(items []string, id string) (int, bool) {
	for i, item := range items {
		var existing model.Message
		if err := json.Unmarshal([]byte(item), &existing); err != nil {
			continue
		}
		if existing.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Update 按消息 ID 原地更新列表中的一条消息（用于限时编辑）。
// 定位下标与 LSET 之间列表可能被并发 Append+LTrim 移动，
// 整个序列放在 WATCH 事务里执行，冲突时重试。
func (r *redisMessageRepository) Update(ctx context.Context, roomID string, msg *model.Message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}
	key := roomMessagesKey(roomID)

	txn := func(tx *redis.Tx) error {
		items, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("读取房间消息失败: %w", err)
		}
		idx, ok := findMessageIndex(items, msg.ID)
		if !ok {
			return fmt.Errorf("消息 %s 不在房间 %s 的历史中", msg.ID, roomID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, key, int64(idx), jsonData)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := r.redisClient.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("更新房间消息 %s 失败: 并发修改冲突", msg.ID)
}
