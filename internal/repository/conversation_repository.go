package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"health-smart-go/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	// 每个用户保留最近 20 条消息
	maxHistoryMessages = 20
	historyTTL         = 7 * 24 * time.Hour
)

// ConversationRepository 定义了对话历史记录的操作接口。
type ConversationRepository interface {
	GetHistory(ctx context.Context, userID string) ([]model.ChatMessage, error)
	Append(ctx context.Context, userID string, messages ...model.ChatMessage) error
	Clear(ctx context.Context, userID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(userID string) string {
	return fmt.Sprintf("conversation:%s", userID)
}

// GetHistory 从 Redis 获取对话历史记录，按时间先后排列。
func (r *redisConversationRepository) GetHistory(ctx context.Context, userID string) ([]model.ChatMessage, error) {
	items, err := r.redisClient.LRange(ctx, conversationKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	messages := make([]model.ChatMessage, 0, len(items))
	for _, item := range items {
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Append 追加消息并裁剪到最近 maxHistoryMessages 条，三个命令在一个 MULTI 中执行。
func (r *redisConversationRepository) Append(ctx context.Context, userID string, messages ...model.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation message: %w", err)
		}
		values = append(values, string(b))
	}

	key := conversationKey(userID)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -maxHistoryMessages, -1)
		pipe.Expire(ctx, key, historyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append conversation history: %w", err)
	}
	return nil
}

// Clear 删除用户的对话历史。
func (r *redisConversationRepository) Clear(ctx context.Context, userID string) error {
	if err := r.redisClient.Del(ctx, conversationKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear conversation history: %w", err)
	}
	return nil
}

// noopConversationRepository 在未启用 Redis 时使用：不保存历史。
type noopConversationRepository struct{}

// NewNoopConversationRepository 返回一个不保存任何历史的 ConversationRepository。
func NewNoopConversationRepository() ConversationRepository { return noopConversationRepository{} }

func (noopConversationRepository) GetHistory(context.Context, string) ([]model.ChatMessage, error) {
	return []model.ChatMessage{}, nil
}
func (noopConversationRepository) Append(context.Context, string, ...model.ChatMessage) error {
	return nil
}
func (noopConversationRepository) Clear(context.Context, string) error { return nil }
