package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"invoice-assistant-go/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
)

const chatContextTTL = 7 * 24 * time.Hour

// ChatContextRepository 保存每个对话的滚动上下文。
type ChatContextRepository interface {
	// Get 返回上下文以及是否存在。
	Get(ctx context.Context, conversationID string) (model.ChatContext, bool, error)
	Save(ctx context.Context, conversationID string, cc model.ChatContext) error
	Delete(ctx context.Context, conversationID string) error
}

type redisChatContextRepository struct {
	redisClient *redis.Client
}

// NewChatContextRepository 创建一个基于 Redis 的 ChatContextRepository。
func NewChatContextRepository(redisClient *redis.Client) ChatContextRepository {
	return &redisChatContextRepository{redisClient: redisClient}
}

func chatContextKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:context", conversationID)
}

func (r *redisChatContextRepository) Get(ctx context.Context, conversationID string) (model.ChatContext, bool, error) {
	var cc model.ChatContext
	data, err := r.redisClient.Get(ctx, chatContextKey(conversationID)).Result()
	if err == redis.Nil {
		return cc, false, nil
	}
	if err != nil {
		return cc, false, fmt.Errorf("failed to get chat context: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &cc); err != nil {
		return cc, false, fmt.Errorf("failed to unmarshal chat context: %w", err)
	}
	return cc, true, nil
}

func (r *redisChatContextRepository) Save(ctx context.Context, conversationID string, cc model.ChatContext) error {
	data, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to marshal chat context: %w", err)
	}
	if err := r.redisClient.Set(ctx, chatContextKey(conversationID), data, chatContextTTL).Err(); err != nil {
		return fmt.Errorf("failed to set chat context: %w", err)
	}
	return nil
}

func (r *redisChatContextRepository) Delete(ctx context.Context, conversationID string) error {
	return r.redisClient.Del(ctx, chatContextKey(conversationID)).Err()
}
