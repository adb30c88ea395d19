// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"invoice-assistant-go/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository 定义了对话与消息的操作接口。
// 消息只能追加或整体清空，不提供修改。
type ConversationRepository interface {
	GetOrCreateConversationID(ctx context.Context, userID uint) (string, error)
	AppendMessage(ctx context.Context, message *model.ChatMessage) error
	// ListMessages 按时间正序返回最近 limit 条消息，limit<=0 返回全部。
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error)
	ClearMessages(ctx context.Context, conversationID string) error
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// GetOrCreateConversationID 获取或懒创建用户的对话。
// 并发创建时依赖 user_id 唯一索引，冲突后重新读取。
func (r *conversationRepository) GetOrCreateConversationID(ctx context.Context, userID uint) (string, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&conv).Error
	if err == nil {
		return conv.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to get conversation: %w", err)
	}

	conv = model.Conversation{ID: uuid.NewString(), UserID: userID}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&conv).Error; err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	var stored model.Conversation
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&stored).Error; err != nil {
		return "", fmt.Errorf("failed to reload conversation: %w", err)
	}
	return stored.ID, nil
}

func (r *conversationRepository) AppendMessage(ctx context.Context, message *model.ChatMessage) error {
	if message.ID != 0 {
		return errors.New("chat messages are append-only")
	}
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *conversationRepository) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	q := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	// 倒序取最近 N 条后翻转为正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *conversationRepository) ClearMessages(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&model.ChatMessage{}).Error
}
