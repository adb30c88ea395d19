package service

import (
	"context"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/pkg/log"
)

// ConversationService 定义了对话业务逻辑的接口。
type ConversationService interface {
	GetConversationHistory(ctx context.Context, userID uint) ([]model.ChatMessage, error)
	ClearConversation(ctx context.Context, userID uint) error
}

type conversationService struct {
	repo     repository.ConversationRepository
	contexts repository.ChatContextRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository, contexts repository.ChatContextRepository) ConversationService {
	return &conversationService{repo: repo, contexts: contexts}
}

// GetConversationHistory 获取用户对话的完整消息历史，按创建顺序排列。
func (s *conversationService) GetConversationHistory(ctx context.Context, userID uint) ([]model.ChatMessage, error) {
	conversationID, err := s.repo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, conversationID, 0)
}

// ClearConversation 删除对话中的全部消息以及滚动上下文，对话本身保留。
func (s *conversationService) ClearConversation(ctx context.Context, userID uint) error {
	conversationID, err := s.repo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.repo.ClearMessages(ctx, conversationID); err != nil {
		return err
	}
	if err := s.contexts.Delete(ctx, conversationID); err != nil {
		log.Warnw("clear chat context failed", "conversationId", conversationID, "error", err)
	}
	return nil
}
