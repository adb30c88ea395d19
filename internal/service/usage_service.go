// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/pkg/log"
)

// UsageService 统计用户累计创建的单据数并判断是否还能创建。
// 数据层出错时放行（fail soft），与订阅判断的 fail closed 相反。
type UsageService interface {
	GetUserUsageStats(ctx context.Context, userID uint) model.UsageStats
	CanUserCreateItem(ctx context.Context, userID uint, isSubscribed bool) bool
}

type usageService struct {
	docs repository.DocumentRepository
}

// NewUsageService 创建一个新的 UsageService 实例。
func NewUsageService(docs repository.DocumentRepository) UsageService {
	return &usageService{docs: docs}
}

// GetUserUsageStats 每次都从单据表实时计数，不使用任何缓存。
func (s *usageService) GetUserUsageStats(ctx context.Context, userID uint) model.UsageStats {
	invoices, err := s.docs.CountByUser(ctx, model.KindInvoice, userID)
	if err != nil {
		log.Errorw("count invoices failed, allowing creation", "userId", userID, "error", err)
		return model.NewUsageStats(0, 0)
	}
	estimates, err := s.docs.CountByUser(ctx, model.KindEstimate, userID)
	if err != nil {
		log.Errorw("count estimates failed, allowing creation", "userId", userID, "error", err)
		return model.NewUsageStats(0, 0)
	}
	return model.NewUsageStats(invoices, estimates)
}

// CanUserCreateItem 订阅用户直接放行，否则要求累计数量低于免费额度。
func (s *usageService) CanUserCreateItem(ctx context.Context, userID uint, isSubscribed bool) bool {
	if isSubscribed {
		return true
	}
	return s.GetUserUsageStats(ctx, userID).TotalItemsCreated < model.FreeTierLimit
}
