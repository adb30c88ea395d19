// Package pipeline 定义了订阅变更事件的消费流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/internal/service"
	"invoice-assistant-go/pkg/log"
	"invoice-assistant-go/pkg/tasks"

	"gorm.io/gorm"
)

// SubscriptionProcessor 将 Kafka 中的等级变更事件写回用户资料。
type SubscriptionProcessor struct {
	subscriptions service.SubscriptionService
	userRepo      repository.UserRepository
}

// NewSubscriptionProcessor 创建一个新的 SubscriptionProcessor 实例。
func NewSubscriptionProcessor(subscriptions service.SubscriptionService, userRepo repository.UserRepository) *SubscriptionProcessor {
	return &SubscriptionProcessor{subscriptions: subscriptions, userRepo: userRepo}
}

// Process 应用一条变更事件。比当前等级更旧的事件直接丢弃；
// 用户不存在或等级非法时返回 nil，重试也不会成功。
func (p *SubscriptionProcessor) Process(ctx context.Context, event tasks.SubscriptionEvent) error {
	log.Infof("[SubscriptionProcessor] 收到等级变更事件, EventID: %s, UserID: %d, Tier: %s", event.EventID, event.UserID, event.Tier)

	// 1. 检查用户是否存在
	user, err := p.userRepo.FindByID(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnw("subscription event for unknown user dropped", "eventId", event.EventID, "userId", event.UserID)
			return nil
		}
		return fmt.Errorf("load user %d: %w", event.UserID, err)
	}

	// 2. 乱序到达的旧事件不能覆盖新的等级
	if user.TierUpdatedAt != nil && !event.OccurredAt.IsZero() && event.OccurredAt.Before(*user.TierUpdatedAt) {
		log.Warnw("stale subscription event dropped", "eventId", event.EventID, "userId", event.UserID,
			"occurredAt", event.OccurredAt, "tierUpdatedAt", *user.TierUpdatedAt)
		return nil
	}

	// 3. 写入新的等级
	if err := p.subscriptions.ApplyTierChange(ctx, event); err != nil {
		if errors.Is(err, service.ErrInvalidTier) {
			log.Warnw("subscription event with invalid tier dropped", "eventId", event.EventID, "tier", event.Tier)
			return nil
		}
		return err
	}
	return nil
}
