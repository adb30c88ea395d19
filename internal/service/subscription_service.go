package service

import (
	"context"
	"errors"
	"fmt"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/pkg/log"
	"invoice-assistant-go/pkg/tasks"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTier 表示未知的订阅等级。
var ErrInvalidTier = errors.New("invalid subscription tier")

// EventPublisher 发布订阅变更事件，生产环境为 Kafka。
type EventPublisher func(ctx context.Context, event tasks.SubscriptionEvent) error

// SubscriptionService 判断用户是否为订阅用户。每次都从用户资料读取，不缓存，
// 读取失败按未订阅处理（fail closed）。
type SubscriptionService interface {
	IsUserSubscribed(ctx context.Context, userID uint) bool
	GetTier(ctx context.Context, userID uint) (model.SubscriptionTier, error)
	// RequestTierChange 发布变更事件；未配置发布者时直接应用。
	RequestTierChange(ctx context.Context, userID uint, tier model.SubscriptionTier, source string) error
	// ApplyTierChange 由事件消费者调用，写入新的等级。
	ApplyTierChange(ctx context.Context, event tasks.SubscriptionEvent) error
}

type subscriptionService struct {
	users   repository.UserRepository
	publish EventPublisher
}

// NewSubscriptionService 创建一个新的 SubscriptionService 实例。publish 可为 nil。
func NewSubscriptionService(users repository.UserRepository, publish EventPublisher) SubscriptionService {
	return &subscriptionService{users: users, publish: publish}
}

func (s *subscriptionService) GetTier(ctx context.Context, userID uint) (model.SubscriptionTier, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.SubscriptionTier == "" {
		return model.TierFree, nil
	}
	return user.SubscriptionTier, nil
}

func (s *subscriptionService) IsUserSubscribed(ctx context.Context, userID uint) bool {
	tier, err := s.GetTier(ctx, userID)
	if err != nil {
		log.Errorw("resolve subscription tier failed, treating as not subscribed", "userId", userID, "error", err)
		return false
	}
	return tier.Unlimited()
}

func (s *subscriptionService) RequestTierChange(ctx context.Context, userID uint, tier model.SubscriptionTier, source string) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	event := tasks.SubscriptionEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		Tier:       string(tier),
		Source:     source,
		OccurredAt: time.Now(),
	}
	if s.publish == nil {
		return s.ApplyTierChange(ctx, event)
	}
	if err := s.publish(ctx, event); err != nil {
		return fmt.Errorf("publish subscription event: %w", err)
	}
	log.Infow("subscription change published", "userId", userID, "tier", tier, "eventId", event.EventID)
	return nil
}

func (s *subscriptionService) ApplyTierChange(ctx context.Context, event tasks.SubscriptionEvent) error {
	tier := model.SubscriptionTier(event.Tier)
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, event.Tier)
	}
	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.users.UpdateTier(ctx, event.UserID, tier, at); err != nil {
		return fmt.Errorf("update tier for user %d: %w", event.UserID, err)
	}
	log.Infow("subscription tier applied", "userId", event.UserID, "tier", tier, "source", event.Source)
	return nil
}
