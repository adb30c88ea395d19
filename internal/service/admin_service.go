package service

import (
	"context"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
)

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

// UserDetailResponse 是用户列表中的一项，附带订阅等级与用量。
type UserDetailResponse struct {
	UserID           uint                   `json:"userId"`
	Username         string                 `json:"username"`
	Role             string                 `json:"role"`
	SubscriptionTier model.SubscriptionTier `json:"subscriptionTier"`
	Usage            model.UsageStats       `json:"usage"`
	CreatedAt        model.LocalDate        `json:"createdAt"`
}

// AdminService 接口定义了管理员相关的业务操作。
type AdminService interface {
	ListUsers(ctx context.Context, page, size int) (*UserListResponse, error)
	SetUserTier(ctx context.Context, userID uint, tier model.SubscriptionTier) error
	GetUserConversation(ctx context.Context, userID uint) ([]model.ChatMessage, error)
}

type adminService struct {
	userRepo      repository.UserRepository
	usage         UsageService
	subscriptions SubscriptionService
	conversations ConversationService
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(userRepo repository.UserRepository, usage UsageService, subscriptions SubscriptionService, conversations ConversationService) AdminService {
	return &adminService{
		userRepo:      userRepo,
		usage:         usage,
		subscriptions: subscriptions,
		conversations: conversations,
	}
}

// ListUsers 分页列出用户，page 从 1 开始。
func (s *adminService) ListUsers(ctx context.Context, page, size int) (*UserListResponse, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}
	users, total, err := s.userRepo.List(ctx, (page-1)*size, size)
	if err != nil {
		return nil, err
	}

	content := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		tier := u.SubscriptionTier
		if tier == "" {
			tier = model.TierFree
		}
		content = append(content, UserDetailResponse{
			UserID:           u.ID,
			Username:         u.Username,
			Role:             u.Role,
			SubscriptionTier: tier,
			Usage:            s.usage.GetUserUsageStats(ctx, u.ID),
			CreatedAt:        model.LocalDate(u.CreatedAt),
		})
	}

	totalPages := int(total) / size
	if int(total)%size != 0 {
		totalPages++
	}
	return &UserListResponse{
		Content:       content,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          size,
		Number:        page,
	}, nil
}

// SetUserTier 校验用户存在后发布等级变更事件。
func (s *adminService) SetUserTier(ctx context.Context, userID uint, tier model.SubscriptionTier) error {
	if _, err := s.userRepo.FindByID(ctx, userID); err != nil {
		return err
	}
	return s.subscriptions.RequestTierChange(ctx, userID, tier, "admin")
}

// GetUserConversation 返回指定用户的完整对话记录，用于排查问题。
func (s *adminService) GetUserConversation(ctx context.Context, userID uint) ([]model.ChatMessage, error) {
	if _, err := s.userRepo.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.conversations.GetConversationHistory(ctx, userID)
}
