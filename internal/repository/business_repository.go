package repository

import (
	"context"
	"errors"
	"invoice-assistant-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BusinessRepository 定义了商户设置与收款方式的持久化操作。
type BusinessRepository interface {
	// GetSettings 返回用户的商户设置，不存在时返回只带 UserID 的空设置。
	GetSettings(ctx context.Context, userID uint) (*model.BusinessSettings, error)
	SaveSettings(ctx context.Context, settings *model.BusinessSettings) error
	ListPaymentOptions(ctx context.Context, userID uint) ([]model.PaymentOption, error)
	UpsertPaymentOption(ctx context.Context, option *model.PaymentOption) error
}

type businessRepository struct {
	db *gorm.DB
}

// NewBusinessRepository 创建一个新的 BusinessRepository 实例。
func NewBusinessRepository(db *gorm.DB) BusinessRepository {
	return &businessRepository{db: db}
}

func (r *businessRepository) GetSettings(ctx context.Context, userID uint) (*model.BusinessSettings, error) {
	var settings model.BusinessSettings
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.BusinessSettings{UserID: userID, Currency: "USD"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *businessRepository) SaveSettings(ctx context.Context, settings *model.BusinessSettings) error {
	return r.db.WithContext(ctx).Save(settings).Error
}

func (r *businessRepository) ListPaymentOptions(ctx context.Context, userID uint) ([]model.PaymentOption, error) {
	var options []model.PaymentOption
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("method asc").Find(&options).Error
	return options, err
}

// UpsertPaymentOption 按 (user_id, method) 唯一键插入或更新。
func (r *businessRepository) UpsertPaymentOption(ctx context.Context, option *model.PaymentOption) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "method"}},
		DoUpdates: clause.AssignmentColumns([]string{"details", "enabled", "updated_at"}),
	}).Create(option).Error
}
