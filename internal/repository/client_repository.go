package repository

import (
	"context"
	"invoice-assistant-go/internal/model"
	"strings"

	"gorm.io/gorm"
)

// ClientRepository 定义了客户数据的持久化操作。
type ClientRepository interface {
	Create(ctx context.Context, client *model.Client) error
	Update(ctx context.Context, client *model.Client) error
	FindByID(ctx context.Context, userID, id uint) (*model.Client, error)
	// FindByName 忽略大小写精确匹配客户名。
	FindByName(ctx context.Context, userID uint, name string) (*model.Client, error)
	SearchByName(ctx context.Context, userID uint, query string, limit int) ([]model.Client, error)
}

type clientRepository struct {
	db *gorm.DB
}

// NewClientRepository 创建一个新的 ClientRepository 实例。
func NewClientRepository(db *gorm.DB) ClientRepository {
	return &clientRepository{db: db}
}

func (r *clientRepository) Create(ctx context.Context, client *model.Client) error {
	return r.db.WithContext(ctx).Create(client).Error
}

func (r *clientRepository) Update(ctx context.Context, client *model.Client) error {
	return r.db.WithContext(ctx).Save(client).Error
}

func (r *clientRepository) FindByID(ctx context.Context, userID, id uint) (*model.Client, error) {
	var client model.Client
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *clientRepository) FindByName(ctx context.Context, userID uint, name string) (*model.Client, error) {
	var client model.Client
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(name) = ?", userID, strings.ToLower(strings.TrimSpace(name))).
		First(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// SearchByName 使用 LIKE 做模糊匹配，是 Elasticsearch 不可用时的兜底。
func (r *clientRepository) SearchByName(ctx context.Context, userID uint, query string, limit int) ([]model.Client, error) {
	var clients []model.Client
	q := r.db.WithContext(ctx).Where("user_id = ? AND LOWER(name) LIKE ?", userID, "%"+strings.ToLower(strings.TrimSpace(query))+"%")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("name asc").Find(&clients).Error
	return clients, err
}
