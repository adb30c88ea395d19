package repository

import (
	"context"
	"fmt"
	"invoice-assistant-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了发票与报价单的持久化操作，kind 决定读写哪张表。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	Update(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, kind model.DocumentKind, userID, id uint) (*model.Document, error)
	FindByNumber(ctx context.Context, kind model.DocumentKind, userID uint, number string) (*model.Document, error)
	CountByUser(ctx context.Context, kind model.DocumentKind, userID uint) (int64, error)
	ListByUser(ctx context.Context, kind model.DocumentKind, userID uint, statuses []string, limit int) ([]model.Document, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) table(ctx context.Context, kind model.DocumentKind) *gorm.DB {
	return r.db.WithContext(ctx).Table(kind.Table())
}

// Create 写入新单据，编号按用户内的累计数量顺序生成，例如 INV-0004。
// 调用方需保证同一用户的创建是串行的（见 TurnLocker）。
func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	var count int64
	if err := r.table(ctx, doc.Kind).Where("user_id = ?", doc.UserID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}
	doc.Number = formatNumber(doc.Kind, count+1)
	doc.Recalculate()
	return r.table(ctx, doc.Kind).Create(doc).Error
}

// Update 保存整条单据。
func (r *documentRepository) Update(ctx context.Context, doc *model.Document) error {
	doc.Recalculate()
	res := r.table(ctx, doc.Kind).Where("id = ? AND user_id = ?", doc.ID, doc.UserID).
		Select("*").Omit("id", "created_at").Updates(doc)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindByID 按 ID 读取单据，始终带上 user_id 条件。
func (r *documentRepository) FindByID(ctx context.Context, kind model.DocumentKind, userID, id uint) (*model.Document, error) {
	var doc model.Document
	err := r.table(ctx, kind).Where("id = ? AND user_id = ?", id, userID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	doc.Kind = kind
	return &doc, nil
}

// FindByNumber 按编号读取单据，编号比较忽略大小写。
func (r *documentRepository) FindByNumber(ctx context.Context, kind model.DocumentKind, userID uint, number string) (*model.Document, error) {
	var doc model.Document
	err := r.table(ctx, kind).Where("user_id = ? AND UPPER(number) = UPPER(?)", userID, number).First(&doc).Error
	if err != nil {
		return nil, err
	}
	doc.Kind = kind
	return &doc, nil
}

// CountByUser 统计用户累计创建的单据数。
func (r *documentRepository) CountByUser(ctx context.Context, kind model.DocumentKind, userID uint) (int64, error) {
	var count int64
	err := r.table(ctx, kind).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// ListByUser 按创建时间倒序列出单据，statuses 为空时不过滤状态。
func (r *documentRepository) ListByUser(ctx context.Context, kind model.DocumentKind, userID uint, statuses []string, limit int) ([]model.Document, error) {
	q := r.table(ctx, kind).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var docs []model.Document
	if err := q.Order("created_at desc").Find(&docs).Error; err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Kind = kind
	}
	return docs, nil
}

func formatNumber(kind model.DocumentKind, seq int64) string {
	return fmt.Sprintf("%s-%04d", kind.NumberPrefix(), seq)
}
