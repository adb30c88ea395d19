package service

import (
	"context"
	"errors"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenDocuments 在计数时返回错误，其余方法委托给内存实现。
type brokenDocuments struct {
	repository.DocumentRepository
}

func (brokenDocuments) CountByUser(context.Context, model.DocumentKind, uint) (int64, error) {
	return 0, errors.New("connection refused")
}

func seedDocuments(t *testing.T, docs repository.DocumentRepository, userID uint, kinds ...model.DocumentKind) {
	t.Helper()
	for _, kind := range kinds {
		doc := &model.Document{
			UserID:     userID,
			Kind:       kind,
			ClientName: "Seed",
			Items:      []model.LineItem{{Description: "x", Quantity: 1, UnitPrice: 10}},
			Currency:   "USD",
			Status:     model.StatusDraft,
		}
		require.NoError(t, docs.Create(context.Background(), doc))
	}
}

func TestUsageService(t *testing.T) {
	ctx := context.Background()
	docs := repository.NewMemoryDocumentRepository()
	svc := NewUsageService(docs)

	t.Run("new user", func(t *testing.T) {
		stats := svc.GetUserUsageStats(ctx, 1)
		assert.Equal(t, int64(0), stats.TotalItemsCreated)
		assert.Equal(t, int64(model.FreeTierLimit), stats.RemainingInvoices)
		assert.True(t, svc.CanUserCreateItem(ctx, 1, false))
	})

	seedDocuments(t, docs, 2, model.KindInvoice, model.KindEstimate)

	t.Run("below the limit", func(t *testing.T) {
		stats := svc.GetUserUsageStats(ctx, 2)
		assert.Equal(t, int64(1), stats.InvoicesCreated)
		assert.Equal(t, int64(1), stats.EstimatesCreated)
		assert.Equal(t, int64(1), stats.RemainingInvoices)
		assert.True(t, svc.CanUserCreateItem(ctx, 2, false))
	})

	seedDocuments(t, docs, 2, model.KindInvoice)

	t.Run("at the limit", func(t *testing.T) {
		stats := svc.GetUserUsageStats(ctx, 2)
		assert.Equal(t, int64(3), stats.TotalItemsCreated)
		assert.False(t, stats.CanCreateItem)
		assert.Zero(t, stats.RemainingInvoices)
		assert.False(t, svc.CanUserCreateItem(ctx, 2, false))
		assert.True(t, svc.CanUserCreateItem(ctx, 2, true))
	})

	t.Run("repeated reads agree", func(t *testing.T) {
		assert.Equal(t, svc.GetUserUsageStats(ctx, 2), svc.GetUserUsageStats(ctx, 2))
		assert.Equal(t, svc.CanUserCreateItem(ctx, 2, false), svc.CanUserCreateItem(ctx, 2, false))
	})

	t.Run("other users are unaffected", func(t *testing.T) {
		assert.True(t, svc.CanUserCreateItem(ctx, 1, false))
	})
}

func TestUsageService_StoreErrorAllowsCreation(t *testing.T) {
	ctx := context.Background()
	svc := NewUsageService(brokenDocuments{repository.NewMemoryDocumentRepository()})

	stats := svc.GetUserUsageStats(ctx, 1)
	assert.Zero(t, stats.TotalItemsCreated)
	assert.True(t, stats.CanCreateItem)
	assert.True(t, svc.CanUserCreateItem(ctx, 1, false))
}
