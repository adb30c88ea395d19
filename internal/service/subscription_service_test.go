package service

import (
	"context"
	"errors"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/pkg/tasks"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenUsers 在读取用户时返回错误。
type brokenUsers struct {
	repository.UserRepository
}

func (brokenUsers) FindByID(context.Context, uint) (*model.User, error) {
	return nil, errors.New("i/o timeout")
}

func createUser(t *testing.T, users repository.UserRepository, name string, tier model.SubscriptionTier) *model.User {
	t.Helper()
	u := &model.User{Username: name, Password: "x", Role: "USER", SubscriptionTier: tier}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func TestSubscriptionService_IsUserSubscribed(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	svc := NewSubscriptionService(users, nil)

	tests := []struct {
		tier model.SubscriptionTier
		want bool
	}{
		{model.TierFree, false},
		{model.TierPremium, true},
		{model.TierGrandfathered, true},
		{model.TierTrialExpired, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			u := createUser(t, users, "user-"+string(tt.tier), tt.tier)
			assert.Equal(t, tt.want, svc.IsUserSubscribed(ctx, u.ID))
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		assert.False(t, svc.IsUserSubscribed(ctx, 999))
	})

	t.Run("store error treated as not subscribed", func(t *testing.T) {
		broken := NewSubscriptionService(brokenUsers{users}, nil)
		assert.False(t, broken.IsUserSubscribed(ctx, 2))
	})
}

func TestSubscriptionService_RequestTierChange(t *testing.T) {
	ctx := context.Background()

	t.Run("applied directly without a publisher", func(t *testing.T) {
		users := repository.NewMemoryUserRepository()
		svc := NewSubscriptionService(users, nil)
		u := createUser(t, users, "alice", model.TierFree)

		require.NoError(t, svc.RequestTierChange(ctx, u.ID, model.TierPremium, "admin"))
		assert.True(t, svc.IsUserSubscribed(ctx, u.ID))

		got, err := users.FindByID(ctx, u.ID)
		require.NoError(t, err)
		require.NotNil(t, got.TierUpdatedAt)
	})

	t.Run("published and applied later", func(t *testing.T) {
		users := repository.NewMemoryUserRepository()
		var published []tasks.SubscriptionEvent
		svc := NewSubscriptionService(users, func(_ context.Context, e tasks.SubscriptionEvent) error {
			published = append(published, e)
			return nil
		})
		u := createUser(t, users, "bob", model.TierFree)

		require.NoError(t, svc.RequestTierChange(ctx, u.ID, model.TierGrandfathered, "billing"))
		require.Len(t, published, 1)
		assert.Equal(t, u.ID, published[0].UserID)
		assert.Equal(t, "grandfathered", published[0].Tier)
		assert.NotEmpty(t, published[0].EventID)
		assert.False(t, svc.IsUserSubscribed(ctx, u.ID))

		require.NoError(t, svc.ApplyTierChange(ctx, published[0]))
		assert.True(t, svc.IsUserSubscribed(ctx, u.ID))
	})

	t.Run("publish failure", func(t *testing.T) {
		users := repository.NewMemoryUserRepository()
		svc := NewSubscriptionService(users, func(context.Context, tasks.SubscriptionEvent) error {
			return errors.New("broker unavailable")
		})
		u := createUser(t, users, "carol", model.TierFree)
		assert.Error(t, svc.RequestTierChange(ctx, u.ID, model.TierPremium, "admin"))
		assert.False(t, svc.IsUserSubscribed(ctx, u.ID))
	})

	t.Run("invalid tier", func(t *testing.T) {
		users := repository.NewMemoryUserRepository()
		svc := NewSubscriptionService(users, nil)
		u := createUser(t, users, "dave", model.TierFree)
		assert.ErrorIs(t, svc.RequestTierChange(ctx, u.ID, "gold", "admin"), ErrInvalidTier)
		assert.ErrorIs(t, svc.ApplyTierChange(ctx, tasks.SubscriptionEvent{UserID: u.ID, Tier: "gold", OccurredAt: time.Now()}), ErrInvalidTier)
	})
}
