package pipeline

import (
	"context"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/internal/service"
	"invoice-assistant-go/pkg/tasks"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionProcessor_Process(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	subscriptions := service.NewSubscriptionService(users, nil)
	p := NewSubscriptionProcessor(subscriptions, users)

	u := &model.User{Username: "alice", Password: "x", Role: "USER"}
	require.NoError(t, users.Create(ctx, u))

	now := time.Now()
	event := func(tier string, at time.Time) tasks.SubscriptionEvent {
		return tasks.SubscriptionEvent{EventID: tier + at.String(), UserID: u.ID, Tier: tier, Source: "billing", OccurredAt: at}
	}

	require.NoError(t, p.Process(ctx, event("premium", now)))
	assert.True(t, subscriptions.IsUserSubscribed(ctx, u.ID))

	t.Run("older event is dropped", func(t *testing.T) {
		require.NoError(t, p.Process(ctx, event("trial_expired", now.Add(-time.Minute))))
		assert.True(t, subscriptions.IsUserSubscribed(ctx, u.ID))
	})

	t.Run("newer event applies", func(t *testing.T) {
		require.NoError(t, p.Process(ctx, event("trial_expired", now.Add(time.Minute))))
		assert.False(t, subscriptions.IsUserSubscribed(ctx, u.ID))
	})

	t.Run("invalid tier is acknowledged", func(t *testing.T) {
		require.NoError(t, p.Process(ctx, event("gold", now.Add(2*time.Minute))))
		tier, err := subscriptions.GetTier(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TierTrialExpired, tier)
	})

	t.Run("unknown user is acknowledged", func(t *testing.T) {
		e := event("premium", now)
		e.UserID = 999
		assert.NoError(t, p.Process(ctx, e))
	})
}
