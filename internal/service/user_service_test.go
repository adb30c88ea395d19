package service

import (
	"context"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/pkg/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	svc := NewUserService(users, repository.NewMemoryTokenBlacklist(), token.NewJWTManager("test-secret", 1, 7))

	registered, err := svc.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, registered.SubscriptionTier)
	assert.NotEqual(t, "s3cret", registered.Password)

	t.Run("duplicate username", func(t *testing.T) {
		_, err := svc.Register(ctx, "alice", "other")
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "alice", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "bob", "s3cret")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("login, authenticate, logout", func(t *testing.T) {
		access, refresh, err := svc.Login(ctx, "alice", "s3cret")
		require.NoError(t, err)
		require.NotEmpty(t, refresh)

		user, claims, err := svc.Authenticate(ctx, access)
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
		assert.Equal(t, "alice", claims.Username)

		// refresh token 不能当作 access token 使用
		_, _, err = svc.Authenticate(ctx, refresh)
		assert.Error(t, err)

		require.NoError(t, svc.Logout(ctx, access))
		_, _, err = svc.Authenticate(ctx, access)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})

	t.Run("refresh rotates the token", func(t *testing.T) {
		_, refresh, err := svc.Login(ctx, "alice", "s3cret")
		require.NoError(t, err)

		newAccess, newRefresh, err := svc.RefreshToken(ctx, refresh)
		require.NoError(t, err)
		assert.NotEqual(t, refresh, newRefresh)
		_, _, err = svc.Authenticate(ctx, newAccess)
		assert.NoError(t, err)

		_, _, err = svc.RefreshToken(ctx, refresh)
		assert.Error(t, err, "a used refresh token must not be accepted twice")
	})
}
