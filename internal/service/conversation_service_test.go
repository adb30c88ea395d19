package service

import (
	"context"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationService(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryConversationRepository()
	contexts := repository.NewMemoryChatContextRepository()
	svc := NewConversationService(repo, contexts)

	id, err := repo.GetOrCreateConversationID(ctx, 1)
	require.NoError(t, err)
	for _, m := range []model.ChatMessage{
		{ConversationID: id, Role: model.RoleUser, Content: "Create an invoice for John for $500"},
		{ConversationID: id, Role: model.RoleAssistant, Content: "Created invoice INV-0001 for John."},
		{ConversationID: id, Role: model.RoleUser, Content: "Make it purple"},
	} {
		m := m
		require.NoError(t, repo.AppendMessage(ctx, &m))
	}
	require.NoError(t, contexts.Save(ctx, id, model.ChatContext{LastDocumentType: model.KindInvoice, DocumentInFocus: true}))

	t.Run("history in order", func(t *testing.T) {
		history, err := svc.GetConversationHistory(ctx, 1)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, model.RoleUser, history[0].Role)
		assert.Equal(t, "Created invoice INV-0001 for John.", history[1].Content)
		assert.Equal(t, "Make it purple", history[2].Content)
		assert.Less(t, history[0].ID, history[2].ID)
	})

	t.Run("other user has empty history", func(t *testing.T) {
		history, err := svc.GetConversationHistory(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("clear keeps the conversation", func(t *testing.T) {
		require.NoError(t, svc.ClearConversation(ctx, 1))
		history, err := svc.GetConversationHistory(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, history)

		_, found, err := contexts.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, found)

		again, err := repo.GetOrCreateConversationID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, id, again)
	})
}
