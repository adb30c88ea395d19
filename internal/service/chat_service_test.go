package service

import (
	"context"
	"errors"
	"invoice-assistant-go/internal/assistant"
	"invoice-assistant-go/internal/config"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/pkg/llm"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	args := m.Called(ctx, req)
	c, _ := args.Get(0).(*llm.Completion)
	return c, args.Error(1)
}

func (m *mockLLM) request(t *testing.T, i int) llm.CompletionRequest {
	t.Helper()
	require.Greater(t, len(m.Calls), i)
	return m.Calls[i].Arguments.Get(1).(llm.CompletionRequest)
}

// appendFailingConversations 读取正常，写入消息总是失败。
type appendFailingConversations struct {
	repository.ConversationRepository
}

func (appendFailingConversations) AppendMessage(context.Context, *model.ChatMessage) error {
	return errors.New("disk full")
}

type chatFixture struct {
	llm           *mockLLM
	users         repository.UserRepository
	docs          repository.DocumentRepository
	conversations repository.ConversationRepository
	contexts      repository.ChatContextRepository
	svc           ChatService
}

func newChatFixture(wrap func(repository.ConversationRepository) repository.ConversationRepository) *chatFixture {
	return newChatFixtureWithDocs(wrap, nil)
}

// newChatFixtureWithDocs 允许替换业务使用的单据仓库，f.docs 仍指向底层内存仓库。
func newChatFixtureWithDocs(
	wrap func(repository.ConversationRepository) repository.ConversationRepository,
	wrapDocs func(repository.DocumentRepository) repository.DocumentRepository,
) *chatFixture {
	f := &chatFixture{
		llm:           &mockLLM{},
		users:         repository.NewMemoryUserRepository(),
		docs:          repository.NewMemoryDocumentRepository(),
		conversations: repository.NewMemoryConversationRepository(),
		contexts:      repository.NewMemoryChatContextRepository(),
	}
	clients := repository.NewMemoryClientRepository()
	business := repository.NewMemoryBusinessRepository()
	docs := f.docs
	if wrapDocs != nil {
		docs = wrapDocs(docs)
	}
	usage := NewUsageService(docs)
	subscriptions := NewSubscriptionService(f.users, nil)
	executor := assistant.NewExecutor(docs, clients, repository.NewClientSearcher(nil, "clients", clients), business, usage, nil)

	conversations := f.conversations
	if wrap != nil {
		conversations = wrap(conversations)
	}
	f.svc = NewChatService(f.llm, executor, conversations, f.contexts, business, usage, subscriptions,
		repository.NewLocalTurnLocker(), config.LLMConfig{MaxToolRounds: 3, HistoryWindow: 20})
	return f
}

func (f *chatFixture) user(t *testing.T, tier model.SubscriptionTier) *model.User {
	t.Helper()
	return createUser(t, f.users, "user-"+string(tier), tier)
}

func (f *chatFixture) history(t *testing.T, userID uint) []model.ChatMessage {
	t.Helper()
	id, err := f.conversations.GetOrCreateConversationID(context.Background(), userID)
	require.NoError(t, err)
	msgs, err := f.conversations.ListMessages(context.Background(), id, 0)
	require.NoError(t, err)
	return msgs
}

func toolCall(id, name, args string) *llm.Completion {
	return &llm.Completion{ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: args}}, FinishReason: "tool_calls"}
}

func text(content string) *llm.Completion {
	return &llm.Completion{Content: content, FinishReason: "stop"}
}

func TestChatService_CreateInvoiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(nil)
	u := f.user(t, model.TierFree)

	f.llm.On("Complete", mock.Anything, mock.Anything).Return(toolCall("call_1", assistant.ToolCreateInvoice, `{"client_name":"John","amount":500}`), nil).Once()
	f.llm.On("Complete", mock.Anything, mock.Anything).Return(text("Created invoice INV-0001 for John, total $500."), nil).Once()

	reply, err := f.svc.SendMessage(ctx, u, "Create an invoice for John for $500")
	require.NoError(t, err)
	f.llm.AssertNumberOfCalls(t, "Complete", 2)

	assert.False(t, reply.IsError)
	assert.Empty(t, reply.PersistenceError)
	assert.Equal(t, "Created invoice INV-0001 for John, total $500.", reply.Reply)
	assert.Equal(t, []assistant.Intent{assistant.IntentCreateInvoice}, reply.Classification.Intents)
	assert.True(t, reply.Result.Success)
	require.Len(t, reply.Result.Steps, 1)
	view, ok := reply.Result.Data["document"].(*assistant.DocumentView)
	require.True(t, ok)
	assert.Equal(t, "INV-0001", view.Number)
	assert.Equal(t, 500.0, view.Total)

	// 第一次请求：工具子集、系统提示与用户消息
	first := f.llm.request(t, 0)
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	last := first.Messages[len(first.Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, "Create an invoice for John for $500", last.Content)
	assert.Less(t, len(first.Tools), len(assistant.Catalog()))

	// 第二次请求带上工具结果
	second := f.llm.request(t, 1)
	toolMsg := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, `"status":"succeeded"`)

	history := f.history(t, u.ID)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "Create an invoice for John for $500", history[0].Content)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, reply.Reply, history[1].Content)

	cc, found, err := f.contexts.Get(ctx, reply.ConversationID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "INV-0001", cc.LastDocumentNumber)
	assert.True(t, cc.DocumentInFocus)

	t.Run("follow up uses the rolling context", func(t *testing.T) {
		f.llm.On("Complete", mock.Anything, mock.Anything).Return(toolCall("call_2", assistant.ToolSetDocumentColor, `{"color":"Purple"}`), nil).Once()
		f.llm.On("Complete", mock.Anything, mock.Anything).Return(text("Done, it's purple now."), nil).Once()

		reply, err := f.svc.SendMessage(ctx, u, "Make it purple")
		require.NoError(t, err)
		assert.Equal(t, assistant.IntentManageInvoice, reply.Classification.Primary())
		assert.True(t, reply.Classification.UsesPriorContext)

		doc, err := f.docs.FindByNumber(ctx, model.KindInvoice, u.ID, "INV-0001")
		require.NoError(t, err)
		assert.Equal(t, "purple", doc.Color)

		count, err := f.docs.CountByUser(ctx, model.KindInvoice, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		assert.Len(t, f.history(t, u.ID), 4)
	})
}

func TestChatService_ModelFailureIsPersistedAsError(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(nil)
	u := f.user(t, model.TierPremium)

	f.llm.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("upstream 503")).Once()

	reply, err := f.svc.SendMessage(ctx, u, "Hello there")
	require.NoError(t, err)
	assert.True(t, reply.IsError)
	assert.False(t, reply.Result.Success)
	assert.Contains(t, reply.Reply, "upstream 503")

	history := f.history(t, u.ID)
	require.Len(t, history, 2)
	assert.False(t, history[0].IsError)
	assert.True(t, history[1].IsError)

	t.Run("failed replies are not sent back to the model", func(t *testing.T) {
		f.llm.On("Complete", mock.Anything, mock.Anything).Return(text("Hi!"), nil).Once()
		reply, err := f.svc.SendMessage(ctx, u, "Hello again")
		require.NoError(t, err)
		assert.False(t, reply.IsError)

		req := f.llm.request(t, 1)
		for _, m := range req.Messages {
			assert.NotContains(t, m.Content, "upstream 503")
		}
	})
}

func TestChatService_MalformedToolCallExecutesNothing(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(nil)
	u := f.user(t, model.TierFree)

	f.llm.On("Complete", mock.Anything, mock.Anything).Return(&llm.Completion{ToolCalls: []llm.ToolCall{
		{ID: "c1", Name: assistant.ToolCreateInvoice, Arguments: `{"client_name":"John","amount":500}`},
		{ID: "c2", Name: assistant.ToolCreateInvoice, Arguments: `{"client_name":`},
	}}, nil).Once()

	reply, err := f.svc.SendMessage(ctx, u, "Create an invoice for John for $500")
	require.NoError(t, err)
	assert.True(t, reply.IsError)
	assert.Empty(t, reply.Result.Steps)

	count, err := f.docs.CountByUser(ctx, model.KindInvoice, u.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChatService_PaywallSkipsModel(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(nil)
	u := f.user(t, model.TierFree)
	seedDocuments(t, f.docs, u.ID, model.KindInvoice, model.KindInvoice, model.KindEstimate)

	reply, err := f.svc.SendMessage(ctx, u, "Create an invoice for John for $500")
	require.NoError(t, err)
	f.llm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)

	assert.False(t, reply.IsError)
	assert.Contains(t, reply.Reply, "Upgrade")
	assert.False(t, reply.Result.Success)
	assert.Equal(t, true, reply.Result.Data["paywall"])
	assert.Equal(t, false, reply.Result.Data["canCreate"])
	usage, ok := reply.Result.Data["usage"].(model.UsageStats)
	require.True(t, ok)
	assert.Equal(t, int64(3), usage.TotalItemsCreated)

	count, err := f.docs.CountByUser(ctx, model.KindInvoice, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Len(t, f.history(t, u.ID), 2)

	t.Run("subscribers go through", func(t *testing.T) {
		premium := f.user(t, model.TierPremium)
		seedDocuments(t, f.docs, premium.ID, model.KindInvoice, model.KindInvoice, model.KindInvoice)
		f.llm.On("Complete", mock.Anything, mock.Anything).Return(toolCall("c1", assistant.ToolCreateInvoice, `{"client_name":"John","amount":500}`), nil).Once()
		f.llm.On("Complete", mock.Anything, mock.Anything).Return(text("Created."), nil).Once()

		reply, err := f.svc.SendMessage(ctx, premium, "Create an invoice for John for $500")
		require.NoError(t, err)
		assert.True(t, reply.Result.Success)

		count, err := f.docs.CountByUser(ctx, model.KindInvoice, premium.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})
}

func TestChatService_PersistenceFailureDoesNotUndoMutation(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(func(r repository.ConversationRepository) repository.ConversationRepository {
		return appendFailingConversations{r}
	})
	u := f.user(t, model.TierFree)

	f.llm.On("Complete", mock.Anything, mock.Anything).Return(toolCall("c1", assistant.ToolCreateInvoice, `{"client_name":"John","amount":500}`), nil).Once()
	f.llm.On("Complete", mock.Anything, mock.Anything).Return(text("Created invoice INV-0001."), nil).Once()

	reply, err := f.svc.SendMessage(ctx, u, "Create an invoice for John for $500")
	require.NoError(t, err)
	assert.False(t, reply.IsError)
	assert.True(t, reply.Result.Success)
	assert.NotEmpty(t, reply.PersistenceError)

	count, err := f.docs.CountByUser(ctx, model.KindInvoice, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Empty(t, f.history(t, u.ID))
}

func TestChatService_TurnsForOneUserAreSerialized(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(nil)
	u := f.user(t, model.TierPremium)

	var (
		mu        sync.Mutex
		active    int
		maxActive int
	)
	f.llm.On("Complete", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	}).Return(text("ok"), nil)

	const turns = 5
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SendMessage(ctx, u, "Hello there")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	history := f.history(t, u.ID)
	require.Len(t, history, 2*turns)
	for i, m := range history {
		if i%2 == 0 {
			assert.Equal(t, model.RoleUser, m.Role)
		} else {
			assert.Equal(t, model.RoleAssistant, m.Role)
		}
	}
}

func TestChatService_EmptyMessage(t *testing.T) {
	f := newChatFixture(nil)
	u := f.user(t, model.TierFree)
	_, err := f.svc.SendMessage(context.Background(), u, "   ")
	assert.Error(t, err)
	f.llm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

// failingCreateDocuments 插入单据总是失败，读取正常。
type failingCreateDocuments struct {
	repository.DocumentRepository
}

func (failingCreateDocuments) Create(context.Context, *model.Document) error {
	return errors.New("insert invoices: connection refused")
}

func TestChatService_DataLayerFailureKeepsConversationUsable(t *testing.T) {
	ctx := context.Background()
	f := newChatFixtureWithDocs(nil, func(docs repository.DocumentRepository) repository.DocumentRepository {
		return failingCreateDocuments{DocumentRepository: docs}
	})
	u := f.user(t, model.TierFree)

	f.llm.On("Complete", mock.Anything, mock.Anything).Return(toolCall("call_1", assistant.ToolCreateInvoice, `{"client_name":"John","amount":500}`), nil).Once()
	f.llm.On("Complete", mock.Anything, mock.Anything).Return(text("I couldn't save the invoice, please try again."), nil).Once()

	reply, err := f.svc.SendMessage(ctx, u, "Create an invoice for John for $500")
	require.NoError(t, err)
	assert.False(t, reply.IsError)
	assert.False(t, reply.Result.Success)
	require.Len(t, reply.Result.Steps, 1)
	assert.Equal(t, assistant.StepFailed, reply.Result.Steps[0].Status)

	second := f.llm.request(t, 1)
	assert.Contains(t, second.Messages[len(second.Messages)-1].Content, `"status":"failed"`)

	t.Run("next turn still works", func(t *testing.T) {
		f.llm.On("Complete", mock.Anything, mock.Anything).Return(text("Hi! How can I help?"), nil).Once()
		reply, err := f.svc.SendMessage(ctx, u, "Hello again")
		require.NoError(t, err)
		assert.False(t, reply.IsError)
		assert.Equal(t, "Hi! How can I help?", reply.Reply)

		history := f.history(t, u.ID)
		require.Len(t, history, 4)
		for _, m := range history {
			assert.False(t, m.IsError, m.Content)
		}
	})
}

func TestChatService_ToolRoundsExhaustedRepliesWithSummary(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(nil)
	u := f.user(t, model.TierPremium)

	for i := 0; i < 3; i++ {
		c := toolCall("call_"+string(rune('a'+i)), assistant.ToolCreateInvoice, `{"client_name":"John","amount":500}`)
		c.Content = "Let me do that for you..."
		f.llm.On("Complete", mock.Anything, mock.Anything).Return(c, nil).Once()
	}

	reply, err := f.svc.SendMessage(ctx, u, "Create an invoice for John for $500")
	require.NoError(t, err)
	f.llm.AssertNumberOfCalls(t, "Complete", 3)
	assert.False(t, reply.IsError)
	assert.NotEqual(t, "Let me do that for you...", reply.Reply)
	assert.Equal(t, reply.Result.Message, reply.Reply)
	assert.NotEmpty(t, reply.Reply)
}
