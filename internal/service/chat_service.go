package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"invoice-assistant-go/internal/assistant"
	"invoice-assistant-go/internal/config"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/pkg/llm"
	"invoice-assistant-go/pkg/log"
	"strings"
	"time"
)

// 回合状态，仅用于日志。
const (
	stateLoading     = "loading_conversation"
	stateClassifying = "classifying"
	stateSelecting   = "selecting"
	stateInvoking    = "invoking"
	stateExecuting   = "executing"
	statePersisting  = "persisting"
	stateIdle        = "idle"
)

const upgradeMessage = "You've used all %d documents included in the free plan. Upgrade to keep creating invoices and estimates."

// ChatReply 是一轮对话返回给前端的内容：自然语言回复与结构化结果分开。
// PersistenceError 非空表示消息未能完整落库，但业务操作已生效。
type ChatReply struct {
	Reply            string                   `json:"reply"`
	Result           assistant.TurnResult     `json:"result"`
	Classification   assistant.Classification `json:"classification"`
	ConversationID   string                   `json:"conversationId,omitempty"`
	IsError          bool                     `json:"error"`
	PersistenceError string                   `json:"persistenceError,omitempty"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	SendMessage(ctx context.Context, user *model.User, message string) (*ChatReply, error)
}

type chatService struct {
	llmClient     llm.Client
	executor      *assistant.Executor
	conversations repository.ConversationRepository
	contexts      repository.ChatContextRepository
	business      repository.BusinessRepository
	usage         UsageService
	subscriptions SubscriptionService
	locker        repository.TurnLocker
	cfg           config.LLMConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	llmClient llm.Client,
	executor *assistant.Executor,
	conversations repository.ConversationRepository,
	contexts repository.ChatContextRepository,
	business repository.BusinessRepository,
	usage UsageService,
	subscriptions SubscriptionService,
	locker repository.TurnLocker,
	cfg config.LLMConfig,
) ChatService {
	return &chatService{
		llmClient:     llmClient,
		executor:      executor,
		conversations: conversations,
		contexts:      contexts,
		business:      business,
		usage:         usage,
		subscriptions: subscriptions,
		locker:        locker,
		cfg:           cfg,
	}
}

// turn 记录一轮对话中需要跨步骤传递的状态。
type turn struct {
	user           *model.User
	message        string
	conversationID string
	history        []model.ChatMessage
	chatCtx        model.ChatContext
	subscribed     bool
	persistErrs    []string
}

func (t *turn) persistFailed(what string, err error) {
	log.Errorw("persist chat message failed", "userId", t.user.ID, "message", what, "error", err)
	t.persistErrs = append(t.persistErrs, fmt.Sprintf("%s: %v", what, err))
}

// SendMessage 处理一条用户消息。同一用户的回合串行执行；
// 模型调用失败时返回带 error 标记的回复而不是 error，只有拿不到回合锁才返回 error。
func (s *chatService) SendMessage(ctx context.Context, user *model.User, message string) (*ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.New("message is empty")
	}

	release, err := s.locker.Acquire(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	defer release()
	defer s.state(user.ID, stateIdle)

	// 1. 加载对话、历史与滚动上下文
	s.state(user.ID, stateLoading)
	t := s.load(ctx, user, message)

	// 2. 分类
	s.state(user.ID, stateClassifying)
	cls := assistant.Classify(message, t.chatCtx)
	log.Infow("message classified", "userId", user.ID, "intents", cls.String())
	log.Debugw("classification detail", "userId", user.ID, "confidence", cls.Confidence,
		"rationale", cls.Rationale, "usesPriorContext", cls.UsesPriorContext, "reference", cls.Reference)

	s.appendMessage(ctx, t, model.RoleUser, message, false)

	// 3. 创建类意图先检查额度，超限时不调用模型
	if cls.Primary().IsCreate() && !s.usage.CanUserCreateItem(ctx, user.ID, t.subscribed) {
		return s.paywall(ctx, t, cls), nil
	}

	// 4. 选择提示词与工具
	s.state(user.ID, stateSelecting)
	sel := assistant.Select(cls)
	run := s.executor.NewRun(user.ID, t.subscribed, t.chatCtx, cls)

	// 5. 调用模型并执行工具
	reply, loopErr := s.invoke(ctx, t, sel, run)

	// 6. 汇总结果并持久化
	s.state(user.ID, statePersisting)
	result := run.Finish(ctx)
	s.saveContext(ctx, t, run.Context())

	isError := loopErr != nil
	if isError {
		result.Success = false
		reply = failureReply(loopErr, run.Steps())
	} else if strings.TrimSpace(reply) == "" {
		reply = result.Message
		if reply == "" {
			reply = "Done."
		}
	}
	s.appendMessage(ctx, t, model.RoleAssistant, reply, isError)

	return &ChatReply{
		Reply:            reply,
		Result:           result,
		Classification:   cls,
		ConversationID:   t.conversationID,
		IsError:          isError,
		PersistenceError: strings.Join(t.persistErrs, "; "),
	}, nil
}

func (s *chatService) state(userID uint, state string) {
	log.Infow("chat turn state", "userId", userID, "state", state)
}

// load 任何一步失败都降级继续：没有历史也能完成本轮操作。
func (s *chatService) load(ctx context.Context, user *model.User, message string) *turn {
	t := &turn{user: user, message: message}

	conversationID, err := s.conversations.GetOrCreateConversationID(ctx, user.ID)
	if err != nil {
		t.persistFailed("load conversation", err)
	} else {
		t.conversationID = conversationID
		history, err := s.conversations.ListMessages(ctx, conversationID, s.cfg.HistoryWindow)
		if err != nil {
			log.Errorw("load conversation history failed", "userId", user.ID, "error", err)
		} else {
			t.history = history
		}
		cc, found, err := s.contexts.Get(ctx, conversationID)
		if err != nil {
			log.Warnw("load chat context failed, deriving from history", "userId", user.ID, "error", err)
		}
		if found {
			t.chatCtx = cc
		} else {
			t.chatCtx = assistant.DeriveContext(t.history)
		}
	}

	// 每轮实时查询，不缓存
	t.subscribed = s.subscriptions.IsUserSubscribed(ctx, user.ID)
	return t
}

func (s *chatService) appendMessage(ctx context.Context, t *turn, role, content string, isError bool) {
	if t.conversationID == "" {
		return
	}
	msg := &model.ChatMessage{
		ConversationID: t.conversationID,
		Role:           role,
		Content:        content,
		IsError:        isError,
	}
	// 即使请求已取消，也要记录已经发生的操作
	if err := s.conversations.AppendMessage(context.WithoutCancel(ctx), msg); err != nil {
		t.persistFailed("save "+role+" message", err)
	}
}

func (s *chatService) saveContext(ctx context.Context, t *turn, cc model.ChatContext) {
	if t.conversationID == "" {
		return
	}
	if err := s.contexts.Save(context.WithoutCancel(ctx), t.conversationID, cc); err != nil {
		log.Warnw("save chat context failed", "userId", t.user.ID, "error", err)
	}
}

func (s *chatService) paywall(ctx context.Context, t *turn, cls assistant.Classification) *ChatReply {
	stats := s.usage.GetUserUsageStats(ctx, t.user.ID)
	reply := fmt.Sprintf(upgradeMessage, stats.Limit)
	log.Infow("creation blocked by free plan limit", "userId", t.user.ID, "total", stats.TotalItemsCreated)

	s.state(t.user.ID, statePersisting)
	cc := t.chatCtx
	cc.DocumentInFocus = false
	cc.UpdatedAt = time.Now()
	s.saveContext(ctx, t, cc)
	s.appendMessage(ctx, t, model.RoleAssistant, reply, false)

	return &ChatReply{
		Reply: reply,
		Result: assistant.TurnResult{
			Success: false,
			Message: reply,
			Steps:   []assistant.Step{},
			Data: map[string]interface{}{
				"canCreate": false,
				"paywall":   true,
				"usage":     stats,
			},
		},
		Classification:   cls,
		ConversationID:   t.conversationID,
		PersistenceError: strings.Join(t.persistErrs, "; "),
	}
}

// invoke 最多调用 MaxToolRounds 次模型。每次的工具调用全部校验通过后才开始执行。
func (s *chatService) invoke(ctx context.Context, t *turn, sel assistant.Selection, run *assistant.Run) (string, error) {
	messages := s.composeMessages(ctx, t, sel)
	tools := sel.LLMTools()

	rounds := s.cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = 3
	}
	for round := 0; round < rounds; round++ {
		s.state(t.user.ID, stateInvoking)
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
		completion, err := s.llmClient.Complete(callCtx, llm.CompletionRequest{Messages: messages, Tools: tools})
		cancel()
		if err != nil {
			return "", fmt.Errorf("model invocation failed: %w", err)
		}
		if len(completion.ToolCalls) == 0 {
			return completion.Content, nil
		}
		calls, err := assistant.ParseCalls(sel, completion.ToolCalls)
		if err != nil {
			return "", err
		}

		s.state(t.user.ID, stateExecuting)
		steps := run.Execute(ctx, calls)
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		for i, step := range steps {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: calls[i].ID,
				Content:    toolResult(step),
			})
		}
	}
	// 轮数用完仍在调用工具，由执行摘要作为回复
	return "", nil
}

func (s *chatService) composeMessages(ctx context.Context, t *turn, sel assistant.Selection) []llm.Message {
	messages := make([]llm.Message, 0, len(t.history)+3)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sel.Prompt})
	if facts := s.facts(ctx, t); facts != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: facts})
	}
	for _, m := range t.history {
		// 失败的回合不作为模型上下文
		if m.IsError {
			continue
		}
		role := llm.RoleUser
		if m.Role == model.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: t.message})
}

// facts 生成本轮的动态事实，放在单独的 system 消息里。
func (s *chatService) facts(ctx context.Context, t *turn) string {
	var lines []string
	settings, err := s.business.GetSettings(ctx, t.user.ID)
	if err != nil {
		log.Warnw("load business settings for prompt failed", "userId", t.user.ID, "error", err)
	} else if settings.BusinessName != "" {
		lines = append(lines, "Business name: "+settings.BusinessName+".")
	}
	if cc := t.chatCtx; cc.HasDocument() {
		doc := string(cc.LastDocumentType)
		if cc.LastDocumentNumber != "" {
			doc = fmt.Sprintf("%s %s", cc.LastDocumentType, cc.LastDocumentNumber)
		}
		if cc.DocumentInFocus {
			lines = append(lines, "The document currently in focus is "+doc+".")
		} else {
			lines = append(lines, "The most recently discussed document is "+doc+".")
		}
	}
	if !t.subscribed {
		stats := s.usage.GetUserUsageStats(ctx, t.user.ID)
		lines = append(lines, fmt.Sprintf("Free plan: %d of %d documents used.", stats.TotalItemsCreated, stats.Limit))
	}
	return strings.Join(lines, "\n")
}

func toolResult(step assistant.Step) string {
	b, err := json.Marshal(step)
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"message":%q}`, step.Status, step.Message)
	}
	return string(b)
}

// failureReply 错误消息中附带已经完成的步骤，避免用户误以为什么都没发生。
func failureReply(err error, steps []assistant.Step) string {
	var b strings.Builder
	b.WriteString("Sorry, something went wrong while processing your request: ")
	b.WriteString(err.Error())
	var done []string
	for _, st := range steps {
		if st.Status == assistant.StepSucceeded {
			done = append(done, st.Message)
		}
	}
	if len(done) > 0 {
		b.WriteString("\nThese steps were completed before the error:\n")
		b.WriteString(strings.Join(done, "\n"))
	}
	return b.String()
}
