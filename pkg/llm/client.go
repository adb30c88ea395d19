// Package llm provides a function-calling client for OpenAI-compatible chat models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"invoice-assistant-go/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

// Roles accepted by Message.Role.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
	RoleTool      = openai.ChatMessageRoleTool
)

// ErrNoChoices is returned when the model answers with an empty choice list.
var ErrNoChoices = errors.New("llm returned no choices")

// Client defines the interface for an LLM client.
type Client interface {
	// Complete sends one non-streaming chat completion with the given tool catalog.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Message is a provider-neutral chat message.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is one function invocation requested by the model.
// Arguments is the raw JSON object string produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a callable function offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// CompletionRequest carries the messages and the subset of tools for one call.
type CompletionRequest struct {
	Messages   []Message
	Tools      []Tool
	Generation *GenerationParams
}

// Completion is the model's answer: either text, tool calls, or both.
type Completion struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient creates a new LLM client from the configured endpoint and key.
func NewClient(cfg config.LLMConfig) Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
	}
}

func (c *openAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: toOpenAIMessages(req.Messages),
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	// 传参优先，其次使用全局配置中的非零值
	gen := req.Generation
	if gen == nil {
		gen = c.defaultGeneration()
	}
	if gen.Temperature != nil {
		chatReq.Temperature = *gen.Temperature
	}
	if gen.TopP != nil {
		chatReq.TopP = *gen.TopP
	}
	if gen.MaxTokens != nil {
		chatReq.MaxTokens = *gen.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	out := &Completion{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (c *openAIClient) defaultGeneration() *GenerationParams {
	gen := &GenerationParams{}
	if c.cfg.Generation.Temperature != 0 {
		t := float32(c.cfg.Generation.Temperature)
		gen.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := float32(c.cfg.Generation.TopP)
		gen.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		gen.MaxTokens = &m
	}
	return gen
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}
