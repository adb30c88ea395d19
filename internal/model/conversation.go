// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation 每个用户一条，首次聊天时懒创建。
type Conversation struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"userId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ChatMessage 是对话中的一条消息，写入后不可修改。
// 同一对话内按 (CreatedAt, ID) 排序。
type ChatMessage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);index:idx_conv_created,priority:1;not null" json:"conversationId"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"` // "user" 或 "assistant"
	Content        string    `gorm:"type:text;not null" json:"content"`
	IsError        bool      `gorm:"not null;default:false" json:"error"`
	CreatedAt      time.Time `gorm:"index:idx_conv_created,priority:2" json:"timestamp"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// ChatContext 是每个对话的滚动上下文，每回合结束后更新，存于 Redis。
// DocumentInFocus 仅在紧邻的上一回合操作过单据时为 true。
type ChatContext struct {
	LastDocumentType   DocumentKind `json:"lastDocumentType,omitempty"`
	LastDocumentID     uint         `json:"lastDocumentId,omitempty"`
	LastDocumentNumber string       `json:"lastDocumentNumber,omitempty"`
	LastOperation      string       `json:"lastOperation,omitempty"`
	DocumentInFocus    bool         `json:"documentInFocus"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// HasDocument 表示对话中是否存在可被代词指代的单据。
// 从历史推导出的上下文可能只有类型没有编号。
func (c ChatContext) HasDocument() bool {
	return c.LastDocumentType != ""
}
