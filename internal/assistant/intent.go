// Package assistant 实现聊天助手的命令路由：意图分类、提示词/工具选择与函数调用执行。
package assistant

import (
	"invoice-assistant-go/internal/model"
	"strings"
)

// Intent 是意图标签，分为主意图与修饰意图两类。
type Intent string

// 主意图
const (
	IntentCreateInvoice  Intent = "create_invoice"
	IntentManageInvoice  Intent = "manage_invoice"
	IntentCreateEstimate Intent = "create_estimate"
	IntentManageEstimate Intent = "manage_estimate"
	IntentGeneralQuery   Intent = "general_query"
)

// 修饰意图，可与主意图同时出现，表示本轮需要多步操作。
const (
	ModContextAwareUpdate Intent = "context_aware_update"
	ModPaymentSetup       Intent = "payment_setup"
	ModDesignChange       Intent = "design_change"
	ModAnalytics          Intent = "analytics"
)

// modifierOrder 修饰意图在结果中的固定顺序。
var modifierOrder = []Intent{ModContextAwareUpdate, ModPaymentSetup, ModDesignChange, ModAnalytics}

// IsModifier 判断是否为修饰意图。
func (i Intent) IsModifier() bool {
	for _, m := range modifierOrder {
		if i == m {
			return true
		}
	}
	return false
}

// IsCreate 判断是否为创建类主意图。
func (i Intent) IsCreate() bool {
	return i == IntentCreateInvoice || i == IntentCreateEstimate
}

// IsManage 判断是否为管理类主意图。
func (i Intent) IsManage() bool {
	return i == IntentManageInvoice || i == IntentManageEstimate
}

// DocumentKind 返回主意图对应的单据类型，general_query 返回空。
func (i Intent) DocumentKind() model.DocumentKind {
	switch i {
	case IntentCreateInvoice, IntentManageInvoice:
		return model.KindInvoice
	case IntentCreateEstimate, IntentManageEstimate:
		return model.KindEstimate
	}
	return ""
}

func createIntent(kind model.DocumentKind) Intent {
	if kind == model.KindEstimate {
		return IntentCreateEstimate
	}
	return IntentCreateInvoice
}

func manageIntent(kind model.DocumentKind) Intent {
	if kind == model.KindEstimate {
		return IntentManageEstimate
	}
	return IntentManageInvoice
}

// DocumentRef 是消息中显式出现的单据编号。
type DocumentRef struct {
	Kind   model.DocumentKind `json:"kind"`
	Number string             `json:"number"`
}

// Classification 是一轮对话的分类结果，不落库，仅用于本轮路由。
// Confidence 仅用于日志与调试，不参与路由决策。
type Classification struct {
	Intents          []Intent     `json:"intents"`
	Confidence       float64      `json:"confidence"`
	Rationale        string       `json:"rationale"`
	UsesPriorContext bool         `json:"usesPriorContext"`
	Reference        *DocumentRef `json:"reference,omitempty"`
}

// Primary 返回主意图。
func (c Classification) Primary() Intent {
	if len(c.Intents) == 0 {
		return IntentGeneralQuery
	}
	return c.Intents[0]
}

// Modifiers 返回主意图之后的修饰意图。
func (c Classification) Modifiers() []Intent {
	if len(c.Intents) < 2 {
		return nil
	}
	return c.Intents[1:]
}

// Has 判断结果中是否包含某个意图标签。
func (c Classification) Has(intent Intent) bool {
	for _, i := range c.Intents {
		if i == intent {
			return true
		}
	}
	return false
}

// String 以 "primary+mod1+mod2" 形式输出，便于日志。
func (c Classification) String() string {
	parts := make([]string, len(c.Intents))
	for i, in := range c.Intents {
		parts[i] = string(in)
	}
	return strings.Join(parts, "+")
}
