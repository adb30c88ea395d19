package assistant

import (
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/pkg/llm"
	"strings"
)

// Selection 是某个分类结果对应的精简提示词与工具集。
type Selection struct {
	Prompt string
	Tools  []ToolSpec
}

// Allows 判断工具是否在本轮可用集合内。
func (s Selection) Allows(name string) bool {
	for _, t := range s.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// LLMTools 转换为模型客户端使用的工具定义。
func (s Selection) LLMTools() []llm.Tool {
	out := make([]llm.Tool, 0, len(s.Tools))
	for _, t := range s.Tools {
		out = append(out, t.LLMTool())
	}
	return out
}

// toolFilter 是选择规则的产物：按组包含，或按名称单独包含。
type toolFilter struct {
	groups map[ToolGroup]bool
	names  map[string]bool
}

func (f toolFilter) group(g ...ToolGroup) {
	for _, x := range g {
		f.groups[x] = true
	}
}

func (f toolFilter) tool(n ...string) {
	for _, x := range n {
		f.names[x] = true
	}
}

// Select 将分类结果映射为提示词与工具子集。纯函数，相同输入总是得到相同输出，
// 且永远不会返回完整目录。
func Select(c Classification) Selection {
	f := toolFilter{groups: map[ToolGroup]bool{}, names: map[string]bool{}}
	primary := c.Primary()

	switch primary {
	case IntentCreateInvoice:
		f.group(GroupInvoice, GroupClient)
		f.tool(ToolUpdateBusinessSettings)
	case IntentManageInvoice:
		f.group(GroupInvoice, GroupDesign)
		f.tool(ToolSearchClients)
	case IntentCreateEstimate:
		f.group(GroupEstimate, GroupClient)
		f.tool(ToolUpdateBusinessSettings)
	case IntentManageEstimate:
		f.group(GroupEstimate, GroupDesign)
		f.tool(ToolSearchClients)
	default:
		f.group(GroupBusiness, GroupClient)
	}

	for _, m := range c.Modifiers() {
		switch m {
		case ModPaymentSetup:
			f.group(GroupPayment)
		case ModDesignChange:
			f.group(GroupDesign)
		case ModAnalytics:
			f.group(GroupAnalytics)
		case ModContextAwareUpdate:
			f.group(GroupBusiness)
			if primary.DocumentKind() == model.KindEstimate {
				f.tool(ToolGetEstimate)
			} else {
				f.tool(ToolGetInvoice)
			}
		}
	}

	var tools []ToolSpec
	for _, t := range catalog {
		if f.groups[t.Group] || f.names[t.Name] {
			tools = append(tools, t)
		}
	}

	sections := []string{basePrompt, intentPrompts[primary]}
	if sections[1] == "" {
		sections[1] = intentPrompts[IntentGeneralQuery]
	}
	for _, m := range c.Modifiers() {
		if p := modifierPrompts[m]; p != "" {
			sections = append(sections, p)
		}
	}
	return Selection{Prompt: strings.Join(sections, "\n\n"), Tools: tools}
}
