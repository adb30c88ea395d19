package assistant

import (
	"invoice-assistant-go/pkg/llm"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolNames(sel Selection) []string {
	names := make([]string, len(sel.Tools))
	for i, t := range sel.Tools {
		names[i] = t.Name
	}
	return names
}

func classification(intents ...Intent) Classification {
	return Classification{Intents: intents}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name    string
		cls     Classification
		include []string
		exclude []string
	}{
		{
			name:    "create invoice",
			cls:     classification(IntentCreateInvoice),
			include: []string{ToolCreateInvoice, ToolSearchClients, ToolCreateClient, ToolUpdateBusinessSettings},
			exclude: []string{ToolSetDocumentColor, ToolCreateEstimate, ToolSetupPaymentMethod, ToolOutstandingSummary},
		},
		{
			name:    "create invoice with design change",
			cls:     classification(IntentCreateInvoice, ModDesignChange),
			include: []string{ToolCreateInvoice, ToolSetDocumentColor, ToolAddLogo},
			exclude: []string{ToolCreateEstimate},
		},
		{
			name:    "manage estimate with context aware update",
			cls:     classification(IntentManageEstimate, ModContextAwareUpdate),
			include: []string{ToolGetEstimate, ToolUpdateEstimateLineItem, ToolUpdateBusinessSettings, ToolSearchClients, ToolSetDocumentColor},
			exclude: []string{ToolGetInvoice, ToolCreateInvoice},
		},
		{
			name:    "manage invoice with payment setup",
			cls:     classification(IntentManageInvoice, ModContextAwareUpdate, ModPaymentSetup),
			include: []string{ToolGetInvoice, ToolSetupPaymentMethod, ToolGetPaymentOptions},
			exclude: []string{ToolGetEstimate, ToolListInvoices},
		},
		{
			name:    "general query",
			cls:     classification(IntentGeneralQuery),
			include: []string{ToolGetBusinessSettings, ToolUpdateBusinessSettings, ToolSearchClients},
			exclude: []string{ToolCreateInvoice, ToolGetInvoice, ToolListInvoices, ToolSetDocumentColor},
		},
		{
			name:    "general query with analytics",
			cls:     classification(IntentGeneralQuery, ModAnalytics),
			include: []string{ToolListInvoices, ToolOutstandingSummary},
			exclude: []string{ToolCreateInvoice, ToolMarkInvoicePaid},
		},
		{
			name:    "empty classification behaves as general query",
			cls:     Classification{},
			include: []string{ToolGetBusinessSettings},
			exclude: []string{ToolCreateInvoice},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Select(tt.cls)
			names := toolNames(sel)
			for _, n := range tt.include {
				assert.Contains(t, names, n)
			}
			for _, n := range tt.exclude {
				assert.NotContains(t, names, n)
			}
		})
	}
}

func TestSelect_PromptCarriesIntentAndModifierSections(t *testing.T) {
	sel := Select(classification(IntentManageInvoice, ModContextAwareUpdate, ModDesignChange))
	assert.Contains(t, sel.Prompt, basePrompt)
	assert.Contains(t, sel.Prompt, intentPrompts[IntentManageInvoice])
	assert.Contains(t, sel.Prompt, modifierPrompts[ModContextAwareUpdate])
	assert.Contains(t, sel.Prompt, modifierPrompts[ModDesignChange])
	assert.NotContains(t, sel.Prompt, modifierPrompts[ModAnalytics])
}

// allClassifications 枚举每个主意图与全部修饰意图子集的组合。
func allClassifications() []Classification {
	primaries := []Intent{IntentCreateInvoice, IntentManageInvoice, IntentCreateEstimate, IntentManageEstimate, IntentGeneralQuery}
	var out []Classification
	for _, p := range primaries {
		for mask := 0; mask < 1<<len(modifierOrder); mask++ {
			intents := []Intent{p}
			for i, m := range modifierOrder {
				if mask&(1<<i) != 0 {
					intents = append(intents, m)
				}
			}
			out = append(out, Classification{Intents: intents})
		}
	}
	return out
}

func TestSelect_Properties(t *testing.T) {
	full := len(Catalog())
	position := map[string]int{}
	for i, spec := range Catalog() {
		position[spec.Name] = i
	}

	for _, cls := range allClassifications() {
		first := Select(cls)
		second := Select(cls)

		require.Equal(t, first, second, "selection must be deterministic for %s", cls)
		assert.NotEmpty(t, first.Tools, cls.String())
		assert.Less(t, len(first.Tools), full, "%s must not receive the full catalog", cls)

		for i := 1; i < len(first.Tools); i++ {
			assert.Less(t, position[first.Tools[i-1].Name], position[first.Tools[i].Name], "%s tools out of catalog order", cls)
		}
		assert.Len(t, first.LLMTools(), len(first.Tools))
	}
}

func TestParseCalls(t *testing.T) {
	sel := Select(classification(IntentCreateInvoice, ModDesignChange))

	t.Run("tool outside the selection", func(t *testing.T) {
		calls, err := ParseCalls(sel, []llm.ToolCall{
			{ID: "c1", Name: ToolCreateInvoice, Arguments: `{"client_name":"Mike","amount":800}`},
			{ID: "c2", Name: ToolSetDocumentColor, Arguments: `{"color":"purple"}`},
			{ID: "c3", Name: ToolGetBusinessSettings, Arguments: ""},
		})
		// get_business_settings 不在 create_invoice 的工具集中
		require.ErrorIs(t, err, ErrUnknownTool)
		assert.Nil(t, calls)
	})

	t.Run("arguments decoded", func(t *testing.T) {
		calls, err := ParseCalls(sel, []llm.ToolCall{
			{ID: "c1", Name: ToolCreateInvoice, Arguments: `{"client_name":"Mike","amount":"800"}`},
			{ID: "c2", Name: ToolSetDocumentColor, Arguments: " "},
		})
		require.NoError(t, err)
		require.Len(t, calls, 2)
		assert.Equal(t, "c1", calls[0].ID)
		assert.Equal(t, "Mike", calls[0].Args.String("client_name"))
		amount, ok := calls[0].Args.Float("amount")
		assert.True(t, ok)
		assert.Equal(t, 800.0, amount)
		assert.Empty(t, calls[1].Args)
	})

	t.Run("malformed json rejects the whole batch", func(t *testing.T) {
		calls, err := ParseCalls(sel, []llm.ToolCall{
			{ID: "c1", Name: ToolCreateInvoice, Arguments: `{"client_name":"Mike"}`},
			{ID: "c2", Name: ToolSetDocumentColor, Arguments: `{"color":`},
		})
		require.ErrorIs(t, err, ErrMalformedToolCall)
		assert.Nil(t, calls)
	})

	t.Run("non object arguments", func(t *testing.T) {
		_, err := ParseCalls(sel, []llm.ToolCall{{ID: "c1", Name: ToolCreateInvoice, Arguments: `null`}})
		require.ErrorIs(t, err, ErrMalformedToolCall)
	})
}
