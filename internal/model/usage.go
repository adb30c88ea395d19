package model

// FreeTierLimit 是免费用户可创建的发票+报价单总数上限。
const FreeTierLimit = 3

// UsageStats 每次按需从单据表实时计数得出，从不单独持久化。
type UsageStats struct {
	InvoicesCreated   int64 `json:"invoicesCreated"`
	EstimatesCreated  int64 `json:"estimatesCreated"`
	TotalItemsCreated int64 `json:"totalItemsCreated"`
	Limit             int64 `json:"limit"`
	CanCreateInvoice  bool  `json:"canCreateInvoice"`
	CanCreateItem     bool  `json:"canCreateItem"`
	RemainingInvoices int64 `json:"remainingInvoices"`
}

// NewUsageStats 由计数推导出完整的 UsageStats。
func NewUsageStats(invoices, estimates int64) UsageStats {
	total := invoices + estimates
	remaining := int64(FreeTierLimit) - total
	if remaining < 0 {
		remaining = 0
	}
	return UsageStats{
		InvoicesCreated:   invoices,
		EstimatesCreated:  estimates,
		TotalItemsCreated: total,
		Limit:             FreeTierLimit,
		CanCreateInvoice:  total < FreeTierLimit,
		CanCreateItem:     total < FreeTierLimit,
		RemainingInvoices: remaining,
	}
}
