package assistant

import (
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/pkg/llm"
)

// ToolGroup 对工具按业务领域分组，选择器以组为单位裁剪工具集。
type ToolGroup string

const (
	GroupInvoice   ToolGroup = "invoice"
	GroupEstimate  ToolGroup = "estimate"
	GroupClient    ToolGroup = "client"
	GroupBusiness  ToolGroup = "business"
	GroupDesign    ToolGroup = "design"
	GroupPayment   ToolGroup = "payment"
	GroupAnalytics ToolGroup = "analytics"
)

// 工具名
const (
	ToolCreateInvoice          = "create_invoice"
	ToolGetInvoice             = "get_invoice"
	ToolUpdateInvoice          = "update_invoice"
	ToolAddInvoiceLineItem     = "add_invoice_line_item"
	ToolUpdateInvoiceLineItem  = "update_invoice_line_item"
	ToolRemoveInvoiceLineItem  = "remove_invoice_line_item"
	ToolMarkInvoicePaid        = "mark_invoice_paid"
	ToolCreateEstimate         = "create_estimate"
	ToolGetEstimate            = "get_estimate"
	ToolUpdateEstimate         = "update_estimate"
	ToolAddEstimateLineItem    = "add_estimate_line_item"
	ToolUpdateEstimateLineItem = "update_estimate_line_item"
	ToolRemoveEstimateLineItem = "remove_estimate_line_item"
	ToolConvertEstimate        = "convert_estimate_to_invoice"
	ToolSearchClients          = "search_clients"
	ToolCreateClient           = "create_client"
	ToolUpdateClient           = "update_client"
	ToolGetBusinessSettings    = "get_business_settings"
	ToolUpdateBusinessSettings = "update_business_settings"
	ToolSetDocumentColor       = "set_document_color"
	ToolSetDocumentTemplate    = "set_document_template"
	ToolAddLogo                = "add_logo"
	ToolGetPaymentOptions      = "get_payment_options"
	ToolSetupPaymentMethod     = "setup_payment_method"
	ToolListInvoices           = "list_invoices"
	ToolOutstandingSummary     = "get_outstanding_summary"
)

// ToolSpec 描述一个可供模型调用的操作。
type ToolSpec struct {
	Name        string
	Group       ToolGroup
	Description string
	Parameters  map[string]interface{}
	Required    []string
}

// LLMTool 转换为模型客户端使用的工具定义。
func (t ToolSpec) LLMTool() llm.Tool {
	params := make(map[string]interface{}, len(t.Parameters)+1)
	for k, v := range t.Parameters {
		params[k] = v
	}
	if len(t.Required) > 0 {
		params["required"] = t.Required
	}
	return llm.Tool{Name: t.Name, Description: t.Description, Parameters: params}
}

func object(props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": props}
}

func str(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func enum(desc string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc, "enum": values}
}

func num(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": desc}
}

func boolean(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

func integer(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

var lineItemsSchema = map[string]interface{}{
	"type":        "array",
	"description": "Line items. Use either this or amount.",
	"items": object(map[string]interface{}{
		"description": str("What was sold"),
		"quantity":    num("Quantity, defaults to 1"),
		"unit_price":  num("Price per unit"),
	}),
}

var documentNumber = str("Document number such as INV-0003. Omit to target the document just created or discussed.")

var documentType = enum("Which document type to target. Omit to use the one in focus.", string(model.KindInvoice), string(model.KindEstimate))

func createDocumentParams(kind model.DocumentKind) map[string]interface{} {
	return object(map[string]interface{}{
		"client_name":  str("Client the " + string(kind) + " is for. Created if it does not exist."),
		"client_email": str("Client email, used when creating a new client"),
		"amount":       num("Total amount for a single-line " + string(kind)),
		"description":  str("Description for the single line when amount is used"),
		"line_items":   lineItemsSchema,
		"due_date":     str("Due or expiry date, YYYY-MM-DD"),
		"tax_rate":     num("Tax rate in percent. Defaults to the business default."),
		"discount":     num("Discount amount"),
		"currency":     str("ISO currency code"),
		"notes":        str("Notes printed on the document"),
	})
}

func updateDocumentParams() map[string]interface{} {
	return object(map[string]interface{}{
		"document_number": documentNumber,
		"client_name":     str("Move the document to this client"),
		"due_date":        str("YYYY-MM-DD"),
		"tax_rate":        num("Tax rate in percent"),
		"discount":        num("Discount amount"),
		"currency":        str("ISO currency code"),
		"notes":           str("Notes"),
		"status":          enum("Document status", model.StatusDraft, model.StatusSent, model.StatusPaid, model.StatusOverdue, model.StatusAccepted, model.StatusDeclined),
	})
}

func lineItemParams(update bool) map[string]interface{} {
	props := map[string]interface{}{
		"document_number": documentNumber,
		"description":     str("Line item description"),
		"quantity":        num("Quantity"),
		"unit_price":      num("Price per unit"),
	}
	if update {
		props["item_index"] = integer("1-based position of the line item. Omit to match by description.")
		props["new_description"] = str("Replacement description")
	}
	return object(props)
}

func removeLineItemParams() map[string]interface{} {
	return object(map[string]interface{}{
		"document_number": documentNumber,
		"item_index":      integer("1-based position of the line item"),
		"description":     str("Description of the line item to remove"),
	})
}

// catalog 是全部工具，顺序固定，决定发送给模型的顺序。
var catalog = []ToolSpec{
	{Name: ToolCreateInvoice, Group: GroupInvoice, Description: "Create a new invoice for a client.", Parameters: createDocumentParams(model.KindInvoice), Required: []string{"client_name"}},
	{Name: ToolGetInvoice, Group: GroupInvoice, Description: "Fetch an invoice and show it.", Parameters: object(map[string]interface{}{"document_number": documentNumber})},
	{Name: ToolUpdateInvoice, Group: GroupInvoice, Description: "Update invoice fields such as due date, tax, discount, notes, status or client.", Parameters: updateDocumentParams()},
	{Name: ToolAddInvoiceLineItem, Group: GroupInvoice, Description: "Add a line item to an invoice.", Parameters: lineItemParams(false), Required: []string{"description", "unit_price"}},
	{Name: ToolUpdateInvoiceLineItem, Group: GroupInvoice, Description: "Change quantity, price or description of an invoice line item.", Parameters: lineItemParams(true)},
	{Name: ToolRemoveInvoiceLineItem, Group: GroupInvoice, Description: "Remove a line item from an invoice.", Parameters: removeLineItemParams()},
	{Name: ToolMarkInvoicePaid, Group: GroupInvoice, Description: "Mark an invoice as paid.", Parameters: object(map[string]interface{}{"document_number": documentNumber})},

	{Name: ToolCreateEstimate, Group: GroupEstimate, Description: "Create a new estimate (quote) for a client.", Parameters: createDocumentParams(model.KindEstimate), Required: []string{"client_name"}},
	{Name: ToolGetEstimate, Group: GroupEstimate, Description: "Fetch an estimate and show it.", Parameters: object(map[string]interface{}{"document_number": documentNumber})},
	{Name: ToolUpdateEstimate, Group: GroupEstimate, Description: "Update estimate fields such as expiry date, tax, discount, notes, status or client.", Parameters: updateDocumentParams()},
	{Name: ToolAddEstimateLineItem, Group: GroupEstimate, Description: "Add a line item to an estimate.", Parameters: lineItemParams(false), Required: []string{"description", "unit_price"}},
	{Name: ToolUpdateEstimateLineItem, Group: GroupEstimate, Description: "Change quantity, price or description of an estimate line item.", Parameters: lineItemParams(true)},
	{Name: ToolRemoveEstimateLineItem, Group: GroupEstimate, Description: "Remove a line item from an estimate.", Parameters: removeLineItemParams()},
	{Name: ToolConvertEstimate, Group: GroupEstimate, Description: "Turn an estimate into a new invoice.", Parameters: object(map[string]interface{}{"document_number": documentNumber})},

	{Name: ToolSearchClients, Group: GroupClient, Description: "Search existing clients by name.", Parameters: object(map[string]interface{}{"query": str("Name or part of it")}), Required: []string{"query"}},
	{Name: ToolCreateClient, Group: GroupClient, Description: "Create a client.", Parameters: object(map[string]interface{}{
		"name": str("Client name"), "email": str("Email"), "phone": str("Phone"), "address": str("Postal address"),
	}), Required: []string{"name"}},
	{Name: ToolUpdateClient, Group: GroupClient, Description: "Update a client's contact details.", Parameters: object(map[string]interface{}{
		"client_name": str("Current client name"), "new_name": str("New name"), "email": str("Email"), "phone": str("Phone"), "address": str("Postal address"),
	}), Required: []string{"client_name"}},

	{Name: ToolGetBusinessSettings, Group: GroupBusiness, Description: "Read the user's business profile.", Parameters: object(map[string]interface{}{})},
	{Name: ToolUpdateBusinessSettings, Group: GroupBusiness, Description: "Update the user's business profile: name, address, email, phone, default tax rate, currency.", Parameters: object(map[string]interface{}{
		"business_name":    str("Business name"),
		"address":          str("Business address"),
		"email":            str("Business email"),
		"phone":            str("Business phone"),
		"default_tax_rate": num("Default tax rate in percent"),
		"currency":         str("Default ISO currency code"),
	})},

	{Name: ToolSetDocumentColor, Group: GroupDesign, Description: "Set the accent color of an invoice or estimate.", Parameters: object(map[string]interface{}{
		"color": str("Color name or hex code"), "document_number": documentNumber, "document_type": documentType,
	}), Required: []string{"color"}},
	{Name: ToolSetDocumentTemplate, Group: GroupDesign, Description: "Set the layout template of an invoice or estimate.", Parameters: object(map[string]interface{}{
		"template": enum("Template name", "classic", "modern", "minimal", "bold"), "document_number": documentNumber, "document_type": documentType,
	}), Required: []string{"template"}},
	{Name: ToolAddLogo, Group: GroupDesign, Description: "Show the uploaded business logo on an invoice or estimate.", Parameters: object(map[string]interface{}{
		"document_number": documentNumber, "document_type": documentType,
	})},

	{Name: ToolGetPaymentOptions, Group: GroupPayment, Description: "List configured payment methods.", Parameters: object(map[string]interface{}{})},
	{Name: ToolSetupPaymentMethod, Group: GroupPayment, Description: "Enable or configure a payment method, optionally showing it on a document.", Parameters: object(map[string]interface{}{
		"method":            enum("Payment method", model.PaymentPayPal, model.PaymentStripe, model.PaymentBankTransfer),
		"details":           str("PayPal email, Stripe account or bank details"),
		"enabled":           boolean("Enable or disable, defaults to true"),
		"apply_to_document": boolean("Also show this method on the document in focus"),
		"document_number":   documentNumber,
		"document_type":     documentType,
	}), Required: []string{"method"}},

	{Name: ToolListInvoices, Group: GroupAnalytics, Description: "List invoices or estimates, optionally filtered by status.", Parameters: object(map[string]interface{}{
		"status":        enum("Filter", "unpaid", model.StatusDraft, model.StatusSent, model.StatusPaid, model.StatusOverdue),
		"document_type": documentType,
		"limit":         integer("Maximum rows, default 20"),
	})},
	{Name: ToolOutstandingSummary, Group: GroupAnalytics, Description: "Summarise unpaid invoices by client: who owes what.", Parameters: object(map[string]interface{}{})},
}

// Catalog 返回完整工具目录的副本。
func Catalog() []ToolSpec {
	out := make([]ToolSpec, len(catalog))
	copy(out, catalog)
	return out
}

func lookupTool(name string) (ToolSpec, bool) {
	for _, t := range catalog {
		if t.Name == name {
			return t, true
		}
	}
	return ToolSpec{}, false
}
