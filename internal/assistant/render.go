package assistant

import (
	"context"
	"fmt"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/pkg/log"
	"math"
	"strings"
)

// DocumentView 是单据渲染后的当前状态，每次都由最新读取的数据构建。
type DocumentView struct {
	ID              uint               `json:"id"`
	Kind            model.DocumentKind `json:"kind"`
	Number          string             `json:"number"`
	Status          string             `json:"status"`
	ClientName      string             `json:"clientName"`
	Items           []LineItemView     `json:"items"`
	Subtotal        float64            `json:"subtotal"`
	Discount        float64            `json:"discount"`
	TaxRate         float64            `json:"taxRate"`
	Tax             float64            `json:"tax"`
	Total           float64            `json:"total"`
	Currency        string             `json:"currency"`
	DueDate         *model.LocalDate   `json:"dueDate,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Color           string             `json:"color,omitempty"`
	Template        string             `json:"template,omitempty"`
	LogoURL         string             `json:"logoUrl,omitempty"`
	BusinessName    string             `json:"businessName,omitempty"`
	BusinessAddress string             `json:"businessAddress,omitempty"`
	PaymentMethods  []string           `json:"paymentMethods,omitempty"`
}

// LineItemView 是渲染后的一行明细。
type LineItemView struct {
	Position    int     `json:"position"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Amount      float64 `json:"amount"`
}

// LogoURLer 为 Logo 对象生成可访问的链接。
type LogoURLer interface {
	PresignedURL(ctx context.Context, objectName string) (string, error)
}

// render 组合单据、商户资料与收款方式。商户资料读取失败不影响单据本身的渲染。
func (e *Executor) render(ctx context.Context, doc *model.Document) *DocumentView {
	subtotal, tax, total := doc.Totals()
	v := &DocumentView{
		ID:         doc.ID,
		Kind:       doc.Kind,
		Number:     doc.Number,
		Status:     doc.Status,
		ClientName: doc.ClientName,
		Subtotal:   subtotal,
		Discount:   doc.Discount,
		TaxRate:    doc.TaxRate,
		Tax:        tax,
		Total:      total,
		Currency:   doc.Currency,
		Notes:      doc.Notes,
		Color:      doc.Color,
		Template:   doc.Template,
	}
	if doc.DueDate != nil {
		d := model.LocalDate(*doc.DueDate)
		v.DueDate = &d
	}
	for i, it := range doc.Items {
		v.Items = append(v.Items, LineItemView{
			Position:    i + 1,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Amount:      math.Round(it.Amount()*100) / 100,
		})
	}

	settings, err := e.business.GetSettings(ctx, doc.UserID)
	if err != nil {
		log.Warnw("render: load business settings failed", "userId", doc.UserID, "error", err)
	} else {
		v.BusinessName = settings.BusinessName
		v.BusinessAddress = settings.Address
		if doc.ShowLogo && settings.LogoObject != "" && e.logos != nil {
			if u, err := e.logos.PresignedURL(ctx, settings.LogoObject); err == nil {
				v.LogoURL = u
			} else {
				log.Warnw("render: presign logo failed", "userId", doc.UserID, "error", err)
			}
		}
	}

	options, err := e.business.ListPaymentOptions(ctx, doc.UserID)
	if err != nil {
		log.Warnw("render: load payment options failed", "userId", doc.UserID, "error", err)
	}
	wanted := splitMethods(doc.PaymentMethods)
	for _, o := range options {
		if !o.Enabled {
			continue
		}
		if len(wanted) > 0 && !wanted[o.Method] {
			continue
		}
		v.PaymentMethods = append(v.PaymentMethods, o.Method)
	}
	return v
}

// Summary 返回一行文字描述，用于回复与日志。
func (v *DocumentView) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", v.Kind, v.Number)
	if v.ClientName != "" {
		fmt.Fprintf(&b, " for %s", v.ClientName)
	}
	fmt.Fprintf(&b, ", total %.2f %s", v.Total, v.Currency)
	if v.Color != "" {
		fmt.Fprintf(&b, ", color %s", v.Color)
	}
	return b.String()
}

func splitMethods(csv string) map[string]bool {
	out := map[string]bool{}
	for _, m := range strings.Split(csv, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out[m] = true
		}
	}
	return out
}

func joinMethods(set map[string]bool, add string) string {
	set[add] = true
	var out []string
	for _, m := range []string{model.PaymentPayPal, model.PaymentStripe, model.PaymentBankTransfer} {
		if set[m] {
			out = append(out, m)
		}
	}
	return strings.Join(out, ",")
}
