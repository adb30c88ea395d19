// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

// DocumentKind 区分发票与报价单，两者分表存储但结构一致。
type DocumentKind string

const (
	KindInvoice  DocumentKind = "invoice"
	KindEstimate DocumentKind = "estimate"
)

// Table 返回该类单据所在的表名。
func (k DocumentKind) Table() string {
	if k == KindEstimate {
		return "estimates"
	}
	return "invoices"
}

// NumberPrefix 返回单据编号前缀。
func (k DocumentKind) NumberPrefix() string {
	if k == KindEstimate {
		return "EST"
	}
	return "INV"
}

// 单据状态
const (
	StatusDraft     = "draft"
	StatusSent      = "sent"
	StatusPaid      = "paid"
	StatusOverdue   = "overdue"
	StatusAccepted  = "accepted"
	StatusDeclined  = "declined"
	StatusConverted = "converted"
)

// LineItem 是单据中的一行明细，以 JSON 列存储。
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Amount 返回该行金额。
func (l LineItem) Amount() float64 {
	return l.Quantity * l.UnitPrice
}

// Document 是发票/报价单的统一模型。
// TaxRate 为百分比，Discount 为金额。
type Document struct {
	ID             uint                         `gorm:"primaryKey" json:"id"`
	UserID         uint                         `gorm:"index;not null" json:"userId"`
	Kind           DocumentKind                 `gorm:"type:varchar(16);not null" json:"kind"`
	Number         string                       `gorm:"type:varchar(32);index;not null" json:"number"`
	ClientID       *uint                        `json:"clientId"`
	ClientName     string                       `gorm:"type:varchar(255)" json:"clientName"`
	Items          datatypes.JSONSlice[LineItem] `gorm:"type:json" json:"items"`
	TaxRate        float64                      `json:"taxRate"`
	Discount       float64                      `json:"discount"`
	Currency       string                       `gorm:"type:varchar(8);default:USD" json:"currency"`
	Status         string                       `gorm:"type:varchar(16);not null;default:draft" json:"status"`
	DueDate        *time.Time                   `json:"dueDate"`
	Notes          string                       `gorm:"type:text" json:"notes"`
	Color          string                       `gorm:"type:varchar(32)" json:"color"`
	Template       string                       `gorm:"type:varchar(32)" json:"template"`
	ShowLogo       bool                         `gorm:"not null;default:false" json:"showLogo"`
	PaymentMethods string                       `gorm:"type:varchar(255)" json:"paymentMethods"` // 逗号分隔
	Total          float64                      `json:"total"`
	CreatedAt      time.Time                    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time                    `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Totals 计算小计、税额与总额。
func (d *Document) Totals() (subtotal, tax, total float64) {
	for _, it := range d.Items {
		subtotal += it.Amount()
	}
	taxable := math.Max(0, subtotal-d.Discount)
	tax = taxable * d.TaxRate / 100
	return round2(subtotal), round2(tax), round2(taxable + tax)
}

// Recalculate 刷新冗余存储的 Total 字段，每次写入前调用。
func (d *Document) Recalculate() {
	_, _, d.Total = d.Totals()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
