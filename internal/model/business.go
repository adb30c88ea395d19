package model

import "time"

// BusinessSettings 对应 business_settings 表，每个用户一行。
type BusinessSettings struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"uniqueIndex;not null" json:"userId"`
	BusinessName   string    `gorm:"type:varchar(255)" json:"businessName"`
	Address        string    `gorm:"type:text" json:"address"`
	Email          string    `gorm:"type:varchar(255)" json:"email"`
	Phone          string    `gorm:"type:varchar(64)" json:"phone"`
	DefaultTaxRate float64   `json:"defaultTaxRate"`
	Currency       string    `gorm:"type:varchar(8);default:USD" json:"currency"`
	LogoObject     string    `gorm:"type:varchar(255)" json:"logoObject"` // MinIO 对象名
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (BusinessSettings) TableName() string {
	return "business_settings"
}

// 支持的收款方式
const (
	PaymentPayPal       = "paypal"
	PaymentStripe       = "stripe"
	PaymentBankTransfer = "bank_transfer"
)

// PaymentOption 对应 payment_options 表，一种收款方式一行。
type PaymentOption struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:ux_user_method;not null" json:"userId"`
	Method    string    `gorm:"type:varchar(32);uniqueIndex:ux_user_method;not null" json:"method"`
	Details   string    `gorm:"type:text" json:"details"` // 邮箱、账户号等
	Enabled   bool      `gorm:"not null" json:"enabled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (PaymentOption) TableName() string {
	return "payment_options"
}
