// Package model 包含了应用的数据模型定义。
package model

import "time"

// SubscriptionTier 是用户的订阅等级。
type SubscriptionTier string

const (
	TierFree          SubscriptionTier = "free"
	TierPremium       SubscriptionTier = "premium"
	TierGrandfathered SubscriptionTier = "grandfathered"
	TierTrialExpired  SubscriptionTier = "trial_expired"
)

// Unlimited 表示该等级是否免除免费额度限制。
func (t SubscriptionTier) Unlimited() bool {
	return t == TierPremium || t == TierGrandfathered
}

// Valid 判断等级是否属于已知集合。
func (t SubscriptionTier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierGrandfathered, TierTrialExpired:
		return true
	}
	return false
}

// User 对应 user_profiles 表。
type User struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	Username         string           `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Password         string           `gorm:"type:varchar(255);not null" json:"-"`
	Role             string           `gorm:"type:varchar(20);not null;default:USER" json:"role"`
	SubscriptionTier SubscriptionTier `gorm:"type:varchar(32);not null;default:free" json:"subscriptionTier"`
	TierUpdatedAt    *time.Time       `json:"tierUpdatedAt"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "user_profiles"
}
