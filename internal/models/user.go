package models

import (
	"time"
)

// Subscription tiers assigned by the entitlement grantor.
const (
	SubscriptionFree      = "free"
	SubscriptionTrial     = "trial"
	SubscriptionMonthly   = "monthly"
	SubscriptionQuarterly = "quarterly"
	SubscriptionAnnual    = "annual"
)

// User is the external-collaborator view of an account. The payment core only
// resolves users through orders and extends their subscription window; every
// other user concern lives outside this service.
type User struct {
	BaseModel
	TelegramID         int64      `gorm:"uniqueIndex" json:"telegram_id"`
	Phone              string     `gorm:"uniqueIndex" json:"phone"`
	Name               string     `json:"name"`
	Language           string     `gorm:"size:2;default:uz" json:"language"`
	SubscriptionType   string     `gorm:"size:20;default:free" json:"subscription_type"`
	SubscriptionEndsAt *time.Time `json:"subscription_ends_at"`
	IsPremium          bool       `json:"is_premium"`
	IsTrialUsed        bool       `json:"is_trial_used"`
}

// HasActiveSubscription reports whether the subscription window covers now.
func (u *User) HasActiveSubscription(now time.Time) bool {
	return u.SubscriptionEndsAt != nil && u.SubscriptionEndsAt.After(now)
}
