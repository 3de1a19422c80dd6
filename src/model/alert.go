package model

import "time"

const (
	AlertKindBuy      = "BUY"
	AlertKindSell     = "SELL"
	AlertKindInfo     = "INFO"
	AlertKindWarn     = "WARN"
	AlertKindError    = "ERROR"
	AlertKindCritical = "CRITICAL"
)

const (
	AlertScopeAll           = "all"
	AlertScopeSpecificUsers = "specific_users"
)

// Alert is a user-visible record of something that happened: a signal,
// an order, a warning. Kind and scope determine how the fan-out routes it.
type Alert struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SignalID  *uint     `gorm:"index" json:"signal_id,omitempty"`
	Kind      string    `gorm:"size:10;not null" json:"kind"`
	Symbol    string    `gorm:"size:20" json:"symbol"`
	CryptoTag string    `gorm:"size:10;index" json:"crypto_tag"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	UserScope string    `gorm:"size:20;not null;default:all" json:"user_scope"`
	UserID    *uint     `gorm:"index" json:"user_id,omitempty"`
	Delivered bool      `gorm:"not null;default:false" json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}

func (Alert) TableName() string {
	return "alerts"
}
