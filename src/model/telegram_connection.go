package model

import "time"

// TelegramConnection binds one user's chat to one asset channel. A user
// subscribes per asset; the bot token itself lives in the asset table, not
// here. IssuedToken is a one-shot deep-link token with a 3 minute TTL.
type TelegramConnection struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"index:idx_tg_user_tag,unique" json:"user_id"`
	CryptoTag      string     `gorm:"size:10;not null;index:idx_tg_user_tag,unique" json:"crypto_tag"`
	ChatID         int64      `gorm:"index" json:"chat_id"`
	Subscribed     bool       `gorm:"not null;default:false" json:"subscribed"`
	IssuedToken    *string    `gorm:"size:64;index" json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (TelegramConnection) TableName() string {
	return "telegram_connections"
}

// TokenValid reports whether the issued token can still be consumed.
func (c *TelegramConnection) TokenValid(now time.Time) bool {
	return c.IssuedToken != nil && c.TokenExpiresAt != nil && now.Before(*c.TokenExpiresAt)
}
