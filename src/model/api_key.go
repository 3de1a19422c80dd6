package model

import "time"

const (
	ConnectionStatusOK    = "ok"
	ConnectionStatusError = "error"
)

// ApiKey holds one user's exchange credentials plus the trading limits that
// apply to every position opened through it. Key material is stored
// encrypted; see the security package.
type ApiKey struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	UserID                 uint      `gorm:"index" json:"user_id"`
	EncryptedKey           string    `gorm:"type:text;not null" json:"-"`
	EncryptedSecret        string    `gorm:"type:text;not null" json:"-"`
	Testnet                bool      `gorm:"not null;default:false" json:"testnet"`
	Active                 bool      `gorm:"not null;default:true" json:"active"`
	AutoTrading            bool      `gorm:"not null;default:false" json:"auto_trading"`
	ConnectionStatus       string    `gorm:"size:10;not null;default:ok" json:"connection_status"`
	MaxConcurrentPositions int       `gorm:"not null;default:1" json:"max_concurrent_positions"`
	RiskPct                float64   `json:"risk_pct"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`

	// One toggle row per asset the user opted into.
	Toggles []AssetToggle `gorm:"foreignKey:ApiKeyID" json:"toggles,omitempty"`
}

func (ApiKey) TableName() string {
	return "api_keys"
}

// ToggleFor returns the toggle for the given asset tag, or nil when the
// user never configured that asset.
func (k *ApiKey) ToggleFor(cryptoTag string) *AssetToggle {
	for i := range k.Toggles {
		if k.Toggles[i].CryptoTag == cryptoTag {
			return &k.Toggles[i]
		}
	}
	return nil
}

// AssetToggle carries the per-asset trading settings of one ApiKey.
type AssetToggle struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	ApiKeyID       uint    `gorm:"index:idx_toggles_key_tag,unique" json:"api_key_id"`
	CryptoTag      string  `gorm:"size:10;not null;index:idx_toggles_key_tag,unique" json:"crypto_tag"`
	Enabled        bool    `gorm:"not null;default:false" json:"enabled"`
	AllocatedQuote float64 `json:"allocated_quote"`
	TakeProfit     float64 `json:"take_profit"`
	StopLoss       float64 `json:"stop_loss"`
	MaxHoldMinutes int     `json:"max_hold_minutes"`
}

func (AssetToggle) TableName() string {
	return "asset_toggles"
}

// MaxHold returns the configured maximum holding duration.
func (t *AssetToggle) MaxHold() time.Duration {
	return time.Duration(t.MaxHoldMinutes) * time.Minute
}
