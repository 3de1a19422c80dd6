package model

import "time"

// SymbolConfig is the per-scanner configuration row: one per
// (symbol, timeframe) pair. Read-mostly; mutated only by admin calls, and
// changes take effect at the worker's next tick.
type SymbolConfig struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Symbol            string    `gorm:"size:20;not null;index:idx_symcfg_symbol_tf,unique" json:"symbol"`
	Timeframe         string    `gorm:"size:10;not null;index:idx_symcfg_symbol_tf,unique" json:"timeframe"`
	ScanIntervalSec   int       `gorm:"not null" json:"scan_interval_sec"`
	CooldownSec       int       `gorm:"not null" json:"cooldown_sec"`
	ProfitTarget      float64   `json:"profit_target"`
	StopLoss          float64   `json:"stop_loss"`
	MaxHoldMinutes    int       `json:"max_hold_minutes"`
	MinDepthPct       float64   `gorm:"default:0.03" json:"min_depth_pct"`
	RuptureFactorBase float64   `gorm:"default:1.03" json:"rupture_factor_base"`
	Enabled           bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (SymbolConfig) TableName() string {
	return "symbol_configs"
}

func (c *SymbolConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSec) * time.Second
}

func (c *SymbolConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

func (c *SymbolConfig) MaxHold() time.Duration {
	return time.Duration(c.MaxHoldMinutes) * time.Minute
}
