package model

import "time"

// Signal is the durable record of one U-breakout detection.
// Rows are append-only and immutable after write.
type Signal struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Symbol        string    `gorm:"size:20;not null;index:idx_signals_symbol_tf" json:"symbol"`
	Timeframe     string    `gorm:"size:10;not null;index:idx_signals_symbol_tf" json:"timeframe"`
	DetectedAt    time.Time `gorm:"not null;index" json:"detected_at"`
	BreakoutLevel float64   `json:"breakout_level"`
	EntryPrice    float64   `json:"entry_price"`
	Strength      float64   `json:"strength"`
	PatternWidth  int       `json:"pattern_width"`
	Depth         float64   `json:"depth"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Signal) TableName() string {
	return "signals"
}
