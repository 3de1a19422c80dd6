package model

import (
	"encoding/json"
	"time"
)

const (
	EventKindOrderFilledBuy  = "ORDER_FILLED_BUY"
	EventKindOrderFilledSell = "ORDER_FILLED_SELL"
	EventKindSignal          = "SIGNAL"
	EventKindHealth          = "HEALTH"
)

const (
	EventStatusPending = "PENDING"
	EventStatusSent    = "SENT"
	EventStatusFailed  = "FAILED"
)

// TradingEvent is one row of the delivery queue the fan-out drains.
// Rows are append-only; only the status, processed_at and error columns
// transition, PENDING -> SENT|FAILED.
type TradingEvent struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Kind        string     `gorm:"size:30;not null;index" json:"kind"`
	Payload     string     `gorm:"type:text;not null" json:"payload"`
	Status      string     `gorm:"size:10;not null;default:PENDING;index" json:"status"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
}

func (TradingEvent) TableName() string {
	return "trading_events"
}

// EventPayload is the JSON document carried by a TradingEvent. Not every
// field is set for every kind: SIGNAL events carry signal data, fill events
// carry order data, HEALTH events carry only the message.
type EventPayload struct {
	SignalID      uint    `json:"signal_id,omitempty"`
	OrderID       uint    `json:"order_id,omitempty"`
	UserID        uint    `json:"user_id,omitempty"`
	Symbol        string  `json:"symbol,omitempty"`
	CryptoTag     string  `json:"crypto_tag,omitempty"`
	Timeframe     string  `json:"timeframe,omitempty"`
	Side          string  `json:"side,omitempty"`
	Quantity      float64 `json:"quantity,omitempty"`
	Price         float64 `json:"price,omitempty"`
	BreakoutLevel float64 `json:"breakout_level,omitempty"`
	PnlQuote      float64 `json:"pnl_quote,omitempty"`
	PnlPct        float64 `json:"pnl_pct,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// Encode serializes the payload for storage.
func (p EventPayload) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodePayload parses the stored payload of the event.
func (e *TradingEvent) DecodePayload() (EventPayload, error) {
	var p EventPayload
	err := json.Unmarshal([]byte(e.Payload), &p)
	return p, err
}
