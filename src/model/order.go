package model

import "time"

const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

const (
	OrderStatusPending         = "PENDING"
	OrderStatusFilled          = "FILLED"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
	// OrderStatusCompleted marks a FILLED BUY whose paired SELL has filled.
	OrderStatusCompleted = "COMPLETED"
)

const (
	OrderReasonUPattern   = "U_PATTERN"
	OrderReasonTakeProfit = "TAKE_PROFIT"
	OrderReasonStopLoss   = "STOP_LOSS"
	OrderReasonMaxHold    = "MAX_HOLD"
	OrderReasonManual     = "MANUAL"
	OrderReasonExternal   = "EXTERNAL"
)

// Order is one order the system sent to the venue, or one it discovered
// there during reconciliation. A BUY owns its paired SELL through
// PairedSellOrderID; everything else holds ids, not pointers.
type Order struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"index" json:"user_id"`
	ApiKeyID          uint       `gorm:"index:idx_orders_key_symbol" json:"api_key_id"`
	SignalID          *uint      `gorm:"index" json:"signal_id,omitempty"`
	Symbol            string     `gorm:"size:20;not null;index:idx_orders_key_symbol" json:"symbol"`
	Side              string     `gorm:"size:5;not null" json:"side"`
	OrderType         string     `gorm:"size:10;not null;default:MARKET" json:"order_type"`
	RequestedQty      float64    `json:"requested_qty"`
	RequestedPrice    *float64   `json:"requested_price,omitempty"`
	Status            string     `gorm:"size:20;not null;default:PENDING" json:"status"`
	VenueOrderID      *int64     `gorm:"index" json:"venue_order_id,omitempty"`
	FilledQty         float64    `json:"filled_qty"`
	AvgFillPrice      float64    `json:"avg_fill_price"`
	Commission        float64    `json:"commission"`
	CommissionAsset   string     `gorm:"size:10" json:"commission_asset"`
	TakeProfitLevel   *float64   `json:"take_profit_level,omitempty"`
	StopLossLevel     *float64   `json:"stop_loss_level,omitempty"`
	PnlQuote          *float64   `json:"pnl_quote,omitempty"`
	PnlPct            *float64   `json:"pnl_pct,omitempty"`
	Reason            string     `gorm:"size:20;not null" json:"reason"`
	PairedSellOrderID *uint      `gorm:"index" json:"paired_sell_order_id,omitempty"`
	ExecutedAt        *time.Time `json:"executed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// IsOpenPosition reports whether this row represents an open position:
// a filled BUY that has not been paired with a later filled SELL.
func (o *Order) IsOpenPosition() bool {
	return o.Side == OrderSideBuy &&
		o.Status == OrderStatusFilled &&
		o.PairedSellOrderID == nil
}
