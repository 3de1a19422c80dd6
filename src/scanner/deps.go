package scanner

import (
	"context"

	"utrader/src/model"
)

// CandleSource is the slice of the exchange client the scanner needs.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

// SignalStore persists signals and answers the cooldown question.
type SignalStore interface {
	Create(ctx context.Context, signal *model.Signal) error
	FindLatest(ctx context.Context, symbol, timeframe string) (*model.Signal, error)
}

// AlertStore records user-visible alerts.
type AlertStore interface {
	Create(ctx context.Context, alert *model.Alert) error
}

// EventQueue enqueues rows for the telegram fan-out.
type EventQueue interface {
	Enqueue(ctx context.Context, kind string, payload model.EventPayload) (*model.TradingEvent, error)
}

// ConfigSource reloads the scanner's own configuration row.
type ConfigSource interface {
	Find(ctx context.Context, symbol, timeframe string) (*model.SymbolConfig, error)
}

// Deps bundles everything a worker talks to. Nudge, when set, is poked
// (non-blocking) after a signal lands so the executor can react without
// waiting for its own poll.
type Deps struct {
	Candles CandleSource
	Signals SignalStore
	Alerts  AlertStore
	Events  EventQueue
	Configs ConfigSource
	Nudge   chan<- struct{}
}
