package fanout

import (
	"context"

	"utrader/src/model"
)

// EventQueue is the slice of the trading-event repository the fan-out drains.
type EventQueue interface {
	FindPending(ctx context.Context, limit int) ([]model.TradingEvent, error)
	MarkSent(ctx context.Context, ids []uint, note string) error
	MarkFailed(ctx context.Context, id uint, cause string) error
}

// Subscribers resolves chat ids per asset and handles the deep-link
// subscribe/unsubscribe flow.
type Subscribers interface {
	FindSubscribers(ctx context.Context, cryptoTag string) ([]int64, error)
	ConsumeToken(ctx context.Context, token string, chatID int64) (*model.TelegramConnection, error)
	Unsubscribe(ctx context.Context, chatID int64, cryptoTag string) error
}

// AlertStore lets the fan-out flag alerts whose events went out.
type AlertStore interface {
	MarkDeliveredBySignal(ctx context.Context, signalID uint) error
}

// Sender pushes one message to one chat. The production implementation
// talks to Telegram; tests substitute a recorder.
type Sender interface {
	Send(ctx context.Context, token string, chatID int64, text string) error
}

// Deps bundles the fan-out's collaborators. A nil Sender gets replaced by
// the real Telegram sender in New.
type Deps struct {
	Events   EventQueue
	Telegram Subscribers
	Alerts   AlertStore
	Sender   Sender
}
