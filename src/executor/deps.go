package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"utrader/src/connectors"
	"utrader/src/model"
	"utrader/src/repository"
	"utrader/src/security"
)

// Venue is the slice of the exchange client the executor needs.
type Venue interface {
	GetBalances(ctx context.Context, creds connectors.Credentials) (map[string]connectors.Balance, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	Filters(ctx context.Context, symbol string) (connectors.SymbolFilters, error)
	PlaceMarketOrder(ctx context.Context, creds connectors.Credentials, symbol, side string, quantity decimal.Decimal) (*connectors.OrderResult, error)
	GetTrades(ctx context.Context, creds connectors.Credentials, symbol string, since time.Time) ([]connectors.TradeFill, error)
}

// SignalSource feeds fresh signals into the entry path.
type SignalSource interface {
	FindRecent(ctx context.Context, opts repository.SignalSearchOptions) ([]model.Signal, error)
}

// KeyStore is the slice of the api-key repository the executor needs.
type KeyStore interface {
	FindActiveAutoTrading(ctx context.Context) ([]model.ApiKey, error)
	FindByID(ctx context.Context, id uint) (*model.ApiKey, error)
	UpdateConnectionStatus(ctx context.Context, id uint, status string) error
}

// OrderStore is the slice of the order repository the executor needs.
type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	FindAllOpenPositions(ctx context.Context) ([]model.Order, error)
	FindOpenPositions(ctx context.Context, apiKeyID uint) ([]model.Order, error)
	HasOrderForSignal(ctx context.Context, apiKeyID, signalID uint) (bool, error)
	FindByVenueOrderID(ctx context.Context, apiKeyID uint, venueOrderID int64) (*model.Order, error)
	CloseWithSell(ctx context.Context, buy *model.Order, sell *model.Order) error
	LatestExecutionTime(ctx context.Context, apiKeyID uint, symbol string) (*time.Time, error)
}

// EventQueue enqueues rows for the telegram fan-out.
type EventQueue interface {
	Enqueue(ctx context.Context, kind string, payload model.EventPayload) (*model.TradingEvent, error)
}

// AlertStore records user-visible alerts.
type AlertStore interface {
	Create(ctx context.Context, alert *model.Alert) error
}

// Deps bundles the executor's collaborators.
type Deps struct {
	Venue   Venue
	Signals SignalSource
	Keys    KeyStore
	Orders  OrderStore
	Events  EventQueue
	Alerts  AlertStore
}

// decryptCredential is a seam for tests; production uses the security
// package directly.
var decryptCredential = security.DecryptString
