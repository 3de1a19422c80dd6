package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"utrader/src/assets"
	"utrader/src/connectors"
	"utrader/src/model"
)

// ExitMonitor watches open positions and closes them on take-profit,
// stop-loss or maximum holding time. Prices come from the websocket
// ticker when fresh, with REST as the authoritative fallback.
type ExitMonitor struct {
	deps Deps
	cfg  Config

	mu     sync.Mutex
	prices map[string]pricePoint
}

type pricePoint struct {
	price float64
	at    time.Time
}

func NewExitMonitor(deps Deps) *ExitMonitor {
	return &ExitMonitor{
		deps:   deps,
		cfg:    GetConfig(),
		prices: make(map[string]pricePoint),
	}
}

// ApplyTick feeds one websocket price update into the cache.
func (m *ExitMonitor) ApplyTick(tick connectors.PriceTick) {
	m.mu.Lock()
	m.prices[tick.Symbol] = pricePoint{price: tick.Price, at: tick.At}
	m.mu.Unlock()
}

// currentPrice prefers a fresh websocket tick and falls back to REST.
func (m *ExitMonitor) currentPrice(ctx context.Context, symbol string, now time.Time) (float64, error) {
	m.mu.Lock()
	point, ok := m.prices[symbol]
	m.mu.Unlock()

	if ok && now.Sub(point.at) <= m.cfg.PriceStaleAfter {
		return point.price, nil
	}
	return m.deps.Venue.GetPrice(ctx, symbol)
}

// CheckPositions runs one exit pass over every open position.
func (m *ExitMonitor) CheckPositions(ctx context.Context) {
	positions, err := m.deps.Orders.FindAllOpenPositions(ctx)
	if err != nil {
		logger.WithError(err).Error("[exits] failed to load open positions")
		return
	}

	now := time.Now().UTC()
	keyCache := make(map[uint]*model.ApiKey)

	for i := range positions {
		position := &positions[i]

		key, ok := keyCache[position.ApiKeyID]
		if !ok {
			key, err = m.deps.Keys.FindByID(ctx, position.ApiKeyID)
			if err != nil || key == nil {
				logger.WithFields(map[string]interface{}{
					"orderID":  position.ID,
					"apiKeyID": position.ApiKeyID,
				}).WithError(err).Error("[exits] api key lookup failed")
				continue
			}
			keyCache[position.ApiKeyID] = key
		}

		reason := m.exitReason(ctx, position, key, now)
		if reason == "" {
			continue
		}
		m.closePosition(ctx, position, key, reason)
	}
}

// exitReason decides whether the position must close now and why.
// Priority: stop-loss, then take-profit, then max hold.
func (m *ExitMonitor) exitReason(ctx context.Context, position *model.Order, key *model.ApiKey, now time.Time) string {
	price, err := m.currentPrice(ctx, position.Symbol, now)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"orderID": position.ID,
			"symbol":  position.Symbol,
		}).WithError(err).Warn("[exits] price unavailable, skipping position this pass")
		return ""
	}

	if position.StopLossLevel != nil && price <= *position.StopLossLevel {
		return model.OrderReasonStopLoss
	}
	if position.TakeProfitLevel != nil && price >= *position.TakeProfitLevel {
		return model.OrderReasonTakeProfit
	}

	if position.ExecutedAt != nil {
		toggle := key.ToggleFor(assets.TagForSymbol(position.Symbol))
		if toggle != nil && toggle.MaxHoldMinutes > 0 &&
			now.Sub(*position.ExecutedAt) >= toggle.MaxHold() {
			return model.OrderReasonMaxHold
		}
	}
	return ""
}

func (m *ExitMonitor) closePosition(ctx context.Context, position *model.Order, key *model.ApiKey, reason string) {
	log := logger.WithFields(map[string]interface{}{
		"orderID": position.ID,
		"symbol":  position.Symbol,
		"reason":  reason,
	})

	entry := Entry{deps: m.deps, cfg: m.cfg}
	creds, ok := entry.credentials(ctx, key)
	if !ok {
		return
	}

	filters, err := m.deps.Venue.Filters(ctx, position.Symbol)
	if err != nil {
		log.WithError(err).Error("[exits] filters unavailable")
		return
	}

	price, err := m.currentPrice(ctx, position.Symbol, time.Now().UTC())
	if err != nil {
		log.WithError(err).Warn("[exits] price unavailable for rounding, using entry fill price")
		price = position.AvgFillPrice
	}

	qty, err := connectors.RoundQuantity(
		decimal.NewFromFloat(position.FilledQty),
		decimal.NewFromFloat(price),
		filters,
	)
	if err != nil {
		log.WithError(err).Error("[exits] cannot round position quantity, manual intervention needed")
		return
	}

	result, err := m.deps.Venue.PlaceMarketOrder(ctx, *creds, position.Symbol, model.OrderSideSell, qty)
	if err != nil {
		entry.handleVenueError(ctx, key, position.Symbol, position.SignalID, err, "exit order")
		return
	}

	executedAt := result.TransactTime
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	sell := &model.Order{
		UserID:          key.UserID,
		ApiKeyID:        key.ID,
		SignalID:        position.SignalID,
		Symbol:          position.Symbol,
		Side:            model.OrderSideSell,
		OrderType:       model.OrderTypeMarket,
		RequestedQty:    qty.InexactFloat64(),
		Status:          model.OrderStatusFilled,
		VenueOrderID:    &result.VenueOrderID,
		FilledQty:       result.ExecutedQty,
		AvgFillPrice:    result.AvgFillPrice,
		Commission:      result.Commission,
		CommissionAsset: result.CommissionAsset,
		Reason:          reason,
		ExecutedAt:      &executedAt,
	}

	if err := m.deps.Orders.CloseWithSell(ctx, position, sell); err != nil {
		log.WithError(err).Error("[exits] failed to persist close")
		return
	}

	log.WithFields(map[string]interface{}{
		"sellID": sell.ID,
		"pnl":    derefFloat(position.PnlQuote),
	}).Info("[exits] position closed")

	payload := model.EventPayload{
		OrderID:   sell.ID,
		UserID:    key.UserID,
		Symbol:    sell.Symbol,
		CryptoTag: assets.TagForSymbol(sell.Symbol),
		Side:      sell.Side,
		Quantity:  sell.FilledQty,
		Price:     sell.AvgFillPrice,
		PnlQuote:  derefFloat(position.PnlQuote),
		PnlPct:    derefFloat(position.PnlPct),
		Reason:    reason,
		Message: fmt.Sprintf("Closed %s (%s): %.6f @ %.4f",
			sell.Symbol, reason, sell.FilledQty, sell.AvgFillPrice),
	}
	if _, err := m.deps.Events.Enqueue(ctx, model.EventKindOrderFilledSell, payload); err != nil {
		log.WithError(err).Error("[exits] failed to enqueue close event")
	}
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
