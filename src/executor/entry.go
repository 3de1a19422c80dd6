package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"utrader/src/assets"
	"utrader/src/connectors"
	"utrader/src/model"
	"utrader/src/repository"
	"utrader/src/risk"
)

// Entry turns fresh signals into market BUY orders, one decision per
// (signal, api key) pair. Every skip reason is deliberate and logged; the
// HasOrderForSignal check makes the whole path idempotent across restarts
// and overlapping polls.
type Entry struct {
	deps Deps
	cfg  Config
}

func NewEntry(deps Deps) *Entry {
	return &Entry{deps: deps, cfg: GetConfig()}
}

// ProcessSignals runs one entry pass over all recent signals.
func (e *Entry) ProcessSignals(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-e.cfg.SignalMaxAge)
	signals, err := e.deps.Signals.FindRecent(ctx, repository.SignalSearchOptions{
		DetectedAfter: &cutoff,
	})
	if err != nil {
		logger.WithError(err).Error("[executor] failed to load recent signals")
		return
	}
	if len(signals) == 0 {
		return
	}

	keys, err := e.deps.Keys.FindActiveAutoTrading(ctx)
	if err != nil {
		logger.WithError(err).Error("[executor] failed to load api keys")
		return
	}

	for i := range signals {
		for k := range keys {
			e.processForKey(ctx, &signals[i], &keys[k])
		}
	}
}

func (e *Entry) processForKey(ctx context.Context, signal *model.Signal, key *model.ApiKey) {
	log := logger.WithFields(map[string]interface{}{
		"signalID": signal.ID,
		"apiKeyID": key.ID,
		"symbol":   signal.Symbol,
	})

	cryptoTag := assets.TagForSymbol(signal.Symbol)
	toggle := key.ToggleFor(cryptoTag)
	if toggle == nil || !toggle.Enabled {
		return
	}

	acted, err := e.deps.Orders.HasOrderForSignal(ctx, key.ID, signal.ID)
	if err != nil {
		log.WithError(err).Error("[executor] idempotence check failed")
		return
	}
	if acted {
		return
	}

	open, err := e.deps.Orders.FindOpenPositions(ctx, key.ID)
	if err != nil {
		log.WithError(err).Error("[executor] open position lookup failed")
		return
	}
	for i := range open {
		if open[i].Symbol == signal.Symbol {
			log.WithField("orderID", open[i].ID).Info("[executor] position already open on symbol, skipping")
			return
		}
	}
	if len(open) >= key.MaxConcurrentPositions {
		log.WithField("open", len(open)).Info("[executor] concurrent position limit reached, skipping")
		return
	}

	creds, ok := e.credentials(ctx, key)
	if !ok {
		return
	}

	balances, err := e.deps.Venue.GetBalances(ctx, *creds)
	if err != nil {
		e.handleVenueError(ctx, key, signal.Symbol, &signal.ID, err, "balance check")
		return
	}
	free := balances[e.cfg.QuoteAsset].Free

	allocated := decimal.NewFromFloat(toggle.AllocatedQuote)
	if e.cfg.MaxPositionSize > 0 {
		allocated = decimal.Min(allocated, decimal.NewFromFloat(e.cfg.MaxPositionSize))
	}
	budgetDec := risk.PositionBudget(
		allocated,
		decimal.NewFromFloat(free),
		decimal.NewFromFloat(key.RiskPct),
	)
	if !budgetDec.IsPositive() {
		e.raiseUserAlert(ctx, key, model.AlertKindWarn, cryptoTag, signal.Symbol, &signal.ID,
			fmt.Sprintf("Skipped %s entry: no free %s balance", signal.Symbol, e.cfg.QuoteAsset))
		return
	}
	budget := budgetDec.InexactFloat64()

	price, err := e.deps.Venue.GetPrice(ctx, signal.Symbol)
	if err != nil {
		log.WithError(err).Warn("[executor] live price unavailable, using signal entry price")
		price = signal.EntryPrice
	}
	if price <= 0 {
		log.Error("[executor] no usable price, skipping")
		return
	}

	filters, err := e.deps.Venue.Filters(ctx, signal.Symbol)
	if err != nil {
		log.WithError(err).Error("[executor] filters unavailable")
		return
	}

	priceDec := decimal.NewFromFloat(price)
	rawQty := budgetDec.Div(priceDec)
	qty, err := connectors.RoundQuantity(rawQty, priceDec, filters)
	if err != nil {
		if errors.Is(err, connectors.ErrMinNotional) {
			e.raiseUserAlert(ctx, key, model.AlertKindWarn, cryptoTag, signal.Symbol, &signal.ID,
				fmt.Sprintf("Skipped %s entry: budget %.2f %s is below the venue minimum",
					signal.Symbol, budget, e.cfg.QuoteAsset))
			return
		}
		log.WithError(err).Error("[executor] quantity rounding failed")
		return
	}

	result, err := e.deps.Venue.PlaceMarketOrder(ctx, *creds, signal.Symbol, model.OrderSideBuy, qty)
	if err != nil {
		if connectors.IsInsufficientBalance(err) {
			e.raiseUserAlert(ctx, key, model.AlertKindWarn, cryptoTag, signal.Symbol, &signal.ID,
				fmt.Sprintf("%s entry rejected: insufficient balance on the venue", signal.Symbol))
			return
		}

		var rejected *connectors.RejectedError
		if errors.As(err, &rejected) {
			e.recordRejection(ctx, signal, key, qty, rejected)
			return
		}

		e.handleVenueError(ctx, key, signal.Symbol, &signal.ID, err, "order placement")
		return
	}

	executedAt := result.TransactTime
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	tpLevel := result.AvgFillPrice * (1 + toggle.TakeProfit)
	slLevel := result.AvgFillPrice * (1 - toggle.StopLoss)

	order := &model.Order{
		UserID:          key.UserID,
		ApiKeyID:        key.ID,
		SignalID:        &signal.ID,
		Symbol:          signal.Symbol,
		Side:            model.OrderSideBuy,
		OrderType:       model.OrderTypeMarket,
		RequestedQty:    qty.InexactFloat64(),
		Status:          model.OrderStatusFilled,
		VenueOrderID:    &result.VenueOrderID,
		FilledQty:       result.ExecutedQty,
		AvgFillPrice:    result.AvgFillPrice,
		Commission:      result.Commission,
		CommissionAsset: result.CommissionAsset,
		TakeProfitLevel: &tpLevel,
		StopLossLevel:   &slLevel,
		Reason:          model.OrderReasonUPattern,
		ExecutedAt:      &executedAt,
	}
	if err := e.deps.Orders.Create(ctx, order); err != nil {
		log.WithError(err).Error("[executor] failed to persist filled order")
		return
	}

	log.WithFields(map[string]interface{}{
		"orderID": order.ID,
		"qty":     order.FilledQty,
		"price":   order.AvgFillPrice,
	}).Info("[executor] position opened")

	_, err = e.deps.Events.Enqueue(ctx, model.EventKindOrderFilledBuy, model.EventPayload{
		OrderID:   order.ID,
		UserID:    key.UserID,
		Symbol:    order.Symbol,
		CryptoTag: cryptoTag,
		Side:      order.Side,
		Quantity:  order.FilledQty,
		Price:     order.AvgFillPrice,
		Reason:    order.Reason,
	})
	if err != nil {
		log.WithError(err).Error("[executor] failed to enqueue fill event")
	}
}

// credentials decrypts the key material; a decryption failure flags the
// key so it stops being selected.
func (e *Entry) credentials(ctx context.Context, key *model.ApiKey) (*connectors.Credentials, bool) {
	apiKey, err := decryptCredential(key.EncryptedKey)
	if err == nil {
		var secret string
		secret, err = decryptCredential(key.EncryptedSecret)
		if err == nil {
			return &connectors.Credentials{Key: apiKey, Secret: secret, Testnet: key.Testnet}, true
		}
	}

	logger.WithField("apiKeyID", key.ID).WithError(err).Error("[executor] credential decryption failed")
	if updateErr := e.deps.Keys.UpdateConnectionStatus(ctx, key.ID, model.ConnectionStatusError); updateErr != nil {
		logger.WithError(updateErr).Error("[executor] failed to flag api key")
	}
	return nil, false
}

// handleVenueError maps venue failures onto key state: auth errors park
// the key, anything else is logged and retried on a later signal.
func (e *Entry) handleVenueError(ctx context.Context, key *model.ApiKey, symbol string, signalID *uint, err error, stage string) {
	log := logger.WithFields(map[string]interface{}{
		"apiKeyID": key.ID,
		"symbol":   symbol,
		"stage":    stage,
	})

	if errors.Is(err, connectors.ErrAuth) {
		log.WithError(err).Warn("[executor] auth failure, parking api key")
		if updateErr := e.deps.Keys.UpdateConnectionStatus(ctx, key.ID, model.ConnectionStatusError); updateErr != nil {
			log.WithError(updateErr).Error("[executor] failed to flag api key")
		}
		e.raiseUserAlert(ctx, key, model.AlertKindError, assets.TagForSymbol(symbol), symbol, signalID,
			"Exchange rejected your API credentials; trading for this key is paused")
		return
	}

	log.WithError(err).Error("[executor] venue call failed")
}

func (e *Entry) recordRejection(ctx context.Context, signal *model.Signal, key *model.ApiKey, qty decimal.Decimal, rejected *connectors.RejectedError) {
	order := &model.Order{
		UserID:       key.UserID,
		ApiKeyID:     key.ID,
		SignalID:     &signal.ID,
		Symbol:       signal.Symbol,
		Side:         model.OrderSideBuy,
		OrderType:    model.OrderTypeMarket,
		RequestedQty: qty.InexactFloat64(),
		Status:       model.OrderStatusRejected,
		Reason:       model.OrderReasonUPattern,
	}
	if err := e.deps.Orders.Create(ctx, order); err != nil {
		logger.WithError(err).Error("[executor] failed to persist rejected order")
	}

	e.raiseUserAlert(ctx, key, model.AlertKindError, assets.TagForSymbol(signal.Symbol), signal.Symbol, &signal.ID,
		fmt.Sprintf("%s entry rejected by the venue: %s", signal.Symbol, rejected.Msg))
}

func (e *Entry) raiseUserAlert(ctx context.Context, key *model.ApiKey, kind, cryptoTag, symbol string, signalID *uint, message string) {
	alert := &model.Alert{
		SignalID:  signalID,
		Kind:      kind,
		Symbol:    symbol,
		CryptoTag: cryptoTag,
		Message:   message,
		UserScope: model.AlertScopeSpecificUsers,
		UserID:    &key.UserID,
	}
	if err := e.deps.Alerts.Create(ctx, alert); err != nil {
		logger.WithError(err).Error("[executor] failed to persist alert")
	}
}
