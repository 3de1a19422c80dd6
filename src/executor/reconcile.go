package executor

import (
	"context"
	"sort"
	"time"

	logger "github.com/sirupsen/logrus"

	"utrader/src/assets"
	"utrader/src/connectors"
	"utrader/src/model"
)

// Reconciler pulls the account's trade history from the venue and folds in
// anything the system did not place itself: manual sells from the exchange
// app, fills that landed while the service was down. Known venue order ids
// are skipped, so running a pass twice changes nothing.
type Reconciler struct {
	deps Deps
	cfg  Config
}

func NewReconciler(deps Deps) *Reconciler {
	return &Reconciler{deps: deps, cfg: GetConfig()}
}

// Run executes one reconciliation pass over every active key and every
// asset that key trades.
func (r *Reconciler) Run(ctx context.Context) {
	keys, err := r.deps.Keys.FindActiveAutoTrading(ctx)
	if err != nil {
		logger.WithError(err).Error("[reconcile] failed to load api keys")
		return
	}

	entry := Entry{deps: r.deps, cfg: r.cfg}
	for k := range keys {
		key := &keys[k]

		creds, ok := entry.credentials(ctx, key)
		if !ok {
			continue
		}

		for _, toggle := range key.Toggles {
			if !toggle.Enabled {
				continue
			}
			info, err := assets.ByTag(assets.Asset(toggle.CryptoTag))
			if err != nil {
				continue
			}
			r.reconcileSymbol(ctx, key, creds, info.Symbol)
		}
	}
}

func (r *Reconciler) reconcileSymbol(ctx context.Context, key *model.ApiKey, creds *connectors.Credentials, symbol string) {
	log := logger.WithFields(map[string]interface{}{
		"apiKeyID": key.ID,
		"symbol":   symbol,
	})

	since, err := r.deps.Orders.LatestExecutionTime(ctx, key.ID, symbol)
	if err != nil {
		log.WithError(err).Error("[reconcile] cursor lookup failed")
		return
	}
	from := time.Now().UTC().Add(-r.cfg.ReconcileLookback)
	if since != nil && since.After(from) {
		from = *since
	}

	fills, err := r.deps.Venue.GetTrades(ctx, *creds, symbol, from)
	if err != nil {
		entry := Entry{deps: r.deps, cfg: r.cfg}
		entry.handleVenueError(ctx, key, symbol, nil, err, "trade history")
		return
	}
	if len(fills) == 0 {
		return
	}

	for _, group := range groupFillsByOrder(fills) {
		known, err := r.deps.Orders.FindByVenueOrderID(ctx, key.ID, group.venueOrderID)
		if err != nil {
			log.WithError(err).Error("[reconcile] venue order lookup failed")
			continue
		}
		if known != nil {
			continue
		}
		r.recordExternal(ctx, key, symbol, group)
	}
}

type fillGroup struct {
	venueOrderID    int64
	isBuyer         bool
	qty             float64
	quoteQty        float64
	commission      float64
	commissionAsset string
	lastTime        time.Time
}

// groupFillsByOrder aggregates per-trade fills into one entry per venue
// order, oldest order first.
func groupFillsByOrder(fills []connectors.TradeFill) []fillGroup {
	byOrder := make(map[int64]*fillGroup)
	for _, fill := range fills {
		group, ok := byOrder[fill.VenueOrderID]
		if !ok {
			group = &fillGroup{venueOrderID: fill.VenueOrderID, isBuyer: fill.IsBuyer}
			byOrder[fill.VenueOrderID] = group
		}
		group.qty += fill.Qty
		group.quoteQty += fill.QuoteQty
		group.commission += fill.Commission
		group.commissionAsset = fill.CommissionAsset
		if fill.Time.After(group.lastTime) {
			group.lastTime = fill.Time
		}
	}

	groups := make([]fillGroup, 0, len(byOrder))
	for _, group := range byOrder {
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].lastTime.Before(groups[j].lastTime) })
	return groups
}

// recordExternal persists a synthetic order for a fill the system never
// placed. An external SELL also closes the oldest matching open position.
func (r *Reconciler) recordExternal(ctx context.Context, key *model.ApiKey, symbol string, group fillGroup) {
	side := model.OrderSideSell
	if group.isBuyer {
		side = model.OrderSideBuy
	}

	avgPrice := 0.0
	if group.qty > 0 {
		avgPrice = group.quoteQty / group.qty
	}
	executedAt := group.lastTime

	external := &model.Order{
		UserID:          key.UserID,
		ApiKeyID:        key.ID,
		Symbol:          symbol,
		Side:            side,
		OrderType:       model.OrderTypeMarket,
		RequestedQty:    group.qty,
		Status:          model.OrderStatusFilled,
		VenueOrderID:    &group.venueOrderID,
		FilledQty:       group.qty,
		AvgFillPrice:    avgPrice,
		Commission:      group.commission,
		CommissionAsset: group.commissionAsset,
		Reason:          model.OrderReasonExternal,
		ExecutedAt:      &executedAt,
	}

	log := logger.WithFields(map[string]interface{}{
		"apiKeyID":     key.ID,
		"symbol":       symbol,
		"side":         side,
		"venueOrderID": group.venueOrderID,
	})

	if side == model.OrderSideSell {
		if buy := r.matchOpenPosition(ctx, key.ID, symbol, group.qty); buy != nil {
			if err := r.deps.Orders.CloseWithSell(ctx, buy, external); err != nil {
				log.WithError(err).Error("[reconcile] failed to close position with external sell")
				return
			}
			log.WithField("buyID", buy.ID).Info("[reconcile] external sell closed a position")
			r.enqueueExternalEvent(ctx, key, external, buy)
			return
		}
	}

	if err := r.deps.Orders.Create(ctx, external); err != nil {
		log.WithError(err).Error("[reconcile] failed to persist external order")
		return
	}
	log.Info("[reconcile] external order recorded")
	r.enqueueExternalEvent(ctx, key, external, nil)
}

// matchOpenPosition finds the oldest open position on the symbol whose
// quantity the external sell covers (within one part in a thousand, to
// absorb commission dust).
func (r *Reconciler) matchOpenPosition(ctx context.Context, apiKeyID uint, symbol string, sellQty float64) *model.Order {
	positions, err := r.deps.Orders.FindOpenPositions(ctx, apiKeyID)
	if err != nil {
		logger.WithError(err).Error("[reconcile] open position lookup failed")
		return nil
	}
	for i := range positions {
		if positions[i].Symbol != symbol {
			continue
		}
		if sellQty >= positions[i].FilledQty*0.999 {
			return &positions[i]
		}
	}
	return nil
}

func (r *Reconciler) enqueueExternalEvent(ctx context.Context, key *model.ApiKey, order *model.Order, closedBuy *model.Order) {
	kind := model.EventKindOrderFilledSell
	if order.Side == model.OrderSideBuy {
		kind = model.EventKindOrderFilledBuy
	}

	payload := model.EventPayload{
		OrderID:   order.ID,
		UserID:    key.UserID,
		Symbol:    order.Symbol,
		CryptoTag: assets.TagForSymbol(order.Symbol),
		Side:      order.Side,
		Quantity:  order.FilledQty,
		Price:     order.AvgFillPrice,
		Reason:    model.OrderReasonExternal,
	}
	if closedBuy != nil {
		payload.PnlQuote = derefFloat(closedBuy.PnlQuote)
		payload.PnlPct = derefFloat(closedBuy.PnlPct)
	}

	if _, err := r.deps.Events.Enqueue(ctx, kind, payload); err != nil {
		logger.WithError(err).Error("[reconcile] failed to enqueue external fill event")
	}
}
