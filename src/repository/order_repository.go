package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"utrader/src/database"
	"utrader/src/model"
)

// OrderRepository persists venue orders and the buy/sell pairing that
// defines what an open position is.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "Create",
		"symbol": order.Symbol,
		"side":   order.Side,
		"reason": order.Reason,
	}).Debug("Persisting order")

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "Create",
			"symbol": order.Symbol,
		}).WithError(err).Error("Failed to persist order")
		return err
	}
	return nil
}

func (r *OrderRepository) Save(ctx context.Context, order *model.Order) error {
	if err := r.db.WithContext(ctx).Save(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Save",
			"id":   order.ID,
		}).WithError(err).Error("Failed to save order")
		return err
	}
	return nil
}

// FindByID returns (nil, nil) when the order does not exist.
func (r *OrderRepository) FindByID(ctx context.Context, id uint) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// FindByVenueOrderID looks an order up by the id the venue assigned.
// Reconciliation uses it to decide whether a trade is already known.
func (r *OrderRepository) FindByVenueOrderID(ctx context.Context, apiKeyID uint, venueOrderID int64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("api_key_id = ? AND venue_order_id = ?", apiKeyID, venueOrderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// FindOpenPositions returns the filled BUY orders of one api key that have
// no paired SELL yet, oldest first.
func (r *OrderRepository) FindOpenPositions(ctx context.Context, apiKeyID uint) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("api_key_id = ? AND side = ? AND status = ? AND paired_sell_order_id IS NULL",
			apiKeyID, model.OrderSideBuy, model.OrderStatusFilled).
		Order("executed_at ASC, id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "FindOpenPositions",
			"apiKeyID": apiKeyID,
		}).WithError(err).Error("Failed to fetch open positions")
		return nil, err
	}
	return orders, nil
}

// FindAllOpenPositions returns every open position across all api keys.
// The exit monitor walks this list on each pass.
func (r *OrderRepository) FindAllOpenPositions(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("side = ? AND status = ? AND paired_sell_order_id IS NULL",
			model.OrderSideBuy, model.OrderStatusFilled).
		Order("executed_at ASC, id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithField("repo", "OrderRepository").
			WithError(err).Error("Failed to fetch open positions")
		return nil, err
	}
	return orders, nil
}

// CountOpenPositions counts the open positions of one api key, used to
// enforce the concurrent-position limit before a new entry.
func (r *OrderRepository) CountOpenPositions(ctx context.Context, apiKeyID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("api_key_id = ? AND side = ? AND status = ? AND paired_sell_order_id IS NULL",
			apiKeyID, model.OrderSideBuy, model.OrderStatusFilled).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// HasOrderForSignal reports whether this api key already acted on the
// signal. Makes entry execution idempotent across restarts.
func (r *OrderRepository) HasOrderForSignal(ctx context.Context, apiKeyID, signalID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("api_key_id = ? AND signal_id = ?", apiKeyID, signalID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CloseWithSell atomically records the SELL that closes a position: the
// sell row is created and the buy row is pointed at it and marked
// COMPLETED, in one transaction. The buy's PnL columns are filled from the
// sell fill.
func (r *OrderRepository) CloseWithSell(ctx context.Context, buy *model.Order, sell *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "CloseWithSell",
		"buyID":  buy.ID,
		"symbol": buy.Symbol,
		"reason": sell.Reason,
	}).Info("Closing position")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sell).Error; err != nil {
			return err
		}

		pnlQuote, pnlPct := positionPnl(buy, sell)
		buy.PairedSellOrderID = &sell.ID
		buy.Status = model.OrderStatusCompleted
		buy.PnlQuote = &pnlQuote
		buy.PnlPct = &pnlPct

		return tx.Save(buy).Error
	})
}

// positionPnl nets the round trip: sell proceeds minus buy cost minus the
// commissions that were charged in the quote asset. pct is a fraction of
// the buy cost, not a percentage.
func positionPnl(buy, sell *model.Order) (quote float64, pct float64) {
	quote = sell.FilledQty*sell.AvgFillPrice - buy.FilledQty*buy.AvgFillPrice
	quote -= quoteCommission(buy) + quoteCommission(sell)
	cost := buy.FilledQty * buy.AvgFillPrice
	if cost > 0 {
		pct = quote / cost
	}
	return quote, pct
}

// quoteCommission returns the order's fee when it was charged in the quote
// asset (the symbol's suffix). Fees taken in other assets (BNB discounts,
// base-asset fees on buys) are not folded into the quote PnL.
func quoteCommission(o *model.Order) float64 {
	if o.Commission > 0 && o.CommissionAsset != "" && strings.HasSuffix(o.Symbol, o.CommissionAsset) {
		return o.Commission
	}
	return 0
}

// LatestExecutionTime returns the newest executed_at among this key's
// orders for a symbol. Reconciliation polls trades after this cursor.
func (r *OrderRepository) LatestExecutionTime(ctx context.Context, apiKeyID uint, symbol string) (*time.Time, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("api_key_id = ? AND symbol = ? AND executed_at IS NOT NULL", apiKeyID, symbol).
		Order("executed_at DESC").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return order.ExecutedAt, nil
}

// OrderSearchOptions narrows Search. Nil/zero values mean "no filter".
type OrderSearchOptions struct {
	UserID        uint
	ApiKeyID      *uint
	Symbol        *string
	Status        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Search lists orders newest first with optional filters and pagination.
func (r *OrderRepository) Search(ctx context.Context, opts OrderSearchOptions) ([]model.Order, error) {
	query := r.db.WithContext(ctx).Model(&model.Order{})

	if opts.UserID != 0 {
		query = query.Where("user_id = ?", opts.UserID)
	}
	if opts.ApiKeyID != nil {
		query = query.Where("api_key_id = ?", *opts.ApiKeyID)
	}
	if opts.Symbol != nil {
		query = query.Where("symbol = ?", *opts.Symbol)
	}
	if opts.Status != nil {
		query = query.Where("status = ?", *opts.Status)
	}
	if opts.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *opts.CreatedAfter)
	}
	if opts.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *opts.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var orders []model.Order
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search orders")
		return nil, err
	}
	return orders, nil
}
