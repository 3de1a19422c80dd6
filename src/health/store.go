package health

import (
	"context"
	"time"

	"gorm.io/gorm"

	"utrader/src/database"
	"utrader/src/model"
)

// DatabaseProbe implements StoreProbe against the main database.
type DatabaseProbe struct {
	db *gorm.DB
}

func NewDatabaseProbe() *DatabaseProbe {
	return &DatabaseProbe{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (p *DatabaseProbe) WithDB(db *gorm.DB) *DatabaseProbe {
	return &DatabaseProbe{db: db}
}

func (p *DatabaseProbe) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (p *DatabaseProbe) Counts(ctx context.Context) (StoreCounts, error) {
	var out StoreCounts

	err := p.db.WithContext(ctx).Model(&model.Order{}).
		Where("side = ? AND status = ? AND paired_sell_order_id IS NULL", model.OrderSideBuy, model.OrderStatusFilled).
		Count(&out.OpenPositions).Error
	if err != nil {
		return out, err
	}

	err = p.db.WithContext(ctx).Model(&model.TradingEvent{}).
		Where("status = ?", model.EventStatusPending).
		Count(&out.PendingEvents).Error
	if err != nil {
		return out, err
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	err = p.db.WithContext(ctx).Model(&model.Signal{}).
		Where("detected_at >= ?", midnight).
		Count(&out.SignalsToday).Error
	return out, err
}
