package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"utrader/src/database"
	"utrader/src/model"
)

// SignalRepository persists breakout signals. Signal rows are append-only;
// there is no update path.
type SignalRepository struct {
	db *gorm.DB
}

func NewSignalRepository() *SignalRepository {
	return &SignalRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *SignalRepository) WithDB(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

func (r *SignalRepository) Create(ctx context.Context, signal *model.Signal) error {
	logger.WithFields(map[string]interface{}{
		"repo":      "SignalRepository",
		"op":        "Create",
		"symbol":    signal.Symbol,
		"timeframe": signal.Timeframe,
	}).Debug("Persisting signal")

	if err := r.db.WithContext(ctx).Create(signal).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "SignalRepository",
			"op":     "Create",
			"symbol": signal.Symbol,
		}).WithError(err).Error("Failed to persist signal")
		return err
	}
	return nil
}

// FindLatest returns the most recent signal for the pair, or (nil, nil)
// when none exists yet. The scanner uses it to enforce the cooldown.
func (r *SignalRepository) FindLatest(ctx context.Context, symbol, timeframe string) (*model.Signal, error) {
	var signal model.Signal

	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("detected_at DESC").
		First(&signal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "FindLatest",
			"symbol":    symbol,
			"timeframe": timeframe,
		}).WithError(err).Error("Failed to fetch latest signal")
		return nil, err
	}
	return &signal, nil
}

// SignalSearchOptions narrows FindRecent. Zero values mean "no filter".
type SignalSearchOptions struct {
	Symbol        string
	Timeframe     string
	DetectedAfter *time.Time
	Limit         int
}

// FindRecent lists signals newest first.
func (r *SignalRepository) FindRecent(ctx context.Context, opts SignalSearchOptions) ([]model.Signal, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	query := r.db.WithContext(ctx).Model(&model.Signal{})
	if opts.Symbol != "" {
		query = query.Where("symbol = ?", opts.Symbol)
	}
	if opts.Timeframe != "" {
		query = query.Where("timeframe = ?", opts.Timeframe)
	}
	if opts.DetectedAfter != nil {
		query = query.Where("detected_at >= ?", *opts.DetectedAfter)
	}

	var signals []model.Signal
	err := query.Order("detected_at DESC, id DESC").Limit(opts.Limit).Find(&signals).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SignalRepository",
			"op":   "FindRecent",
		}).WithError(err).Error("Failed to search signals")
		return nil, err
	}
	return signals, nil
}
