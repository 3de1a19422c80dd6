package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"utrader/src/database"
	"utrader/src/model"
)

// AlertRepository persists the user-visible alert feed.
type AlertRepository struct {
	db *gorm.DB
}

func NewAlertRepository() *AlertRepository {
	return &AlertRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *AlertRepository) WithDB(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, alert *model.Alert) error {
	if err := r.db.WithContext(ctx).Create(alert).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AlertRepository",
			"op":   "Create",
			"kind": alert.Kind,
		}).WithError(err).Error("Failed to persist alert")
		return err
	}
	return nil
}

// MarkDelivered flags the alert after the fan-out pushed it out.
func (r *AlertRepository) MarkDelivered(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&model.Alert{}).
		Where("id = ?", id).
		Update("delivered", true).Error
}

// MarkDeliveredBySignal flags every alert raised for the given signal.
// Used by the fan-out once the signal's event went out.
func (r *AlertRepository) MarkDeliveredBySignal(ctx context.Context, signalID uint) error {
	return r.db.WithContext(ctx).Model(&model.Alert{}).
		Where("signal_id = ?", signalID).
		Update("delivered", true).Error
}

// FindRecent lists alerts newest first, optionally filtered by asset tag.
func (r *AlertRepository) FindRecent(ctx context.Context, cryptoTag string, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Model(&model.Alert{})
	if cryptoTag != "" {
		query = query.Where("crypto_tag = ?", cryptoTag)
	}

	var alerts []model.Alert
	if err := query.Order("id DESC").Limit(limit).Find(&alerts).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AlertRepository",
			"op":   "FindRecent",
		}).WithError(err).Error("Failed to fetch alerts")
		return nil, err
	}
	return alerts, nil
}
