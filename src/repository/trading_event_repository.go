package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"utrader/src/database"
	"utrader/src/model"
)

// TradingEventRepository is the durable delivery queue between the trading
// pipeline and the telegram fan-out.
type TradingEventRepository struct {
	db *gorm.DB
}

func NewTradingEventRepository() *TradingEventRepository {
	return &TradingEventRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *TradingEventRepository) WithDB(db *gorm.DB) *TradingEventRepository {
	return &TradingEventRepository{db: db}
}

// Enqueue stores one event as PENDING.
func (r *TradingEventRepository) Enqueue(ctx context.Context, kind string, payload model.EventPayload) (*model.TradingEvent, error) {
	encoded, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	event := model.TradingEvent{
		Kind:    kind,
		Payload: encoded,
		Status:  model.EventStatusPending,
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "TradingEventRepository",
		"op":     "Enqueue",
		"kind":   kind,
		"symbol": payload.Symbol,
	}).Debug("Enqueueing trading event")

	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradingEventRepository",
			"op":   "Enqueue",
			"kind": kind,
		}).WithError(err).Error("Failed to enqueue trading event")
		return nil, err
	}
	return &event, nil
}

// FindPending returns queued events oldest first.
func (r *TradingEventRepository) FindPending(ctx context.Context, limit int) ([]model.TradingEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var events []model.TradingEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.EventStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradingEventRepository",
			"op":   "FindPending",
		}).WithError(err).Error("Failed to fetch pending events")
		return nil, err
	}
	return events, nil
}

// MarkSent flips the given events to SENT in one statement. note is a
// delivery diagnostic (e.g. "delivered to 12 chats") kept in the error
// column for operators.
func (r *TradingEventRepository) MarkSent(ctx context.Context, ids []uint, note string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.TradingEvent{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":       model.EventStatusSent,
			"error":        note,
			"processed_at": now,
		}).Error
}

// MarkFailed records a delivery failure. The row stays FAILED; the queue
// never redelivers it automatically.
func (r *TradingEventRepository) MarkFailed(ctx context.Context, id uint, cause string) error {
	logger.WithFields(map[string]interface{}{
		"repo":  "TradingEventRepository",
		"op":    "MarkFailed",
		"id":    id,
		"cause": cause,
	}).Warn("Marking trading event failed")

	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.TradingEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.EventStatusFailed,
			"error":        cause,
			"processed_at": now,
		}).Error
}

// FindRecent lists events newest first, optionally filtered by status.
func (r *TradingEventRepository) FindRecent(ctx context.Context, status string, limit int) ([]model.TradingEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Model(&model.TradingEvent{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var events []model.TradingEvent
	if err := query.Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
