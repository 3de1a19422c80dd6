package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"utrader/src/database"
	"utrader/src/model"
)

// ApiKeyRepository persists exchange credentials and their per-asset
// trading toggles.
type ApiKeyRepository struct {
	db *gorm.DB
}

func NewApiKeyRepository() *ApiKeyRepository {
	return &ApiKeyRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *ApiKeyRepository) WithDB(db *gorm.DB) *ApiKeyRepository {
	return &ApiKeyRepository{db: db}
}

func (r *ApiKeyRepository) Create(ctx context.Context, key *model.ApiKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "ApiKeyRepository",
			"op":     "Create",
			"userID": key.UserID,
		}).WithError(err).Error("Failed to persist api key")
		return err
	}
	return nil
}

// FindByID returns (nil, nil) when the key does not exist. Toggles are
// preloaded.
func (r *ApiKeyRepository) FindByID(ctx context.Context, id uint) (*model.ApiKey, error) {
	var key model.ApiKey
	err := r.db.WithContext(ctx).
		Preload("Toggles").
		Where("id = ?", id).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// FindActiveAutoTrading returns every key the executor should act for:
// active, auto-trading enabled and not flagged with a connection error.
// Toggles are preloaded so eligibility checks need no further queries.
func (r *ApiKeyRepository) FindActiveAutoTrading(ctx context.Context) ([]model.ApiKey, error) {
	var keys []model.ApiKey
	err := r.db.WithContext(ctx).
		Preload("Toggles").
		Where("active = ? AND auto_trading = ? AND connection_status = ?",
			true, true, model.ConnectionStatusOK).
		Order("id ASC").
		Find(&keys).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ApiKeyRepository",
			"op":   "FindActiveAutoTrading",
		}).WithError(err).Error("Failed to fetch auto-trading keys")
		return nil, err
	}
	return keys, nil
}

// UpdateConnectionStatus flips the key's connection flag. An auth failure
// against the venue sets "error", which takes the key out of rotation
// until a user fixes the credentials.
func (r *ApiKeyRepository) UpdateConnectionStatus(ctx context.Context, id uint, status string) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "ApiKeyRepository",
		"op":     "UpdateConnectionStatus",
		"id":     id,
		"status": status,
	}).Info("Updating api key connection status")

	return r.db.WithContext(ctx).Model(&model.ApiKey{}).
		Where("id = ?", id).
		Update("connection_status", status).Error
}

// SaveToggle inserts or updates one per-asset toggle row.
func (r *ApiKeyRepository) SaveToggle(ctx context.Context, toggle *model.AssetToggle) error {
	return r.db.WithContext(ctx).Save(toggle).Error
}
