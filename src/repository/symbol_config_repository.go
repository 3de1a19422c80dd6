package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"utrader/src/database"
	"utrader/src/model"
)

// SymbolConfigRepository persists per-scanner configuration rows.
type SymbolConfigRepository struct {
	db *gorm.DB
}

func NewSymbolConfigRepository() *SymbolConfigRepository {
	return &SymbolConfigRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *SymbolConfigRepository) WithDB(db *gorm.DB) *SymbolConfigRepository {
	return &SymbolConfigRepository{db: db}
}

// Find returns the config row for the pair, or (nil, nil) when none exists.
func (r *SymbolConfigRepository) Find(ctx context.Context, symbol, timeframe string) (*model.SymbolConfig, error) {
	var config model.SymbolConfig
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		First(&config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &config, nil
}

// FindEnabled returns every enabled scanner config.
func (r *SymbolConfigRepository) FindEnabled(ctx context.Context) ([]model.SymbolConfig, error) {
	var configs []model.SymbolConfig
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("symbol ASC, timeframe ASC").
		Find(&configs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SymbolConfigRepository",
			"op":   "FindEnabled",
		}).WithError(err).Error("Failed to fetch scanner configs")
		return nil, err
	}
	return configs, nil
}

func (r *SymbolConfigRepository) Save(ctx context.Context, config *model.SymbolConfig) error {
	logger.WithFields(map[string]interface{}{
		"repo":      "SymbolConfigRepository",
		"op":        "Save",
		"symbol":    config.Symbol,
		"timeframe": config.Timeframe,
	}).Info("Saving scanner config")

	return r.db.WithContext(ctx).Save(config).Error
}

// EnsureDefaults inserts any of the given configs that do not exist yet.
// Existing rows are left untouched so operator edits survive restarts.
func (r *SymbolConfigRepository) EnsureDefaults(ctx context.Context, defaults []model.SymbolConfig) error {
	for i := range defaults {
		def := defaults[i]

		existing, err := r.Find(ctx, def.Symbol, def.Timeframe)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		if err := r.db.WithContext(ctx).Create(&def).Error; err != nil {
			logger.WithFields(map[string]interface{}{
				"repo":      "SymbolConfigRepository",
				"op":        "EnsureDefaults",
				"symbol":    def.Symbol,
				"timeframe": def.Timeframe,
			}).WithError(err).Error("Failed to seed scanner config")
			return err
		}
	}
	return nil
}
