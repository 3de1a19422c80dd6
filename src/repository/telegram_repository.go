package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"utrader/src/database"
	"utrader/src/model"
)

// TokenTTL is how long a telegram deep-link token stays consumable.
const TokenTTL = 3 * time.Minute

// ErrTokenInvalid is returned when a deep-link token is unknown, expired
// or already consumed.
var ErrTokenInvalid = errors.New("telegram token invalid or expired")

// TelegramRepository manages the user <-> chat bindings, one row per
// (user, asset) pair.
type TelegramRepository struct {
	db *gorm.DB
}

func NewTelegramRepository() *TelegramRepository {
	return &TelegramRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *TelegramRepository) WithDB(db *gorm.DB) *TelegramRepository {
	return &TelegramRepository{db: db}
}

// IssueToken creates (or refreshes) the binding row for the pair and
// stamps a fresh one-shot token on it. The token goes into the bot's
// /start deep link; consuming it binds the chat.
func (r *TelegramRepository) IssueToken(ctx context.Context, userID uint, cryptoTag string) (string, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	expires := time.Now().UTC().Add(TokenTTL)

	logger.WithFields(map[string]interface{}{
		"repo":      "TelegramRepository",
		"op":        "IssueToken",
		"userID":    userID,
		"cryptoTag": cryptoTag,
	}).Info("Issuing telegram binding token")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conn model.TelegramConnection
		err := tx.Where("user_id = ? AND crypto_tag = ?", userID, cryptoTag).First(&conn).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			conn = model.TelegramConnection{UserID: userID, CryptoTag: cryptoTag}
		} else if err != nil {
			return err
		}

		conn.IssuedToken = &token
		conn.TokenExpiresAt = &expires
		return tx.Save(&conn).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TelegramRepository",
			"op":     "IssueToken",
			"userID": userID,
		}).WithError(err).Error("Failed to issue telegram token")
		return "", err
	}
	return token, nil
}

// ConsumeToken redeems a deep-link token: the chat is bound, the
// subscription turned on and the token cleared, atomically. Returns
// ErrTokenInvalid when the token is unknown or past its TTL.
func (r *TelegramRepository) ConsumeToken(ctx context.Context, token string, chatID int64) (*model.TelegramConnection, error) {
	var conn model.TelegramConnection

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("issued_token = ?", token).First(&conn).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}
		if !conn.TokenValid(time.Now().UTC()) {
			return ErrTokenInvalid
		}

		conn.ChatID = chatID
		conn.Subscribed = true
		conn.IssuedToken = nil
		conn.TokenExpiresAt = nil
		return tx.Save(&conn).Error
	})
	if err != nil {
		if !errors.Is(err, ErrTokenInvalid) {
			logger.WithFields(map[string]interface{}{
				"repo": "TelegramRepository",
				"op":   "ConsumeToken",
			}).WithError(err).Error("Failed to consume telegram token")
		}
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "TelegramRepository",
		"op":        "ConsumeToken",
		"userID":    conn.UserID,
		"cryptoTag": conn.CryptoTag,
	}).Info("Telegram chat bound")

	return &conn, nil
}

// FindSubscribers returns the chat ids subscribed to an asset channel.
func (r *TelegramRepository) FindSubscribers(ctx context.Context, cryptoTag string) ([]int64, error) {
	var chatIDs []int64
	err := r.db.WithContext(ctx).Model(&model.TelegramConnection{}).
		Where("crypto_tag = ? AND subscribed = ? AND chat_id <> 0", cryptoTag, true).
		Pluck("chat_id", &chatIDs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "TelegramRepository",
			"op":        "FindSubscribers",
			"cryptoTag": cryptoTag,
		}).WithError(err).Error("Failed to fetch subscribers")
		return nil, err
	}
	return chatIDs, nil
}

// Unsubscribe turns delivery off for a chat on one asset channel.
func (r *TelegramRepository) Unsubscribe(ctx context.Context, chatID int64, cryptoTag string) error {
	return r.db.WithContext(ctx).Model(&model.TelegramConnection{}).
		Where("chat_id = ? AND crypto_tag = ?", chatID, cryptoTag).
		Update("subscribed", false).Error
}

// FindByUser lists a user's bindings across all assets.
func (r *TelegramRepository) FindByUser(ctx context.Context, userID uint) ([]model.TelegramConnection, error) {
	var conns []model.TelegramConnection
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("crypto_tag ASC").
		Find(&conns).Error
	if err != nil {
		return nil, err
	}
	return conns, nil
}
