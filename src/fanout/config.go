package fanout

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Enabled            bool          `envconfig:"FANOUT_ENABLED" default:"true"`
	PollInterval       time.Duration `envconfig:"FANOUT_POLL_INTERVAL" default:"30s"`
	BatchSize          int           `envconfig:"FANOUT_BATCH_SIZE" default:"100"`
	GroupWindow        time.Duration `envconfig:"FANOUT_GROUP_WINDOW" default:"2m"`
	SendMinGap         time.Duration `envconfig:"FANOUT_SEND_MIN_GAP" default:"500ms"`
	SubscriberCacheTTL time.Duration `envconfig:"FANOUT_SUBSCRIBER_CACHE_TTL" default:"5m"`

	// Admin channel for HEALTH events. Separate bot from the per-asset ones.
	AdminBotToken string `envconfig:"TELEGRAM_BOT_TOKEN_ADMIN"`
	AdminChatID   int64  `envconfig:"TELEGRAM_ADMIN_CHAT_ID" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
