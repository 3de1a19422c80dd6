package executor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SignalPollInterval time.Duration `envconfig:"EXECUTOR_SIGNAL_POLL_INTERVAL" default:"15s"`
	SignalMaxAge       time.Duration `envconfig:"EXECUTOR_SIGNAL_MAX_AGE" default:"10m"`
	ExitCheckInterval  time.Duration `envconfig:"EXECUTOR_EXIT_CHECK_INTERVAL" default:"10s"`
	PriceStaleAfter    time.Duration `envconfig:"EXECUTOR_PRICE_STALE_AFTER" default:"30s"`
	ReconcileInterval  time.Duration `envconfig:"EXECUTOR_RECONCILE_INTERVAL" default:"5m"`
	ReconcileLookback  time.Duration `envconfig:"EXECUTOR_RECONCILE_LOOKBACK" default:"24h"`
	QuoteAsset         string        `envconfig:"EXECUTOR_QUOTE_ASSET" default:"USDT"`
	// MaxPositionSize caps any single entry's quote budget; 0 disables the cap.
	MaxPositionSize float64 `envconfig:"EXECUTOR_MAX_POSITION_SIZE" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
