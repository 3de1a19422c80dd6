package scan

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Symbol      string    `envconfig:"SYMBOL" default:"BTC"`
	Quote       string    `envconfig:"QUOTE" default:"USDT"`
	DurationStr string    `envconfig:"DURATION" default:"30m"`
	Limit       int       `envconfig:"LIMIT" default:"1000"`
	EndDt       time.Time `envconfig:"END_DATE"`

	// Detector replay settings.
	Window            int     `envconfig:"SCAN_WINDOW" default:"200"`
	Step              int     `envconfig:"SCAN_STEP" default:"1"`
	MinDepthPct       float64 `envconfig:"MIN_DEPTH_PCT" default:"0.03"`
	RuptureFactorBase float64 `envconfig:"RUPTURE_FACTOR_BASE" default:"1.03"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
