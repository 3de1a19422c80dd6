package scanner

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	CandleLimit int `envconfig:"SCANNER_CANDLE_LIMIT" default:"200"`
	LogCapacity int `envconfig:"SCANNER_LOG_CAPACITY" default:"1000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
