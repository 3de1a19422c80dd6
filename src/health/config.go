package health

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ProbeInterval   time.Duration `envconfig:"HEALTH_PROBE_INTERVAL" default:"30m"`
	SummaryInterval time.Duration `envconfig:"HEALTH_SUMMARY_INTERVAL" default:"12h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
