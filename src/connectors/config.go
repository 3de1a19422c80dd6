package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MainnetBaseURL    string        `envconfig:"BINANCE_BASE_URL" default:"https://api.binance.com"`
	TestnetBaseURL    string        `envconfig:"BINANCE_TESTNET_BASE_URL" default:"https://testnet.binance.vision"`
	WsBaseURL         string        `envconfig:"BINANCE_WS_BASE_URL" default:"wss://stream.binance.com:9443"`
	RequestTimeout    time.Duration `envconfig:"BINANCE_REQUEST_TIMEOUT" default:"15s"`
	RequestsPerSecond float64       `envconfig:"BINANCE_REQUESTS_PER_SECOND" default:"10"`
	RequestBurst      int           `envconfig:"BINANCE_REQUEST_BURST" default:"20"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
