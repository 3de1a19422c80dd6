package assets

import (
	"fmt"
	"os"
	"strings"
)

// Asset is the tag that keys per-asset behavior: bot token, channel name,
// allocation toggle. Per-asset differences live in the table below, not in
// code paths.
type Asset string

const (
	BTC  Asset = "BTC"
	ETH  Asset = "ETH"
	BNB  Asset = "BNB"
	PAXG Asset = "PAXG"
)

// Info describes one supported asset.
type Info struct {
	Tag        Asset
	Symbol     string // spot pair on the venue
	PrettyName string
	TokenEnv   string // env var holding the asset's Telegram bot token

	// scanner defaults, per timeframe
	Defaults []ScanDefault
}

// ScanDefault seeds a SymbolConfig row when none exists yet.
type ScanDefault struct {
	Timeframe       string
	ScanIntervalSec int
	CooldownSec     int
	ProfitTarget    float64
	StopLoss        float64
	MaxHoldMinutes  int
}

var table = []Info{
	{
		Tag: BTC, Symbol: "BTCUSDT", PrettyName: "Bitcoin", TokenEnv: "TELEGRAM_BOT_TOKEN_BTC",
		Defaults: []ScanDefault{
			{Timeframe: "30m", ScanIntervalSec: 300, CooldownSec: 1800, ProfitTarget: 0.08, StopLoss: 0.03, MaxHoldMinutes: 720},
			{Timeframe: "4h", ScanIntervalSec: 300, CooldownSec: 14400, ProfitTarget: 0.08, StopLoss: 0.03, MaxHoldMinutes: 2880},
		},
	},
	{
		Tag: ETH, Symbol: "ETHUSDT", PrettyName: "Ethereum", TokenEnv: "TELEGRAM_BOT_TOKEN_ETH",
		Defaults: []ScanDefault{
			{Timeframe: "30m", ScanIntervalSec: 300, CooldownSec: 1800, ProfitTarget: 0.08, StopLoss: 0.03, MaxHoldMinutes: 720},
			{Timeframe: "4h", ScanIntervalSec: 300, CooldownSec: 14400, ProfitTarget: 0.08, StopLoss: 0.03, MaxHoldMinutes: 2880},
		},
	},
	{
		Tag: BNB, Symbol: "BNBUSDT", PrettyName: "BNB", TokenEnv: "TELEGRAM_BOT_TOKEN_BNB",
		Defaults: []ScanDefault{
			{Timeframe: "30m", ScanIntervalSec: 300, CooldownSec: 1800, ProfitTarget: 0.08, StopLoss: 0.03, MaxHoldMinutes: 720},
		},
	},
	{
		Tag: PAXG, Symbol: "PAXGUSDT", PrettyName: "PAX Gold", TokenEnv: "TELEGRAM_BOT_TOKEN_PAXG",
		Defaults: []ScanDefault{
			{Timeframe: "4h", ScanIntervalSec: 300, CooldownSec: 14400, ProfitTarget: 0.05, StopLoss: 0.03, MaxHoldMinutes: 2880},
		},
	},
}

// All returns the supported assets in a stable order.
func All() []Info {
	out := make([]Info, len(table))
	copy(out, table)
	return out
}

// ByTag looks an asset up by its tag.
func ByTag(tag Asset) (Info, error) {
	for _, info := range table {
		if info.Tag == tag {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("unknown asset tag %q", tag)
}

// BySymbol resolves the asset for a spot pair like BTCUSDT.
func BySymbol(symbol string) (Info, error) {
	for _, info := range table {
		if info.Symbol == symbol {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("no asset configured for symbol %q", symbol)
}

// TagForSymbol is BySymbol reduced to the tag, with "" for unknown symbols.
func TagForSymbol(symbol string) string {
	info, err := BySymbol(symbol)
	if err != nil {
		return ""
	}
	return string(info.Tag)
}

// BotToken reads the asset's Telegram bot token from the environment.
func (i Info) BotToken() string {
	return strings.TrimSpace(os.Getenv(i.TokenEnv))
}

// BaseAsset strips the quote currency from the pair, e.g. BTCUSDT -> BTC.
func BaseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, "USDT")
}
