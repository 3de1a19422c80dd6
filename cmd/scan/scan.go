package scan

import (
	"net/http"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"

	"utrader/src/detector"
	"utrader/src/model"
)

// Scan replays the U-pattern detector over historical candles. Nothing is
// persisted and no orders are placed; the output is the per-window state and
// a closing summary, useful for parameter tuning.
type Scan struct {
	Log      *logger.Entry
	Config   *Config
	exchange goex.API
}

func (s *Scan) Start() error {
	s.Config = GetConfig()
	s.exchange = s.newBinanceInstance()

	candles, err := s.fetchCandles()
	if err != nil {
		return err
	}
	s.Log.WithFields(logger.Fields{
		"Symbol":  s.Config.Symbol + s.Config.Quote,
		"Candles": len(candles),
	}).Info("replaying detector")

	s.replay(candles)
	return nil
}

func (*Scan) newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

func (s *Scan) fetchCandles() ([]model.Candle, error) {
	targetSymbol := goex.NewCurrencyPair(
		goex.Currency{Symbol: s.Config.Symbol},
		goex.Currency{Symbol: s.Config.Quote},
	)

	end := s.Config.EndDt
	if end.IsZero() {
		end = time.Now().UTC()
	}

	const millis = 1000
	klines, err := s.exchange.GetKlineRecords(
		targetSymbol,
		s.parseDurationToGoex(),
		s.Config.Limit,
		goex.OptionalParameter{}.
			Optional("endTime", end.Unix()*millis),
	)
	if err != nil {
		return nil, err
	}

	interval := s.parseDuration()
	candles := make([]model.Candle, 0, len(klines))
	for i := range klines {
		k := klines[i]
		openTime := time.Unix(k.Timestamp, 0).UTC()
		candles = append(candles, model.Candle{
			OpenTime:  openTime,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Vol,
			CloseTime: openTime.Add(interval),
		})
	}
	return candles, nil
}

// replay slides a fixed window over the series and logs every window in
// which the detector would have raised an alert.
func (s *Scan) replay(candles []model.Candle) {
	params := detector.DefaultParams()
	params.MinDepthPct = s.Config.MinDepthPct
	params.RuptureFactorBase = s.Config.RuptureFactorBase

	windows := 0
	alerts := 0
	lastState := detector.State("")

	for i := s.Config.Window; i <= len(candles); i += s.Config.Step {
		window := candles[i-s.Config.Window : i]
		result := detector.Detect(window, params)
		windows++

		if result.State != lastState {
			s.Log.WithFields(logger.Fields{
				"At":    window[len(window)-1].CloseTime,
				"State": result.State,
				"Close": window[len(window)-1].Close,
			}).Info("state change")
			lastState = result.State
		}

		if result.Alert {
			alerts++
			s.Log.WithFields(logger.Fields{
				"At":            window[len(window)-1].CloseTime,
				"BreakoutLevel": result.BreakoutLevel,
				"EntryPrice":    result.EntryPrice,
				"Strength":      result.Strength,
				"PatternWidth":  result.PatternWidth,
			}).Info("U breakout")
		}
	}

	s.Log.WithFields(logger.Fields{
		"Windows": windows,
		"Alerts":  alerts,
	}).Info("replay finished")
}

func (s *Scan) parseDuration() time.Duration {
	switch s.Config.DurationStr {
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		panic("invalid DURATION env var")
	}
}

func (s *Scan) parseDurationToGoex() goex.KlinePeriod {
	switch s.Config.DurationStr {
	case "30m":
		return goex.KLINE_PERIOD_30MIN
	case "1h":
		return goex.KLINE_PERIOD_1H
	case "4h":
		return goex.KLINE_PERIOD_4H
	case "1d":
		return goex.KLINE_PERIOD_1DAY
	default:
		panic("invalid DURATION env var")
	}
}
