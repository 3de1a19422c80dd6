package model

import "time"

// Candle is one immutable OHLCV bar as returned by the venue.
// Candles are consumed by the detector and never stored long-term.
type Candle struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Closed reports whether the bar is already closed at the given instant.
func (c Candle) Closed(now time.Time) bool {
	return !now.Before(c.CloseTime)
}
