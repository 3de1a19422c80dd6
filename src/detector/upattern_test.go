package detector

import (
	"math"
	"reflect"
	"testing"
	"time"

	"utrader/src/model"
)

func mkCandle(i int, open, high, low, close float64) model.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.Candle{
		OpenTime:  base.Add(time.Duration(i) * 30 * time.Minute),
		CloseTime: base.Add(time.Duration(i+1)*30*time.Minute - time.Millisecond),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    10,
	}
}

// uShapeWindow builds a 200-candle window: a steady descent into a
// significant minimum at bar 155 (neighborhood high 70, low 54.8), then a
// linear climb to riseTo on the last bar.
func uShapeWindow(riseTo float64) []model.Candle {
	candles := make([]model.Candle, 200)

	prevClose := 125.0
	for i := 0; i < 155; i++ {
		close := 125 - 0.45*float64(i)
		high := close + 0.3
		if i == 145 {
			high = 70 // the local high the breakout level is measured from
		}
		candles[i] = mkCandle(i, prevClose, high, close-0.3, close)
		prevClose = close
	}

	candles[155] = mkCandle(155, prevClose, 55.9, 54.8, 55)
	prevClose = 55.0

	step := (riseTo - 55.0) / 44.0
	for i := 156; i < 200; i++ {
		close := 55 + float64(i-155)*step
		candles[i] = mkCandle(i, prevClose, close+0.3, close-0.3, close)
		prevClose = close
	}

	return candles
}

// fallingKnifeWindow descends into the same minimum, bounces weakly, then
// rolls over again so the recent slope is negative.
func fallingKnifeWindow() []model.Candle {
	candles := make([]model.Candle, 200)

	prevClose := 125.0
	for i := 0; i < 155; i++ {
		close := 125 - 0.45*float64(i)
		high := close + 0.3
		if i == 145 {
			high = 70
		}
		candles[i] = mkCandle(i, prevClose, high, close-0.3, close)
		prevClose = close
	}

	candles[155] = mkCandle(155, prevClose, 55.9, 54.8, 55)
	prevClose = 55.0

	for i := 156; i < 200; i++ {
		var close float64
		if i <= 185 {
			close = 55 + 0.1*float64(i-155)
		} else {
			close = 58 - 0.15*float64(i-185)
		}
		candles[i] = mkCandle(i, prevClose, close+0.2, close-0.2, close)
		prevClose = close
	}

	return candles
}

func TestDetectShortWindowReturnsNoU(t *testing.T) {
	candles := uShapeWindow(72)[:100]

	result := Detect(candles, Params{})
	if result.Alert {
		t.Fatal("short window must never alert")
	}
	if result.State != StateNoU {
		t.Fatalf("expected NO_U, got %s", result.State)
	}
}

func TestDetectBreakout(t *testing.T) {
	result := Detect(uShapeWindow(72), Params{})

	if !result.Alert {
		t.Fatalf("expected alert, got state %s (%+v)", result.State, result)
	}
	if result.State != StateURoto {
		t.Fatalf("expected U_ROTO, got %s", result.State)
	}

	// Quiet market: the rupture factor stays at its base, so the breakout
	// level is exactly 70 * 1.03.
	if result.ATRPct >= 0.02 {
		t.Fatalf("window is supposed to be low volatility, atrPct=%v", result.ATRPct)
	}
	if result.RuptureFactor != 1.03 {
		t.Fatalf("expected factor 1.03, got %v", result.RuptureFactor)
	}
	if math.Abs(result.BreakoutLevel-72.10) > 1e-9 {
		t.Fatalf("expected breakout level 72.10, got %v", result.BreakoutLevel)
	}

	if result.EntryPrice != 72 {
		t.Fatalf("expected entry price 72, got %v", result.EntryPrice)
	}
	if result.PatternWidth != 44 {
		t.Fatalf("expected pattern width 44, got %d", result.PatternWidth)
	}
	if result.LeftSlope >= -0.3 {
		t.Fatalf("left slope should be steeply negative, got %v", result.LeftSlope)
	}
	if result.RecentSlope <= 0 {
		t.Fatalf("recent slope should be positive, got %v", result.RecentSlope)
	}
}

func TestDetectBaseBelowRuptureZone(t *testing.T) {
	// Same shape but the climb stalls at 65, well under 0.98 * 72.10.
	result := Detect(uShapeWindow(65), Params{})

	if result.Alert {
		t.Fatal("price below the rupture zone must not alert")
	}
	if result.State != StateBase {
		t.Fatalf("expected BASE, got %s", result.State)
	}
}

func TestDetectPaloBajando(t *testing.T) {
	result := Detect(fallingKnifeWindow(), Params{})

	if result.Alert {
		t.Fatal("a rolling-over window must not alert")
	}
	if result.State != StatePaloBajando {
		t.Fatalf("expected PALO_BAJANDO, got %s", result.State)
	}
	if result.RecentSlope >= 0 {
		t.Fatalf("expected negative recent slope, got %v", result.RecentSlope)
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	candles := uShapeWindow(72)

	first := Detect(candles, Params{})
	second := Detect(candles, Params{})

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same input produced different results:\n%+v\n%+v", first, second)
	}
}

func TestRuptureFactor(t *testing.T) {
	cases := []struct {
		name   string
		atrPct float64
		want   float64
	}{
		{"quiet market stays at base", 0.01, 1.03},
		{"mid volatility scales", 0.03, 1.045},
		{"upper mid band", 0.04, 1.05},
		{"high volatility", 0.06, 1.078},
		{"clamped at 1.08", 0.10, 1.08},
		{"zero volatility", 0, 1.03},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ruptureFactor(tc.atrPct, 1.03)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("ruptureFactor(%v) = %v, want %v", tc.atrPct, got, tc.want)
			}
		})
	}
}

func TestRegressionSlope(t *testing.T) {
	flat := regressionSlope([]float64{5, 5, 5, 5, 5})
	if flat != 0 {
		t.Fatalf("flat series slope = %v, want 0", flat)
	}

	rising := regressionSlope([]float64{1, 2, 3, 4, 5})
	if math.Abs(rising-1) > 1e-9 {
		t.Fatalf("linear series slope = %v, want 1", rising)
	}

	if got := regressionSlope([]float64{7}); got != 0 {
		t.Fatalf("single point slope = %v, want 0", got)
	}
}
