package detector

import (
	"math"

	"utrader/src/model"
)

// State classifies what the window looks like right now. U_ROTO is the only
// state that raises an alert; the others describe how far along the shape is.
type State string

const (
	StateBase        State = "BASE"         // minimum found, right side turning up, price below the rupture zone
	StateRuptura     State = "RUPTURA"      // price inside the rupture zone but a gate still fails
	StateURoto       State = "U_ROTO"       // breakout confirmed, alert raised
	StateNoU         State = "NO_U"         // no significant minimum in the window
	StatePaloBajando State = "PALO_BAJANDO" // left side still falling, no reversal yet
	StatePostRuptura State = "POST_RUPTURA" // breakout happened but the pattern is already too old
)

// Params are the tunables of the detector. Zero values fall back to the
// defaults below, so a partially filled struct is safe.
type Params struct {
	MinCandles        int     // minimum window length
	Window            int     // w: local-minimum neighborhood and slope lookback
	MinDepthPct       float64 // significance threshold for a local minimum
	RuptureFactorBase float64 // floor of the dynamic rupture factor
	MinPatternWidth   int     // candles between the minimum and now, lower bound
	MaxPatternWidth   int     // upper bound
	LeftSlopeMax      float64 // left side must descend steeper than this
	ATRPeriod         int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MinCandles:        200,
		Window:            10,
		MinDepthPct:       0.03,
		RuptureFactorBase: 1.03,
		MinPatternWidth:   5,
		MaxPatternWidth:   50,
		LeftSlopeMax:      -0.3,
		ATRPeriod:         14,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.MinCandles <= 0 {
		p.MinCandles = def.MinCandles
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.MinDepthPct <= 0 {
		p.MinDepthPct = def.MinDepthPct
	}
	if p.RuptureFactorBase <= 0 {
		p.RuptureFactorBase = def.RuptureFactorBase
	}
	if p.MinPatternWidth <= 0 {
		p.MinPatternWidth = def.MinPatternWidth
	}
	if p.MaxPatternWidth <= 0 {
		p.MaxPatternWidth = def.MaxPatternWidth
	}
	if p.LeftSlopeMax == 0 {
		p.LeftSlopeMax = def.LeftSlopeMax
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = def.ATRPeriod
	}
	return p
}

// Result is the full detector output, including the diagnostics the scanner
// exposes in its status record.
type Result struct {
	Alert         bool
	State         State
	BreakoutLevel float64
	EntryPrice    float64
	Strength      float64
	PatternWidth  int
	LeftSlope     float64
	RecentSlope   float64
	LocalDepth    float64
	ATR           float64
	ATRPct        float64
	RuptureFactor float64
}

// Detect runs the U-pattern check over an ordered candle window ending at
// "now". It is a pure function: same candles and params, same result.
func Detect(candles []model.Candle, params Params) Result {
	p := params.withDefaults()
	n := len(candles)

	if n < p.MinCandles {
		return Result{State: StateNoU}
	}

	lastClose := candles[n-1].Close
	atr := averageTrueRange(candles, p.ATRPeriod)
	atrPct := 0.0
	if lastClose > 0 {
		atrPct = atr / lastClose
	}

	result := Result{
		State:      StateNoU,
		EntryPrice: lastClose,
		ATR:        atr,
		ATRPct:     atrPct,
	}

	m, found := lastSignificantMinimum(candles, p.Window, p.MinDepthPct)
	if !found {
		return result
	}
	result.LocalDepth = m.depth

	result.LeftSlope = regressionSlope(closes(candles[m.index-p.Window : m.index]))
	result.RecentSlope = regressionSlope(closes(candles[n-p.Window:]))
	result.Strength = math.Abs(result.LeftSlope)
	result.PatternWidth = n - 1 - m.index

	factor := ruptureFactor(atrPct, p.RuptureFactorBase)
	result.RuptureFactor = factor
	// The breakout reference is the highest high around the minimum, the
	// right edge the price has to clear, not the minimum candle's own high.
	result.BreakoutLevel = m.localHigh * factor

	leftOK := result.LeftSlope < p.LeftSlopeMax
	rightOK := result.RecentSlope > 0
	nearRupture := lastClose >= 0.98*result.BreakoutLevel
	widthOK := result.PatternWidth >= p.MinPatternWidth && result.PatternWidth <= p.MaxPatternWidth

	switch {
	case leftOK && rightOK && nearRupture && widthOK:
		result.Alert = true
		result.State = StateURoto
	case leftOK && !rightOK:
		result.State = StatePaloBajando
	case nearRupture && result.PatternWidth > p.MaxPatternWidth:
		result.State = StatePostRuptura
	case nearRupture:
		result.State = StateRuptura
	case leftOK && rightOK:
		result.State = StateBase
	default:
		result.State = StateNoU
	}

	return result
}

// ruptureFactor scales the breakout level with volatility: quiet markets
// break out just above the local high, volatile ones need more clearance.
// Clamped to [base, 1.08].
func ruptureFactor(atrPct, base float64) float64 {
	var f float64
	switch {
	case atrPct < 0.02:
		f = base
	case atrPct < 0.05:
		f = base + 0.5*atrPct
	default:
		f = math.Min(base+0.8*atrPct, 1.08)
	}
	if f < base {
		f = base
	}
	return f
}

type minimum struct {
	index     int
	depth     float64
	localHigh float64
}

// lastSignificantMinimum scans the window, excluding w candles on each
// edge, for the most recent candle whose low is the minimum of its +-w
// neighborhood and whose depth below the neighborhood high clears
// minDepthPct.
func lastSignificantMinimum(candles []model.Candle, w int, minDepthPct float64) (minimum, bool) {
	n := len(candles)
	for i := n - 1 - w; i >= w; i-- {
		low := candles[i].Low

		isMin := true
		maxHigh := 0.0
		for j := i - w; j <= i+w; j++ {
			if candles[j].Low < low {
				isMin = false
				break
			}
			if candles[j].High > maxHigh {
				maxHigh = candles[j].High
			}
		}
		if !isMin || maxHigh <= 0 {
			continue
		}

		depth := (maxHigh - low) / maxHigh
		if depth >= minDepthPct {
			return minimum{index: i, depth: depth, localHigh: maxHigh}, true
		}
	}
	return minimum{}, false
}

// averageTrueRange is the simple-average ATR over the last period bars.
func averageTrueRange(candles []model.Candle, period int) float64 {
	n := len(candles)
	if n < period+1 {
		return 0
	}

	sum := 0.0
	for i := n - period; i < n; i++ {
		highLow := candles[i].High - candles[i].Low
		highClose := math.Abs(candles[i].High - candles[i-1].Close)
		lowClose := math.Abs(candles[i].Low - candles[i-1].Close)
		sum += math.Max(highLow, math.Max(highClose, lowClose))
	}
	return sum / float64(period)
}

// regressionSlope is the least-squares slope of the series over bar index.
func regressionSlope(series []float64) float64 {
	n := float64(len(series))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
