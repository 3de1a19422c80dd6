package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"utrader/src/assets"
	"utrader/src/detector"
	"utrader/src/model"
)

// LogEntry is one line of a worker's in-memory activity log.
type LogEntry struct {
	At      time.Time      `json:"at"`
	State   detector.State `json:"state"`
	Message string         `json:"message"`
}

// Status is the worker's self-description, served by the admin API.
// NextScanIn and CooldownRemaining are computed at read time.
type Status struct {
	Symbol            string         `json:"symbol"`
	Timeframe         string         `json:"timeframe"`
	Running           bool           `json:"running"`
	LastTick          time.Time      `json:"last_tick"`
	LastState         detector.State `json:"last_state"`
	LastError         string         `json:"last_error,omitempty"`
	CurrentPrice      float64        `json:"current_price"`
	BreakoutLevel     float64        `json:"breakout_level"`
	NextScanIn        time.Duration  `json:"next_scan_in"`
	CooldownRemaining time.Duration  `json:"cooldown_remaining"`
	TicksCompleted    int            `json:"ticks_completed"`
	SignalsRaised     int            `json:"signals_raised"`
}

// Worker scans one (symbol, timeframe) pair on its own ticker. Config is
// reloaded every tick, so admin edits apply without a restart.
type Worker struct {
	deps Deps

	mu           sync.Mutex
	cfg          model.SymbolConfig
	status       Status
	nextScanAt   time.Time
	lastSignalAt time.Time
	logs         []LogEntry
	logNext      int
	logCap       int
}

func NewWorker(cfg model.SymbolConfig, deps Deps) *Worker {
	capacity := GetConfig().LogCapacity
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logCap: capacity,
		status: Status{Symbol: cfg.Symbol, Timeframe: cfg.Timeframe},
	}
}

// Run blocks until the context is cancelled, scanning on the configured
// interval. The first scan happens immediately.
func (w *Worker) Run(ctx context.Context) {
	w.mu.Lock()
	w.status.Running = true
	interval := w.cfg.ScanInterval()
	w.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"symbol":    w.cfg.Symbol,
		"timeframe": w.cfg.Timeframe,
		"interval":  interval.String(),
	}).Info("[scanner] worker started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status.Running = false
			w.mu.Unlock()
			logger.WithFields(map[string]interface{}{
				"symbol":    w.cfg.Symbol,
				"timeframe": w.cfg.Timeframe,
			}).Info("[scanner] worker stopped")
			return

		case <-ticker.C:
			if newInterval := w.tick(ctx); newInterval != interval && newInterval > 0 {
				interval = newInterval
				ticker.Reset(interval)
			}
		}
	}
}

// tick runs one scan pass and returns the (possibly updated) interval.
func (w *Worker) tick(ctx context.Context) time.Duration {
	interval := w.scan(ctx)

	w.mu.Lock()
	w.nextScanAt = time.Now().UTC().Add(interval)
	w.mu.Unlock()

	return interval
}

func (w *Worker) scan(ctx context.Context) time.Duration {
	w.reloadConfig(ctx)

	w.mu.Lock()
	cfg := w.cfg
	w.mu.Unlock()

	if !cfg.Enabled {
		w.record(detector.StateNoU, "scanner disabled, skipping tick", nil)
		return cfg.ScanInterval()
	}

	limit := GetConfig().CandleLimit
	candles, err := w.deps.Candles.GetCandles(ctx, cfg.Symbol, cfg.Timeframe, limit)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"symbol":    cfg.Symbol,
			"timeframe": cfg.Timeframe,
		}).WithError(err).Warn("[scanner] candle fetch failed")
		w.record(detector.StateNoU, "candle fetch failed", err)
		return cfg.ScanInterval()
	}

	result := detector.Detect(candles, detector.Params{
		MinDepthPct:       cfg.MinDepthPct,
		RuptureFactorBase: cfg.RuptureFactorBase,
	})

	w.record(result.State, fmt.Sprintf("state=%s close=%.4f breakout=%.4f width=%d",
		result.State, result.EntryPrice, result.BreakoutLevel, result.PatternWidth), nil)

	w.mu.Lock()
	w.status.CurrentPrice = result.EntryPrice
	w.status.BreakoutLevel = result.BreakoutLevel
	w.status.TicksCompleted++
	w.mu.Unlock()

	if result.Alert {
		w.maybeRaiseSignal(ctx, cfg, result)
	}
	return cfg.ScanInterval()
}

func (w *Worker) reloadConfig(ctx context.Context) {
	fresh, err := w.deps.Configs.Find(ctx, w.cfg.Symbol, w.cfg.Timeframe)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"symbol":    w.cfg.Symbol,
			"timeframe": w.cfg.Timeframe,
		}).WithError(err).Warn("[scanner] config reload failed, keeping previous")
		return
	}
	if fresh == nil {
		return
	}
	w.mu.Lock()
	w.cfg = *fresh
	w.mu.Unlock()
}

// maybeRaiseSignal persists the detection unless the cooldown since the
// previous signal for this pair has not elapsed yet.
func (w *Worker) maybeRaiseSignal(ctx context.Context, cfg model.SymbolConfig, result detector.Result) {
	now := time.Now().UTC()

	latest, err := w.deps.Signals.FindLatest(ctx, cfg.Symbol, cfg.Timeframe)
	if err != nil {
		w.record(result.State, "cooldown lookup failed", err)
		return
	}
	if latest != nil {
		w.mu.Lock()
		w.lastSignalAt = latest.DetectedAt
		w.mu.Unlock()

		if now.Sub(latest.DetectedAt) < cfg.Cooldown() {
			w.record(result.State, fmt.Sprintf("breakout suppressed by cooldown (last signal %s ago)",
				now.Sub(latest.DetectedAt).Round(time.Second)), nil)
			return
		}
	}

	signal := &model.Signal{
		Symbol:        cfg.Symbol,
		Timeframe:     cfg.Timeframe,
		DetectedAt:    now,
		BreakoutLevel: result.BreakoutLevel,
		EntryPrice:    result.EntryPrice,
		Strength:      result.Strength,
		PatternWidth:  result.PatternWidth,
		Depth:         result.LocalDepth,
	}
	if err := w.deps.Signals.Create(ctx, signal); err != nil {
		w.record(result.State, "failed to persist signal", err)
		return
	}

	cryptoTag := assets.TagForSymbol(cfg.Symbol)
	alert := &model.Alert{
		SignalID:  &signal.ID,
		Kind:      model.AlertKindBuy,
		Symbol:    cfg.Symbol,
		CryptoTag: cryptoTag,
		Message: fmt.Sprintf("U breakout on %s %s: close %.4f entered the rupture zone (level %.4f)",
			cfg.Symbol, cfg.Timeframe, result.EntryPrice, result.BreakoutLevel),
		UserScope: model.AlertScopeAll,
	}
	if err := w.deps.Alerts.Create(ctx, alert); err != nil {
		w.record(result.State, "failed to persist alert", err)
	}

	_, err = w.deps.Events.Enqueue(ctx, model.EventKindSignal, model.EventPayload{
		SignalID:      signal.ID,
		Symbol:        cfg.Symbol,
		CryptoTag:     cryptoTag,
		Timeframe:     cfg.Timeframe,
		Price:         result.EntryPrice,
		BreakoutLevel: result.BreakoutLevel,
		Message:       alert.Message,
	})
	if err != nil {
		w.record(result.State, "failed to enqueue signal event", err)
	}

	if w.deps.Nudge != nil {
		select {
		case w.deps.Nudge <- struct{}{}:
		default:
		}
	}

	w.mu.Lock()
	w.status.SignalsRaised++
	w.lastSignalAt = now
	w.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"symbol":    cfg.Symbol,
		"timeframe": cfg.Timeframe,
		"signalID":  signal.ID,
		"breakout":  result.BreakoutLevel,
	}).Info("[scanner] signal raised")
}

// record appends a log entry to the ring and refreshes the status.
func (w *Worker) record(state detector.State, message string, cause error) {
	if cause != nil {
		message = message + ": " + cause.Error()
	}
	entry := LogEntry{At: time.Now().UTC(), State: state, Message: message}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.logs) < w.logCap {
		w.logs = append(w.logs, entry)
	} else {
		w.logs[w.logNext] = entry
	}
	w.logNext = (w.logNext + 1) % w.logCap

	w.status.LastTick = entry.At
	w.status.LastState = state
	if cause != nil {
		w.status.LastError = cause.Error()
	} else {
		w.status.LastError = ""
	}
}

// Status returns a copy of the worker's current status. The countdown
// fields are derived from the last tick and the last known signal.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.status
	now := time.Now().UTC()
	if !w.nextScanAt.IsZero() {
		if d := w.nextScanAt.Sub(now); d > 0 {
			out.NextScanIn = d
		}
	}
	if !w.lastSignalAt.IsZero() {
		if d := w.cfg.Cooldown() - now.Sub(w.lastSignalAt); d > 0 {
			out.CooldownRemaining = d
		}
	}
	return out
}

// Logs returns the ring buffer in chronological order.
func (w *Worker) Logs() []LogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]LogEntry, 0, len(w.logs))
	if len(w.logs) < w.logCap {
		out = append(out, w.logs...)
		return out
	}
	out = append(out, w.logs[w.logNext:]...)
	out = append(out, w.logs[:w.logNext]...)
	return out
}
