package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"utrader/src/detector"
	"utrader/src/model"
)

type fakeCandles struct {
	candles []model.Candle
	err     error
}

func (f *fakeCandles) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	return f.candles, f.err
}

type fakeSignals struct {
	mu      sync.Mutex
	latest  *model.Signal
	created []*model.Signal
}

func (f *fakeSignals) Create(ctx context.Context, signal *model.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	signal.ID = uint(len(f.created) + 1)
	f.created = append(f.created, signal)
	return nil
}

func (f *fakeSignals) FindLatest(ctx context.Context, symbol, timeframe string) (*model.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

type fakeAlerts struct {
	mu      sync.Mutex
	created []*model.Alert
}

func (f *fakeAlerts) Create(ctx context.Context, alert *model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, alert)
	return nil
}

type fakeEvents struct {
	mu       sync.Mutex
	enqueued []model.EventPayload
}

func (f *fakeEvents) Enqueue(ctx context.Context, kind string, payload model.EventPayload) (*model.TradingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, payload)
	return &model.TradingEvent{ID: uint(len(f.enqueued)), Kind: kind}, nil
}

type fakeConfigs struct {
	mu  sync.Mutex
	cfg model.SymbolConfig
}

func (f *fakeConfigs) Find(ctx context.Context, symbol, timeframe string) (*model.SymbolConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.cfg
	return &cfg, nil
}

func (f *fakeConfigs) FindEnabled(ctx context.Context) ([]model.SymbolConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []model.SymbolConfig{f.cfg}, nil
}

func (f *fakeConfigs) Save(ctx context.Context, config *model.SymbolConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = *config
	return nil
}

func testSymbolConfig() model.SymbolConfig {
	return model.SymbolConfig{
		ID:              1,
		Symbol:          "BTCUSDT",
		Timeframe:       "30m",
		ScanIntervalSec: 3600,
		CooldownSec:     1800,
		Enabled:         true,
	}
}

// breakoutWindow builds a 200-candle window that trips the detector:
// descent into a deep minimum at bar 155 (neighborhood high 70), then a
// climb to 72 on the last close.
func breakoutWindow() []model.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]model.Candle, 200)

	mk := func(i int, open, high, low, close float64) model.Candle {
		return model.Candle{
			OpenTime:  base.Add(time.Duration(i) * 30 * time.Minute),
			CloseTime: base.Add(time.Duration(i+1)*30*time.Minute - time.Millisecond),
			Open:      open, High: high, Low: low, Close: close, Volume: 10,
		}
	}

	prev := 125.0
	for i := 0; i < 155; i++ {
		close := 125 - 0.45*float64(i)
		high := close + 0.3
		if i == 145 {
			high = 70
		}
		candles[i] = mk(i, prev, high, close-0.3, close)
		prev = close
	}
	candles[155] = mk(155, prev, 55.9, 54.8, 55)
	prev = 55
	for i := 156; i < 200; i++ {
		close := 55 + float64(i-155)*(17.0/44.0)
		candles[i] = mk(i, prev, close+0.3, close-0.3, close)
		prev = close
	}
	return candles
}

func TestWorkerTickRaisesSignal(t *testing.T) {
	signals := &fakeSignals{}
	alerts := &fakeAlerts{}
	events := &fakeEvents{}
	nudge := make(chan struct{}, 1)

	cfg := testSymbolConfig()
	worker := NewWorker(cfg, Deps{
		Candles: &fakeCandles{candles: breakoutWindow()},
		Signals: signals,
		Alerts:  alerts,
		Events:  events,
		Configs: &fakeConfigs{cfg: cfg},
		Nudge:   nudge,
	})

	worker.tick(context.Background())

	if len(signals.created) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals.created))
	}
	signal := signals.created[0]
	if signal.Symbol != "BTCUSDT" || signal.Timeframe != "30m" {
		t.Fatalf("unexpected signal: %+v", signal)
	}
	if signal.BreakoutLevel < 72.09 || signal.BreakoutLevel > 72.11 {
		t.Fatalf("unexpected breakout level: %v", signal.BreakoutLevel)
	}

	if len(alerts.created) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts.created))
	}
	if alerts.created[0].Kind != model.AlertKindBuy || alerts.created[0].CryptoTag != "BTC" {
		t.Fatalf("unexpected alert: %+v", alerts.created[0])
	}

	if len(events.enqueued) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events.enqueued))
	}

	select {
	case <-nudge:
	default:
		t.Fatal("executor nudge not delivered")
	}

	status := worker.Status()
	if status.SignalsRaised != 1 || status.TicksCompleted != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.LastState != detector.StateURoto {
		t.Fatalf("unexpected state: %s", status.LastState)
	}
	if status.CurrentPrice < 71.9 || status.CurrentPrice > 72.1 {
		t.Fatalf("status must carry the last close, got %v", status.CurrentPrice)
	}
	if status.BreakoutLevel < 72.09 || status.BreakoutLevel > 72.11 {
		t.Fatalf("status must carry the breakout level, got %v", status.BreakoutLevel)
	}
	if status.NextScanIn <= 0 || status.NextScanIn > time.Hour {
		t.Fatalf("next scan countdown out of range: %v", status.NextScanIn)
	}
	if status.CooldownRemaining <= 29*time.Minute || status.CooldownRemaining > 30*time.Minute {
		t.Fatalf("cooldown countdown out of range: %v", status.CooldownRemaining)
	}
}

func TestWorkerCooldownSuppressesRepeat(t *testing.T) {
	cfg := testSymbolConfig()

	t.Run("inside cooldown", func(t *testing.T) {
		signals := &fakeSignals{latest: &model.Signal{
			Symbol: "BTCUSDT", Timeframe: "30m",
			DetectedAt: time.Now().UTC().Add(-10 * time.Minute),
		}}
		alerts := &fakeAlerts{}
		events := &fakeEvents{}

		worker := NewWorker(cfg, Deps{
			Candles: &fakeCandles{candles: breakoutWindow()},
			Signals: signals,
			Alerts:  alerts,
			Events:  events,
			Configs: &fakeConfigs{cfg: cfg},
		})

		worker.tick(context.Background())

		if len(signals.created) != 0 {
			t.Fatalf("cooldown must suppress the signal, got %d", len(signals.created))
		}
		if len(alerts.created) != 0 || len(events.enqueued) != 0 {
			t.Fatal("suppressed breakout must not alert or enqueue")
		}

		// 30 min cooldown, last signal 10 min ago.
		status := worker.Status()
		if status.CooldownRemaining <= 19*time.Minute || status.CooldownRemaining > 20*time.Minute {
			t.Fatalf("cooldown countdown out of range: %v", status.CooldownRemaining)
		}
	})

	t.Run("after cooldown", func(t *testing.T) {
		signals := &fakeSignals{latest: &model.Signal{
			Symbol: "BTCUSDT", Timeframe: "30m",
			DetectedAt: time.Now().UTC().Add(-45 * time.Minute),
		}}

		worker := NewWorker(cfg, Deps{
			Candles: &fakeCandles{candles: breakoutWindow()},
			Signals: signals,
			Alerts:  &fakeAlerts{},
			Events:  &fakeEvents{},
			Configs: &fakeConfigs{cfg: cfg},
		})

		worker.tick(context.Background())

		if len(signals.created) != 1 {
			t.Fatalf("expired cooldown must allow the signal, got %d", len(signals.created))
		}
	})
}

func TestWorkerDisabledConfigSkipsScan(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.Enabled = false

	candles := &fakeCandles{err: errors.New("must not be called")}
	signals := &fakeSignals{}

	worker := NewWorker(cfg, Deps{
		Candles: candles,
		Signals: signals,
		Alerts:  &fakeAlerts{},
		Events:  &fakeEvents{},
		Configs: &fakeConfigs{cfg: cfg},
	})

	worker.tick(context.Background())

	if len(signals.created) != 0 {
		t.Fatal("disabled worker must not raise signals")
	}
}

func TestWorkerLogRingWrapsAround(t *testing.T) {
	cfg := testSymbolConfig()
	worker := NewWorker(cfg, Deps{})
	worker.logCap = 5

	for i := 0; i < 8; i++ {
		worker.record(detector.StateNoU, string(rune('a'+i)), nil)
	}

	logs := worker.Logs()
	if len(logs) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(logs))
	}
	if logs[0].Message != "d" || logs[4].Message != "h" {
		t.Fatalf("ring not chronological: first=%q last=%q", logs[0].Message, logs[4].Message)
	}
}

func TestRegistryStartStopIdempotent(t *testing.T) {
	cfg := testSymbolConfig()
	configs := &fakeConfigs{cfg: cfg}

	registry := NewRegistry(Deps{
		Candles: &fakeCandles{err: errors.New("offline")},
		Signals: &fakeSignals{},
		Alerts:  &fakeAlerts{},
		Events:  &fakeEvents{},
		Configs: configs,
	}, configs)

	ctx := context.Background()
	if err := registry.Start(ctx, "BTCUSDT", "30m"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := registry.Start(ctx, "BTCUSDT", "30m"); err != nil {
		t.Fatalf("second start must be a no-op, got %v", err)
	}
	if got := len(registry.Statuses()); got != 1 {
		t.Fatalf("expected 1 worker, got %d", got)
	}

	registry.Stop("BTCUSDT", "30m")
	registry.Stop("BTCUSDT", "30m") // stopping again is fine

	if got := len(registry.Statuses()); got != 0 {
		t.Fatalf("expected no workers after stop, got %d", got)
	}
}

func TestRegistryUnknownPair(t *testing.T) {
	configs := &fakeConfigs{cfg: testSymbolConfig()}
	registry := NewRegistry(Deps{Configs: configs}, configs)

	if _, err := registry.Logs("DOGEUSDT", "5m"); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("expected ErrUnknownWorker, got %v", err)
	}
}
