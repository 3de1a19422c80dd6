package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"utrader/src/model"
)

// ErrUnknownWorker is returned for operations on a pair no worker covers.
var ErrUnknownWorker = errors.New("scanner: no worker for that symbol/timeframe")

// ConfigStore extends ConfigSource with the writes the registry performs.
type ConfigStore interface {
	ConfigSource
	FindEnabled(ctx context.Context) ([]model.SymbolConfig, error)
	Save(ctx context.Context, config *model.SymbolConfig) error
}

type runningWorker struct {
	worker *Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns all scanner workers, one per (symbol, timeframe) pair.
// Start and Stop are idempotent.
type Registry struct {
	deps    Deps
	configs ConfigStore

	mu      sync.Mutex
	workers map[string]*runningWorker
}

func NewRegistry(deps Deps, configs ConfigStore) *Registry {
	return &Registry{
		deps:    deps,
		configs: configs,
		workers: make(map[string]*runningWorker),
	}
}

func workerKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// StartAll launches a worker for every enabled config row.
func (r *Registry) StartAll(ctx context.Context) error {
	configs, err := r.configs.FindEnabled(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if err := r.Start(ctx, cfg.Symbol, cfg.Timeframe); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the worker for the pair. Starting an already running
// worker is a no-op.
func (r *Registry) Start(ctx context.Context, symbol, timeframe string) error {
	cfg, err := r.configs.Find(ctx, symbol, timeframe)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("%w: %s %s", ErrUnknownWorker, symbol, timeframe)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := workerKey(symbol, timeframe)
	if _, ok := r.workers[key]; ok {
		logger.WithField("key", key).Debug("[scanner] worker already running")
		return nil
	}

	worker := NewWorker(*cfg, r.deps)
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()

	r.workers[key] = &runningWorker{worker: worker, cancel: cancel, done: done}
	return nil
}

// Stop cancels the worker for the pair and waits for it to exit.
// Stopping a stopped (or unknown) worker is a no-op.
func (r *Registry) Stop(symbol, timeframe string) {
	r.mu.Lock()
	running, ok := r.workers[workerKey(symbol, timeframe)]
	if ok {
		delete(r.workers, workerKey(symbol, timeframe))
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	running.cancel()
	<-running.done
}

// StopAll shuts every worker down, bounded by the context deadline.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*runningWorker, 0, len(r.workers))
	for key, running := range r.workers {
		all = append(all, running)
		delete(r.workers, key)
	}
	r.mu.Unlock()

	for _, running := range all {
		running.cancel()
		select {
		case <-running.done:
		case <-ctx.Done():
			return
		}
	}
}

// Statuses reports every known worker's status.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.workers))
	for _, running := range r.workers {
		out = append(out, running.worker.Status())
	}
	return out
}

// Logs returns the activity log of one worker.
func (r *Registry) Logs(symbol, timeframe string) ([]LogEntry, error) {
	r.mu.Lock()
	running, ok := r.workers[workerKey(symbol, timeframe)]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownWorker, symbol, timeframe)
	}
	return running.worker.Logs(), nil
}

// UpdateConfig persists new scanner settings. The running worker picks
// them up on its next tick; nothing is restarted.
func (r *Registry) UpdateConfig(ctx context.Context, config *model.SymbolConfig) error {
	existing, err := r.configs.Find(ctx, config.Symbol, config.Timeframe)
	if err != nil {
		return err
	}
	if existing != nil {
		config.ID = existing.ID
		config.CreatedAt = existing.CreatedAt
	}
	return r.configs.Save(ctx, config)
}

// LastTickAges reports, per running worker, how long ago it last ticked.
// The health monitor uses this to spot stalled workers.
func (r *Registry) LastTickAges(now time.Time) map[string]time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]time.Duration, len(r.workers))
	for key, running := range r.workers {
		status := running.worker.Status()
		if !status.Running || status.LastTick.IsZero() {
			continue
		}
		out[key] = now.Sub(status.LastTick)
	}
	return out
}

// ScanIntervals reports each running worker's configured interval, for
// staleness thresholds.
func (r *Registry) ScanIntervals(ctx context.Context) map[string]time.Duration {
	r.mu.Lock()
	keys := make(map[string]*runningWorker, len(r.workers))
	for key, running := range r.workers {
		keys[key] = running
	}
	r.mu.Unlock()

	out := make(map[string]time.Duration, len(keys))
	for key, running := range keys {
		running.worker.mu.Lock()
		out[key] = running.worker.cfg.ScanInterval()
		running.worker.mu.Unlock()
	}
	return out
}
