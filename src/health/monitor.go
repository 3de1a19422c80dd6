package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"utrader/src/model"
)

// VenueProbe checks the exchange connection.
type VenueProbe interface {
	Ping(ctx context.Context) error
}

// StoreCounts is the database snapshot included in summary reports.
type StoreCounts struct {
	OpenPositions int64
	PendingEvents int64
	SignalsToday  int64
}

// StoreProbe checks the database round-trip and gathers basic counts.
type StoreProbe interface {
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (StoreCounts, error)
}

// WorkerProbe is the slice of the scanner registry the monitor inspects.
type WorkerProbe interface {
	LastTickAges(now time.Time) map[string]time.Duration
	ScanIntervals(ctx context.Context) map[string]time.Duration
}

// EventQueue carries health reports to the admin channel via the fan-out.
type EventQueue interface {
	Enqueue(ctx context.Context, kind string, payload model.EventPayload) (*model.TradingEvent, error)
}

// Deps bundles the monitor's collaborators.
type Deps struct {
	Venue   VenueProbe
	Store   StoreProbe
	Workers WorkerProbe
	Events  EventQueue
}

// Report is the outcome of one probe pass.
type Report struct {
	At       time.Time
	Problems []string
	Counts   StoreCounts
	Workers  int
}

func (r Report) Healthy() bool { return len(r.Problems) == 0 }

// Monitor probes the venue, the database and the scanner workers on a fixed
// cadence and posts to the admin channel when the overall verdict flips.
type Monitor struct {
	deps Deps
	cfg  Config

	mu        sync.Mutex
	unhealthy bool
	last      Report
}

func NewMonitor(deps Deps) *Monitor {
	return &Monitor{deps: deps, cfg: GetConfig()}
}

// Run blocks until the context is cancelled, probing every ProbeInterval and
// posting a summary every SummaryInterval.
func (m *Monitor) Run(ctx context.Context) error {
	probeTicker := time.NewTicker(m.cfg.ProbeInterval)
	defer probeTicker.Stop()
	summaryTicker := time.NewTicker(m.cfg.SummaryInterval)
	defer summaryTicker.Stop()

	logger.WithFields(map[string]interface{}{
		"probe":   m.cfg.ProbeInterval.String(),
		"summary": m.cfg.SummaryInterval.String(),
	}).Info("[health] monitor started")

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[health] monitor stopped")
			return nil
		case <-probeTicker.C:
			m.Check(ctx)
		case <-summaryTicker.C:
			m.Summary(ctx)
		}
	}
}

// Check runs one probe pass and posts to the admin channel when the verdict
// changes in either direction.
func (m *Monitor) Check(ctx context.Context) Report {
	report := m.probe(ctx)

	m.mu.Lock()
	wasUnhealthy := m.unhealthy
	m.unhealthy = !report.Healthy()
	m.last = report
	m.mu.Unlock()

	switch {
	case !wasUnhealthy && !report.Healthy():
		m.post(ctx, fmt.Sprintf("⚠️ unhealthy: %s", strings.Join(report.Problems, "; ")))
	case wasUnhealthy && report.Healthy():
		m.post(ctx, "✅ recovered: all probes passing")
	}
	return report
}

// Summary posts the periodic status digest regardless of health.
func (m *Monitor) Summary(ctx context.Context) {
	m.mu.Lock()
	report := m.last
	m.mu.Unlock()
	if report.At.IsZero() {
		report = m.Check(ctx)
	}

	state := "all probes OK"
	if !report.Healthy() {
		state = fmt.Sprintf("%d problems: %s", len(report.Problems), strings.Join(report.Problems, "; "))
	}
	m.post(ctx, fmt.Sprintf(
		"Status summary: %d scanners running, %d open positions, %d pending events, %d signals today. %s",
		report.Workers, report.Counts.OpenPositions, report.Counts.PendingEvents, report.Counts.SignalsToday, state))
}

func (m *Monitor) probe(ctx context.Context) Report {
	report := Report{At: time.Now().UTC()}

	if err := m.deps.Venue.Ping(ctx); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("venue ping failed: %v", err))
	}

	if err := m.deps.Store.Ping(ctx); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("database ping failed: %v", err))
	} else if counts, err := m.deps.Store.Counts(ctx); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("database counts failed: %v", err))
	} else {
		report.Counts = counts
	}

	ages := m.deps.Workers.LastTickAges(report.At)
	intervals := m.deps.Workers.ScanIntervals(ctx)
	report.Workers = len(ages)

	stalled := make([]string, 0)
	for key, age := range ages {
		interval := intervals[key]
		if interval <= 0 {
			continue
		}
		if age > 2*interval {
			stalled = append(stalled, fmt.Sprintf("%s last tick %s ago", key, age.Round(time.Second)))
		}
	}
	sort.Strings(stalled)
	for _, s := range stalled {
		report.Problems = append(report.Problems, "scanner stalled: "+s)
	}

	return report
}

func (m *Monitor) post(ctx context.Context, message string) {
	if _, err := m.deps.Events.Enqueue(ctx, model.EventKindHealth, model.EventPayload{Message: message}); err != nil {
		logger.WithError(err).Error("[health] failed to enqueue report")
	}
}
