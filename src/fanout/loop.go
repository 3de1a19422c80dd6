package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"utrader/src/assets"
	"utrader/src/model"
)

// Fanout drains the trading-event queue and pushes each group of events to
// every subscribed chat of the matching asset. Delivery is at-least-once;
// the grouping step guarantees each event appears in exactly one message.
type Fanout struct {
	deps Deps
	cfg  Config

	mu       sync.Mutex
	subCache map[string]subCacheEntry
}

type subCacheEntry struct {
	chats     []int64
	fetchedAt time.Time
}

func New(deps Deps) *Fanout {
	cfg := GetConfig()
	if deps.Sender == nil {
		deps.Sender = newTelegramSender(cfg.SendMinGap)
	}
	return &Fanout{
		deps:     deps,
		cfg:      cfg,
		subCache: make(map[string]subCacheEntry),
	}
}

// Run polls the queue until the context is cancelled.
func (f *Fanout) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"poll":    f.cfg.PollInterval.String(),
		"enabled": f.cfg.Enabled,
	}).Info("[fanout] loop started")

	f.Pass(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[fanout] loop stopped")
			return nil
		case <-ticker.C:
			f.Pass(ctx)
		}
	}
}

// Pass executes one drain of the queue. When the feature flag is off the
// pass is a no-op: events keep queueing and drain once re-enabled.
func (f *Fanout) Pass(ctx context.Context) {
	if !f.cfg.Enabled {
		return
	}

	events, err := f.deps.Events.FindPending(ctx, f.cfg.BatchSize)
	if err != nil {
		logger.WithError(err).Error("[fanout] failed to fetch pending events")
		return
	}
	if len(events) == 0 {
		return
	}

	groups, malformed := groupEvents(events, f.cfg.GroupWindow, time.Now().UTC())
	for _, event := range malformed {
		if err := f.deps.Events.MarkFailed(ctx, event.ID, "payload does not decode"); err != nil {
			logger.WithError(err).WithField("eventID", event.ID).Error("[fanout] mark failed")
		}
	}
	for _, group := range groups {
		f.deliver(ctx, group)
	}
}

func (f *Fanout) deliver(ctx context.Context, group *eventGroup) {
	log := logger.WithFields(map[string]interface{}{
		"kind":   group.kind,
		"symbol": group.symbol,
		"events": group.count,
	})

	if group.kind == model.EventKindHealth {
		f.deliverAdmin(ctx, group)
		return
	}

	info, err := assets.ByTag(assets.Asset(group.cryptoTag))
	if err != nil {
		f.failGroup(ctx, group, fmt.Sprintf("no asset for tag %q", group.cryptoTag))
		return
	}
	token := info.BotToken()
	if token == "" {
		f.failGroup(ctx, group, fmt.Sprintf("no bot token configured for %s", info.Tag))
		return
	}

	chats, err := f.subscribers(ctx, group.cryptoTag)
	if err != nil {
		log.WithError(err).Error("[fanout] subscriber lookup failed")
		return // events stay pending, next pass retries
	}
	if len(chats) == 0 {
		f.finishGroup(ctx, group, "no subscribers")
		return
	}

	text := composeMessage(group)
	delivered := 0
	var lastErr error
	for _, chat := range chats {
		if err := f.deps.Sender.Send(ctx, token, chat, text); err != nil {
			lastErr = err
			log.WithError(err).WithField("chatID", chat).Warn("[fanout] send failed")
			continue
		}
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		f.failGroup(ctx, group, lastErr.Error())
		return
	}
	f.finishGroup(ctx, group, fmt.Sprintf("delivered to %d/%d chats", delivered, len(chats)))
	log.WithField("delivered", delivered).Info("[fanout] group delivered")
}

// deliverAdmin routes health reports to the operators' channel.
func (f *Fanout) deliverAdmin(ctx context.Context, group *eventGroup) {
	if f.cfg.AdminBotToken == "" || f.cfg.AdminChatID == 0 {
		f.failGroup(ctx, group, "admin channel not configured")
		return
	}
	if err := f.deps.Sender.Send(ctx, f.cfg.AdminBotToken, f.cfg.AdminChatID, composeMessage(group)); err != nil {
		f.failGroup(ctx, group, err.Error())
		return
	}
	f.finishGroup(ctx, group, "delivered to admin channel")
}

func (f *Fanout) finishGroup(ctx context.Context, group *eventGroup, note string) {
	if err := f.deps.Events.MarkSent(ctx, group.ids, note); err != nil {
		logger.WithError(err).Error("[fanout] failed to mark events sent")
		return
	}
	if f.deps.Alerts == nil {
		return
	}
	for _, signalID := range group.signalIDs {
		if err := f.deps.Alerts.MarkDeliveredBySignal(ctx, signalID); err != nil {
			logger.WithError(err).WithField("signalID", signalID).Warn("[fanout] failed to flag alert delivered")
		}
	}
}

func (f *Fanout) failGroup(ctx context.Context, group *eventGroup, cause string) {
	for _, id := range group.ids {
		if err := f.deps.Events.MarkFailed(ctx, id, cause); err != nil {
			logger.WithError(err).WithField("eventID", id).Error("[fanout] mark failed")
		}
	}
}

// subscribers returns the chat ids for an asset, served from a short-lived
// cache so one pass over many groups hits the database once per asset.
func (f *Fanout) subscribers(ctx context.Context, cryptoTag string) ([]int64, error) {
	f.mu.Lock()
	entry, ok := f.subCache[cryptoTag]
	f.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < f.cfg.SubscriberCacheTTL {
		return entry.chats, nil
	}

	chats, err := f.deps.Telegram.FindSubscribers(ctx, cryptoTag)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.subCache[cryptoTag] = subCacheEntry{chats: chats, fetchedAt: time.Now()}
	f.mu.Unlock()
	return chats, nil
}

// InvalidateSubscribers drops the cached chat list for an asset. The bot
// listener calls this when someone subscribes or unsubscribes.
func (f *Fanout) InvalidateSubscribers(cryptoTag string) {
	f.mu.Lock()
	delete(f.subCache, cryptoTag)
	f.mu.Unlock()
}
