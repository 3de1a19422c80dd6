package fanout

import (
	"fmt"
	"strings"
	"time"

	"utrader/src/assets"
	"utrader/src/model"
)

// eventGroup is one outbound message worth of queued events. Fill events on
// the same (symbol, side) created inside the grouping window collapse into
// one group; signals and health reports always travel alone.
type eventGroup struct {
	kind      string
	symbol    string
	cryptoTag string
	side      string

	ids       []uint
	signalIDs []uint

	count    int
	totalQty float64
	quoteSum float64 // sum of qty*price, for the volume-weighted average
	pnlQuote float64
	hasPnl   bool

	message string // pre-composed text for SIGNAL and HEALTH events
}

func (g *eventGroup) vwap() float64 {
	if g.totalQty == 0 {
		return 0
	}
	return g.quoteSum / g.totalQty
}

// groupEvents folds pending events into message groups, preserving queue
// order. Events whose payload does not decode are returned separately so the
// caller can fail them instead of wedging the queue.
func groupEvents(events []model.TradingEvent, window time.Duration, now time.Time) ([]*eventGroup, []model.TradingEvent) {
	var groups []*eventGroup
	var malformed []model.TradingEvent
	byKey := make(map[string]*eventGroup)

	for _, event := range events {
		payload, err := event.DecodePayload()
		if err != nil {
			malformed = append(malformed, event)
			continue
		}

		tag := payload.CryptoTag
		if tag == "" {
			tag = assets.TagForSymbol(payload.Symbol)
		}

		switch event.Kind {
		case model.EventKindOrderFilledBuy, model.EventKindOrderFilledSell:
			key := event.Kind + "|" + payload.Symbol
			if now.Sub(event.CreatedAt) > window {
				// Too old to batch with anything; send on its own.
				key = fmt.Sprintf("%s|%d", key, event.ID)
			}
			group, ok := byKey[key]
			if !ok {
				group = &eventGroup{
					kind:      event.Kind,
					symbol:    payload.Symbol,
					cryptoTag: tag,
					side:      payload.Side,
				}
				byKey[key] = group
				groups = append(groups, group)
			}
			group.ids = append(group.ids, event.ID)
			group.count++
			group.totalQty += payload.Quantity
			group.quoteSum += payload.Quantity * payload.Price
			if payload.PnlQuote != 0 || event.Kind == model.EventKindOrderFilledSell {
				group.pnlQuote += payload.PnlQuote
				group.hasPnl = true
			}

		default:
			// SIGNAL, HEALTH and anything future: one message per event.
			group := &eventGroup{
				kind:      event.Kind,
				symbol:    payload.Symbol,
				cryptoTag: tag,
				ids:       []uint{event.ID},
				count:     1,
				message:   payload.Message,
			}
			if payload.SignalID != 0 {
				group.signalIDs = append(group.signalIDs, payload.SignalID)
			}
			groups = append(groups, group)
		}
	}

	return groups, malformed
}

// composeMessage renders the single outbound text for a group.
func composeMessage(g *eventGroup) string {
	switch g.kind {
	case model.EventKindOrderFilledBuy, model.EventKindOrderFilledSell:
		var b strings.Builder
		if g.side == model.OrderSideSell {
			b.WriteString("🔴 SELL ")
		} else {
			b.WriteString("🟢 BUY ")
		}
		b.WriteString(g.symbol)

		noun := "operations"
		if g.count == 1 {
			noun = "operation"
		}
		fmt.Fprintf(&b, ": %d %s, total %.6f %s, avg price %.2f USDT",
			g.count, noun, g.totalQty, assets.BaseAsset(g.symbol), g.vwap())

		if g.side == model.OrderSideSell && g.hasPnl {
			fmt.Fprintf(&b, ", PnL %+.2f USDT", g.pnlQuote)
		}
		return b.String()

	default:
		if g.message != "" {
			return g.message
		}
		return fmt.Sprintf("%s %s", g.kind, g.symbol)
	}
}
