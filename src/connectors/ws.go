package connectors

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// PriceTick is one live price update from the miniTicker stream.
type PriceTick struct {
	Symbol string
	Price  float64
	At     time.Time
}

const (
	wsReadTimeout      = 90 * time.Second
	wsReconnectBackoff = 5 * time.Second
)

// StreamMiniTickers subscribes to the combined miniTicker stream for the
// given symbols and feeds ticks into the returned channel until the context
// is cancelled. The stream is best-effort: on any error it reconnects after
// a short backoff, and consumers must treat REST prices as authoritative.
func (c *Client) StreamMiniTickers(ctx context.Context, symbols []string) <-chan PriceTick {
	cfg := GetConfig()

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@miniTicker")
	}
	endpoint := cfg.WsBaseURL + "/stream?streams=" + strings.Join(streams, "/")

	out := make(chan PriceTick, len(symbols)*4)

	go func() {
		defer close(out)

		for {
			if ctx.Err() != nil {
				return
			}

			if err := c.readTickerStream(ctx, endpoint, out); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("ticker stream dropped, reconnecting")
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(wsReconnectBackoff):
			}
		}
	}()

	return out
}

func (c *Client) readTickerStream(ctx context.Context, endpoint string, out chan<- PriceTick) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame struct {
			Data struct {
				EventType string `json:"e"`
				EventTime int64  `json:"E"`
				Symbol    string `json:"s"`
				Close     string `json:"c"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Data.Symbol == "" {
			continue
		}

		price, err := strconv.ParseFloat(frame.Data.Close, 64)
		if err != nil || price <= 0 {
			continue
		}

		tick := PriceTick{
			Symbol: frame.Data.Symbol,
			Price:  price,
			At:     time.UnixMilli(frame.Data.EventTime),
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return nil
		default:
			// slow consumer: drop the tick, REST polling covers the gap
		}
	}
}
