// REST client for Binance spot. Resty with internal retry; signed calls
// use HMAC-SHA256 over the canonical query string per the venue docs.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"utrader/src/model"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 250 * time.Millisecond
	defaultRetryMaxDelay  = 4 * time.Second

	// recvWindow is deliberately tight; clock skew is handled by SyncTime.
	recvWindowMs = 5000
)

// Credentials identifies one user's exchange account. Testnet and mainnet
// differ only in base URL.
type Credentials struct {
	Key     string
	Secret  string
	Testnet bool
}

// Balance is one asset's free/locked amounts on the account.
type Balance struct {
	Free   float64
	Locked float64
}

// TradeFill is one executed trade from GET /api/v3/myTrades.
type TradeFill struct {
	ID              int64
	VenueOrderID    int64
	Symbol          string
	Price           float64
	Qty             float64
	QuoteQty        float64
	Commission      float64
	CommissionAsset string
	IsBuyer         bool
	Time            time.Time
}

// VenueOrder is one order as the venue reports it.
type VenueOrder struct {
	VenueOrderID int64
	Symbol       string
	Side         string
	Type         string
	Status       string
	OrigQty      float64
	ExecutedQty  float64
	QuoteQty     float64
	Time         time.Time
}

// OrderResult is the venue's response to a placed market order, with the
// fills already aggregated.
type OrderResult struct {
	VenueOrderID    int64
	Symbol          string
	Side            string
	Status          string
	ExecutedQty     float64
	AvgFillPrice    float64
	Commission      float64
	CommissionAsset string
	TransactTime    time.Time
}

// SymbolFilters carries the trading filters the executor rounds against.
type SymbolFilters struct {
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// Client is the single point of contact with the venue. Public market data
// always goes to mainnet; signed calls are routed by the credentials'
// testnet flag.
type Client struct {
	mainnet *resty.Client
	testnet *resty.Client
	limiter *rate.Limiter

	mu         sync.RWMutex
	timeOffset time.Duration
	filters    map[string]SymbolFilters
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	// 418/429 are rate-limit responses and must fail the call instead of
	// hammering the venue further.
	return code >= 500 && code <= 599
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxDelay).
		AddRetryCondition(isRetryableResp)
}

// NewClient builds a venue client from the package config.
func NewClient() *Client {
	return NewClientWithConfig(GetConfig())
}

// NewClientWithConfig builds a venue client from an explicit config.
// Useful for tests or pointing at a private mirror.
func NewClientWithConfig(cfg Config) *Client {
	return &Client{
		mainnet: newRestyClient(cfg.MainnetBaseURL, cfg.RequestTimeout),
		testnet: newRestyClient(cfg.TestnetBaseURL, cfg.RequestTimeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
		filters: make(map[string]SymbolFilters),
	}
}

func (c *Client) restFor(creds *Credentials) *resty.Client {
	if creds != nil && creds.Testnet {
		return c.testnet
	}
	return c.mainnet
}

// ---------------------------------------------------
// signing and transport
// ---------------------------------------------------

func sign(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) serverNow() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.timeOffset)
}

// SyncTime measures the venue clock offset so that signed timestamps stay
// inside recvWindow.
func (c *Client) SyncTime(ctx context.Context) error {
	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}

	raw, err := c.public(ctx, "/api/v3/time", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode server time: %w", err)
	}

	offset := time.UnixMilli(payload.ServerTime).Sub(time.Now())

	c.mu.Lock()
	c.timeOffset = offset
	c.mu.Unlock()

	logger.WithField("offset_ms", offset.Milliseconds()).Debug("venue clock synced")
	return nil
}

// Ping probes venue connectivity. Used by the health monitor.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.public(ctx, "/api/v3/ping", nil)
	return err
}

func (c *Client) public(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransientError{Err: err}
	}

	req := c.mainnet.R().SetContext(ctx)
	target := path
	if len(params) > 0 {
		target = path + "?" + params.Encode()
	}

	resp, err := req.Execute("GET", target)
	return classify(resp, err)
}

// signedRequest sends an authenticated request. The signature covers the
// exact query string that goes on the wire, so the string is built once and
// never re-encoded.
func (c *Client) signedRequest(ctx context.Context, creds Credentials, method, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransientError{Err: err}
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.serverNow().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMs))

	query := params.Encode()
	query = query + "&signature=" + sign(query, creds.Secret)

	resp, err := c.restFor(&creds).R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", creds.Key).
		Execute(method, path+"?"+query)

	return classify(resp, err)
}

// classify maps transport results onto the package error kinds.
func classify(resp *resty.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	code := resp.StatusCode()
	body := resp.Body()

	switch {
	case code == 200:
		return body, nil
	case code == 418 || code == 429:
		return nil, fmt.Errorf("%w: HTTP %d", ErrRateLimited, code)
	case code == 401 || code == 403:
		return nil, fmt.Errorf("%w: HTTP %d", ErrAuth, code)
	case code >= 500:
		return nil, &TransientError{Err: fmt.Errorf("HTTP %d: %s", code, string(body))}
	}

	var venueErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if jsonErr := json.Unmarshal(body, &venueErr); jsonErr == nil && venueErr.Code != 0 {
		if venueErr.Code == -2014 || venueErr.Code == -2015 || venueErr.Code == -1022 {
			return nil, fmt.Errorf("%w: code=%d msg=%s", ErrAuth, venueErr.Code, venueErr.Msg)
		}
		return nil, &RejectedError{Code: venueErr.Code, Msg: venueErr.Msg}
	}

	return nil, &RejectedError{Code: code, Msg: string(body)}
}

// ---------------------------------------------------
// market data
// ---------------------------------------------------

// GetCandles fetches up to limit closed and current klines, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	raw, err := c.public(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		kline, err := parseKlineRow(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, kline)
	}
	return candles, nil
}

func parseKlineRow(row []json.RawMessage) (model.Candle, error) {
	if len(row) < 7 {
		return model.Candle{}, fmt.Errorf("kline row has %d fields, want >= 7", len(row))
	}

	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Candle{}, fmt.Errorf("kline open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return model.Candle{}, fmt.Errorf("kline close time: %w", err)
	}

	nums := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(row[i], &s); err != nil {
			return model.Candle{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		nums[i-1] = v
	}

	return model.Candle{
		OpenTime:  time.UnixMilli(openMs),
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    nums[4],
		CloseTime: time.UnixMilli(closeMs),
	}, nil
}

// GetPrice returns the current quote price for the symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	raw, err := c.public(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}

	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("invalid price %q for %s", payload.Price, symbol)
	}
	return price, nil
}

// ---------------------------------------------------
// account
// ---------------------------------------------------

// GetBalances returns the asset balances of the account behind creds.
func (c *Client) GetBalances(ctx context.Context, creds Credentials) (map[string]Balance, error) {
	raw, err := c.signedRequest(ctx, creds, "GET", "/api/v3/account", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	balances := make(map[string]Balance, len(payload.Balances))
	for _, b := range payload.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		balances[b.Asset] = Balance{Free: free, Locked: locked}
	}
	return balances, nil
}

// GetTrades lists the account's fills on the symbol since the given time,
// oldest first. Used by reconciliation.
func (c *Client) GetTrades(ctx context.Context, creds Credentials, symbol string, since time.Time) ([]TradeFill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if !since.IsZero() {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	raw, err := c.signedRequest(ctx, creds, "GET", "/api/v3/myTrades", params)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID              int64  `json:"id"`
		OrderID         int64  `json:"orderId"`
		Symbol          string `json:"symbol"`
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		QuoteQty        string `json:"quoteQty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
		Time            int64  `json:"time"`
		IsBuyer         bool   `json:"isBuyer"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode myTrades: %w", err)
	}

	fills := make([]TradeFill, 0, len(rows))
	for _, row := range rows {
		price, _ := strconv.ParseFloat(row.Price, 64)
		qty, _ := strconv.ParseFloat(row.Qty, 64)
		quoteQty, _ := strconv.ParseFloat(row.QuoteQty, 64)
		commission, _ := strconv.ParseFloat(row.Commission, 64)

		fills = append(fills, TradeFill{
			ID:              row.ID,
			VenueOrderID:    row.OrderID,
			Symbol:          row.Symbol,
			Price:           price,
			Qty:             qty,
			QuoteQty:        quoteQty,
			Commission:      commission,
			CommissionAsset: row.CommissionAsset,
			IsBuyer:         row.IsBuyer,
			Time:            time.UnixMilli(row.Time),
		})
	}
	return fills, nil
}

// GetOrders lists the account's orders on the symbol since the given time.
func (c *Client) GetOrders(ctx context.Context, creds Credentials, symbol string, since time.Time) ([]VenueOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if !since.IsZero() {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	raw, err := c.signedRequest(ctx, creds, "GET", "/api/v3/allOrders", params)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		OrderID             int64  `json:"orderId"`
		Symbol              string `json:"symbol"`
		Side                string `json:"side"`
		Type                string `json:"type"`
		Status              string `json:"status"`
		OrigQty             string `json:"origQty"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Time                int64  `json:"time"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode allOrders: %w", err)
	}

	orders := make([]VenueOrder, 0, len(rows))
	for _, row := range rows {
		origQty, _ := strconv.ParseFloat(row.OrigQty, 64)
		executedQty, _ := strconv.ParseFloat(row.ExecutedQty, 64)
		quoteQty, _ := strconv.ParseFloat(row.CummulativeQuoteQty, 64)

		orders = append(orders, VenueOrder{
			VenueOrderID: row.OrderID,
			Symbol:       row.Symbol,
			Side:         row.Side,
			Type:         row.Type,
			Status:       row.Status,
			OrigQty:      origQty,
			ExecutedQty:  executedQty,
			QuoteQty:     quoteQty,
			Time:         time.UnixMilli(row.Time),
		})
	}
	return orders, nil
}

// ---------------------------------------------------
// trading
// ---------------------------------------------------

// PlaceMarketOrder places a MARKET order. The quantity must already be
// rounded to the symbol's step; RoundQuantity does both the rounding and
// the minNotional gate.
func (c *Client) PlaceMarketOrder(ctx context.Context, creds Credentials, symbol, side string, quantity decimal.Decimal) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", quantity.String())
	params.Set("newOrderRespType", "FULL")

	raw, err := c.signedRequest(ctx, creds, "POST", "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		OrderID             int64  `json:"orderId"`
		Symbol              string `json:"symbol"`
		Side                string `json:"side"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		TransactTime        int64  `json:"transactTime"`
		Fills               []struct {
			Price           string `json:"price"`
			Qty             string `json:"qty"`
			Commission      string `json:"commission"`
			CommissionAsset string `json:"commissionAsset"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	executedQty, _ := strconv.ParseFloat(payload.ExecutedQty, 64)
	quoteQty, _ := strconv.ParseFloat(payload.CummulativeQuoteQty, 64)

	result := &OrderResult{
		VenueOrderID: payload.OrderID,
		Symbol:       payload.Symbol,
		Side:         payload.Side,
		Status:       payload.Status,
		ExecutedQty:  executedQty,
		TransactTime: time.UnixMilli(payload.TransactTime),
	}

	if executedQty > 0 && quoteQty > 0 {
		result.AvgFillPrice = quoteQty / executedQty
	}
	for _, fill := range payload.Fills {
		commission, _ := strconv.ParseFloat(fill.Commission, 64)
		result.Commission += commission
		result.CommissionAsset = fill.CommissionAsset
	}

	logger.WithFields(map[string]interface{}{
		"symbol":         symbol,
		"side":           side,
		"qty":            quantity.String(),
		"venue_order_id": result.VenueOrderID,
		"status":         result.Status,
	}).Info("market order placed")

	return result, nil
}

// CancelOrder cancels a live order by its venue id.
func (c *Client) CancelOrder(ctx context.Context, creds Credentials, symbol string, venueOrderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(venueOrderID, 10))

	_, err := c.signedRequest(ctx, creds, "DELETE", "/api/v3/order", params)
	return err
}

// ---------------------------------------------------
// filters
// ---------------------------------------------------

// Filters returns the LOT_SIZE step and minimum notional for the symbol,
// fetching exchangeInfo once and caching the result.
func (c *Client) Filters(ctx context.Context, symbol string) (SymbolFilters, error) {
	c.mu.RLock()
	cached, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	raw, err := c.public(ctx, "/api/v3/exchangeInfo", params)
	if err != nil {
		return SymbolFilters{}, err
	}

	var payload struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SymbolFilters{}, fmt.Errorf("decode exchangeInfo: %w", err)
	}

	for _, s := range payload.Symbols {
		if s.Symbol != symbol {
			continue
		}

		var filters SymbolFilters
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				step, err := decimal.NewFromString(f.StepSize)
				if err != nil {
					return SymbolFilters{}, fmt.Errorf("parse stepSize: %w", err)
				}
				filters.StepSize = step
			case "NOTIONAL", "MIN_NOTIONAL":
				minNotional, err := decimal.NewFromString(f.MinNotional)
				if err != nil {
					return SymbolFilters{}, fmt.Errorf("parse minNotional: %w", err)
				}
				filters.MinNotional = minNotional
			}
		}

		c.mu.Lock()
		c.filters[symbol] = filters
		c.mu.Unlock()

		return filters, nil
	}

	return SymbolFilters{}, &RejectedError{Code: -1121, Msg: fmt.Sprintf("unknown symbol %s", symbol)}
}

// RoundQuantity floors the raw quantity to the symbol's step size and
// verifies the resulting notional clears the venue minimum.
func RoundQuantity(raw, price decimal.Decimal, filters SymbolFilters) (decimal.Decimal, error) {
	if filters.StepSize.IsZero() {
		return decimal.Zero, fmt.Errorf("step size not set")
	}

	steps := raw.Div(filters.StepSize).Floor()
	qty := steps.Mul(filters.StepSize)

	if qty.Mul(price).LessThan(filters.MinNotional) {
		return decimal.Zero, fmt.Errorf("%w: qty=%s price=%s min=%s",
			ErrMinNotional, qty.String(), price.String(), filters.MinNotional.String())
	}
	return qty, nil
}
