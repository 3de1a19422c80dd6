package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"utrader/src/connectors"
	"utrader/src/model"
	"utrader/src/repository"
)

// ---------------------------------------------------
// fakes shared by the executor tests
// ---------------------------------------------------

type placedOrder struct {
	symbol string
	side   string
	qty    string
}

type fakeVenue struct {
	mu         sync.Mutex
	balances   map[string]connectors.Balance
	balanceErr error
	price      float64
	priceErr   error
	priceCalls int
	filters    connectors.SymbolFilters
	orderRes   *connectors.OrderResult
	orderErr   error
	placed     []placedOrder
	trades     []connectors.TradeFill
	tradesErr  error
}

func (f *fakeVenue) GetBalances(ctx context.Context, creds connectors.Credentials) (map[string]connectors.Balance, error) {
	return f.balances, f.balanceErr
}

func (f *fakeVenue) GetPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	f.priceCalls++
	f.mu.Unlock()
	return f.price, f.priceErr
}

func (f *fakeVenue) Filters(ctx context.Context, symbol string) (connectors.SymbolFilters, error) {
	return f.filters, nil
}

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, creds connectors.Credentials, symbol, side string, quantity decimal.Decimal) (*connectors.OrderResult, error) {
	f.mu.Lock()
	f.placed = append(f.placed, placedOrder{symbol: symbol, side: side, qty: quantity.String()})
	f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	return f.orderRes, nil
}

func (f *fakeVenue) GetTrades(ctx context.Context, creds connectors.Credentials, symbol string, since time.Time) ([]connectors.TradeFill, error) {
	return f.trades, f.tradesErr
}

type fakeSignalSource struct {
	signals []model.Signal
}

func (f *fakeSignalSource) FindRecent(ctx context.Context, opts repository.SignalSearchOptions) ([]model.Signal, error) {
	return f.signals, nil
}

type fakeKeys struct {
	mu            sync.Mutex
	keys          []model.ApiKey
	statusUpdates map[uint]string
}

func (f *fakeKeys) FindActiveAutoTrading(ctx context.Context) ([]model.ApiKey, error) {
	return f.keys, nil
}

func (f *fakeKeys) FindByID(ctx context.Context, id uint) (*model.ApiKey, error) {
	for i := range f.keys {
		if f.keys[i].ID == id {
			key := f.keys[i]
			return &key, nil
		}
	}
	return nil, nil
}

func (f *fakeKeys) UpdateConnectionStatus(ctx context.Context, id uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusUpdates == nil {
		f.statusUpdates = make(map[uint]string)
	}
	f.statusUpdates[id] = status
	return nil
}

type closedPair struct {
	buy  *model.Order
	sell *model.Order
}

type fakeOrders struct {
	mu           sync.Mutex
	created      []*model.Order
	open         []model.Order
	hasForSignal bool
	closed       []closedPair
	latestExec   *time.Time
	nextID       uint
}

func (f *fakeOrders) assignID(order *model.Order) {
	f.nextID++
	order.ID = f.nextID + 100
}

func (f *fakeOrders) Create(ctx context.Context, order *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignID(order)
	f.created = append(f.created, order)
	return nil
}

func (f *fakeOrders) FindAllOpenPositions(ctx context.Context) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Order(nil), f.open...), nil
}

func (f *fakeOrders) FindOpenPositions(ctx context.Context, apiKeyID uint) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Order
	for _, o := range f.open {
		if o.ApiKeyID == apiKeyID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrders) HasOrderForSignal(ctx context.Context, apiKeyID, signalID uint) (bool, error) {
	return f.hasForSignal, nil
}

func (f *fakeOrders) FindByVenueOrderID(ctx context.Context, apiKeyID uint, venueOrderID int64) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.created {
		if o.VenueOrderID != nil && *o.VenueOrderID == venueOrderID {
			return o, nil
		}
	}
	for _, pair := range f.closed {
		if pair.sell.VenueOrderID != nil && *pair.sell.VenueOrderID == venueOrderID {
			return pair.sell, nil
		}
	}
	return nil, nil
}

func (f *fakeOrders) CloseWithSell(ctx context.Context, buy *model.Order, sell *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignID(sell)

	pnl := sell.FilledQty*sell.AvgFillPrice - buy.FilledQty*buy.AvgFillPrice
	pct := 0.0
	if cost := buy.FilledQty * buy.AvgFillPrice; cost > 0 {
		pct = pnl / cost
	}
	buy.PairedSellOrderID = &sell.ID
	buy.Status = model.OrderStatusCompleted
	buy.PnlQuote = &pnl
	buy.PnlPct = &pct

	f.closed = append(f.closed, closedPair{buy: buy, sell: sell})
	return nil
}

func (f *fakeOrders) LatestExecutionTime(ctx context.Context, apiKeyID uint, symbol string) (*time.Time, error) {
	return f.latestExec, nil
}

type fakeEvents struct {
	mu       sync.Mutex
	kinds    []string
	payloads []model.EventPayload
}

func (f *fakeEvents) Enqueue(ctx context.Context, kind string, payload model.EventPayload) (*model.TradingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	f.payloads = append(f.payloads, payload)
	return &model.TradingEvent{ID: uint(len(f.kinds)), Kind: kind}, nil
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

func closeTo(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}

func stubDecrypt(t *testing.T) {
	t.Helper()
	orig := decryptCredential
	decryptCredential = func(s string) (string, error) { return s, nil }
	t.Cleanup(func() { decryptCredential = orig })
}

func testKey() model.ApiKey {
	return model.ApiKey{
		ID:                     7,
		UserID:                 5,
		EncryptedKey:           "plain-key",
		EncryptedSecret:        "plain-secret",
		Active:                 true,
		AutoTrading:            true,
		ConnectionStatus:       model.ConnectionStatusOK,
		MaxConcurrentPositions: 2,
		Toggles: []model.AssetToggle{{
			ApiKeyID:       7,
			CryptoTag:      "BTC",
			Enabled:        true,
			AllocatedQuote: 100,
			TakeProfit:     0.08,
			StopLoss:       0.03,
			MaxHoldMinutes: 720,
		}},
	}
}

func testSignal() model.Signal {
	return model.Signal{
		ID:            3,
		Symbol:        "BTCUSDT",
		Timeframe:     "30m",
		DetectedAt:    time.Now().UTC(),
		BreakoutLevel: 72.10,
		EntryPrice:    72,
	}
}

func btcFilters() connectors.SymbolFilters {
	return connectors.SymbolFilters{
		StepSize:    decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("5"),
	}
}

// ---------------------------------------------------
// entry tests
// ---------------------------------------------------

func TestEntryOpensPositionFromSignal(t *testing.T) {
	stubDecrypt(t)

	venue := &fakeVenue{
		balances: map[string]connectors.Balance{"USDT": {Free: 150}},
		price:    72,
		filters:  btcFilters(),
		orderRes: &connectors.OrderResult{
			VenueOrderID: 1001,
			Symbol:       "BTCUSDT",
			Side:         "BUY",
			Status:       "FILLED",
			ExecutedQty:  1.388,
			AvgFillPrice: 72.02,
			TransactTime: time.Now().UTC(),
		},
	}
	orders := &fakeOrders{}
	events := &fakeEvents{}

	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{testKey()}},
		Orders:  orders,
		Events:  events,
		Alerts:  &fakeAlerts{},
	})

	entry.ProcessSignals(context.Background())

	if len(venue.placed) != 1 {
		t.Fatalf("expected 1 order placed, got %d", len(venue.placed))
	}
	if venue.placed[0].qty != "1.388" {
		t.Fatalf("expected qty 1.388 (100 USDT at 72, floored to step), got %s", venue.placed[0].qty)
	}
	if venue.placed[0].side != model.OrderSideBuy {
		t.Fatalf("expected BUY, got %s", venue.placed[0].side)
	}

	if len(orders.created) != 1 {
		t.Fatalf("expected 1 order row, got %d", len(orders.created))
	}
	order := orders.created[0]
	if order.Status != model.OrderStatusFilled || order.Reason != model.OrderReasonUPattern {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.SignalID == nil || *order.SignalID != 3 {
		t.Fatalf("order must reference the signal, got %+v", order.SignalID)
	}

	wantTP := 72.02 * 1.08
	wantSL := 72.02 * 0.97
	if order.TakeProfitLevel == nil || !closeTo(*order.TakeProfitLevel, wantTP) {
		t.Fatalf("unexpected take profit level: %+v", order.TakeProfitLevel)
	}
	if order.StopLossLevel == nil || !closeTo(*order.StopLossLevel, wantSL) {
		t.Fatalf("unexpected stop loss level: %+v", order.StopLossLevel)
	}

	if len(events.kinds) != 1 || events.kinds[0] != model.EventKindOrderFilledBuy {
		t.Fatalf("expected ORDER_FILLED_BUY event, got %+v", events.kinds)
	}
	if events.payloads[0].Quantity != 1.388 || events.payloads[0].Price != 72.02 {
		t.Fatalf("unexpected event payload: %+v", events.payloads[0])
	}
}

func TestEntryRiskPctCapsBudget(t *testing.T) {
	stubDecrypt(t)

	venue := &fakeVenue{
		balances: map[string]connectors.Balance{"USDT": {Free: 100}},
		price:    72,
		filters:  btcFilters(),
		orderRes: &connectors.OrderResult{
			VenueOrderID: 1001,
			Symbol:       "BTCUSDT",
			Side:         "BUY",
			Status:       "FILLED",
			ExecutedQty:  0.694,
			AvgFillPrice: 72.02,
			TransactTime: time.Now().UTC(),
		},
	}
	key := testKey()
	key.RiskPct = 0.5

	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{key}},
		Orders:  &fakeOrders{},
		Events:  &fakeEvents{},
		Alerts:  &fakeAlerts{},
	})

	entry.ProcessSignals(context.Background())

	if len(venue.placed) != 1 {
		t.Fatalf("expected 1 order placed, got %d", len(venue.placed))
	}
	// Half of the 100 free USDT at 72, floored to the 0.001 step.
	if venue.placed[0].qty != "0.694" {
		t.Fatalf("expected qty 0.694, got %s", venue.placed[0].qty)
	}
}

func TestEntryIsIdempotentPerSignal(t *testing.T) {
	stubDecrypt(t)

	venue := &fakeVenue{filters: btcFilters()}
	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{testKey()}},
		Orders:  &fakeOrders{hasForSignal: true},
		Events:  &fakeEvents{},
		Alerts:  &fakeAlerts{},
	})

	entry.ProcessSignals(context.Background())

	if len(venue.placed) != 0 {
		t.Fatal("a signal already acted on must not produce another order")
	}
}

func TestEntryRespectsConcurrentPositionLimit(t *testing.T) {
	stubDecrypt(t)

	venue := &fakeVenue{filters: btcFilters()}
	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{testKey()}},
		Orders: &fakeOrders{open: []model.Order{ // limit in testKey is 2
			{ID: 201, ApiKeyID: 7, Symbol: "ETHUSDT", Side: model.OrderSideBuy, Status: model.OrderStatusFilled},
			{ID: 202, ApiKeyID: 7, Symbol: "BNBUSDT", Side: model.OrderSideBuy, Status: model.OrderStatusFilled},
		}},
		Events:  &fakeEvents{},
		Alerts:  &fakeAlerts{},
	})

	entry.ProcessSignals(context.Background())

	if len(venue.placed) != 0 {
		t.Fatal("concurrent position limit must prevent new entries")
	}
}

func TestEntrySkipsSymbolWithOpenPosition(t *testing.T) {
	stubDecrypt(t)

	venue := &fakeVenue{filters: btcFilters()}
	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{testKey()}},
		Orders: &fakeOrders{open: []model.Order{
			{ID: 201, ApiKeyID: 7, Symbol: "BTCUSDT", Side: model.OrderSideBuy, Status: model.OrderStatusFilled},
		}},
		Events: &fakeEvents{},
		Alerts: &fakeAlerts{},
	})

	entry.ProcessSignals(context.Background())

	if len(venue.placed) != 0 {
		t.Fatal("an open position on the symbol must prevent a second entry")
	}
}

func TestEntryMaxPositionSizeCapsBudget(t *testing.T) {
	stubDecrypt(t)
	t.Setenv("EXECUTOR_MAX_POSITION_SIZE", "50")

	venue := &fakeVenue{
		balances: map[string]connectors.Balance{"USDT": {Free: 150}},
		price:    72,
		filters:  btcFilters(),
		orderRes: &connectors.OrderResult{
			VenueOrderID: 1001,
			Symbol:       "BTCUSDT",
			Side:         "BUY",
			Status:       "FILLED",
			ExecutedQty:  0.694,
			AvgFillPrice: 72.02,
			TransactTime: time.Now().UTC(),
		},
	}

	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{testKey()}},
		Orders:  &fakeOrders{},
		Events:  &fakeEvents{},
		Alerts:  &fakeAlerts{},
	})

	entry.ProcessSignals(context.Background())

	if len(venue.placed) != 1 {
		t.Fatalf("expected 1 order placed, got %d", len(venue.placed))
	}
	// The global cap beats the 100 USDT allocation: 50/72 floored to 0.001.
	if venue.placed[0].qty != "0.694" {
		t.Fatalf("expected qty 0.694, got %s", venue.placed[0].qty)
	}
}

func TestEntrySkipsDisabledToggle(t *testing.T) {
	stubDecrypt(t)

	key := testKey()
	key.Toggles[0].Enabled = false

	venue := &fakeVenue{filters: btcFilters()}
	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{key}},
		Orders:  &fakeOrders{},
		Events:  &fakeEvents{},
		Alerts:  &fakeAlerts{},
	})

	entry.ProcessSignals(context.Background())

	if len(venue.placed) != 0 {
		t.Fatal("disabled asset toggle must prevent entries")
	}
}

func TestEntryInsufficientBalanceRejection(t *testing.T) {
	stubDecrypt(t)

	venue := &fakeVenue{
		balances: map[string]connectors.Balance{"USDT": {Free: 150}},
		price:    72,
		filters:  btcFilters(),
		orderErr: &connectors.RejectedError{Code: -2010, Msg: "Account has insufficient balance for requested action."},
	}
	orders := &fakeOrders{}
	alerts := &fakeAlerts{}

	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{testKey()}},
		Orders:  orders,
		Events:  &fakeEvents{},
		Alerts:  alerts,
	})

	entry.ProcessSignals(context.Background())

	if len(orders.created) != 0 {
		t.Fatalf("insufficient balance must not create an order row, got %d", len(orders.created))
	}
	if len(alerts.created) != 1 || alerts.created[0].Kind != model.AlertKindWarn {
		t.Fatalf("expected one WARN alert, got %+v", alerts.created)
	}
	if alerts.created[0].UserID == nil || *alerts.created[0].UserID != 5 {
		t.Fatalf("alert must target the key owner: %+v", alerts.created[0])
	}
	if alerts.created[0].SignalID == nil || *alerts.created[0].SignalID != 3 {
		t.Fatalf("alert must reference the signal: %+v", alerts.created[0])
	}
}

func TestEntryVenueRejectionRaisesErrorAlert(t *testing.T) {
	stubDecrypt(t)

	venue := &fakeVenue{
		balances: map[string]connectors.Balance{"USDT": {Free: 150}},
		price:    72,
		filters:  btcFilters(),
		orderErr: &connectors.RejectedError{Code: -1013, Msg: "Filter failure: PRICE_FILTER"},
	}
	orders := &fakeOrders{}
	alerts := &fakeAlerts{}

	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{testKey()}},
		Orders:  orders,
		Events:  &fakeEvents{},
		Alerts:  alerts,
	})

	entry.ProcessSignals(context.Background())

	if len(orders.created) != 1 || orders.created[0].Status != model.OrderStatusRejected {
		t.Fatalf("rejection must persist a REJECTED order row, got %+v", orders.created)
	}
	if len(alerts.created) != 1 || alerts.created[0].Kind != model.AlertKindError {
		t.Fatalf("expected one ERROR alert, got %+v", alerts.created)
	}
	if alerts.created[0].SignalID == nil || *alerts.created[0].SignalID != 3 {
		t.Fatalf("alert must reference the signal: %+v", alerts.created[0])
	}
}

func TestEntryBudgetBelowMinNotional(t *testing.T) {
	stubDecrypt(t)

	key := testKey()
	key.Toggles[0].AllocatedQuote = 3 // below the 5 USDT venue minimum

	venue := &fakeVenue{
		balances: map[string]connectors.Balance{"USDT": {Free: 150}},
		price:    72,
		filters:  btcFilters(),
	}
	alerts := &fakeAlerts{}

	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    &fakeKeys{keys: []model.ApiKey{key}},
		Orders:  &fakeOrders{},
		Events:  &fakeEvents{},
		Alerts:  alerts,
	})

	entry.ProcessSignals(context.Background())

	if len(venue.placed) != 0 {
		t.Fatal("sub-minimum budget must not reach the venue")
	}
	if len(alerts.created) != 1 || alerts.created[0].Kind != model.AlertKindWarn {
		t.Fatalf("expected one WARN alert, got %+v", alerts.created)
	}
	if alerts.created[0].SignalID == nil || *alerts.created[0].SignalID != 3 {
		t.Fatalf("alert must reference the signal: %+v", alerts.created[0])
	}
}

func TestEntryAuthFailureParksKey(t *testing.T) {
	stubDecrypt(t)

	venue := &fakeVenue{
		balanceErr: connectors.ErrAuth,
		filters:    btcFilters(),
	}

	keys := &fakeKeys{keys: []model.ApiKey{testKey()}}
	alerts := &fakeAlerts{}

	entry := NewEntry(Deps{
		Venue:   venue,
		Signals: &fakeSignalSource{signals: []model.Signal{testSignal()}},
		Keys:    keys,
		Orders:  &fakeOrders{},
		Events:  &fakeEvents{},
		Alerts:  alerts,
	})

	entry.ProcessSignals(context.Background())

	if keys.statusUpdates[7] != model.ConnectionStatusError {
		t.Fatalf("auth failure must park the key, got %+v", keys.statusUpdates)
	}
	if len(alerts.created) != 1 || alerts.created[0].Kind != model.AlertKindError {
		t.Fatalf("expected one ERROR alert, got %+v", alerts.created)
	}
}
