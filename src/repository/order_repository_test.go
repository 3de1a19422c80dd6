package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"utrader/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestOrderRepositoryOpenPositions(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	executedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "api_key_id", "symbol", "side", "status", "filled_qty", "avg_fill_price", "executed_at"}).
		AddRow(10, 7, "BTCUSDT", "BUY", "FILLED", 0.5, 30000.0, executedAt).
		AddRow(11, 7, "ETHUSDT", "BUY", "FILLED", 2.0, 2000.0, executedAt.Add(time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE api_key_id = $1 AND side = $2 AND status = $3 AND paired_sell_order_id IS NULL ORDER BY executed_at ASC, id ASC`)).
		WithArgs(uint(7), model.OrderSideBuy, model.OrderStatusFilled).
		WillReturnRows(rows)

	positions, err := repo.FindOpenPositions(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error fetching open positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 open positions, got %d", len(positions))
	}
	if !positions[0].IsOpenPosition() {
		t.Fatalf("returned row should qualify as open position: %+v", positions[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestOrderRepositoryCountOpenPositions(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "orders" WHERE api_key_id = $1 AND side = $2 AND status = $3 AND paired_sell_order_id IS NULL`)).
		WithArgs(uint(3), model.OrderSideBuy, model.OrderStatusFilled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountOpenPositions(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error counting open positions: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}

func TestOrderRepositoryCloseWithSell(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	executedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	buy := &model.Order{
		ID:           10,
		ApiKeyID:     7,
		Symbol:       "BTCUSDT",
		Side:         model.OrderSideBuy,
		Status:       model.OrderStatusFilled,
		FilledQty:    0.6,
		AvgFillPrice: 30000,
		ExecutedAt:   &executedAt,
	}
	sell := &model.Order{
		ApiKeyID:        7,
		Symbol:          "BTCUSDT",
		Side:            model.OrderSideSell,
		Status:          model.OrderStatusFilled,
		FilledQty:       0.6,
		AvgFillPrice:    31000,
		Commission:      18.6,
		CommissionAsset: "USDT",
		Reason:          model.OrderReasonTakeProfit,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "orders" (`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.CloseWithSell(context.Background(), buy, sell); err != nil {
		t.Fatalf("unexpected error closing position: %v", err)
	}

	if buy.PairedSellOrderID == nil || *buy.PairedSellOrderID != 12 {
		t.Fatalf("buy should point at the sell, got %+v", buy.PairedSellOrderID)
	}
	if buy.Status != model.OrderStatusCompleted {
		t.Fatalf("buy should be COMPLETED, got %s", buy.Status)
	}
	// 600 gross minus the 18.6 USDT sell fee, over the 18000 cost.
	if buy.PnlQuote == nil || *buy.PnlQuote < 581.39 || *buy.PnlQuote > 581.41 {
		t.Fatalf("expected pnl 581.4, got %+v", buy.PnlQuote)
	}
	if buy.PnlPct == nil || *buy.PnlPct < 0.0322 || *buy.PnlPct > 0.0324 {
		t.Fatalf("expected pnl pct ~0.0323, got %+v", buy.PnlPct)
	}
	if buy.IsOpenPosition() {
		t.Fatal("a completed buy must not count as an open position")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestOrderRepositoryFindByVenueOrderID(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	t.Run("not found is nil, nil", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE api_key_id = $1 AND venue_order_id = $2`)).
			WithArgs(uint(7), int64(555), 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		order, err := repo.FindByVenueOrderID(context.Background(), 7, 555)
		if err != nil {
			t.Fatalf("not-found must not be an error, got %v", err)
		}
		if order != nil {
			t.Fatalf("expected nil order, got %+v", order)
		}
	})

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "api_key_id", "venue_order_id"}).AddRow(4, 7, int64(555))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE api_key_id = $1 AND venue_order_id = $2`)).
			WithArgs(uint(7), int64(555), 1).
			WillReturnRows(rows)

		order, err := repo.FindByVenueOrderID(context.Background(), 7, 555)
		if err != nil || order == nil {
			t.Fatalf("expected to find order, got %+v err=%v", order, err)
		}
		if order.ID != 4 {
			t.Fatalf("unexpected order id %d", order.ID)
		}
	})
}

func TestOrderRepositorySearch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	createdAt := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	t.Run("filters by user and status", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "user_id", "symbol", "status", "created_at"}).
			AddRow(2, 1, "ETHUSDT", "FILLED", createdAt)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1), "FILLED").
			WillReturnRows(rows)

		results, err := repo.Search(context.Background(), OrderSearchOptions{UserID: 1, Status: ptrString("FILLED")})
		if err != nil {
			t.Fatalf("unexpected error searching orders: %v", err)
		}
		if len(results) != 1 || results[0].Symbol != "ETHUSDT" {
			t.Fatalf("unexpected results: %+v", results)
		}
	})

	t.Run("applies pagination", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "user_id", "symbol"}).AddRow(1, 1, "BTCUSDT")

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`)).
			WithArgs(uint(1), 1, 1).
			WillReturnRows(rows)

		results, err := repo.Search(context.Background(), OrderSearchOptions{UserID: 1, Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("unexpected error searching orders: %v", err)
		}
		if len(results) != 1 || results[0].Symbol != "BTCUSDT" {
			t.Fatalf("unexpected paginated results: %+v", results)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func ptrString(val string) *string {
	return &val
}

func ptrTime(val time.Time) *time.Time {
	return &val
}
