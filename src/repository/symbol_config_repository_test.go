package repository

import (
	"context"
	"regexp"
	"testing"

	"utrader/src/model"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSymbolConfigEnsureDefaults(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&SymbolConfigRepository{}).WithDB(mockDB)

	defaults := []model.SymbolConfig{
		{Symbol: "BTCUSDT", Timeframe: "30m", ScanIntervalSec: 300, CooldownSec: 1800, Enabled: true},
		{Symbol: "BTCUSDT", Timeframe: "4h", ScanIntervalSec: 300, CooldownSec: 14400, Enabled: true},
	}

	// First pair already exists: EnsureDefaults must leave it alone.
	existing := sqlmock.NewRows([]string{"id", "symbol", "timeframe", "cooldown_sec"}).
		AddRow(1, "BTCUSDT", "30m", 900)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "symbol_configs" WHERE symbol = $1 AND timeframe = $2`)).
		WithArgs("BTCUSDT", "30m", 1).
		WillReturnRows(existing)

	// Second pair is missing and gets seeded.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "symbol_configs" WHERE symbol = $1 AND timeframe = $2`)).
		WithArgs("BTCUSDT", "4h", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "symbol_configs" (`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectCommit()

	if err := repo.EnsureDefaults(context.Background(), defaults); err != nil {
		t.Fatalf("unexpected error seeding defaults: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestSymbolConfigFindEnabled(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&SymbolConfigRepository{}).WithDB(mockDB)

	rows := sqlmock.NewRows([]string{"id", "symbol", "timeframe", "scan_interval_sec", "cooldown_sec", "enabled"}).
		AddRow(1, "BTCUSDT", "30m", 300, 1800, true).
		AddRow(2, "ETHUSDT", "30m", 300, 1800, true)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "symbol_configs" WHERE enabled = $1 ORDER BY symbol ASC, timeframe ASC`)).
		WithArgs(true).
		WillReturnRows(rows)

	configs, err := repo.FindEnabled(context.Background())
	if err != nil {
		t.Fatalf("unexpected error fetching configs: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs))
	}
	if configs[0].Cooldown().Seconds() != 1800 {
		t.Fatalf("unexpected cooldown: %v", configs[0].Cooldown())
	}
}
