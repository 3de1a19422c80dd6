package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestTelegramRepositoryIssueToken(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&TelegramRepository{}).WithDB(mockDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "telegram_connections" WHERE user_id = $1 AND crypto_tag = $2`)).
		WithArgs(uint(5), "BTC", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "telegram_connections" (`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	token, err := repo.IssueToken(context.Background(), 5, "BTC")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if len(token) != 32 {
		t.Fatalf("expected 32-char token, got %q", token)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestTelegramRepositoryConsumeToken(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&TelegramRepository{}).WithDB(mockDB)

	t.Run("unknown token", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "telegram_connections" WHERE issued_token = $1`)).
			WithArgs("nope", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		_, err := repo.ConsumeToken(context.Background(), "nope", 42)
		if !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		expired := time.Now().UTC().Add(-time.Minute)
		rows := sqlmock.NewRows([]string{"id", "user_id", "crypto_tag", "issued_token", "token_expires_at"}).
			AddRow(9, 5, "BTC", "stale-token", expired)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "telegram_connections" WHERE issued_token = $1`)).
			WithArgs("stale-token", 1).
			WillReturnRows(rows)
		mock.ExpectRollback()

		_, err := repo.ConsumeToken(context.Background(), "stale-token", 42)
		if !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
		}
	})

	t.Run("valid token binds the chat", func(t *testing.T) {
		expires := time.Now().UTC().Add(time.Minute)
		rows := sqlmock.NewRows([]string{"id", "user_id", "crypto_tag", "issued_token", "token_expires_at"}).
			AddRow(9, 5, "BTC", "fresh-token", expires)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "telegram_connections" WHERE issued_token = $1`)).
			WithArgs("fresh-token", 1).
			WillReturnRows(rows)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "telegram_connections" SET`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		conn, err := repo.ConsumeToken(context.Background(), "fresh-token", 42)
		if err != nil {
			t.Fatalf("unexpected error consuming token: %v", err)
		}
		if conn.ChatID != 42 || !conn.Subscribed {
			t.Fatalf("chat not bound: %+v", conn)
		}
		if conn.IssuedToken != nil || conn.TokenExpiresAt != nil {
			t.Fatal("token must be cleared after consumption")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestTelegramRepositoryFindSubscribers(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&TelegramRepository{}).WithDB(mockDB)

	rows := sqlmock.NewRows([]string{"chat_id"}).AddRow(int64(42)).AddRow(int64(77))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "chat_id" FROM "telegram_connections" WHERE crypto_tag = $1 AND subscribed = $2 AND chat_id <> 0`)).
		WithArgs("ETH", true).
		WillReturnRows(rows)

	chatIDs, err := repo.FindSubscribers(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("unexpected error fetching subscribers: %v", err)
	}
	if len(chatIDs) != 2 || chatIDs[0] != 42 || chatIDs[1] != 77 {
		t.Fatalf("unexpected subscribers: %+v", chatIDs)
	}
}
