package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"medipos/backend/internal/store"
)

func TestStorageErrMarksConnectionFailuresRetriable(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"context deadline", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"wrapped deadline", fmt.Errorf("begin tx: %w", context.DeadlineExceeded), true},
		{"bad connection", driver.ErrBadConn, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"statement timeout", &pgconn.PgError{Code: "57014"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		got := storageErr(tc.err)
		if errors.Is(got, store.ErrUnavailable) != tc.unavailable {
			t.Errorf("%s: retriable = %v, want %v", tc.name, !tc.unavailable, tc.unavailable)
		}
		if !tc.unavailable && got != tc.err {
			t.Errorf("%s: expected error to pass through unchanged, got %v", tc.name, got)
		}
	}

	if storageErr(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestStorageErrKeepsSerializationCodeDetectable(t *testing.T) {
	err := storageErr(&pgconn.PgError{Code: "40001"})
	if !isSerializationFailure(err) {
		t.Fatalf("serialization failure must survive classification, got %v", err)
	}
}
