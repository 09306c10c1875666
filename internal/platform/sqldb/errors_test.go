package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "no rows", err: sql.ErrNoRows, notFound: true},
		{name: "no rows affected", err: ErrNoRows, notFound: true},
		{name: "duplicate", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, conflict: true},
		{name: "deadlock", err: fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1213}), conflict: true},
		{name: "bad conn", err: driver.ErrBadConn, unavailable: true},
		{name: "other", err: errors.New("syntax")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("op", tc.err)
			var repoErr *Error
			if !errors.As(wrapped, &repoErr) {
				t.Fatalf("expected *Error, got %T", wrapped)
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification %+v", repoErr)
			}
			if !errors.Is(wrapped, tc.err) {
				t.Fatalf("expected wrapped error to unwrap to original")
			}
		})
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", context.Canceled); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(&mysql.MySQLError{Number: 1213}) {
		t.Fatalf("deadlock should be retried")
	}
	if isRetryable(&mysql.MySQLError{Number: 1062}) {
		t.Fatalf("duplicate entry must not be retried")
	}
}

func TestPlaceholders(t *testing.T) {
	if got := Placeholders(3); got != "?, ?, ?" {
		t.Fatalf("unexpected placeholders %q", got)
	}
	if got := Placeholders(0); got != "" {
		t.Fatalf("expected empty placeholders, got %q", got)
	}
}
