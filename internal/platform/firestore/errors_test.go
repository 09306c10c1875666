package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.DeadlineExceeded, unavailable: true},
		{code: codes.InvalidArgument},
	}
	for _, tc := range cases {
		err := WrapError("orders.get", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, repoErr)
		}
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled status to map to context.Canceled, got %v", err)
	}
	if err := WrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestSyntheticErrors(t *testing.T) {
	if err := NotFoundError("vouchers.get_by_code"); !err.(*Error).IsNotFound() {
		t.Fatalf("expected not found")
	}
	inner := errors.New("taken")
	err := ConflictError("vouchers.upsert", inner)
	if !err.(*Error).IsConflict() || !errors.Is(err, inner) {
		t.Fatalf("expected conflict wrapping inner error, got %v", err)
	}
}

func TestWrapErrorKeepsClassifiedErrors(t *testing.T) {
	first := WrapError("carts.get", status.Error(codes.NotFound, "missing"))
	if again := WrapError("transaction", first); again != first {
		t.Fatalf("expected classified error to pass through unchanged")
	}
}

func TestRunTransactionJoinsContextTransaction(t *testing.T) {
	if _, ok := TxFromContext(context.Background()); ok {
		t.Fatalf("expected no transaction in empty context")
	}
	if err := RunTransaction(context.Background(), nil, func(context.Context, *firestore.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
