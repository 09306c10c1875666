package firestore

import (
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

func TestOrderUpdatesCoverMutableFields(t *testing.T) {
	delivered := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	doc := newOrderDocument(domain.Order{
		ID:          "ord_1",
		Status:      domain.OrderStatusSuccess,
		Notes:       "leave at the door",
		DeliveredAt: &delivered,
		UpdatedAt:   delivered,
	})

	got := map[string]any{}
	for _, update := range orderUpdates(doc) {
		if _, dup := got[update.Path]; dup {
			t.Fatalf("duplicate update path %q", update.Path)
		}
		got[update.Path] = update.Value
	}

	for _, path := range []string{"status", "notes", "items", "cancelReason", "cancelledAt", "cancelledBy", "deliveredAt", "updatedAt"} {
		if _, ok := got[path]; !ok {
			t.Fatalf("expected update for %q, got %v", path, got)
		}
	}
	if got["notes"] != "leave at the door" {
		t.Fatalf("expected notes to be written, got %v", got["notes"])
	}
	if got["status"] != string(domain.OrderStatusSuccess) {
		t.Fatalf("expected status to be written, got %v", got["status"])
	}
	for _, immutable := range []string{"userId", "addressId", "subtotal", "totalAmount", "voucherId", "createdAt"} {
		if _, ok := got[immutable]; ok {
			t.Fatalf("%q must not change after placement", immutable)
		}
	}
}
