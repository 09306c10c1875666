package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hanko-field/commerce/internal/services"
)

type orderEventPayload struct {
	Type           string `json:"type"`
	OrderID        string `json:"orderId"`
	UserID         string `json:"userId"`
	ActorID        string `json:"actorId,omitempty"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	TotalAmount    int64  `json:"totalAmount"`
	OccurredAt     string `json:"occurredAt"`
}

func encodeOrderEvent(event services.OrderEvent) ([]byte, error) {
	payload := orderEventPayload{
		Type:           event.Type,
		OrderID:        event.OrderID,
		UserID:         event.UserID,
		ActorID:        event.ActorID,
		Status:         string(event.Status),
		PreviousStatus: string(event.PreviousStatus),
		TotalAmount:    event.TotalAmount,
	}
	if !event.OccurredAt.IsZero() {
		payload.OccurredAt = event.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(payload)
}

func orderEventAttributes(event services.OrderEvent) map[string]string {
	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "status", string(event.Status))
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
