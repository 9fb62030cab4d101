package payout

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validEvent() OrderCompletionEvent {
	return OrderCompletionEvent{
		Order:       OrderRef{ID: "order-1"},
		TotalAmount: decimal.NewFromInt(250),
		Delivery: DeliveryData{
			Agent:       DeliveryAgent{ID: "agent-1", Name: "Anne Agent", Email: "agent@example.com"},
			DeliveredAt: time.Date(2024, 11, 12, 18, 15, 0, 0, time.UTC),
		},
		Restaurant: Restaurant{ID: "rest-1", Email: "restaurant@example.com"},
	}
}

func TestOrderCompletionEventValidate(t *testing.T) {
	if err := validEvent().Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*OrderCompletionEvent)
		want   error
	}{
		{"negative amount", func(e *OrderCompletionEvent) { e.TotalAmount = decimal.NewFromInt(-1) }, ErrNegativeAmount},
		{"zero timestamp", func(e *OrderCompletionEvent) { e.Delivery.DeliveredAt = time.Time{} }, ErrInvalidTimestamp},
		{"missing restaurant email", func(e *OrderCompletionEvent) { e.Restaurant.Email = "" }, ErrMissingPayee},
		{"missing agent email", func(e *OrderCompletionEvent) { e.Delivery.Agent.Email = "" }, ErrMissingPayee},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := validEvent()
			tc.mutate(&evt)
			if err := evt.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderCompletionEventUnmarshal(t *testing.T) {
	raw := `{
		"order": {"id": "order-7"},
		"totalAmount": 250,
		"deliveryData": {
			"agent": {"id": "agent-1", "name": "Anne Agent", "email": "agent@example.com"},
			"timestamp": "2024-11-12T18:15:00Z"
		},
		"restaurant": {"id": "rest-1", "email": "restaurant@example.com"}
	}`

	var evt OrderCompletionEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Order.ID != "order-7" {
		t.Fatalf("order id = %s", evt.Order.ID)
	}
	if !evt.TotalAmount.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("total = %s", evt.TotalAmount)
	}
	if evt.Delivery.DeliveredAt.Hour() != 18 {
		t.Fatalf("delivered at = %s", evt.Delivery.DeliveredAt)
	}
}

// Downstream consumers key on the historical "recipent" spelling, so the
// outbound contract must keep it.
func TestNotificationEventWireFormat(t *testing.T) {
	result := PayoutResult{
		RestaurantPayout: decimal.RequireFromString("226.34"),
		AgentPayout:      decimal.RequireFromString("33"),
	}
	note := NewAgentNotification(validEvent(), result)

	raw, err := json.Marshal(note)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	payload := string(raw)
	if !strings.Contains(payload, `"recipent":`) {
		t.Fatalf("notification must use the recipent key, got %s", payload)
	}
	if strings.Contains(payload, `"recipient"`) {
		t.Fatalf("notification must not use the corrected spelling, got %s", payload)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"recipent", "payouts", "order"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("notification missing %q key: %s", key, payload)
		}
	}
}

func TestNotificationBuilders(t *testing.T) {
	evt := validEvent()
	result := PayoutResult{
		RestaurantPayout: decimal.RequireFromString("226.34"),
		AgentPayout:      decimal.RequireFromString("33"),
	}

	restaurant := NewRestaurantNotification(evt, result)
	if restaurant.Recipient.Email != "restaurant@example.com" || restaurant.Recipient.ID != "rest-1" {
		t.Fatalf("restaurant recipient = %+v", restaurant.Recipient)
	}
	if restaurant.Order.ID != "order-1" {
		t.Fatalf("restaurant order = %s", restaurant.Order.ID)
	}

	agent := NewAgentNotification(evt, result)
	if agent.Recipient.Email != "agent@example.com" || agent.Recipient.Name != "Anne Agent" {
		t.Fatalf("agent recipient = %+v", agent.Recipient)
	}
}
