package payout

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount   = errors.New("payout: total amount must be zero or greater")
	ErrInvalidTimestamp = errors.New("payout: delivery timestamp is required")
	ErrMissingPayee     = errors.New("payout: restaurant and delivery agent emails are required")
)

// OrderRef identifies the order a payout originates from. It is carried
// through to the notification events unchanged.
type OrderRef struct {
	ID string `json:"id"`
}

// Restaurant is the restaurant-side payee identity on a completion event.
type Restaurant struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	RegistrationNo string `json:"registrationNo"`
	BankAccountNo  string `json:"bankAccountNo"`
}

// DeliveryAgent is the courier-side payee identity on a completion event.
type DeliveryAgent struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	RegistrationNo string `json:"registrationNo"`
	BankAccountNo  string `json:"bankAccountNo"`
}

// DeliveryData groups the courier identity with the delivery instant.
type DeliveryData struct {
	Agent       DeliveryAgent `json:"agent"`
	DeliveredAt time.Time     `json:"timestamp"`
}

// OrderCompletionEvent is the inbound message signaling an order has been
// delivered and is ready for payout. It is deserialized from one broker
// message, never persisted, and discarded after processing.
type OrderCompletionEvent struct {
	Order       OrderRef        `json:"order"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Delivery    DeliveryData    `json:"deliveryData"`
	Restaurant  Restaurant      `json:"restaurant"`
}

func (e OrderCompletionEvent) Validate() error {
	if e.TotalAmount.IsNegative() {
		return ErrNegativeAmount
	}
	if e.Delivery.DeliveredAt.IsZero() {
		return ErrInvalidTimestamp
	}
	if e.Restaurant.Email == "" || e.Delivery.Agent.Email == "" {
		return ErrMissingPayee
	}
	return nil
}

// PayoutResult carries the two computed payout amounts for one event.
type PayoutResult struct {
	RestaurantPayout decimal.Decimal `json:"restaurantPayout"`
	AgentPayout      decimal.Decimal `json:"agentPayout"`
}

// Recipient is the payee identity embedded in an outbound notification.
type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// NotificationEvent is published once per payee after a successful payout.
// Fire-and-forget: no acknowledgment is tracked back to the order.
type NotificationEvent struct {
	Recipient Recipient    `json:"recipent"`
	Payouts   PayoutResult `json:"payouts"`
	Order     OrderRef     `json:"order"`
}

func NewRestaurantNotification(e OrderCompletionEvent, result PayoutResult) NotificationEvent {
	return NotificationEvent{
		Recipient: Recipient{ID: e.Restaurant.ID, Email: e.Restaurant.Email},
		Payouts:   result,
		Order:     e.Order,
	}
}

func NewAgentNotification(e OrderCompletionEvent, result PayoutResult) NotificationEvent {
	return NotificationEvent{
		Recipient: Recipient{ID: e.Delivery.Agent.ID, Name: e.Delivery.Agent.Name, Email: e.Delivery.Agent.Email},
		Payouts:   result,
		Order:     e.Order,
	}
}
