package payout

import (
	"time"

	"github.com/shopspring/decimal"
)

type AttemptStatus string

const (
	AttemptPending        AttemptStatus = "pending"
	AttemptRestaurantPaid AttemptStatus = "restaurant_paid"
	AttemptCompleted      AttemptStatus = "completed"
	AttemptCompensated    AttemptStatus = "compensated"
	AttemptFailed         AttemptStatus = "failed"
)

// Attempt records one orchestration run against the processor. It is written
// before the first transfer and updated after every leg so a crash between
// the two transfers leaves a usable trail instead of silent money movement.
type Attempt struct {
	ID                   string
	OrderID              string
	RestaurantAccountID  string
	AgentAccountID       string
	RestaurantPayout     decimal.Decimal
	AgentPayout          decimal.Decimal
	Status               AttemptStatus
	RestaurantTransferID string
	AgentTransferID      string
	ReversalID           string
	FailureReason        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func NewAttempt(id, orderID, restaurantAccountID, agentAccountID string, result PayoutResult) *Attempt {
	now := time.Now().UTC()
	return &Attempt{
		ID:                  id,
		OrderID:             orderID,
		RestaurantAccountID: restaurantAccountID,
		AgentAccountID:      agentAccountID,
		RestaurantPayout:    result.RestaurantPayout,
		AgentPayout:         result.AgentPayout,
		Status:              AttemptPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (a *Attempt) MarkRestaurantPaid(transferID string) {
	a.RestaurantTransferID = transferID
	a.Status = AttemptRestaurantPaid
	a.touch()
}

func (a *Attempt) MarkCompleted(agentTransferID string) {
	a.AgentTransferID = agentTransferID
	a.Status = AttemptCompleted
	a.FailureReason = ""
	a.touch()
}

func (a *Attempt) MarkCompensated(reversalID, reason string) {
	a.ReversalID = reversalID
	a.Status = AttemptCompensated
	a.FailureReason = reason
	a.touch()
}

func (a *Attempt) MarkFailed(reason string) {
	a.Status = AttemptFailed
	a.FailureReason = reason
	a.touch()
}

func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

func (a *Attempt) touch() {
	a.UpdatedAt = time.Now().UTC()
}
