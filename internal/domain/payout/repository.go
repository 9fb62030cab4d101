package payout

import (
	"context"
	"errors"
)

var ErrAttemptNotFound = errors.New("payout: attempt not found")

// Repository persists payout attempts.
type Repository interface {
	Insert(ctx context.Context, attempt *Attempt) error
	Update(ctx context.Context, attempt *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	FindByOrder(ctx context.Context, orderID string) ([]*Attempt, error)
}
