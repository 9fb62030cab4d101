package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/mtogo-platform/payment-service/internal/domain/payout"
)

// AttemptRepository is an in-memory payout-attempt store for single-process
// deployments and tests.
type AttemptRepository struct {
	mu       sync.RWMutex
	attempts map[string]*domain.Attempt
	byOrder  map[string][]string
}

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{
		attempts: make(map[string]*domain.Attempt),
		byOrder:  make(map[string][]string),
	}
}

func (r *AttemptRepository) Insert(ctx context.Context, attempt *domain.Attempt) error {
	_ = ctx
	if attempt == nil || attempt.ID == "" {
		return fmt.Errorf("attempt repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attempts[attempt.ID]; exists {
		return fmt.Errorf("attempt repository: duplicate id %s", attempt.ID)
	}

	r.attempts[attempt.ID] = attempt.Clone()
	r.byOrder[attempt.OrderID] = append(r.byOrder[attempt.OrderID], attempt.ID)
	return nil
}

func (r *AttemptRepository) Update(ctx context.Context, attempt *domain.Attempt) error {
	_ = ctx
	if attempt == nil || attempt.ID == "" {
		return fmt.Errorf("attempt repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attempts[attempt.ID]; !exists {
		return domain.ErrAttemptNotFound
	}

	r.attempts[attempt.ID] = attempt.Clone()
	return nil
}

func (r *AttemptRepository) Get(ctx context.Context, id string) (*domain.Attempt, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	attempt, ok := r.attempts[id]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return attempt.Clone(), nil
}

func (r *AttemptRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.Attempt, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOrder[orderID]
	out := make([]*domain.Attempt, 0, len(ids))
	for _, id := range ids {
		if attempt, ok := r.attempts[id]; ok {
			out = append(out, attempt.Clone())
		}
	}
	return out, nil
}
