package memory

import (
	"context"
	"errors"
	"testing"

	domain "github.com/mtogo-platform/payment-service/internal/domain/payout"
	"github.com/shopspring/decimal"
)

func newAttempt(id, orderID string) *domain.Attempt {
	return domain.NewAttempt(id, orderID,
		"acct_r", "acct_a",
		domain.PayoutResult{
			RestaurantPayout: decimal.RequireFromString("226.34"),
			AgentPayout:      decimal.RequireFromString("33"),
		},
	)
}

func TestAttemptRepositoryInsertAndGet(t *testing.T) {
	repo := NewAttemptRepository()
	ctx := context.Background()

	attempt := newAttempt("a-1", "order-1")
	if err := repo.Insert(ctx, attempt); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := repo.Get(ctx, "a-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OrderID != "order-1" || got.Status != domain.AttemptPending {
		t.Fatalf("unexpected attempt %+v", got)
	}

	// mutating the returned copy must not touch the stored record
	got.Status = domain.AttemptFailed
	again, err := repo.Get(ctx, "a-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Status != domain.AttemptPending {
		t.Fatalf("stored attempt mutated through a returned copy")
	}
}

func TestAttemptRepositoryRejectsDuplicateID(t *testing.T) {
	repo := NewAttemptRepository()
	ctx := context.Background()

	if err := repo.Insert(ctx, newAttempt("a-1", "order-1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Insert(ctx, newAttempt("a-1", "order-2")); err == nil {
		t.Fatalf("expected an error for a duplicate id")
	}
}

func TestAttemptRepositoryUpdate(t *testing.T) {
	repo := NewAttemptRepository()
	ctx := context.Background()

	attempt := newAttempt("a-1", "order-1")
	if err := repo.Insert(ctx, attempt); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	attempt.MarkRestaurantPaid("tr_1")
	if err := repo.Update(ctx, attempt); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.Get(ctx, "a-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.AttemptRestaurantPaid || got.RestaurantTransferID != "tr_1" {
		t.Fatalf("unexpected attempt after update: %+v", got)
	}
}

func TestAttemptRepositoryUpdateUnknownID(t *testing.T) {
	repo := NewAttemptRepository()

	err := repo.Update(context.Background(), newAttempt("ghost", "order-1"))
	if !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestAttemptRepositoryGetUnknownID(t *testing.T) {
	repo := NewAttemptRepository()

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestAttemptRepositoryFindByOrder(t *testing.T) {
	repo := NewAttemptRepository()
	ctx := context.Background()

	for _, id := range []string{"a-1", "a-2"} {
		if err := repo.Insert(ctx, newAttempt(id, "order-1")); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}
	if err := repo.Insert(ctx, newAttempt("b-1", "order-2")); err != nil {
		t.Fatalf("Insert b-1: %v", err)
	}

	attempts, err := repo.FindByOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("FindByOrder: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts for order-1, got %d", len(attempts))
	}
	if attempts[0].ID != "a-1" || attempts[1].ID != "a-2" {
		t.Fatalf("attempts out of insertion order: %s, %s", attempts[0].ID, attempts[1].ID)
	}

	none, err := repo.FindByOrder(ctx, "order-404")
	if err != nil {
		t.Fatalf("FindByOrder: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no attempts for an unknown order, got %d", len(none))
	}
}
