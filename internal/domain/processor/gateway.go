package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Account is a payout-capable account held by the external processor,
// referenced (never owned) by this service and keyed by payee email.
type Account struct {
	ID    string
	Email string
}

// Customer is a processor-side customer record used by the charge path.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// TransferReceipt is the processor's acknowledgment of a fund transfer.
type TransferReceipt struct {
	ID     string
	Status string
}

// Reversal is the processor's acknowledgment of a transfer reversal.
type Reversal struct {
	ID string
}

// IntentRequest describes a customer charge. PaymentMethod is the platform
// method name (MASTER_CARD, VISA); adapters map it to processor tokens.
type IntentRequest struct {
	CustomerID    string
	Amount        decimal.Decimal
	PaymentMethod string
	Shipping      Shipping
}

type Shipping struct {
	RecipientName string
	Street        string
	Floor         string
	City          string
	Zip           string
}

// PaymentIntent is the processor's charge response, returned verbatim to the caller.
type PaymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Gateway is the outbound port over the external payment processor. Every
// call is a blocking request/response; there is no shared state behind it.
type Gateway interface {
	// FindOrCreateAccount looks an account up by email and creates a
	// payout-capable one with the supplied banking details only when the
	// lookup comes back empty. Provisioning is idempotent by email.
	FindOrCreateAccount(ctx context.Context, email, registrationNo, bankAccountNo string) (Account, error)

	// Transfer moves amount (major currency units) to the given account.
	Transfer(ctx context.Context, accountID string, amount decimal.Decimal, description string) (TransferReceipt, error)

	// ReverseTransfer undoes a previously issued transfer.
	ReverseTransfer(ctx context.Context, transferID string) (Reversal, error)

	// FindOrCreateCustomer resolves the charge-side customer by email.
	FindOrCreateCustomer(ctx context.Context, email string) (Customer, error)

	// CreatePaymentIntent charges the customer for an order.
	CreatePaymentIntent(ctx context.Context, in IntentRequest) (PaymentIntent, error)
}

// Error is a failed processor call: transport failure or a non-2xx response.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("processor: %s: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("processor: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("processor: %s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a processor rejection for a missing resource.
func IsNotFound(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == 404
}
