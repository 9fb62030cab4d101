package charge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mtogo-platform/payment-service/internal/domain/processor"
	"github.com/mtogo-platform/payment-service/internal/observability"
	"github.com/mtogo-platform/payment-service/internal/observability/logctx"
	"github.com/shopspring/decimal"
)

var (
	ErrEmailRequired     = errors.New("charge: customer email is required")
	ErrInvalidAmount     = errors.New("charge: amount must be greater than zero")
	ErrUnsupportedMethod = errors.New("charge: unsupported payment method")
	ErrRecipientRequired = errors.New("charge: shipping recipient is required")
)

const useCaseChargeOrder = "charge.order"

// Address is the delivery address attached to a charge.
type Address struct {
	RecipientName string `json:"recipentName"`
	Street        string `json:"street"`
	City          string `json:"city"`
	Zip           string `json:"zip"`
	Floor         string `json:"floor,omitempty"`
}

type PaymentSelection struct {
	Method string `json:"method"`
}

// Request is the synchronous charge request body.
type Request struct {
	Amount  decimal.Decimal  `json:"amount"`
	Address Address          `json:"address"`
	Payment PaymentSelection `json:"payment"`
}

var supportedMethods = map[string]struct{}{
	"MASTER_CARD": {},
	"VISA":        {},
}

func (r Request) Validate() error {
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, ok := supportedMethods[r.Payment.Method]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, r.Payment.Method)
	}
	if r.Address.RecipientName == "" {
		return ErrRecipientRequired
	}
	return nil
}

// Service charges a customer for an order: resolve the processor-side
// customer by email, then create a confirmed payment intent.
type Service struct {
	gateway processor.Gateway

	log        observability.Logger
	reqCounter observability.Counter
	durHist    observability.Histogram
}

func NewService(gateway processor.Gateway, tel observability.Telemetry) *Service {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Service{
		gateway:    gateway,
		log:        tel.Logger().With(observability.F("use_case", useCaseChargeOrder)),
		reqCounter: tel.Counter(observability.MUsecaseRequests),
		durHist:    tel.Histogram(observability.MUsecaseDuration),
	}
}

func (s *Service) ProcessOrderPayment(ctx context.Context, email string, req Request) (_ processor.PaymentIntent, err error) {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("email", email))
	start := time.Now()

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		if s.reqCounter != nil {
			s.reqCounter.Add(1,
				observability.L("use_case", useCaseChargeOrder),
				observability.L("outcome", outcome),
			)
		}
		if s.durHist != nil {
			s.durHist.Observe(time.Since(start).Seconds(),
				observability.L("use_case", useCaseChargeOrder),
			)
		}
	}()

	if email == "" {
		return processor.PaymentIntent{}, ErrEmailRequired
	}
	if err = req.Validate(); err != nil {
		return processor.PaymentIntent{}, err
	}

	customer, err := s.gateway.FindOrCreateCustomer(ctx, email)
	if err != nil {
		logger.Error("customer_resolution_failed", observability.F("error", err.Error()))
		return processor.PaymentIntent{}, fmt.Errorf("charge: resolve customer: %w", err)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, processor.IntentRequest{
		CustomerID:    customer.ID,
		Amount:        req.Amount,
		PaymentMethod: req.Payment.Method,
		Shipping: processor.Shipping{
			RecipientName: req.Address.RecipientName,
			Street:        req.Address.Street,
			Floor:         req.Address.Floor,
			City:          req.Address.City,
			Zip:           req.Address.Zip,
		},
	})
	if err != nil {
		logger.Error("payment_intent_failed", observability.F("error", err.Error()))
		return processor.PaymentIntent{}, fmt.Errorf("charge: create payment intent: %w", err)
	}

	logger.Info("payment_intent_created",
		observability.F("intent_id", intent.ID),
		observability.F("status", intent.Status),
	)
	return intent, nil
}
