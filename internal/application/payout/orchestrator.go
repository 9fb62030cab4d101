package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	dompayout "github.com/mtogo-platform/payment-service/internal/domain/payout"
	"github.com/mtogo-platform/payment-service/internal/domain/processor"
	"github.com/mtogo-platform/payment-service/internal/observability"
	"github.com/mtogo-platform/payment-service/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrAccountResolution wraps a failed payee account lookup/create. The
	// whole payout aborts; no transfer is attempted for either payee.
	ErrAccountResolution = errors.New("payout: payee account resolution failed")
	// ErrTransfer wraps a failed fund transfer. Remaining legs are aborted
	// and an already-paid restaurant leg is reversed.
	ErrTransfer = errors.New("payout: transfer failed")
)

const (
	useCaseRunPayout = "payout.run"
	payoutSpanName   = "UC.RunPayout"
)

type IDGenerator interface {
	NewID() string
}

// Orchestrator executes one payout run: resolve both payee accounts, compute
// the split, persist an attempt record, then transfer restaurant-first and
// agent-second with a compensating reversal if the second leg fails.
type Orchestrator struct {
	gateway  processor.Gateway
	calc     *dompayout.Calculator
	attempts dompayout.Repository
	ids      IDGenerator
	tel      observability.Telemetry

	log        observability.Logger
	reqCounter observability.Counter
	durHist    observability.Histogram
}

func NewOrchestrator(
	gateway processor.Gateway,
	calc *dompayout.Calculator,
	attempts dompayout.Repository,
	ids IDGenerator,
	tel observability.Telemetry,
) *Orchestrator {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Orchestrator{
		gateway:    gateway,
		calc:       calc,
		attempts:   attempts,
		ids:        ids,
		tel:        tel,
		log:        tel.Logger().With(observability.F("use_case", useCaseRunPayout)),
		reqCounter: tel.Counter(observability.MUsecaseRequests),
		durHist:    tel.Histogram(observability.MUsecaseDuration),
	}
}

func (o *Orchestrator) Execute(ctx context.Context, evt dompayout.OrderCompletionEvent) (_ dompayout.PayoutResult, err error) {
	logger := logctx.FromOr(ctx, o.log).With(
		observability.F("order_id", evt.Order.ID),
		observability.F("total_amount", evt.TotalAmount.String()),
	)

	ctx, span := o.tel.Tracer().Start(ctx, payoutSpanName,
		attribute.String("use_case", useCaseRunPayout),
		attribute.String("order.id", evt.Order.ID),
		attribute.String("payout.total_amount", evt.TotalAmount.String()),
	)
	start := time.Now()
	outcome := "success"

	defer func() {
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "payout failed")
			logger.Error("payout_run_failed", observability.F("error", err.Error()))
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()

		if o.reqCounter != nil {
			o.reqCounter.Add(1,
				observability.L("use_case", useCaseRunPayout),
				observability.L("outcome", outcome),
			)
		}
		if o.durHist != nil {
			o.durHist.Observe(time.Since(start).Seconds(),
				observability.L("use_case", useCaseRunPayout),
			)
		}
	}()

	if err = evt.Validate(); err != nil {
		return dompayout.PayoutResult{}, err
	}

	restaurantAcct, err := o.gateway.FindOrCreateAccount(ctx,
		evt.Restaurant.Email, evt.Restaurant.RegistrationNo, evt.Restaurant.BankAccountNo)
	if err != nil {
		return dompayout.PayoutResult{}, fmt.Errorf("%w: restaurant %s: %w", ErrAccountResolution, evt.Restaurant.Email, err)
	}

	agent := evt.Delivery.Agent
	agentAcct, err := o.gateway.FindOrCreateAccount(ctx, agent.Email, agent.RegistrationNo, agent.BankAccountNo)
	if err != nil {
		return dompayout.PayoutResult{}, fmt.Errorf("%w: delivery agent %s: %w", ErrAccountResolution, agent.Email, err)
	}

	result, err := o.calc.Compute(evt.TotalAmount, evt.Delivery.DeliveredAt)
	if err != nil {
		return dompayout.PayoutResult{}, err
	}

	attempt := dompayout.NewAttempt(o.ids.NewID(), evt.Order.ID, restaurantAcct.ID, agentAcct.ID, result)
	if err = o.attempts.Insert(ctx, attempt); err != nil {
		// no money has moved yet, refuse to continue without a record
		return dompayout.PayoutResult{}, fmt.Errorf("payout: record attempt: %w", err)
	}
	logger = logger.With(observability.F("attempt_id", attempt.ID))

	restaurantReceipt, err := o.gateway.Transfer(ctx, restaurantAcct.ID, result.RestaurantPayout,
		fmt.Sprintf("Restaurant payout for order %s", evt.Order.ID))
	if err != nil {
		attempt.MarkFailed(err.Error())
		o.updateAttempt(ctx, logger, attempt)
		return dompayout.PayoutResult{}, fmt.Errorf("%w: restaurant leg: %w", ErrTransfer, err)
	}
	attempt.MarkRestaurantPaid(restaurantReceipt.ID)
	o.updateAttempt(ctx, logger, attempt)

	agentReceipt, err := o.gateway.Transfer(ctx, agentAcct.ID, result.AgentPayout,
		fmt.Sprintf("Delivery payout for order %s", evt.Order.ID))
	if err != nil {
		o.compensate(ctx, logger, attempt, restaurantReceipt.ID, err)
		return dompayout.PayoutResult{}, fmt.Errorf("%w: agent leg: %w", ErrTransfer, err)
	}

	attempt.MarkCompleted(agentReceipt.ID)
	o.updateAttempt(ctx, logger, attempt)

	logger.Info("payout_completed",
		observability.F("restaurant_payout", result.RestaurantPayout.String()),
		observability.F("agent_payout", result.AgentPayout.String()),
	)
	return result, nil
}

// compensate reverses the already-paid restaurant leg after the agent leg
// failed, so the two-party payout stays all-or-nothing.
func (o *Orchestrator) compensate(ctx context.Context, logger observability.Logger, attempt *dompayout.Attempt, transferID string, cause error) {
	reversal, err := o.gateway.ReverseTransfer(ctx, transferID)
	if err != nil {
		// money is stranded with the restaurant; the attempt record is the trail
		attempt.MarkFailed(fmt.Sprintf("agent leg failed (%v); reversal failed (%v)", cause, err))
		o.updateAttempt(ctx, logger, attempt)
		logger.Error("payout_compensation_failed",
			observability.F("transfer_id", transferID),
			observability.F("error", err.Error()),
		)
		return
	}

	attempt.MarkCompensated(reversal.ID, cause.Error())
	o.updateAttempt(ctx, logger, attempt)
	logger.Warn("payout_compensated",
		observability.F("transfer_id", transferID),
		observability.F("reversal_id", reversal.ID),
	)
}

func (o *Orchestrator) updateAttempt(ctx context.Context, logger observability.Logger, attempt *dompayout.Attempt) {
	if err := o.attempts.Update(ctx, attempt); err != nil {
		// transfers may already be issued; losing the record update must not fail the run
		logger.Error("attempt_update_failed",
			observability.F("attempt_id", attempt.ID),
			observability.F("status", string(attempt.Status)),
			observability.F("error", err.Error()),
		)
	}
}
