package payout

import (
	"context"
	"encoding/json"
	"time"

	dompayout "github.com/mtogo-platform/payment-service/internal/domain/payout"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/broker"
	"github.com/mtogo-platform/payment-service/internal/observability"
	"github.com/mtogo-platform/payment-service/internal/observability/logctx"
)

const (
	TopicPayout                 = "paymentService_Payout"
	TopicPayoutDeadLetter       = "paymentService_Payout_DLQ"
	TopicRestaurantNotification = "notificationService_Payout_Restaurant"
	TopicAgentNotification      = "notificationService_Payout_DeliveryAgent"
)

const componentPayoutConsumer = "payout_consumer"

// DeadLetterEvent carries an event that exhausted its retries, with the
// original payload preserved for replay.
type DeadLetterEvent struct {
	Payload  json.RawMessage `json:"payload"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failedAt"`
}

type Notifier interface {
	Publish(ctx context.Context, topic string, v any) error
}

// Worker consumes order-completion events and drives the payout pipeline:
// deserialize, orchestrate (with bounded retry), emit the two notification
// events. No failure of a single event ever stops the stream.
type Worker struct {
	subscriber   broker.Subscriber
	notifier     Notifier
	orchestrator *Orchestrator

	maxAttempts int
	retryDelay  time.Duration

	log             observability.Logger
	eventsProcessed observability.Counter
	poisonMessages  observability.Counter
	publishFailures observability.Counter
	deadLettered    observability.Counter
}

func NewWorker(
	subscriber broker.Subscriber,
	notifier Notifier,
	orchestrator *Orchestrator,
	maxAttempts int,
	retryDelay time.Duration,
	tel observability.Telemetry,
) *Worker {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Worker{
		subscriber:      subscriber,
		notifier:        notifier,
		orchestrator:    orchestrator,
		maxAttempts:     maxAttempts,
		retryDelay:      retryDelay,
		log:             tel.Logger().With(observability.F("component", componentPayoutConsumer)),
		eventsProcessed: tel.Counter(observability.MPayoutEvents),
		poisonMessages:  tel.Counter(observability.MPoisonMessages),
		publishFailures: tel.Counter(observability.MEventPublishFailures),
		deadLettered:    tel.Counter(observability.MDeadLetteredEvents),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.orchestrator == nil {
		return
	}
	w.subscriber.Subscribe(TopicPayout, w.handleMessage)
}

// handleMessage always returns nil: every per-message failure is contained
// here so the consumer keeps draining the topic.
func (w *Worker) handleMessage(ctx context.Context, msg broker.Message) error {
	logger := logctx.FromOr(ctx, w.log).With(observability.F("topic", msg.Topic))

	var evt dompayout.OrderCompletionEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		w.skipPoison(logger, "deserialize_failed", err)
		return nil
	}
	if err := evt.Validate(); err != nil {
		w.skipPoison(logger, "invalid_event", err)
		return nil
	}

	logger = logger.With(observability.F("order_id", evt.Order.ID))
	logger.Info("payout_event_received")

	result, err := w.orchestrate(ctx, logger, evt)
	if err != nil {
		w.deadLetter(ctx, logger, msg.Value, err)
		return nil
	}

	w.publishNotifications(ctx, logger, evt, result)

	if w.eventsProcessed != nil {
		w.eventsProcessed.Add(1, observability.L("outcome", "success"))
	}
	logger.Info("payout_event_processed")
	return nil
}

// orchestrate retries the payout run up to maxAttempts with a fixed delay.
// Retrying after a transfer failure is safe: a half-paid run has already
// been compensated by the orchestrator.
func (w *Worker) orchestrate(ctx context.Context, logger observability.Logger, evt dompayout.OrderCompletionEvent) (dompayout.PayoutResult, error) {
	var result dompayout.PayoutResult
	var err error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		result, err = w.orchestrator.Execute(ctx, evt)
		if err == nil {
			return result, nil
		}

		logger.Warn("payout_attempt_failed",
			observability.F("attempt", attempt),
			observability.F("error", err.Error()),
		)

		if attempt == w.maxAttempts {
			break
		}
		select {
		case <-time.After(w.retryDelay):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}
	return result, err
}

func (w *Worker) publishNotifications(ctx context.Context, logger observability.Logger, evt dompayout.OrderCompletionEvent, result dompayout.PayoutResult) {
	// restaurant first, then agent; each is fire-and-forget
	notifications := []struct {
		topic string
		event dompayout.NotificationEvent
	}{
		{TopicRestaurantNotification, dompayout.NewRestaurantNotification(evt, result)},
		{TopicAgentNotification, dompayout.NewAgentNotification(evt, result)},
	}

	for _, n := range notifications {
		if err := w.notifier.Publish(ctx, n.topic, n.event); err != nil {
			// the payout itself already happened; log and move on
			logger.Error("notification_publish_failed",
				observability.F("notification_topic", n.topic),
				observability.F("error", err.Error()),
			)
			if w.publishFailures != nil {
				w.publishFailures.Add(1, observability.L("topic", n.topic))
			}
		}
	}
}

func (w *Worker) skipPoison(logger observability.Logger, reason string, err error) {
	logger.Warn("message_skipped",
		observability.F("reason", reason),
		observability.F("error", err.Error()),
	)
	if w.poisonMessages != nil {
		w.poisonMessages.Add(1, observability.L("reason", reason))
	}
}

func (w *Worker) deadLetter(ctx context.Context, logger observability.Logger, payload []byte, cause error) {
	dle := DeadLetterEvent{
		Payload:  json.RawMessage(payload),
		Reason:   cause.Error(),
		FailedAt: time.Now().UTC(),
	}
	if err := w.notifier.Publish(ctx, TopicPayoutDeadLetter, dle); err != nil {
		// last resort: the failure is only visible in logs
		logger.Error("dead_letter_publish_failed",
			observability.F("cause", cause.Error()),
			observability.F("error", err.Error()),
		)
	} else {
		logger.Error("payout_event_dead_lettered",
			observability.F("cause", cause.Error()),
		)
	}
	if w.deadLettered != nil {
		w.deadLettered.Add(1)
	}
	if w.eventsProcessed != nil {
		w.eventsProcessed.Add(1, observability.L("outcome", "error"))
	}
}
