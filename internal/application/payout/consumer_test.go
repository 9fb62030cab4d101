package payout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	dompayout "github.com/mtogo-platform/payment-service/internal/domain/payout"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/broker"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
)

type published struct {
	topic string
	value any
}

type fakeNotifier struct {
	mu      sync.Mutex
	events  []published
	failFor map[string]error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failFor: map[string]error{}}
}

func (n *fakeNotifier) Publish(_ context.Context, topic string, v any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failFor[topic]; err != nil {
		return err
	}
	n.events = append(n.events, published{topic: topic, value: v})
	return nil
}

func (n *fakeNotifier) snapshot() []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]published(nil), n.events...)
}

func marshalEvent(t *testing.T, evt dompayout.OrderCompletionEvent) []byte {
	t.Helper()
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return raw
}

func newWorker(gateway *fakeGateway, notifier *fakeNotifier, maxAttempts int) *Worker {
	orch := newOrchestrator(gateway, memory.NewAttemptRepository())
	return NewWorker(nil, notifier, orch, maxAttempts, 0, nil)
}

func TestWorkerPublishesBothNotifications(t *testing.T) {
	gateway := newFakeGateway()
	notifier := newFakeNotifier()
	worker := newWorker(gateway, notifier, 1)

	raw := marshalEvent(t, completionEvent("250", 18))
	if err := worker.handleMessage(context.Background(), broker.Message{Topic: TopicPayout, Value: raw}); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	events := notifier.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(events))
	}
	if events[0].topic != TopicRestaurantNotification {
		t.Fatalf("first notification topic = %s, want %s", events[0].topic, TopicRestaurantNotification)
	}
	if events[1].topic != TopicAgentNotification {
		t.Fatalf("second notification topic = %s, want %s", events[1].topic, TopicAgentNotification)
	}

	restaurant, ok := events[0].value.(dompayout.NotificationEvent)
	if !ok {
		t.Fatalf("unexpected notification payload type %T", events[0].value)
	}
	if !restaurant.Payouts.RestaurantPayout.Equal(decimal.RequireFromString("226.34")) {
		t.Fatalf("restaurant payout = %s, want 226.34", restaurant.Payouts.RestaurantPayout)
	}
	if !restaurant.Payouts.AgentPayout.Equal(decimal.RequireFromString("33")) {
		t.Fatalf("agent payout = %s, want 33", restaurant.Payouts.AgentPayout)
	}
	if restaurant.Recipient.Email != "restaurant@example.com" {
		t.Fatalf("restaurant recipient = %s", restaurant.Recipient.Email)
	}

	agent := events[1].value.(dompayout.NotificationEvent)
	if agent.Recipient.Email != "agent@example.com" {
		t.Fatalf("agent recipient = %s", agent.Recipient.Email)
	}
	if agent.Order.ID != "order-1" {
		t.Fatalf("agent notification order = %s", agent.Order.ID)
	}
}

func TestWorkerSkipsPoisonMessage(t *testing.T) {
	gateway := newFakeGateway()
	notifier := newFakeNotifier()
	worker := newWorker(gateway, notifier, 1)

	err := worker.handleMessage(context.Background(), broker.Message{Topic: TopicPayout, Value: []byte("{not json")})
	if err != nil {
		t.Fatalf("poison message must not error the loop, got %v", err)
	}

	if len(gateway.accountCalls) != 0 {
		t.Fatalf("poison message must not reach the orchestrator")
	}
	if len(notifier.snapshot()) != 0 {
		t.Fatalf("poison message must not produce notifications")
	}
}

func TestWorkerDeadLettersAfterRetriesExhausted(t *testing.T) {
	gateway := newFakeGateway()
	gateway.accountErrs["restaurant@example.com"] = errors.New("processor down")
	notifier := newFakeNotifier()
	worker := newWorker(gateway, notifier, 3)

	raw := marshalEvent(t, completionEvent("250", 18))
	if err := worker.handleMessage(context.Background(), broker.Message{Topic: TopicPayout, Value: raw}); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	if len(gateway.accountCalls) != 3 {
		t.Fatalf("expected 3 orchestration attempts, got %d", len(gateway.accountCalls))
	}

	events := notifier.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected only the dead-letter event, got %d", len(events))
	}
	if events[0].topic != TopicPayoutDeadLetter {
		t.Fatalf("dead-letter topic = %s", events[0].topic)
	}

	dle, ok := events[0].value.(DeadLetterEvent)
	if !ok {
		t.Fatalf("unexpected dead-letter payload type %T", events[0].value)
	}
	if dle.Reason == "" {
		t.Fatalf("dead-letter event must carry the failure reason")
	}
	if string(dle.Payload) != string(raw) {
		t.Fatalf("dead-letter event must carry the original payload")
	}
}

func TestWorkerContinuesWhenNotificationPublishFails(t *testing.T) {
	gateway := newFakeGateway()
	notifier := newFakeNotifier()
	notifier.failFor[TopicRestaurantNotification] = errors.New("broker down")
	worker := newWorker(gateway, notifier, 1)

	raw := marshalEvent(t, completionEvent("250", 18))
	if err := worker.handleMessage(context.Background(), broker.Message{Topic: TopicPayout, Value: raw}); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	// the payout already happened; the agent notification must still go out
	events := notifier.snapshot()
	if len(events) != 1 || events[0].topic != TopicAgentNotification {
		t.Fatalf("expected the agent notification despite restaurant publish failure, got %+v", events)
	}
	if len(gateway.transfers) != 2 {
		t.Fatalf("both transfers must have been issued, got %d", len(gateway.transfers))
	}
}

func TestWorkerSurvivesPoisonMessageMidStream(t *testing.T) {
	gateway := newFakeGateway()
	notifier := newFakeNotifier()
	worker := newWorker(gateway, notifier, 1)

	bus := broker.NewBus(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	worker.subscriber = bus
	worker.Start()

	ctx := context.Background()
	first := completionEvent("250", 18)
	first.Order.ID = "order-first"
	third := completionEvent("120", 12)
	third.Order.ID = "order-third"

	for _, value := range [][]byte{
		marshalEvent(t, first),
		[]byte("%%% not json %%%"),
		marshalEvent(t, third),
	} {
		if err := bus.Publish(ctx, broker.Message{Topic: TopicPayout, Value: value}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		if events := notifier.snapshot(); len(events) == 4 {
			if events[0].value.(dompayout.NotificationEvent).Order.ID != "order-first" {
				t.Fatalf("first event must be processed first")
			}
			if events[2].value.(dompayout.NotificationEvent).Order.ID != "order-third" {
				t.Fatalf("third event must be processed after the poison message")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for both healthy events, got %+v", notifier.snapshot())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
