package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mtogo-platform/payment-service/internal/observability"
	"github.com/mtogo-platform/payment-service/internal/observability/logctx"
)

// ErrNotInitialized is returned when Publish is called before Initialize
// has connected. With the producer constructed and initialized in main and
// injected everywhere, hitting this outside startup is a programming error.
var ErrNotInitialized = fmt.Errorf("broker: producer is not initialized, call Initialize first")

const componentProducer = "broker_producer"

// Producer is the process-wide publish handle. Lifecycle:
// uninitialized -> connected (Initialize) -> disconnected (Shutdown).
// Publishes are synchronous sends, not buffered.
type Producer struct {
	dialer Dialer
	log    observability.Logger

	mu   sync.RWMutex
	conn Conn

	publishFailures observability.Counter
}

func NewProducer(dialer Dialer, logger observability.Logger, tel observability.Telemetry) *Producer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	p := &Producer{
		dialer: dialer,
		log:    logger.With(observability.F("component", componentProducer)),
	}
	if tel != nil {
		p.publishFailures = tel.Counter(observability.MEventPublishFailures)
	}
	return p
}

// Initialize connects to the broker, retrying up to retryCount times with a
// fixed delay between attempts. Exhausting the attempts is fatal for the
// process; the caller decides how to exit.
func (p *Producer) Initialize(ctx context.Context, retryCount int, retryDelay time.Duration) error {
	if retryCount < 1 {
		retryCount = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retryCount; attempt++ {
		conn, err := p.dialer.Dial(ctx)
		if err == nil {
			p.mu.Lock()
			p.conn = conn
			p.mu.Unlock()
			p.log.Info("producer_connected",
				observability.F("attempt", attempt),
			)
			return nil
		}

		lastErr = err
		p.log.Warn("producer_connect_failed",
			observability.F("attempt", attempt),
			observability.F("error", err),
		)

		if attempt == retryCount {
			break
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("broker: producer connect exhausted %d attempts: %w", retryCount, lastErr)
}

// Publish serializes v as JSON and sends it to topic synchronously.
func (p *Producer) Publish(ctx context.Context, topic string, v any) error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return ErrNotInitialized
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: serialize message for topic %s: %w", topic, err)
	}

	if err := conn.Publish(ctx, Message{Topic: topic, Value: payload}); err != nil {
		if p.publishFailures != nil {
			p.publishFailures.Add(1, observability.L("topic", topic))
		}
		return fmt.Errorf("broker: publish to topic %s: %w", topic, err)
	}

	logctx.FromOr(ctx, p.log).Debug("event_produced",
		observability.F("topic", topic),
	)
	return nil
}

// Shutdown disconnects the producer. Idempotent; a no-op if never connected.
func (p *Producer) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(ctx); err != nil {
		return fmt.Errorf("broker: producer disconnect: %w", err)
	}
	p.log.Info("producer_disconnected")
	return nil
}
