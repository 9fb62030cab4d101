package broker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/mtogo-platform/payment-service/internal/observability"
	"github.com/mtogo-platform/payment-service/internal/observability/logctx"
)

// Message is one broker record: an opaque value bound for a topic.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Handler processes one delivered message. A non-nil error is logged by the
// bus but never stops delivery of later messages.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends a message to a topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber registers handlers for topics. Only messages published after
// subscription are delivered; there is no backfill.
type Subscriber interface {
	Subscribe(topic string, h Handler)
}

// Conn is a live broker connection handle.
type Conn interface {
	Publisher
	Close(ctx context.Context) error
}

// Dialer opens broker connections. Producer retries through it at startup.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

var ErrBusClosed = errors.New("broker: bus is not running")

const componentBus = "broker_bus"

// Bus is an in-memory topic bus standing in for the platform's broker in
// single-process deployments and tests. Delivery is strictly ordered: one
// dispatch goroutine hands each message to its handlers and waits for them
// to run to completion before taking the next one.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]Handler
	queue     chan Message
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	running   bool
	log       observability.Logger
}

func NewBus(logger observability.Logger) *Bus {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bus{
		subs:  make(map[string][]Handler),
		queue: make(chan Message, 1024), // buffer for backpressure
		log:   logger.With(observability.F("component", componentBus)),
	}
}

func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		b.mu.Lock()
		b.running = true
		b.mu.Unlock()
		go b.dispatchLoop(bg)
		logctx.FromOr(ctx, b.log).Info("bus_started")
	})
}

func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		if b.cancel != nil {
			b.cancel()
		}
		close(b.queue)
		logctx.FromOr(ctx, b.log).Info("bus_stopped")
	})
}

func (b *Bus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return ErrBusClosed
	}

	select {
	case b.queue <- msg:
		logctx.FromOr(ctx, b.log).Debug("message_enqueued",
			observability.F("topic", msg.Topic),
		)
		return nil
	case <-ctx.Done():
		logctx.FromOr(ctx, b.log).Warn("message_enqueue_aborted",
			observability.F("topic", msg.Topic),
			observability.F("error", ctx.Err()),
		)
		return ctx.Err()
	}
}

// Dial lets the Bus double as the Producer's transport.
func (b *Bus) Dial(ctx context.Context) (Conn, error) {
	_ = ctx
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return nil, ErrBusClosed
	}
	return busConn{bus: b}, nil
}

type busConn struct{ bus *Bus }

func (c busConn) Publish(ctx context.Context, msg Message) error { return c.bus.Publish(ctx, msg) }
func (c busConn) Close(ctx context.Context) error                { return nil }

func (b *Bus) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(ctx, msg)
		}
	}
}

// dispatch runs every handler for the topic sequentially. The next message
// is not taken off the queue until all handlers have returned, which keeps
// per-topic ordering and rules out parallel in-process handling.
func (b *Bus) dispatch(ctx context.Context, msg Message) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[msg.Topic]...)
	b.mu.RUnlock()

	logger := logctx.FromOr(ctx, b.log).With(observability.F("topic", msg.Topic))

	if len(handlers) == 0 {
		logger.Debug("message_dropped_no_subscriber")
		return
	}

	ctx = context.WithoutCancel(ctx)
	ctx = logctx.With(ctx, logger)

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("message_handler_panic",
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
				}
			}()
			if err := h(ctx, msg); err != nil {
				logger.Warn("message_handler_error",
					observability.F("error", err),
				)
			}
		}()
	}
}
