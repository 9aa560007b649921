// Package rabbitmq owns the broker connection, the exchange/queue
// topology, and the publish/consume primitives the saga rides on.
// Delivery is at-least-once: a failed handler nacks with requeue and the
// broker redelivers until the handler succeeds.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/commercekit/orderflow/internal/event"
	"github.com/commercekit/orderflow/pkg/tracing"
)

// Handler processes one decoded event. A non-nil error requeues the
// delivery; nil acknowledges it.
type Handler func(ctx context.Context, ev event.Event) error

// Binding routes one queue to a set of routing keys on the exchange.
type Binding struct {
	Queue string
	Keys  []string
}

type Config struct {
	URL               string
	Exchange          string
	Bindings          []Binding
	Heartbeat         time.Duration
	ReconnectInterval time.Duration
}

type subscription struct {
	queue   string
	handler Handler
}

// Transport is a single-connection, single-channel AMQP client. Topology
// is declared on every successful connect, so it heals itself across
// broker restarts; publishers and consumers block on WaitReady instead
// of failing during the window.
type Transport struct {
	log    *slog.Logger
	cfg    Config
	tracer trace.Tracer

	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	ready chan struct{}
	subs  []subscription
}

// Dial connects, declares topology, and starts the reconnect monitor.
// A failure here is fatal to the caller: the process must not serve
// traffic without a broker. Runtime disconnects are recovered at the
// configured fixed interval.
func Dial(ctx context.Context, log *slog.Logger, cfg Config) (*Transport, error) {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	t := &Transport{
		log:    log,
		cfg:    cfg,
		tracer: otel.Tracer("rabbitmq-transport"),
		ready:  make(chan struct{}),
	}
	if err := t.connect(ctx); err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	go t.monitor(ctx)
	return t, nil
}

func (t *Transport) connect(ctx context.Context) error {
	conn, err := amqp.DialConfig(t.cfg.URL, amqp.Config{Heartbeat: t.cfg.Heartbeat})
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := t.declareTopology(ch); err != nil {
		_ = conn.Close()
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.ch = ch
	subs := append([]subscription(nil), t.subs...)
	close(t.ready)
	t.mu.Unlock()

	for _, s := range subs {
		if err := t.startConsumer(ctx, ch, s); err != nil {
			t.log.Error("consumer restart failed", "queue", s.queue, "err", err)
		}
	}
	t.log.Info("connected to rabbitmq", "exchange", t.cfg.Exchange)
	return nil
}

// declareTopology is idempotent: declaring an existing durable exchange,
// queue, or binding with the same parameters is a no-op at the broker.
func (t *Transport) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(t.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.cfg.Exchange, err)
	}
	for _, b := range t.cfg.Bindings {
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.Queue, err)
		}
		for _, key := range b.Keys {
			if err := ch.QueueBind(b.Queue, key, t.cfg.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind %s to %s: %w", b.Queue, key, err)
			}
		}
	}
	return nil
}

func (t *Transport) monitor(ctx context.Context) {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			t.Close()
			return
		case amqpErr := <-closed:
			if amqpErr != nil {
				t.log.Error("rabbitmq connection lost", "err", amqpErr)
			}
		}

		t.mu.Lock()
		t.ready = make(chan struct{})
		t.mu.Unlock()

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.ReconnectInterval):
			}
			if err := t.connect(ctx); err != nil {
				t.log.Error("rabbitmq reconnect failed", "err", err)
				continue
			}
			break
		}
	}
}

// WaitReady blocks until the topology is declared on a live connection
// or ctx is done.
func (t *Transport) WaitReady(ctx context.Context) error {
	t.mu.Lock()
	ready := t.ready
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
		return nil
	}
}

// Publish serializes the event and hands it to the broker with a
// persistent delivery mode. It does not wait for any consumer; broker
// acceptance is the only guarantee. Failures surface to the caller,
// which owns the decision to fail the triggering business operation.
func (t *Transport) Publish(ctx context.Context, routingKey string, ev event.Event) error {
	if err := t.WaitReady(ctx); err != nil {
		return err
	}
	body, err := event.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}

	ctx, span := t.tracer.Start(ctx, "Publish "+routingKey)
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", t.cfg.Exchange),
		attribute.String("messaging.routing_key", routingKey),
	)

	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()

	err = ch.PublishWithContext(ctx, t.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: ev.Correlation(),
		Timestamp:     time.Now().UTC(),
		Headers:       tracing.InjectAMQPHeaders(ctx, nil),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	t.log.Info("event published",
		"routing_key", routingKey,
		"event_type", string(ev.Kind()),
		"correlation_id", ev.Correlation(),
	)
	return nil
}

// Consume registers a handler for a queue. The registration survives
// reconnects. Acknowledgement policy: ack on success, ack on unknown
// event type (forward-compatible ignore), nack+requeue on decode or
// handler failure.
func (t *Transport) Consume(ctx context.Context, queue string, h Handler) error {
	if err := t.WaitReady(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	sub := subscription{queue: queue, handler: h}
	t.subs = append(t.subs, sub)
	ch := t.ch
	t.mu.Unlock()

	return t.startConsumer(ctx, ch, sub)
}

func (t *Transport) startConsumer(ctx context.Context, ch *amqp.Channel, sub subscription) error {
	deliveries, err := ch.Consume(sub.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", sub.queue, err)
	}
	go func() {
		for d := range deliveries {
			t.handleDelivery(ctx, sub.queue, d, sub.handler)
		}
	}()
	return nil
}

func (t *Transport) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, h Handler) {
	msgCtx := tracing.ExtractAMQPHeaders(ctx, d.Headers)
	msgCtx, span := t.tracer.Start(msgCtx, "Consume "+queue)
	defer span.End()

	ev, err := event.Unmarshal(d.Body)
	if errors.Is(err, event.ErrUnknownType) {
		t.log.Warn("ignoring unrecognized event", "queue", queue, "err", err)
		_ = d.Ack(false)
		return
	}
	if err != nil {
		t.log.Error("event decode failed, requeueing", "queue", queue, "err", err)
		_ = d.Nack(false, true)
		return
	}

	span.SetAttributes(
		attribute.String("messaging.event_type", string(ev.Kind())),
		attribute.String("messaging.correlation_id", ev.Correlation()),
	)

	if err := h(msgCtx, ev); err != nil {
		t.log.Error("handler failed, requeueing",
			"queue", queue,
			"event_type", string(ev.Kind()),
			"err", err,
		)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close tears down the channel and connection. Safe to call more than
// once.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch != nil {
		_ = t.ch.Close()
	}
	if t.conn != nil && !t.conn.IsClosed() {
		_ = t.conn.Close()
	}
}
