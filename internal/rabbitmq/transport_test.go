package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/commercekit/orderflow/internal/event"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func testTransport() *Transport {
	return &Transport{
		log:    slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("test"),
		ready:  make(chan struct{}),
	}
}

func delivery(ack *fakeAcknowledger, body []byte) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestDeliveryAckedOnHandlerSuccess(t *testing.T) {
	tr := testTransport()
	ack := &fakeAcknowledger{}
	body, err := event.Marshal(event.StockReserved{OrderID: "o-1", CorrelationID: "c-1"})
	require.NoError(t, err)

	var got event.Event
	tr.handleDelivery(context.Background(), "q", delivery(ack, body), func(ctx context.Context, ev event.Event) error {
		got = ev
		return nil
	})

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	require.NotNil(t, got)
	assert.Equal(t, event.TypeStockReserved, got.Kind())
}

func TestDeliveryRequeuedOnHandlerError(t *testing.T) {
	tr := testTransport()
	ack := &fakeAcknowledger{}
	body, err := event.Marshal(event.OrderCreated{OrderID: "o-1", CorrelationID: "c-1"})
	require.NoError(t, err)

	tr.handleDelivery(context.Background(), "q", delivery(ack, body), func(ctx context.Context, ev event.Event) error {
		return errors.New("store down")
	})

	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue, "failed handler must requeue for redelivery")
}

func TestDeliveryRequeuedOnDecodeFailure(t *testing.T) {
	tr := testTransport()
	ack := &fakeAcknowledger{}

	called := false
	tr.handleDelivery(context.Background(), "q", delivery(ack, []byte(`not json`)), func(ctx context.Context, ev event.Event) error {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestDeliveryAckedOnUnknownEventType(t *testing.T) {
	tr := testTransport()
	ack := &fakeAcknowledger{}

	called := false
	tr.handleDelivery(context.Background(), "q",
		delivery(ack, []byte(`{"eventType":"OrderShipped","orderId":"o-1"}`)),
		func(ctx context.Context, ev event.Event) error {
			called = true
			return nil
		})

	assert.False(t, called, "unknown tags never reach the handler")
	assert.True(t, ack.acked, "unknown tags are ignored, not requeued")
	assert.False(t, ack.nacked)
}
