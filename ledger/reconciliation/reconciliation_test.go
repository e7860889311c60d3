//go:build unit

package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/transaction"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type mockChannel struct {
	mu          sync.Mutex
	confirmErr  error
	publishErr  error
	ack         bool
	silent      bool
	confirms    chan amqp.Confirmation
	closeNotify chan *amqp.Error
	published   []amqp.Publishing
	exchange    string
	key         string
	tag         uint64
	closed      bool
}

func newMockChannel() *mockChannel {
	return &mockChannel{ack: true}
}

func (m *mockChannel) Confirm(bool) error { return m.confirmErr }

func (m *mockChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	m.confirms = c
	return c
}

func (m *mockChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	m.closeNotify = c
	return c
}

func (m *mockChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}

	m.exchange, m.key = exchange, key
	m.published = append(m.published, msg)
	m.tag++

	if !m.silent {
		m.confirms <- amqp.Confirmation{DeliveryTag: m.tag, Ack: m.ack}
	}

	return nil
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func sampleNotice() Notice {
	req := transaction.NewTransferRequest(1, 2, decimal.NewFromInt(500))

	return NewNotice(req, transaction.Outcome{
		TransferID: req.ID,
		State:      transaction.StatePartiallyCommitted,
		Cause:      errors.New("credit failed"),
	}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)))
}

func TestNewNotice(t *testing.T) {
	n := sampleNotice()

	assert.Equal(t, int64(1), n.SourceID)
	assert.Equal(t, int64(2), n.DestinationID)
	assert.Equal(t, "credit failed", n.Cause)
	assert.Equal(t, time.UTC, n.OccurredAt.Location())
	assert.Equal(t, transaction.StatePartiallyCommitted, n.State)
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), sampleNotice()))
	assert.NoError(t, NewLogNotifier(log.NewNop()).Notify(context.Background(), sampleNotice()))
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, "ex", "key")
	assert.ErrorIs(t, err, ErrChannelRequired)

	_, err = NewPublisher(newMockChannel(), "", "")
	assert.ErrorIs(t, err, ErrExchangeRequired)

	ch := newMockChannel()
	ch.confirmErr = errors.New("not supported")

	_, err = NewPublisher(ch, "ex", "key")
	assert.ErrorIs(t, err, ErrConfirmModeUnavailable)
}

func TestPublisher_Notify(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "transfer")
	defer span.End()

	ch := newMockChannel()

	p, err := NewPublisher(ch, "ledger.reconciliation", "transfer.partial", WithLogger(log.NewNop()))
	require.NoError(t, err)

	notice := sampleNotice()
	require.NoError(t, p.Notify(ctx, notice))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]

	assert.Equal(t, "ledger.reconciliation", ch.exchange)
	assert.Equal(t, "transfer.partial", ch.key)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, notice.TransferID.String(), msg.MessageId)
	assert.Contains(t, msg.Headers, "traceparent")

	var decoded Notice
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, notice.TransferID, decoded.TransferID)
	assert.True(t, decoded.Amount.Equal(decimal.NewFromInt(500)))
}

func TestPublisher_Failures(t *testing.T) {
	ctx := context.Background()

	nacking := newMockChannel()
	nacking.ack = false
	p, err := NewPublisher(nacking, "ex", "key")
	require.NoError(t, err)
	assert.ErrorIs(t, p.Notify(ctx, sampleNotice()), ErrPublishNacked)

	silent := newMockChannel()
	silent.silent = true
	p, err = NewPublisher(silent, "ex", "key", WithConfirmTimeout(10*time.Millisecond))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Notify(ctx, sampleNotice()), ErrConfirmTimeout)

	broken := newMockChannel()
	broken.publishErr = errors.New("channel/connection is not open")
	p, err = NewPublisher(broken, "ex", "key")
	require.NoError(t, err)
	assert.ErrorIs(t, p.Notify(ctx, sampleNotice()), broken.publishErr)
}

func TestPublisher_ConfirmTimeoutClosesChannel(t *testing.T) {
	ctx := context.Background()

	ch := newMockChannel()
	ch.silent = true

	p, err := NewPublisher(ch, "ex", "key", WithConfirmTimeout(10*time.Millisecond))
	require.NoError(t, err)

	require.ErrorIs(t, p.Notify(ctx, sampleNotice()), ErrConfirmTimeout)

	// The broker nacks the timed-out delivery after the wait gave up.
	ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: false}

	ch.mu.Lock()
	ch.silent = false
	ch.ack = true
	ch.mu.Unlock()

	err = p.Notify(ctx, sampleNotice())
	require.ErrorIs(t, err, ErrPublisherClosed, "the late nack is never read as the next notice's answer")
	assert.NotErrorIs(t, err, ErrPublishNacked)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	assert.True(t, ch.closed)
	assert.Len(t, ch.published, 1)
}

func TestPublisher_CancelledWaitClosesChannel(t *testing.T) {
	ch := newMockChannel()
	ch.silent = true

	p, err := NewPublisher(ch, "ex", "key")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, p.Notify(ctx, sampleNotice()), context.DeadlineExceeded)
	assert.ErrorIs(t, p.Notify(context.Background(), sampleNotice()), ErrPublisherClosed)
	require.NoError(t, p.Close())
}

func TestPublisher_Close(t *testing.T) {
	ch := newMockChannel()

	p, err := NewPublisher(ch, "", "reconciliation")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)

	assert.ErrorIs(t, p.Notify(context.Background(), Notice{TransferID: uuid.New()}), ErrPublisherClosed)
}

func TestPublisher_RemoteClose(t *testing.T) {
	ch := newMockChannel()

	p, err := NewPublisher(ch, "ex", "key")
	require.NoError(t, err)

	ch.closeNotify <- &amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"}

	require.Eventually(t, func() bool {
		return errors.Is(p.Notify(context.Background(), sampleNotice()), ErrPublisherClosed)
	}, time.Second, 5*time.Millisecond)
}
