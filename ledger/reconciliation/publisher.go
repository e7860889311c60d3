package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	libOpentelemetry "github.com/LerianStudio/lib-ledger/ledger/opentelemetry"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrChannelRequired        = errors.New("rabbitmq channel is required")
	ErrExchangeRequired       = errors.New("exchange or routing key is required")
	ErrConfirmModeUnavailable = errors.New("channel does not support confirm mode")
	ErrPublishNacked          = errors.New("message was nacked by broker")
	ErrConfirmTimeout         = errors.New("confirmation timed out")
	ErrPublisherClosed        = errors.New("publisher is closed")
)

const (
	// DefaultConfirmTimeout is the default wait for a broker confirmation.
	DefaultConfirmTimeout = 5 * time.Second

	confirmChannelBuffer = 64
	contentTypeJSON      = "application/json"
	messageType          = "ledger.transfer.reconciliation_required"
)

// ConfirmableChannel is the subset of *amqp.Channel used by Publisher.
type ConfirmableChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

type PublisherOption func(*Publisher)

func WithLogger(logger log.Logger) PublisherOption {
	return func(p *Publisher) {
		if !nilcheck.Interface(logger) {
			p.logger = logger
		}
	}
}

func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		if timeout > 0 {
			p.confirmTimeout = timeout
		}
	}
}

// Publisher publishes notices and waits for the broker to confirm each one.
// Publishes are serialized so confirmations arrive in order.
type Publisher struct {
	ch             ConfirmableChannel
	exchange       string
	routingKey     string
	confirms       chan amqp.Confirmation
	closed         chan struct{}
	closeOnce      sync.Once
	logger         log.Logger
	confirmTimeout time.Duration
	publishMu      sync.Mutex
	now            func() time.Time
}

// NewPublisher puts ch in confirm mode and returns a Publisher for exchange
// and routingKey. An empty exchange with a queue name as routing key uses
// the default exchange.
func NewPublisher(ch ConfirmableChannel, exchange, routingKey string, opts ...PublisherOption) (*Publisher, error) {
	if nilcheck.Interface(ch) {
		return nil, ErrChannelRequired
	}

	if exchange == "" && routingKey == "" {
		return nil, ErrExchangeRequired
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirmModeUnavailable, err)
	}

	p := &Publisher{
		ch:             ch,
		exchange:       exchange,
		routingKey:     routingKey,
		confirms:       ch.NotifyPublish(make(chan amqp.Confirmation, confirmChannelBuffer)),
		closed:         make(chan struct{}),
		logger:         log.NewNop(),
		confirmTimeout: DefaultConfirmTimeout,
		now:            time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	closeNotify := ch.NotifyClose(make(chan *amqp.Error, 1))

	go p.watchClose(closeNotify)

	return p, nil
}

func (p *Publisher) watchClose(closeNotify <-chan *amqp.Error) {
	select {
	case amqpErr, ok := <-closeNotify:
		if ok && amqpErr != nil {
			p.logger.Log(context.Background(), log.LevelWarn, "reconciliation channel closed",
				log.Int("code", amqpErr.Code), log.String("reason", amqpErr.Reason))
		}

		p.closeOnce.Do(func() { close(p.closed) })
	case <-p.closed:
	}
}

// Notify publishes notice as a persistent JSON message.
func (p *Publisher) Notify(ctx context.Context, notice Notice) error {
	if p == nil {
		return ErrChannelRequired
	}

	select {
	case <-p.closed:
		return ErrPublisherClosed
	default:
	}

	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    notice.TransferID.String(),
		Type:         messageType,
		Timestamp:    p.now().UTC(),
		Headers:      amqp.Table(libOpentelemetry.PrepareQueueHeaders(ctx, nil)),
		Body:         body,
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	if err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, true, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if err := p.waitForConfirm(ctx); err != nil {
		p.logger.Log(ctx, log.LevelError, "reconciliation notice not confirmed",
			log.String("transfer_id", notice.TransferID.String()), log.Err(err))

		if errors.Is(err, ErrConfirmTimeout) || ctx.Err() != nil {
			p.invalidate()
		}

		return err
	}

	return nil
}

func (p *Publisher) waitForConfirm(ctx context.Context) error {
	timeout := time.NewTimer(p.confirmTimeout)
	defer timeout.Stop()

	select {
	case confirmed, ok := <-p.confirms:
		if !ok {
			return ErrPublisherClosed
		}

		if !confirmed.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
		}

		return nil
	case <-p.closed:
		return ErrPublisherClosed
	case <-timeout.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

// invalidate closes the channel after a confirmation went missing. A late
// confirm would otherwise be matched to the next notice. Callers hold publishMu.
func (p *Publisher) invalidate() {
	p.closeOnce.Do(func() {
		close(p.closed)

		if err := p.ch.Close(); err != nil {
			p.logger.Log(context.Background(), log.LevelWarn, "reconciliation channel close failed", log.Err(err))
		}
	})
}

// Close closes the channel. It is safe to call more than once.
func (p *Publisher) Close() error {
	if p == nil {
		return ErrChannelRequired
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	var err error

	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.ch.Close()
	})

	return err
}
