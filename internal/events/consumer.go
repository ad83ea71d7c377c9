package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/congo-pay/wallet-core/internal/apperr"
)

const (
	defaultPrefetch        = 16
	defaultMaxTries        = 5
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
	consumerTag            = "wallet-core"

	deadLetterExchangeType = "topic"
	deadLetterBindingKey   = "#"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

// Channel is the subset of *amqp.Channel the consumer needs.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// EventProcessor applies one event.
type EventProcessor interface {
	Process(ctx context.Context, ev Event) (Result, error)
}

// Consumer feeds queue deliveries through an EventProcessor. Successes and
// duplicates are acked. Caller errors are rejected to the dead-letter queue.
// Transient failures are retried with exponential backoff; once retries run
// out a first delivery is requeued and a redelivery is dead-lettered.
type Consumer struct {
	ch        Channel
	queue     string
	dlx       string
	dlq       string
	processor EventProcessor
	logger    *slog.Logger

	prefetch        int
	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration
}

// ConsumerOption customises a Consumer.
type ConsumerOption func(*Consumer)

// WithPrefetch sets the channel QoS prefetch count.
func WithPrefetch(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.prefetch = n
		}
	}
}

// WithRetry sets the attempt budget and first backoff interval for transient failures.
func WithRetry(maxTries uint, initial time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if maxTries > 0 {
			c.maxTries = maxTries
		}
		if initial > 0 {
			c.initialInterval = initial
			c.maxInterval = max(c.maxInterval, initial)
		}
	}
}

// NewConsumer builds a consumer of queue on ch.
func NewConsumer(ch Channel, queue string, processor EventProcessor, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		ch:              ch,
		queue:           queue,
		dlx:             queue + ".dlx",
		dlq:             queue + ".dlq",
		processor:       processor,
		logger:          logger,
		prefetch:        defaultPrefetch,
		maxTries:        defaultMaxTries,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run declares the queue with its dead-letter topology and consumes until ctx
// is cancelled or the broker closes the delivery channel.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}
	if err := c.declareTopology(); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.logger.Info("event consumer started", "queue", c.queue, "prefetch", c.prefetch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.handle(ctx, d)
		}
	}
}

// declareTopology declares <queue>.dlx and <queue>.dlq, then the work queue
// routing rejected deliveries to the exchange.
func (c *Consumer) declareTopology() error {
	if err := c.ch.ExchangeDeclare(c.dlx, deadLetterExchangeType, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.dlx, err)
	}
	if _, err := c.ch.QueueDeclare(c.dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.dlq, err)
	}
	if err := c.ch.QueueBind(c.dlq, deadLetterBindingKey, c.dlx, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", c.dlq, err)
	}
	args := amqp.Table{"x-dead-letter-exchange": c.dlx}
	if _, err := c.ch.QueueDeclare(c.queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Warn("rejecting undecodable event", "delivery_tag", d.DeliveryTag, "error", err)
		c.settle(d, d.Reject(false))
		return
	}

	res, err := backoff.Retry(ctx, func() (Result, error) {
		res, err := c.processor.Process(ctx, ev)
		if err != nil && !retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)

	switch {
	case err == nil:
		c.logger.Debug("event acked", "event_id", res.EventID, "status", string(res.Status))
		c.settle(d, d.Ack(false))
	case retryable(err) && !d.Redelivered:
		c.logger.Error("event processing failed, requeueing", "event_id", ev.EventID, "type", ev.Type, "error", err)
		c.settle(d, d.Nack(false, true))
	case retryable(err):
		c.logger.Error("event failed again after redelivery, dead-lettering", "event_id", ev.EventID, "type", ev.Type, "dlq", c.dlq, "error", err)
		c.settle(d, d.Reject(false))
	default:
		c.logger.Warn("event rejected", "event_id", ev.EventID, "type", ev.Type, "kind", string(apperr.KindOf(err)), "error", err)
		c.settle(d, d.Reject(false))
	}
}

func (c *Consumer) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	return b
}

func (c *Consumer) settle(d amqp.Delivery, err error) {
	if err != nil {
		c.logger.Error("acknowledge delivery", "delivery_tag", d.DeliveryTag, "error", err)
	}
}

// retryable reports whether a processing error may succeed on redelivery.
// Classified caller errors never do.
func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidArgument, apperr.KindUnknown, apperr.KindNotFound, apperr.KindConflict:
		return false
	}
	return true
}
