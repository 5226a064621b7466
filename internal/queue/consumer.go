package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// disposition is what happens to a delivery once its handler returned.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// dispositionFor gives a failed print job one more delivery; a second
// failure dead-letters it so the spooler is never hammered in a loop.
func dispositionFor(handlerErr error, redelivered bool) disposition {
	switch {
	case handlerErr == nil:
		return dispositionAck
	case redelivered:
		return dispositionDeadLetter
	default:
		return dispositionRequeue
	}
}

func decodePrintJob(body []byte) (PrintJobMessage, error) {
	var msg PrintJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return PrintJobMessage{}, fmt.Errorf("invalid print job payload: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return PrintJobMessage{}, fmt.Errorf("invalid print job: %w", err)
	}
	return msg, nil
}

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume delivers print jobs from queue to handler until ctx is done,
// resubscribing with backoff when the channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("print queue subscription lost",
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)
		if sleepContext(ctx, wait) != nil {
			break
		}
		wait = nextBackoff(wait)
	}
	return nil
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			if err := c.settle(d, c.dispatch(ctx, d, handler)); err != nil {
				return err
			}
		}
	}
}

// dispatch decodes and handles one delivery and reports its disposition.
// Undecodable payloads go straight to the dead-letter queue.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler MessageHandler) disposition {
	msg, err := decodePrintJob(d.Body)
	if err != nil {
		c.logger.Warn("dead-lettering undecodable print job",
			zap.String("messageId", d.MessageId),
			zap.String("routingKey", d.RoutingKey),
			zap.Error(err),
		)
		return dispositionDeadLetter
	}

	handlerErr := handler(ctx, msg)
	outcome := dispositionFor(handlerErr, d.Redelivered)
	if handlerErr != nil {
		c.logger.Warn("print job handler failed",
			zap.String("jobId", msg.JobID),
			zap.String("batchId", msg.BatchID),
			zap.String("disposition", outcome.String()),
			zap.Error(handlerErr),
		)
	}
	return outcome
}

func (c *RabbitMQConsumer) settle(d amqp.Delivery, outcome disposition) error {
	var err error
	switch outcome {
	case dispositionAck:
		err = d.Ack(false)
	case dispositionRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", outcome, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
