package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/label-engine/internal/domain"
)

// Publisher publishes print job messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg PrintJobMessage) error
	Close() error
}

// MessageHandler handles a consumed print job.
type MessageHandler func(ctx context.Context, msg PrintJobMessage) error

// Consumer consumes print job messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedKinds = []domain.LabelKind{
	domain.LabelKindQC,
	domain.LabelKindGRN,
}

const queuePrefix = "labels.print"

// QueueName returns the print queue of a label kind, e.g. labels.print.grn.
func QueueName(kind domain.LabelKind) string {
	return fmt.Sprintf("%s.%s", queuePrefix, strings.ToLower(kind.String()))
}

// DLQName returns the dead-letter queue of a label kind, e.g. dlq.labels.print.grn.
func DLQName(kind domain.LabelKind) string {
	return "dlq." + QueueName(kind)
}

func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, QueueName(kind))
	}
	return queues
}

func DLQNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, DLQName(kind))
	}
	return queues
}
