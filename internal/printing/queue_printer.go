package printing

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/queue"
)

// ArtifactWriter stores label payloads for asynchronous printing.
type ArtifactWriter interface {
	Key(jobID string, index int, id domain.IdentifierPair) string
	Put(ctx context.Context, key string, payload []byte) error
}

var _ Printer = (*QueuePrinter)(nil)

// QueuePrinter stores payloads in the artifact bucket and publishes a job
// message that the print relay forwards to the spooler.
type QueuePrinter struct {
	store     ArtifactWriter
	publisher queue.Publisher
}

func NewQueuePrinter(store ArtifactWriter, publisher queue.Publisher) (*QueuePrinter, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &QueuePrinter{store: store, publisher: publisher}, nil
}

func (p *QueuePrinter) Print(ctx context.Context, job PrintJob) (*PrintReceipt, error) {
	if len(job.Labels) == 0 {
		return nil, fmt.Errorf("%w: print job %s has no labels", domain.ErrNothingToPrint, job.JobID)
	}

	msg := queue.PrintJobMessage{
		JobID:       job.JobID,
		BatchID:     job.BatchID,
		Kind:        job.Kind,
		ProductCode: job.ProductCode,
		OperatorID:  job.OperatorID,
		Labels:      make([]queue.PrintJobLabel, 0, len(job.Labels)),
	}
	for _, l := range job.Labels {
		key := p.store.Key(job.JobID, l.Index, l.Identifier)
		if err := p.store.Put(ctx, key, l.Payload); err != nil {
			return nil, fmt.Errorf("failed to store label %d: %w", l.Index, err)
		}
		msg.Labels = append(msg.Labels, queue.PrintJobLabel{
			Index:        l.Index,
			PalletNumber: l.Identifier.PalletNumber,
			Series:       l.Identifier.Series,
			ArtifactKey:  key,
		})
	}

	if err := p.publisher.Publish(ctx, queue.QueueName(job.Kind), msg); err != nil {
		return nil, fmt.Errorf("failed to publish print job: %w", err)
	}

	return &PrintReceipt{JobID: job.JobID, Queued: true}, nil
}
