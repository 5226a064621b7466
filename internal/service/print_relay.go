package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/observability"
	"github.com/kursadbilgin/label-engine/internal/printing"
	"github.com/kursadbilgin/label-engine/internal/queue"
	"github.com/kursadbilgin/label-engine/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minRelayConcurrency = 1

// ArtifactReader loads and removes stored label payloads.
type ArtifactReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// PrintRelay forwards queued print jobs to the spooler.
type PrintRelay struct {
	consumer      queue.Consumer
	artifacts     ArtifactReader
	printer       printing.Printer
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	keepArtifacts bool
}

func NewPrintRelay(
	consumer queue.Consumer,
	artifacts ArtifactReader,
	printer printing.Printer,
	concurrency int,
	keepArtifacts bool,
	logger *zap.Logger,
) (*PrintRelay, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact reader is required")
	}
	if printer == nil {
		return nil, fmt.Errorf("printer is required")
	}
	if concurrency < minRelayConcurrency {
		concurrency = minRelayConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PrintRelay{
		consumer:      consumer,
		artifacts:     artifacts,
		printer:       printer,
		logger:        logger,
		concurrency:   concurrency,
		keepArtifacts: keepArtifacts,
	}, nil
}

func (r *PrintRelay) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Start consumes the print queues until ctx is cancelled.
func (r *PrintRelay) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	workers := max(r.concurrency, len(queueNames))
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			r.logger.Info("relay worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := r.consumer.Consume(groupCtx, queueName, r.processMessage); err != nil {
				r.logger.Error("relay worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			r.logger.Info("relay worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error to have the consumer nack the delivery;
// a second failure dead-letters it.
func (r *PrintRelay) processMessage(ctx context.Context, msg queue.PrintJobMessage) error {
	ctx = observability.WithBatchID(ctx, msg.BatchID)
	logger := observability.WithContextLogger(r.logger, ctx).With(zap.String("jobId", msg.JobID))
	kind := strings.ToLower(msg.Kind.String())

	job := printing.PrintJob{
		JobID:       msg.JobID,
		BatchID:     msg.BatchID,
		Kind:        msg.Kind,
		ProductCode: msg.ProductCode,
		OperatorID:  msg.OperatorID,
		Labels:      make([]printing.PrintLabel, 0, len(msg.Labels)),
	}
	for _, l := range msg.Labels {
		payload, err := r.artifacts.Get(ctx, l.ArtifactKey)
		if err != nil {
			logger.Error("failed to load label artifact",
				zap.String("stage", "relay"),
				zap.Int("itemIndex", l.Index),
				zap.String("artifactKey", l.ArtifactKey),
				zap.Error(err),
			)
			r.metrics.IncRelayJob(kind, "missing_artifact")
			return fmt.Errorf("failed to load artifact %s: %w", l.ArtifactKey, err)
		}
		job.Labels = append(job.Labels, printing.PrintLabel{
			Index: l.Index,
			Identifier: domain.IdentifierPair{
				PalletNumber: l.PalletNumber,
				Series:       l.Series,
			},
			Payload: payload,
		})
	}

	receipt, err := r.printer.Print(ctx, job)
	if err != nil {
		logger.Warn("spooler rejected print job",
			zap.String("stage", "relay"),
			zap.String("reason", remote.Reason(err)),
			zap.Error(err),
		)
		r.metrics.IncRelayJob(kind, remote.Reason(err))
		return fmt.Errorf("failed to forward print job: %w", err)
	}
	r.metrics.IncRelayJob(kind, "printed")

	fields := []zap.Field{zap.Int("labels", len(job.Labels))}
	if receipt != nil {
		fields = append(fields, zap.String("spoolerRef", receipt.SpoolerRef), zap.Int("statusCode", receipt.StatusCode))
	}
	logger.Info("print job forwarded", fields...)

	if !r.keepArtifacts {
		for _, l := range msg.Labels {
			if err := r.artifacts.Delete(ctx, l.ArtifactKey); err != nil {
				logger.Warn("failed to delete label artifact",
					zap.String("artifactKey", l.ArtifactKey),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}
