package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/label-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultAbandonedScanInterval = time.Minute
	defaultAbandonedScanLimit    = 100
	defaultAbandonedGrace        = 30 * time.Minute
	abandonedReason              = "allocation not finalized within grace period"
)

// StaleBatchMarker marks batches left in ALLOCATED before cutoff.
type StaleBatchMarker interface {
	AbandonStaleBatches(ctx context.Context, cutoff time.Time, limit int, reason string) ([]string, error)
}

// AbandonedBatchScanner periodically closes out batches whose pipeline run
// ended without recording a final status, e.g. after a crash.
type AbandonedBatchScanner struct {
	batches  StaleBatchMarker
	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	grace    time.Duration
	limit    int
	now      func() time.Time
}

func NewAbandonedBatchScanner(
	batches StaleBatchMarker,
	interval time.Duration,
	grace time.Duration,
	limit int,
	logger *zap.Logger,
) (*AbandonedBatchScanner, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if interval <= 0 {
		interval = defaultAbandonedScanInterval
	}
	if grace <= 0 {
		grace = defaultAbandonedGrace
	}
	if limit <= 0 {
		limit = defaultAbandonedScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AbandonedBatchScanner{
		batches:  batches,
		logger:   logger,
		interval: interval,
		grace:    grace,
		limit:    limit,
		now:      time.Now,
	}, nil
}

func (s *AbandonedBatchScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *AbandonedBatchScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("abandoned batch initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("abandoned batch scan failed", zap.Error(err))
			}
		}
	}
}

func (s *AbandonedBatchScanner) scan(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.grace)
	ids, err := s.batches.AbandonStaleBatches(ctx, cutoff, s.limit, abandonedReason)
	if err != nil {
		return fmt.Errorf("failed to abandon stale batches: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	s.metrics.AddAbandonedBatches(len(ids))
	s.logger.Info("stale batches marked abandoned",
		zap.Int("count", len(ids)),
		zap.Strings("batchIds", ids),
		zap.Time("cutoff", cutoff),
	)
	return nil
}
