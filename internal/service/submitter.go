package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/label-engine/internal/cancellation"
	"github.com/kursadbilgin/label-engine/internal/cleanup"
	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/observability"
	"github.com/kursadbilgin/label-engine/internal/printing"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const DefaultResetDelay = 2 * time.Second

type SubmitRequest struct {
	BatchID   string
	Request   domain.BatchRequest
	Artifacts []domain.GeneratedArtifact
	// OnReset runs ResetDelay after a successful submission.
	OnReset func()
}

// PrintSubmitter forwards the successful artifacts of a batch as one print
// job. Submissions are not retried.
type PrintSubmitter struct {
	printer    printing.Printer
	resetDelay time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	newJobID   func() string
}

func NewPrintSubmitter(printer printing.Printer, resetDelay time.Duration, logger *zap.Logger) (*PrintSubmitter, error) {
	if printer == nil {
		return nil, fmt.Errorf("printer is required")
	}
	if resetDelay <= 0 {
		resetDelay = DefaultResetDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PrintSubmitter{
		printer:    printer,
		resetDelay: resetDelay,
		logger:     logger,
		newJobID:   func() string { return ulid.Make().String() },
	}, nil
}

func (s *PrintSubmitter) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit sends one print job. On success the reset is scheduled on resources
// so it never fires after the attempt is torn down or token is cancelled.
func (s *PrintSubmitter) Submit(ctx context.Context, resources *cleanup.Manager, token *cancellation.Token, req SubmitRequest) (*printing.PrintReceipt, error) {
	if len(req.Artifacts) == 0 {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNothingToPrint, req.BatchID)
	}

	job := printing.PrintJob{
		JobID:       s.newJobID(),
		BatchID:     req.BatchID,
		Kind:        req.Request.Kind,
		ProductCode: req.Request.ProductCode,
		OperatorID:  req.Request.OperatorID,
		Labels:      make([]printing.PrintLabel, 0, len(req.Artifacts)),
	}
	for _, a := range req.Artifacts {
		job.Labels = append(job.Labels, printing.PrintLabel{
			Index:      a.Index,
			Identifier: a.Identifier,
			Payload:    a.Payload,
		})
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("jobId", job.JobID))

	receipt, err := s.printer.Print(ctx, job)
	if err != nil {
		s.metrics.IncPrintSubmission("failed")
		logger.Error("print submission failed",
			zap.String("stage", "print"),
			zap.Int("labels", len(job.Labels)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrSubmission, err)
	}
	s.metrics.IncPrintSubmission("ok")

	if receipt == nil {
		receipt = &printing.PrintReceipt{JobID: job.JobID}
	}
	if receipt.JobID == "" {
		receipt.JobID = job.JobID
	}

	logger.Info("print job submitted",
		zap.Int("labels", len(job.Labels)),
		zap.Int("statusCode", receipt.StatusCode),
		zap.String("spoolerRef", receipt.SpoolerRef),
		zap.Bool("queued", receipt.Queued),
	)

	if req.OnReset != nil && resources != nil {
		resources.CreateTimeout(func() {
			if token != nil && token.IsCancelled() {
				return
			}
			req.OnReset()
		}, s.resetDelay, "form-reset")
	}

	return receipt, nil
}
