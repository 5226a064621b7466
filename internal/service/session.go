package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/label-engine/internal/cancellation"
	"github.com/kursadbilgin/label-engine/internal/cleanup"
	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/observability"
	"github.com/kursadbilgin/label-engine/internal/progress"
	"github.com/kursadbilgin/label-engine/internal/weight"
	"go.uber.org/zap"
)

const batchStatusTimeout = 5 * time.Second

var ErrSessionClosed = fmt.Errorf("%w: session closed", domain.ErrConflict)

// BatchStatusUpdater records the final status of an allocated batch.
type BatchStatusUpdater interface {
	UpdateBatchStatus(ctx context.Context, id string, status domain.BatchStatus, reason string) error
}

// Pipeline bundles the stages shared by every session.
type Pipeline struct {
	Resolver  *weight.Resolver
	Allocator *IdentifierAllocator
	Generator *ArtifactGenerator
	Submitter *PrintSubmitter
	Batches   BatchStatusUpdater
	Progress  progress.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

func (p Pipeline) validate() error {
	if p.Resolver == nil {
		return fmt.Errorf("weight resolver is required")
	}
	if p.Allocator == nil {
		return fmt.Errorf("identifier allocator is required")
	}
	if p.Generator == nil {
		return fmt.Errorf("artifact generator is required")
	}
	if p.Submitter == nil {
		return fmt.Errorf("print submitter is required")
	}
	return nil
}

// attempt is one run of the pipeline and the resources it owns.
type attempt struct {
	token     *cancellation.Token
	resources *cleanup.Manager
	progress  *progress.Scope
}

// PrintSession runs label batches for one operator session. At most one
// batch is active; starting another supersedes it.
type PrintSession struct {
	id         string
	pipeline   Pipeline
	logger     *zap.Logger
	tracker    *progress.Tracker
	controller *cancellation.Controller
	newBatchID func() string

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	current    *attempt
	epoch      uint64
	lastResult *domain.BatchResult
	closed     bool
}

func NewPrintSession(id string, pipeline Pipeline) (*PrintSession, error) {
	if err := pipeline.validate(); err != nil {
		return nil, err
	}
	logger := pipeline.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	baseCtx, baseCancel := context.WithCancel(observability.WithSessionID(context.Background(), id))
	return &PrintSession{
		id:         id,
		pipeline:   pipeline,
		logger:     logger,
		tracker:    progress.NewTracker(pipeline.Progress),
		controller: cancellation.NewController(),
		newBatchID: uuid.NewString,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}, nil
}

func (s *PrintSession) ID() string { return s.id }

// ProcessPrintRequest runs the whole pipeline and blocks until it ends.
// Cancelling ctx cancels the batch. A cancelled batch returns a CANCELLED
// result and a nil error.
func (s *PrintSession) ProcessPrintRequest(ctx context.Context, req domain.BatchRequest) (*domain.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	att, err := s.begin(false)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		att.token.Cancel(cancellation.ReasonCallerGone)
	})
	defer stop()

	return s.run(att, req)
}

// Start supersedes any active batch and runs req in the background. done,
// when set, receives the outcome.
func (s *PrintSession) Start(req domain.BatchRequest, done func(*domain.BatchResult, error)) error {
	att, err := s.begin(true)
	if err != nil {
		return err
	}

	go func() {
		defer s.wg.Done()
		result, err := s.run(att, req)
		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

// Cancel stops the active batch on operator request.
func (s *PrintSession) Cancel() bool {
	s.mu.Lock()
	cancelled := s.controller.Cancel(cancellation.ReasonUserCancelled)
	if cancelled && s.current != nil {
		s.current.resources.ForceCleanup(cancellation.ReasonUserCancelled)
	}
	s.mu.Unlock()

	s.tracker.Flush()
	return cancelled
}

// Close tears the session down and waits for background runs to return.
func (s *PrintSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.controller.Cancel(cancellation.ReasonTeardown)
	if s.current != nil {
		s.current.resources.ForceCleanup(cancellation.ReasonTeardown)
	}
	s.mu.Unlock()

	s.baseCancel()
	s.wg.Wait()
	s.tracker.Stop()
}

func (s *PrintSession) Snapshot() domain.ProgressSnapshot {
	return s.tracker.Snapshot()
}

func (s *PrintSession) Subscribe(fn progress.Listener) func() {
	return s.tracker.Subscribe(fn)
}

// LastResult returns the result of the most recent finished batch.
func (s *PrintSession) LastResult() *domain.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return nil
	}
	result := *s.lastResult
	return &result
}

// Busy reports whether a batch currently owns the slot.
func (s *PrintSession) Busy() bool {
	active := s.controller.Active()
	return active != nil && !active.IsCancelled()
}

// begin supersedes the previous attempt. Its token is cancelled and its
// resources released before the new token is created. background runs are
// counted under mu so Close never races with Start.
func (s *PrintSession) begin(background bool) (*attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if background {
		s.wg.Add(1)
	}

	s.epoch++
	s.lastResult = nil

	var next *attempt
	_, previous := s.controller.Begin(func() *cancellation.Token {
		if s.current != nil {
			s.current.resources.ForceCleanup(cancellation.ReasonSuperseded)
		}
		resources := cleanup.NewManager(s.logger)
		next = &attempt{
			token:     resources.CreateToken(s.baseCtx, "batch"),
			resources: resources,
			progress:  s.tracker.Scope(s.epoch),
		}
		return next.token
	})
	if previous != nil {
		s.logger.Info("active batch superseded", zap.String("sessionId", s.id))
	}
	s.current = next
	return next, nil
}

func (s *PrintSession) run(att *attempt, req domain.BatchRequest) (*domain.BatchResult, error) {
	metrics := s.pipeline.Metrics
	metrics.IncActiveBatches()
	defer metrics.DecActiveBatches()
	defer s.controller.Release(att.token)

	token := att.token
	ctx := token.Context()
	kind := req.Kind.String()
	result := &domain.BatchResult{}

	if token.IsCancelled() {
		return s.cancelled(att, result, kind), nil
	}

	if err := req.Validate(); err != nil {
		metrics.IncBatch(kind, domain.OutcomeFailed.String())
		result.Outcome = domain.OutcomeFailed
		result.Notice = errorNotice(err)
		return s.finish(att, result), err
	}

	net, gross := s.pipeline.Resolver.ResolveAll(req)
	total := len(net)
	result.Total = total
	att.progress.Reset(total)
	result.Snapshot = domain.NewProgressSnapshot(total)

	batchID := s.newBatchID()
	result.BatchID = batchID
	ctx = observability.WithBatchID(ctx, batchID)
	logger := observability.WithContextLogger(s.logger, ctx)

	if token.IsCancelled() {
		return s.cancelled(att, result, kind), nil
	}

	identifiers, err := s.pipeline.Allocator.Allocate(ctx, AllocationInput{
		BatchID: batchID,
		Request: req,
		Net:     net,
		Gross:   gross,
	})
	if token.IsCancelled() {
		if err == nil {
			s.markBatch(ctx, batchID, domain.BatchStatusAbandoned, token.Reason())
		}
		return s.cancelled(att, result, kind), nil
	}
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			logger.Error("identifier allocation failed", zap.String("stage", "allocate"), zap.Error(err))
		}
		metrics.IncBatch(kind, domain.OutcomeFailed.String())
		result.Outcome = domain.OutcomeFailed
		result.Notice = errorNotice(err)
		return s.finish(att, result), err
	}

	generated := s.pipeline.Generator.Generate(token, GenerationRequest{
		BatchID:     batchID,
		Request:     req,
		Net:         net,
		Gross:       gross,
		Identifiers: identifiers,
	}, att.progress)

	result.Succeeded = len(generated.Artifacts)
	result.Failures = generated.Failures
	result.Snapshot = snapshotFrom(generated)

	if generated.Cancelled {
		s.markBatch(ctx, batchID, domain.BatchStatusAbandoned, token.Reason())
		return s.cancelled(att, result, kind), nil
	}

	att.progress.Flush()
	metrics.AddLabelItems(kind, domain.ItemStatusSuccess.String(), result.Succeeded)
	metrics.AddLabelItems(kind, domain.ItemStatusFailed.String(), len(result.Failures))

	if result.Succeeded == 0 {
		logger.Warn("no labels generated", zap.Int("total", total))
		s.markBatch(ctx, batchID, domain.BatchStatusFailed, "nothing to print")
		metrics.IncBatch(kind, domain.OutcomeNothingToPrint.String())
		result.Outcome = domain.OutcomeNothingToPrint
		result.Notice = domain.Notice{Level: domain.NoticeError, Message: "nothing to print"}
		return s.finish(att, result), nil
	}

	if token.IsCancelled() {
		s.markBatch(ctx, batchID, domain.BatchStatusAbandoned, token.Reason())
		return s.cancelled(att, result, kind), nil
	}

	receipt, err := s.pipeline.Submitter.Submit(ctx, att.resources, token, SubmitRequest{
		BatchID:   batchID,
		Request:   req,
		Artifacts: generated.Artifacts,
		OnReset:   func() { s.resetForm(att) },
	})
	if err != nil {
		if token.IsCancelled() {
			s.markBatch(ctx, batchID, domain.BatchStatusAbandoned, token.Reason())
			return s.cancelled(att, result, kind), nil
		}
		s.markBatch(ctx, batchID, domain.BatchStatusFailed, err.Error())
		metrics.IncBatch(kind, domain.OutcomeFailed.String())
		result.Outcome = domain.OutcomeFailed
		result.Notice = domain.Notice{Level: domain.NoticeError, Message: "failed to submit print job"}
		return s.finish(att, result), err
	}
	result.PrintJobID = receipt.JobID

	if len(result.Failures) == 0 {
		s.markBatch(ctx, batchID, domain.BatchStatusPrinted, "")
		result.Outcome = domain.OutcomeSuccess
		result.Notice = domain.Notice{
			Level:   domain.NoticeSuccess,
			Message: fmt.Sprintf("%d labels sent to printer", result.Succeeded),
		}
	} else {
		reason := fmt.Sprintf("%d of %d succeeded", result.Succeeded, total)
		s.markBatch(ctx, batchID, domain.BatchStatusPartial, reason)
		result.Outcome = domain.OutcomePartial
		result.Notice = domain.Notice{
			Level: domain.NoticeWarning,
			Message: fmt.Sprintf("%s. %d failed.", reason, len(result.Failures)),
		}
	}
	metrics.IncBatch(kind, result.Outcome.String())

	logger.Info("label batch printed",
		zap.String("outcome", result.Outcome.String()),
		zap.Int("total", total),
		zap.Int("succeeded", result.Succeeded),
		zap.String("jobId", result.PrintJobID),
	)
	return s.finish(att, result), nil
}

func (s *PrintSession) cancelled(att *attempt, result *domain.BatchResult, kind string) *domain.BatchResult {
	result.Outcome = domain.OutcomeCancelled
	result.Notice = domain.Notice{}
	s.pipeline.Metrics.IncBatch(kind, domain.OutcomeCancelled.String())
	return s.finish(att, result)
}

// finish records result as the session's last result unless a newer attempt
// has taken the slot.
func (s *PrintSession) finish(att *attempt, result *domain.BatchResult) *domain.BatchResult {
	s.mu.Lock()
	if s.current == att {
		stored := *result
		s.lastResult = &stored
	}
	s.mu.Unlock()
	return result
}

// resetForm clears the progress view unless a newer batch owns the slot.
func (s *PrintSession) resetForm(att *attempt) {
	if active := s.controller.Active(); active != nil && active != att.token {
		return
	}
	att.progress.Reset(0)
}

// markBatch outlives the batch token so cancelled batches still get a
// final status.
func (s *PrintSession) markBatch(ctx context.Context, batchID string, status domain.BatchStatus, reason string) {
	if s.pipeline.Batches == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), batchStatusTimeout)
	defer cancel()

	if err := s.pipeline.Batches.UpdateBatchStatus(ctx, batchID, status, reason); err != nil {
		observability.WithContextLogger(s.logger, ctx).Error("failed to update batch status",
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}

func snapshotFrom(generated GenerationResult) domain.ProgressSnapshot {
	snapshot := domain.ProgressSnapshot{
		Total:    len(generated.Statuses),
		Statuses: append([]domain.ItemStatus(nil), generated.Statuses...),
	}
	for _, st := range generated.Statuses {
		if st.IsTerminal() {
			snapshot.Completed++
		}
	}
	return snapshot
}

func errorNotice(err error) domain.Notice {
	switch {
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		return domain.Notice{Level: domain.NoticeError, Message: msg}
	case errors.Is(err, domain.ErrAllocation):
		return domain.Notice{Level: domain.NoticeError, Message: "failed to allocate label identifiers"}
	default:
		return domain.Notice{Level: domain.NoticeError, Message: "label generation failed"}
	}
}
