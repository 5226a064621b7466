package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/guard"
	"github.com/kursadbilgin/label-engine/internal/observability"
	"go.uber.org/zap"
)

// BatchReader loads a persisted batch with its pallet records.
type BatchReader interface {
	GetBatch(ctx context.Context, id string) (*domain.LabelBatch, []domain.PalletRecord, error)
}

type ProgressView struct {
	Snapshot   domain.ProgressSnapshot
	Busy       bool
	LastResult *domain.BatchResult
}

type BatchView struct {
	Batch   *domain.LabelBatch
	Pallets []domain.PalletRecord
}

// PrintService is the operator facing entry point. It validates requests,
// applies the submission guard and routes batches to their session.
type PrintService struct {
	sessions *SessionRegistry
	guard    guard.SubmissionGuard
	batches  BatchReader
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewPrintService(
	sessions *SessionRegistry,
	submissionGuard guard.SubmissionGuard,
	batches BatchReader,
	logger *zap.Logger,
) (*PrintService, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PrintService{
		sessions: sessions,
		guard:    submissionGuard,
		batches:  batches,
		logger:   logger,
	}, nil
}

func (s *PrintService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit runs req in the session and waits for the result.
func (s *PrintService) Submit(ctx context.Context, sessionID string, req domain.BatchRequest) (*domain.BatchResult, error) {
	session, fingerprint, err := s.admit(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, sessionID, fingerprint)

	return session.ProcessPrintRequest(ctx, req)
}

// SubmitAsync starts req in the background. Progress is read through
// Progress and the outcome through ProgressView.LastResult.
func (s *PrintService) SubmitAsync(ctx context.Context, sessionID string, req domain.BatchRequest) error {
	session, fingerprint, err := s.admit(ctx, sessionID, req)
	if err != nil {
		return err
	}

	releaseCtx := context.WithoutCancel(ctx)
	err = session.Start(req, func(*domain.BatchResult, error) {
		s.release(releaseCtx, sessionID, fingerprint)
	})
	if err != nil {
		s.release(releaseCtx, sessionID, fingerprint)
		return err
	}
	return nil
}

func (s *PrintService) Cancel(sessionID string) (bool, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return false, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return session.Cancel(), nil
}

func (s *PrintService) CloseSession(sessionID string) error {
	if !s.sessions.Remove(sessionID) {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return nil
}

func (s *PrintService) Progress(sessionID string) (*ProgressView, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return &ProgressView{
		Snapshot:   session.Snapshot(),
		Busy:       session.Busy(),
		LastResult: session.LastResult(),
	}, nil
}

func (s *PrintService) GetBatch(ctx context.Context, batchID string) (*BatchView, error) {
	if s.batches == nil {
		return nil, fmt.Errorf("%w: batch lookup is not configured", domain.ErrNotFound)
	}
	batch, pallets, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &BatchView{Batch: batch, Pallets: pallets}, nil
}

func (s *PrintService) admit(ctx context.Context, sessionID string, req domain.BatchRequest) (*PrintSession, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}

	session, err := s.sessions.GetOrCreate(sessionID)
	if err != nil {
		return nil, "", err
	}

	fingerprint, err := Fingerprint(req)
	if err != nil {
		return nil, "", err
	}

	if s.guard != nil {
		if err := s.guard.Acquire(ctx, sessionID, fingerprint); err != nil {
			switch {
			case errors.Is(err, domain.ErrProcessingInProgress):
				s.metrics.IncGuardRejection("in_progress")
			case errors.Is(err, domain.ErrCooldown):
				s.metrics.IncGuardRejection("cooldown")
			default:
				s.logger.Error("submission guard unavailable",
					zap.String("sessionId", sessionID),
					zap.Error(err),
				)
			}
			return nil, "", err
		}
	}

	return session, fingerprint, nil
}

func (s *PrintService) release(ctx context.Context, sessionID, fingerprint string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Release(context.WithoutCancel(ctx), sessionID, fingerprint); err != nil {
		s.logger.Warn("failed to release submission guard",
			zap.String("sessionId", sessionID),
			zap.Error(err),
		)
	}
}

// Fingerprint identifies a request by content so a resubmission of the
// batch in flight can be recognised.
func Fingerprint(req domain.BatchRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
