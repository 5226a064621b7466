package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/observability"
	"github.com/kursadbilgin/label-engine/internal/repository"
	"go.uber.org/zap"
)

// AllocationBackend reserves identifiers and persists the base records of a
// batch in one transaction.
type AllocationBackend interface {
	CreateLabelRecords(ctx context.Context, req repository.AllocationRequest) (*repository.AllocationResponse, error)
}

// AllocationInput is a validated request with its resolved amounts.
type AllocationInput struct {
	BatchID string
	Request domain.BatchRequest
	Net     []float64
	Gross   []float64
}

type IdentifierAllocator struct {
	backend AllocationBackend
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewIdentifierAllocator(backend AllocationBackend, logger *zap.Logger) (*IdentifierAllocator, error) {
	if backend == nil {
		return nil, fmt.Errorf("allocation backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IdentifierAllocator{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (a *IdentifierAllocator) SetMetrics(metrics *observability.Metrics) {
	if a == nil {
		return
	}
	a.metrics = metrics
}

// Allocate makes exactly one backend call and returns either a complete,
// ordered identifier set or an error. A partial set is never returned.
func (a *IdentifierAllocator) Allocate(ctx context.Context, in AllocationInput) (domain.AllocatedIdentifierSet, error) {
	if len(in.Net) == 0 {
		return nil, fmt.Errorf("%w: no labels to allocate", domain.ErrValidation)
	}
	for i, amount := range in.Net {
		if amount <= 0 {
			return nil, fmt.Errorf("%w: item %d has no positive net amount", domain.ErrValidation, i+1)
		}
	}

	req := in.Request
	start := a.now()
	resp, err := a.backend.CreateLabelRecords(ctx, repository.AllocationRequest{
		BatchID:          in.BatchID,
		Kind:             req.Kind,
		ProductCode:      strings.TrimSpace(req.ProductCode),
		CounterpartyCode: strings.TrimSpace(req.CounterpartyCode),
		ReferenceNumber:  strings.TrimSpace(req.ReferenceNumber),
		OperatorID:       strings.TrimSpace(req.OperatorID),
		Mode:             req.Mode,
		Amounts:          in.Net,
		GrossAmounts:     in.Gross,
		ContainerCounts: repository.ContainerCounts{
			Pallets:  req.PalletCount,
			Packages: req.PackageCount,
		},
		ContainerLabels: repository.ContainerLabels{
			Pallet:  req.PalletType.Label(),
			Package: req.PackageType.Label(),
		},
	})
	a.metrics.ObserveAllocationDuration(a.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAllocation, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty backend response", domain.ErrAllocation)
	}
	if !resp.Success {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "backend reported failure"
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrAllocation, msg)
	}
	if len(resp.Pairs) != len(in.Net) {
		observability.WithContextLogger(a.logger, ctx).Error("identifier count mismatch",
			zap.Int("expected", len(in.Net)),
			zap.Int("received", len(resp.Pairs)),
		)
		return nil, fmt.Errorf("%w: expected %d, got %d", domain.ErrIdentifierCountMismatch, len(in.Net), len(resp.Pairs))
	}

	set := make(domain.AllocatedIdentifierSet, len(resp.Pairs))
	copy(set, resp.Pairs)
	return set, nil
}
