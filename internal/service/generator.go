package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/label-engine/internal/cancellation"
	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/observability"
	"github.com/kursadbilgin/label-engine/internal/render"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultGroupSize = 5

// ProgressListener receives item status changes and completed counts.
// progress.Tracker satisfies it.
type ProgressListener interface {
	PublishStatus(index int, status domain.ItemStatus)
	PublishProgress(completed, total int)
}

type GenerationRequest struct {
	BatchID     string
	Request     domain.BatchRequest
	Net         []float64
	Gross       []float64
	Identifiers domain.AllocatedIdentifierSet
}

type GenerationResult struct {
	// Artifacts holds the successful items in index order.
	Artifacts []domain.GeneratedArtifact
	Failures  []domain.ItemFailure
	Statuses  []domain.ItemStatus
	Cancelled bool
}

// ArtifactGenerator renders one artifact per allocated identifier.
type ArtifactGenerator struct {
	renderer  render.Renderer
	groupSize int
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewArtifactGenerator(renderer render.Renderer, groupSize int, logger *zap.Logger) (*ArtifactGenerator, error) {
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if groupSize < 1 {
		groupSize = DefaultGroupSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ArtifactGenerator{
		renderer:  renderer,
		groupSize: groupSize,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (g *ArtifactGenerator) SetMetrics(metrics *observability.Metrics) {
	if g == nil {
		return
	}
	g.metrics = metrics
}

// generation is the mutable state of one Generate call.
type generation struct {
	req      GenerationRequest
	token    *cancellation.Token
	listener ProgressListener
	total    int

	mu        sync.Mutex
	statuses  []domain.ItemStatus
	artifacts []*domain.GeneratedArtifact
	failures  []domain.ItemFailure
	completed int
}

// Generate renders every item unless token is cancelled first. A single item
// runs inline; larger batches run in concurrent groups of groupSize, one
// group after another. Per-item failures never stop the batch.
func (g *ArtifactGenerator) Generate(token *cancellation.Token, req GenerationRequest, listener ProgressListener) GenerationResult {
	total := len(req.Identifiers)
	state := &generation{
		req:       req,
		token:     token,
		listener:  listener,
		total:     total,
		statuses:  make([]domain.ItemStatus, total),
		artifacts: make([]*domain.GeneratedArtifact, total),
	}
	for i := range state.statuses {
		state.statuses[i] = domain.ItemStatusPending
	}

	if total == 1 {
		g.processItem(state, 0)
		return state.result()
	}

	for start := 0; start < total; start += g.groupSize {
		if token.IsCancelled() {
			break
		}
		end := min(start+g.groupSize, total)

		var group errgroup.Group
		for i := start; i < end; i++ {
			group.Go(func() error {
				g.processItem(state, i)
				return nil
			})
		}
		_ = group.Wait()
	}

	return state.result()
}

func (g *ArtifactGenerator) processItem(state *generation, index int) {
	if state.token.IsCancelled() {
		return
	}

	ctx := observability.WithBatchID(state.token.Context(), state.req.BatchID)
	logger := observability.WithContextLogger(g.logger, ctx).With(zap.Int("itemIndex", index))
	identifier := state.req.Identifiers[index]

	state.setStatus(index, domain.ItemStatusProcessing)

	start := g.now()
	payload, err := g.renderer.Render(ctx, state.labelData(index))
	g.metrics.ObserveRenderDuration(state.req.Request.Kind.String(), g.now().Sub(start))

	if state.token.IsCancelled() {
		return
	}

	if err == nil && len(payload) == 0 {
		err = fmt.Errorf("render returned an empty payload")
	}
	if err != nil {
		logger.Warn("label generation failed",
			zap.String("stage", "render"),
			zap.String("palletNumber", identifier.PalletNumber),
			zap.Error(err),
		)
		state.fail(index, err)
		return
	}

	state.succeed(index, domain.GeneratedArtifact{
		Index:      index,
		Identifier: identifier,
		Payload:    payload,
	})
}

func (s *generation) labelData(index int) render.LabelData {
	req := s.req.Request
	data := render.LabelData{
		Kind:               req.Kind,
		ItemIndex:          index,
		ProductCode:        req.ProductCode,
		ProductDescription: req.ProductDescription,
		CounterpartyCode:   req.CounterpartyCode,
		ReferenceNumber:    req.ReferenceNumber,
		OperatorID:         req.OperatorID,
		Mode:               req.Mode,
		PalletTypeLabel:    req.PalletType.Label(),
		PackageTypeLabel:   req.PackageType.Label(),
		PalletNumber:       s.req.Identifiers[index].PalletNumber,
		Series:             s.req.Identifiers[index].Series,
	}
	if index < len(s.req.Net) {
		data.Amount = s.req.Net[index]
	}
	if index < len(s.req.Gross) {
		data.GrossAmount = s.req.Gross[index]
	}
	return data
}

func (s *generation) setStatus(index int, status domain.ItemStatus) {
	s.mu.Lock()
	if !domain.CanTransition(s.statuses[index], status) {
		s.mu.Unlock()
		return
	}
	s.statuses[index] = status
	s.mu.Unlock()

	s.publishStatus(index, status)
}

func (s *generation) succeed(index int, artifact domain.GeneratedArtifact) {
	s.mu.Lock()
	s.statuses[index] = domain.ItemStatusSuccess
	s.artifacts[index] = &artifact
	s.completed++
	completed := s.completed
	s.mu.Unlock()

	s.publishStatus(index, domain.ItemStatusSuccess)
	s.publishProgress(completed)
}

func (s *generation) fail(index int, err error) {
	s.mu.Lock()
	s.statuses[index] = domain.ItemStatusFailed
	s.failures = append(s.failures, domain.ItemFailure{
		Index:      index,
		Identifier: s.req.Identifiers[index],
		Message:    err.Error(),
	})
	s.completed++
	completed := s.completed
	s.mu.Unlock()

	s.publishStatus(index, domain.ItemStatusFailed)
	s.publishProgress(completed)
}

// Events of a cancelled batch are dropped so they cannot leak into the
// snapshot of the batch that superseded it.
func (s *generation) publishStatus(index int, status domain.ItemStatus) {
	if s.listener == nil || s.token.IsCancelled() {
		return
	}
	s.listener.PublishStatus(index, status)
}

func (s *generation) publishProgress(completed int) {
	if s.listener == nil || s.token.IsCancelled() {
		return
	}
	s.listener.PublishProgress(completed, s.total)
}

func (s *generation) result() GenerationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := GenerationResult{
		Artifacts: make([]domain.GeneratedArtifact, 0, s.total),
		Failures:  append([]domain.ItemFailure(nil), s.failures...),
		Statuses:  append([]domain.ItemStatus(nil), s.statuses...),
		Cancelled: s.token.IsCancelled(),
	}
	for _, a := range s.artifacts {
		if a != nil {
			result.Artifacts = append(result.Artifacts, *a)
		}
	}
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Index < result.Failures[j].Index
	})
	return result
}
