package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/guard"
	"github.com/kursadbilgin/label-engine/internal/printing"
	"github.com/kursadbilgin/label-engine/internal/queue"
	"github.com/kursadbilgin/label-engine/internal/render"
	"github.com/kursadbilgin/label-engine/internal/repository"
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	requests []repository.AllocationRequest

	createFn func(ctx context.Context, req repository.AllocationRequest) (*repository.AllocationResponse, error)
}

func (f *fakeBackend) CreateLabelRecords(ctx context.Context, req repository.AllocationRequest) (*repository.AllocationResponse, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return &repository.AllocationResponse{Success: true, Pairs: testPairs(len(req.Amounts))}, nil
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testPairs(n int) []domain.IdentifierPair {
	pairs := make([]domain.IdentifierPair, n)
	for i := range pairs {
		pairs[i] = domain.IdentifierPair{
			PalletNumber: fmt.Sprintf("151026/%d", i+1),
			Series:       fmt.Sprintf("151026-S%05d", i+1),
		}
	}
	return pairs
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls []render.LabelData

	renderFn func(ctx context.Context, label render.LabelData) ([]byte, error)
}

var _ render.Renderer = (*fakeRenderer)(nil)

func (f *fakeRenderer) Render(ctx context.Context, label render.LabelData) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, label)
	f.mu.Unlock()

	if f.renderFn != nil {
		return f.renderFn(ctx, label)
	}
	return []byte("%PDF-" + label.PalletNumber), nil
}

func (f *fakeRenderer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePrinter struct {
	mu   sync.Mutex
	jobs []printing.PrintJob

	printFn func(ctx context.Context, job printing.PrintJob) (*printing.PrintReceipt, error)
}

var _ printing.Printer = (*fakePrinter)(nil)

func (f *fakePrinter) Print(ctx context.Context, job printing.PrintJob) (*printing.PrintReceipt, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if f.printFn != nil {
		return f.printFn(ctx, job)
	}
	return &printing.PrintReceipt{JobID: job.JobID, StatusCode: 202}, nil
}

func (f *fakePrinter) Jobs() []printing.PrintJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]printing.PrintJob(nil), f.jobs...)
}

type statusUpdate struct {
	Status domain.BatchStatus
	Reason string
}

type fakeBatchStore struct {
	mu      sync.Mutex
	updates map[string]statusUpdate

	getBatchFn func(ctx context.Context, id string) (*domain.LabelBatch, []domain.PalletRecord, error)
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{updates: make(map[string]statusUpdate)}
}

func (f *fakeBatchStore) UpdateBatchStatus(ctx context.Context, id string, status domain.BatchStatus, reason string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = statusUpdate{Status: status, Reason: reason}
	return nil
}

func (f *fakeBatchStore) GetBatch(ctx context.Context, id string) (*domain.LabelBatch, []domain.PalletRecord, error) {
	if f.getBatchFn != nil {
		return f.getBatchFn(ctx, id)
	}
	return nil, nil, domain.ErrNotFound
}

func (f *fakeBatchStore) Update(id string) (statusUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.updates[id]
	return u, ok
}

func (f *fakeBatchStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeGuard struct {
	mu       sync.Mutex
	acquired []string
	released []string

	acquireFn func(ctx context.Context, sessionID, fingerprint string) error
}

var _ guard.SubmissionGuard = (*fakeGuard)(nil)

func (f *fakeGuard) Acquire(ctx context.Context, sessionID, fingerprint string) error {
	if f.acquireFn != nil {
		if err := f.acquireFn(ctx, sessionID, fingerprint); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, fingerprint)
	return nil
}

func (f *fakeGuard) Release(ctx context.Context, sessionID, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, fingerprint)
	return nil
}

func (f *fakeGuard) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeArtifacts struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
}

func (f *fakeArtifacts) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, key)
	}
	return payload, nil
}

func (f *fakeArtifacts) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	delete(f.data, key)
	return nil
}

type fakeStaleMarker struct {
	abandonFn func(ctx context.Context, cutoff time.Time, limit int, reason string) ([]string, error)
}

func (f *fakeStaleMarker) AbandonStaleBatches(ctx context.Context, cutoff time.Time, limit int, reason string) ([]string, error) {
	if f.abandonFn != nil {
		return f.abandonFn(ctx, cutoff, limit, reason)
	}
	return nil, nil
}

type statusEvent struct {
	Index  int
	Status domain.ItemStatus
}

// recordingListener captures generator events; onStatus runs after an
// event is recorded.
type recordingListener struct {
	mu       sync.Mutex
	statuses []statusEvent
	progress []int

	onStatus func(index int, status domain.ItemStatus)
}

func (l *recordingListener) PublishStatus(index int, status domain.ItemStatus) {
	l.mu.Lock()
	l.statuses = append(l.statuses, statusEvent{Index: index, Status: status})
	l.mu.Unlock()

	if l.onStatus != nil {
		l.onStatus(index, status)
	}
}

func (l *recordingListener) PublishProgress(completed, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, completed)
}

func (l *recordingListener) Events() []statusEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]statusEvent(nil), l.statuses...)
}

func validRequest(amounts ...string) domain.BatchRequest {
	if len(amounts) == 0 {
		amounts = []string{"10"}
	}
	return domain.BatchRequest{
		Kind:        domain.LabelKindQC,
		ProductCode: "MEP123",
		OperatorID:  "5997",
		Mode:        domain.LabelModeQuantity,
		Amounts:     amounts,
	}
}
