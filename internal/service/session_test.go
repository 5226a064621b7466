package service

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/label-engine/internal/cancellation"
	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/observability"
	"github.com/kursadbilgin/label-engine/internal/printing"
	"github.com/kursadbilgin/label-engine/internal/progress"
	"github.com/kursadbilgin/label-engine/internal/render"
	"github.com/kursadbilgin/label-engine/internal/repository"
	"github.com/kursadbilgin/label-engine/internal/weight"
)

type sessionFixture struct {
	backend  *fakeBackend
	renderer *fakeRenderer
	printer  *fakePrinter
	batches  *fakeBatchStore
	pipeline Pipeline
	session  *PrintSession
}

func newSessionFixture(t *testing.T, groupSize int, resetDelay time.Duration) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		backend:  &fakeBackend{},
		renderer: &fakeRenderer{},
		printer:  &fakePrinter{},
		batches:  newFakeBatchStore(),
	}

	allocator, err := NewIdentifierAllocator(f.backend, nil)
	if err != nil {
		t.Fatalf("NewIdentifierAllocator() error = %v", err)
	}
	generator, err := NewArtifactGenerator(f.renderer, groupSize, nil)
	if err != nil {
		t.Fatalf("NewArtifactGenerator() error = %v", err)
	}
	submitter, err := NewPrintSubmitter(f.printer, resetDelay, nil)
	if err != nil {
		t.Fatalf("NewPrintSubmitter() error = %v", err)
	}

	f.pipeline = Pipeline{
		Resolver:  weight.NewResolver(weight.DefaultTareTable()),
		Allocator: allocator,
		Generator: generator,
		Submitter: submitter,
		Batches:   f.batches,
		Progress:  progress.Config{ProgressWindow: time.Millisecond, StatusWindow: time.Millisecond, MaxBatchSize: 5},
	}
	f.session = f.newSession(t, "op-5997")
	return f
}

func (f *sessionFixture) newSession(t *testing.T, id string) *PrintSession {
	t.Helper()

	session, err := NewPrintSession(id, f.pipeline)
	if err != nil {
		t.Fatalf("NewPrintSession() error = %v", err)
	}
	var seq atomic.Int32
	session.newBatchID = func() string {
		return fmt.Sprintf("batch-%d", seq.Add(1))
	}
	t.Cleanup(session.Close)
	return session
}

func assertStatusesValid(t *testing.T, snapshot domain.ProgressSnapshot, total int) {
	t.Helper()

	if len(snapshot.Statuses) != total {
		t.Fatalf("statuses length = %d, want %d", len(snapshot.Statuses), total)
	}
	for i, st := range snapshot.Statuses {
		if !st.IsValid() {
			t.Fatalf("status[%d] = %q is not valid", i, st)
		}
	}
}

func TestPrintSessionAllItemsSucceed(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)

	result, err := f.session.ProcessPrintRequest(context.Background(), validRequest("10", "20", "30"))
	if err != nil {
		t.Fatalf("ProcessPrintRequest() error = %v", err)
	}

	if result.Outcome != domain.OutcomeSuccess || result.Succeeded != 3 || result.Total != 3 {
		t.Fatalf("result = %+v", result)
	}
	if result.Notice.Level != domain.NoticeSuccess {
		t.Fatalf("notice = %+v, want success", result.Notice)
	}
	assertStatusesValid(t, result.Snapshot, 3)
	for i, st := range result.Snapshot.Statuses {
		if st != domain.ItemStatusSuccess {
			t.Fatalf("status[%d] = %s, want SUCCESS", i, st)
		}
	}

	jobs := f.printer.Jobs()
	if len(jobs) != 1 || len(jobs[0].Labels) != 3 {
		t.Fatalf("print jobs = %+v", jobs)
	}
	for i, l := range jobs[0].Labels {
		if l.Index != i {
			t.Fatalf("label order = %+v", jobs[0].Labels)
		}
	}
	if result.PrintJobID != jobs[0].JobID {
		t.Fatalf("PrintJobID = %q, want %q", result.PrintJobID, jobs[0].JobID)
	}

	update, ok := f.batches.Update(result.BatchID)
	if !ok || update.Status != domain.BatchStatusPrinted {
		t.Fatalf("batch update = %+v, %v", update, ok)
	}
	if got := f.session.LastResult(); got == nil || got.BatchID != result.BatchID {
		t.Fatalf("LastResult() = %+v", got)
	}
}

func TestPrintSessionPartialFailure(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	f.renderer.renderFn = func(ctx context.Context, label render.LabelData) ([]byte, error) {
		if label.ItemIndex == 1 {
			return nil, errors.New("render timeout")
		}
		return []byte("%PDF"), nil
	}

	result, err := f.session.ProcessPrintRequest(context.Background(), validRequest("10", "20", "30"))
	if err != nil {
		t.Fatalf("ProcessPrintRequest() error = %v", err)
	}

	if result.Outcome != domain.OutcomePartial || result.Succeeded != 2 || len(result.Failures) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.Notice.Level != domain.NoticeWarning || result.Notice.Message != "2 of 3 succeeded. 1 failed." {
		t.Fatalf("notice = %+v", result.Notice)
	}
	if result.Failures[0].Index != 1 {
		t.Fatalf("failure = %+v", result.Failures[0])
	}
	if result.Succeeded+len(result.Failures) != result.Total {
		t.Fatal("successes + failures must equal total for a finished batch")
	}

	jobs := f.printer.Jobs()
	if len(jobs) != 1 || len(jobs[0].Labels) != 2 || jobs[0].Labels[1].Index != 2 {
		t.Fatalf("print jobs = %+v", jobs)
	}

	update, _ := f.batches.Update(result.BatchID)
	if update.Status != domain.BatchStatusPartial || update.Reason != "2 of 3 succeeded" {
		t.Fatalf("batch update = %+v", update)
	}
}

func TestPrintSessionIdentifierMismatchIsFatal(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	f.backend.createFn = func(ctx context.Context, req repository.AllocationRequest) (*repository.AllocationResponse, error) {
		return &repository.AllocationResponse{Success: true, Pairs: testPairs(2)}, nil
	}

	var processing atomic.Int32
	unsubscribe := f.session.Subscribe(func(s domain.ProgressSnapshot) {
		processing.Add(int32(s.Count(domain.ItemStatusProcessing)))
	})
	defer unsubscribe()

	result, err := f.session.ProcessPrintRequest(context.Background(), validRequest("10", "20", "30"))
	if !errors.Is(err, domain.ErrIdentifierCountMismatch) {
		t.Fatalf("ProcessPrintRequest() error = %v, want ErrIdentifierCountMismatch", err)
	}
	if result.Outcome != domain.OutcomeFailed || result.Notice.Level != domain.NoticeError {
		t.Fatalf("result = %+v", result)
	}
	if f.renderer.Calls() != 0 {
		t.Fatalf("render calls = %d, want 0", f.renderer.Calls())
	}
	if processing.Load() != 0 {
		t.Fatal("no item may enter PROCESSING after an allocation failure")
	}
	if len(f.printer.Jobs()) != 0 {
		t.Fatal("printer should not be called")
	}
}

func TestPrintSessionValidationStopsBeforeAllocation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		mutate      func(r *domain.BatchRequest)
		wantMessage string
	}{
		{
			name:        "non numeric operator",
			mutate:      func(r *domain.BatchRequest) { r.OperatorID = "abc" },
			wantMessage: "operator id must be numeric",
		},
		{
			name: "weight below tare",
			mutate: func(r *domain.BatchRequest) {
				r.Mode = domain.LabelModeWeight
				r.PalletType = domain.PalletTypeChepWet
				r.Amounts = []string{"30"}
			},
			wantMessage: "item 1 has no positive net amount",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newSessionFixture(t, 5, time.Minute)
			req := validRequest()
			tc.mutate(&req)

			result, err := f.session.ProcessPrintRequest(context.Background(), req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("ProcessPrintRequest() error = %v, want ErrValidation", err)
			}
			if result.Notice.Message != tc.wantMessage {
				t.Fatalf("notice = %q, want %q", result.Notice.Message, tc.wantMessage)
			}
			if f.backend.Calls() != 0 {
				t.Fatalf("backend calls = %d, want 0", f.backend.Calls())
			}
		})
	}
}

func TestPrintSessionNothingToPrint(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	f.renderer.renderFn = func(ctx context.Context, label render.LabelData) ([]byte, error) {
		return nil, errors.New("render failed")
	}

	result, err := f.session.ProcessPrintRequest(context.Background(), validRequest("10", "20"))
	if err != nil {
		t.Fatalf("ProcessPrintRequest() error = %v", err)
	}
	if result.Outcome != domain.OutcomeNothingToPrint {
		t.Fatalf("outcome = %s, want NOTHING_TO_PRINT", result.Outcome)
	}
	if result.Notice != (domain.Notice{Level: domain.NoticeError, Message: "nothing to print"}) {
		t.Fatalf("notice = %+v", result.Notice)
	}
	if len(f.printer.Jobs()) != 0 {
		t.Fatal("printer should not be called")
	}
	update, _ := f.batches.Update(result.BatchID)
	if update.Status != domain.BatchStatusFailed {
		t.Fatalf("batch status = %s, want FAILED", update.Status)
	}
}

func TestPrintSessionSubmissionFailureKeepsState(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	f.printer.printFn = func(ctx context.Context, job printing.PrintJob) (*printing.PrintReceipt, error) {
		return nil, errors.New("spooler offline")
	}

	result, err := f.session.ProcessPrintRequest(context.Background(), validRequest("10", "20", "30"))
	if !errors.Is(err, domain.ErrSubmission) {
		t.Fatalf("ProcessPrintRequest() error = %v, want ErrSubmission", err)
	}
	if result.Outcome != domain.OutcomeFailed || result.Succeeded != 3 {
		t.Fatalf("result = %+v", result)
	}

	snapshot := f.session.Snapshot()
	if snapshot.Total != 3 || snapshot.Count(domain.ItemStatusSuccess) != 3 {
		t.Fatalf("snapshot = %+v, want statuses left intact", snapshot)
	}
	update, _ := f.batches.Update(result.BatchID)
	if update.Status != domain.BatchStatusFailed {
		t.Fatalf("batch status = %s, want FAILED", update.Status)
	}
}

func TestPrintSessionCancelLeavesLaterItemsPending(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 1, time.Minute)
	entered := make(chan struct{})
	var once sync.Once
	f.renderer.renderFn = func(ctx context.Context, label render.LabelData) ([]byte, error) {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return nil, ctx.Err()
	}

	done := make(chan *domain.BatchResult, 1)
	errs := make(chan error, 1)
	if err := f.session.Start(validRequest("10", "20", "30"), func(r *domain.BatchResult, err error) {
		done <- r
		errs <- err
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("render was not started")
	}
	if !f.session.Busy() {
		t.Fatal("session should be busy while a batch runs")
	}
	if !f.session.Cancel() {
		t.Fatal("Cancel() = false, want true")
	}

	var result *domain.BatchResult
	select {
	case result = <-done:
	case <-time.After(time.Second):
		t.Fatal("batch did not stop after cancel")
	}
	if err := <-errs; err != nil {
		t.Fatalf("cancelled batch returned error %v", err)
	}

	if result.Outcome != domain.OutcomeCancelled || result.Notice != (domain.Notice{}) {
		t.Fatalf("result = %+v", result)
	}
	want := []domain.ItemStatus{domain.ItemStatusProcessing, domain.ItemStatusPending, domain.ItemStatusPending}
	for i := range want {
		if result.Snapshot.Statuses[i] != want[i] {
			t.Fatalf("status[%d] = %s, want %s", i, result.Snapshot.Statuses[i], want[i])
		}
	}
	if f.renderer.Calls() != 1 {
		t.Fatalf("render calls = %d, want 1", f.renderer.Calls())
	}
	if len(f.printer.Jobs()) != 0 {
		t.Fatal("printer should not be called for a cancelled batch")
	}

	update, ok := f.batches.Update(result.BatchID)
	if !ok || update.Status != domain.BatchStatusAbandoned || update.Reason != cancellation.ReasonUserCancelled {
		t.Fatalf("batch update = %+v, %v", update, ok)
	}
	if got := f.session.LastResult(); got == nil || got.Outcome != domain.OutcomeCancelled {
		t.Fatalf("LastResult() = %+v, want the cancelled result", got)
	}
	if f.session.Cancel() {
		t.Fatal("second Cancel() should report no active batch")
	}
}

func TestPrintSessionSupersedesActiveBatch(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)

	entered := make(chan context.Context, 1)
	f.renderer.renderFn = func(ctx context.Context, label render.LabelData) ([]byte, error) {
		if label.ProductCode == "A" {
			entered <- ctx
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []byte("%PDF"), nil
	}

	var ctxA atomic.Value
	var aCancelledBeforeB atomic.Bool
	f.backend.createFn = func(ctx context.Context, req repository.AllocationRequest) (*repository.AllocationResponse, error) {
		if req.ProductCode == "B" {
			if c, ok := ctxA.Load().(context.Context); ok && c.Err() != nil {
				aCancelledBeforeB.Store(true)
			}
		}
		return &repository.AllocationResponse{Success: true, Pairs: testPairs(len(req.Amounts))}, nil
	}

	reqA := validRequest("5")
	reqA.ProductCode = "A"
	doneA := make(chan *domain.BatchResult, 1)
	if err := f.session.Start(reqA, func(r *domain.BatchResult, err error) { doneA <- r }); err != nil {
		t.Fatalf("Start(A) error = %v", err)
	}

	select {
	case c := <-entered:
		ctxA.Store(c)
	case <-time.After(time.Second):
		t.Fatal("batch A did not start rendering")
	}

	reqB := validRequest("7", "8")
	reqB.ProductCode = "B"
	resultB, err := f.session.ProcessPrintRequest(context.Background(), reqB)
	if err != nil {
		t.Fatalf("ProcessPrintRequest(B) error = %v", err)
	}

	var resultA *domain.BatchResult
	select {
	case resultA = <-doneA:
	case <-time.After(time.Second):
		t.Fatal("batch A did not finish")
	}

	if resultA.Outcome != domain.OutcomeCancelled {
		t.Fatalf("A outcome = %s, want CANCELLED", resultA.Outcome)
	}
	if resultB.Outcome != domain.OutcomeSuccess || resultB.Succeeded != 2 {
		t.Fatalf("B result = %+v", resultB)
	}
	if !aCancelledBeforeB.Load() {
		t.Fatal("A must be cancelled before B allocates")
	}

	jobs := f.printer.Jobs()
	if len(jobs) != 1 || jobs[0].ProductCode != "B" {
		t.Fatalf("print jobs = %+v, want only B", jobs)
	}
	update, _ := f.batches.Update(resultA.BatchID)
	if update.Status != domain.BatchStatusAbandoned || update.Reason != cancellation.ReasonSuperseded {
		t.Fatalf("A batch update = %+v", update)
	}
}

func TestPrintSessionCallerContextCancelsBatch(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.renderer.renderFn = func(rctx context.Context, label render.LabelData) ([]byte, error) {
		cancel()
		<-rctx.Done()
		return nil, rctx.Err()
	}

	result, err := f.session.ProcessPrintRequest(ctx, validRequest("10"))
	if err != nil {
		t.Fatalf("ProcessPrintRequest() error = %v", err)
	}
	if result.Outcome != domain.OutcomeCancelled {
		t.Fatalf("outcome = %s, want CANCELLED", result.Outcome)
	}
	update, _ := f.batches.Update(result.BatchID)
	if update.Reason != cancellation.ReasonCallerGone {
		t.Fatalf("reason = %q, want %q", update.Reason, cancellation.ReasonCallerGone)
	}
}

func TestPrintSessionResetsFormAfterPrint(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, 30*time.Millisecond)

	if _, err := f.session.ProcessPrintRequest(context.Background(), validRequest("10", "20")); err != nil {
		t.Fatalf("ProcessPrintRequest() error = %v", err)
	}
	if f.session.Snapshot().Total != 2 {
		t.Fatalf("snapshot total = %d, want 2 right after printing", f.session.Snapshot().Total)
	}

	waitFor(t, time.Second, func() bool { return f.session.Snapshot().Total == 0 })
}

func TestPrintSessionClosedRejectsWork(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	f.session.Close()
	f.session.Close()

	if err := f.session.Start(validRequest(), nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Start() error = %v, want ErrSessionClosed", err)
	}
	_, err := f.session.ProcessPrintRequest(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ProcessPrintRequest() error = %v, want ErrConflict", err)
	}
}

func TestNewPrintSessionValidatesPipeline(t *testing.T) {
	t.Parallel()

	if _, err := NewPrintSession("op-1", Pipeline{}); err == nil {
		t.Fatal("expected error for empty pipeline")
	}
}

func TestPrintSessionSupersededAttemptCannotOverwriteProgress(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)

	older, err := f.session.begin(false)
	if err != nil {
		t.Fatalf("begin() error = %v", err)
	}
	newer, err := f.session.begin(false)
	if err != nil {
		t.Fatalf("begin() error = %v", err)
	}
	defer f.session.controller.Release(newer.token)

	if !older.token.IsCancelled() {
		t.Fatal("older attempt should be cancelled by the newer one")
	}

	newer.progress.Reset(3)
	if older.progress.Reset(1) {
		t.Fatal("superseded attempt reset the tracker")
	}
	older.progress.PublishStatus(0, domain.ItemStatusFailed)
	older.progress.Flush()

	newer.progress.PublishStatus(2, domain.ItemStatusSuccess)
	newer.progress.Flush()

	snapshot := f.session.Snapshot()
	assertStatusesValid(t, snapshot, 3)
	want := []domain.ItemStatus{domain.ItemStatusPending, domain.ItemStatusPending, domain.ItemStatusSuccess}
	for i := range want {
		if snapshot.Statuses[i] != want[i] {
			t.Fatalf("status[%d] = %s, want %s", i, snapshot.Statuses[i], want[i])
		}
	}
}

func TestPrintSessionBeginClearsLastResult(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	if _, err := f.session.ProcessPrintRequest(context.Background(), validRequest("10")); err != nil {
		t.Fatalf("ProcessPrintRequest() error = %v", err)
	}
	if f.session.LastResult() == nil {
		t.Fatal("LastResult() = nil after a finished batch")
	}

	att, err := f.session.begin(false)
	if err != nil {
		t.Fatalf("begin() error = %v", err)
	}
	defer f.session.controller.Release(att.token)

	if got := f.session.LastResult(); got != nil {
		t.Fatalf("LastResult() = %+v while a new batch runs, want nil", got)
	}
}

func TestPrintSessionValidationFailureIsCounted(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	metrics := observability.NewMetrics()
	f.session.pipeline.Metrics = metrics

	req := validRequest()
	req.OperatorID = "abc"
	if _, err := f.session.ProcessPrintRequest(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ProcessPrintRequest() error = %v, want ErrValidation", err)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	want := `label_engine_batches_total{kind="qc",outcome="failed"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics output missing %q", want)
	}
}
