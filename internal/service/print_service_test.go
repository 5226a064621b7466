package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/guard"
)

func newTestPrintService(t *testing.T, f *sessionFixture, g guard.SubmissionGuard) *PrintService {
	t.Helper()

	registry, err := NewSessionRegistry(f.pipeline)
	if err != nil {
		t.Fatalf("NewSessionRegistry() error = %v", err)
	}
	t.Cleanup(registry.CloseAll)

	svc, err := NewPrintService(registry, g, f.batches, nil)
	if err != nil {
		t.Fatalf("NewPrintService() error = %v", err)
	}
	return svc
}

func TestPrintServiceSubmitAcquiresAndReleasesGuard(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	g := &fakeGuard{}
	svc := newTestPrintService(t, f, g)

	req := validRequest("10", "20")
	result, err := svc.Submit(context.Background(), "op-5997", req)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.Outcome != domain.OutcomeSuccess {
		t.Fatalf("outcome = %s, want SUCCESS", result.Outcome)
	}

	fingerprint, err := Fingerprint(req)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if len(g.acquired) != 1 || g.acquired[0] != fingerprint {
		t.Fatalf("acquired = %v, want [%s]", g.acquired, fingerprint)
	}
	if released := g.Released(); len(released) != 1 || released[0] != fingerprint {
		t.Fatalf("released = %v, want [%s]", released, fingerprint)
	}
}

func TestPrintServiceSubmitRejections(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		req       domain.BatchRequest
		acquireFn func(ctx context.Context, sessionID, fingerprint string) error
		wantErr   error
	}{
		{
			name: "invalid request",
			req: func() domain.BatchRequest {
				r := validRequest()
				r.Amounts = nil
				return r
			}(),
			wantErr: domain.ErrValidation,
		},
		{
			name: "duplicate in flight",
			req:  validRequest(),
			acquireFn: func(ctx context.Context, sessionID, fingerprint string) error {
				return domain.ErrProcessingInProgress
			},
			wantErr: domain.ErrProcessingInProgress,
		},
		{
			name: "cooldown",
			req:  validRequest(),
			acquireFn: func(ctx context.Context, sessionID, fingerprint string) error {
				return &guard.CooldownError{Remaining: 4 * time.Second}
			},
			wantErr: domain.ErrCooldown,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newSessionFixture(t, 5, time.Minute)
			svc := newTestPrintService(t, f, &fakeGuard{acquireFn: tc.acquireFn})

			_, err := svc.Submit(context.Background(), "op-1", tc.req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Submit() error = %v, want %v", err, tc.wantErr)
			}
			if f.backend.Calls() != 0 {
				t.Fatalf("backend calls = %d, want 0", f.backend.Calls())
			}
		})
	}
}

func TestPrintServiceSubmitAsync(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	g := &fakeGuard{}
	svc := newTestPrintService(t, f, g)

	if err := svc.SubmitAsync(context.Background(), "op-1", validRequest("10")); err != nil {
		t.Fatalf("SubmitAsync() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(g.Released()) == 1 })

	view, err := svc.Progress("op-1")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if view.LastResult == nil || view.LastResult.Outcome != domain.OutcomeSuccess {
		t.Fatalf("last result = %+v", view.LastResult)
	}
	if view.Busy {
		t.Fatal("session should be idle after the batch finished")
	}
}

func TestPrintServiceSessionLookups(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	svc := newTestPrintService(t, f, nil)

	if _, err := svc.Cancel("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Cancel() error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Progress("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Progress() error = %v, want ErrNotFound", err)
	}
	if err := svc.CloseSession("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("CloseSession() error = %v, want ErrNotFound", err)
	}

	if _, err := svc.Submit(context.Background(), "op-2", validRequest()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	cancelled, err := svc.Cancel("op-2")
	if err != nil || cancelled {
		t.Fatalf("Cancel() = %v, %v; want false, nil for an idle session", cancelled, err)
	}
	if err := svc.CloseSession("op-2"); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
}

func TestPrintServiceGetBatch(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, 5, time.Minute)
	f.batches.getBatchFn = func(ctx context.Context, id string) (*domain.LabelBatch, []domain.PalletRecord, error) {
		if id != "b-1" {
			return nil, nil, domain.ErrNotFound
		}
		return &domain.LabelBatch{ID: "b-1", Status: domain.BatchStatusAbandoned},
			[]domain.PalletRecord{{PalletNumber: "151026/1"}}, nil
	}
	svc := newTestPrintService(t, f, nil)

	view, err := svc.GetBatch(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if view.Batch.Status != domain.BatchStatusAbandoned || len(view.Pallets) != 1 {
		t.Fatalf("view = %+v", view)
	}
	if _, err := svc.GetBatch(context.Background(), "b-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetBatch() error = %v, want ErrNotFound", err)
	}
}

func TestFingerprintIsContentBased(t *testing.T) {
	t.Parallel()

	a, _ := Fingerprint(validRequest("10", "20"))
	b, _ := Fingerprint(validRequest("10", "20"))
	c, _ := Fingerprint(validRequest("10", "21"))

	if a != b {
		t.Fatal("identical requests must share a fingerprint")
	}
	if a == c {
		t.Fatal("different requests must not share a fingerprint")
	}
	if len(a) != 64 {
		t.Fatalf("fingerprint length = %d, want 64", len(a))
	}
}
