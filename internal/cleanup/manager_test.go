package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/label-engine/internal/cancellation"
)

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	wasRunning := !f.stopped
	f.stopped = true
	return wasRunning
}

func newManualManager(t *testing.T) (*Manager, *[]*fakeTimer) {
	t.Helper()

	timers := make([]*fakeTimer, 0)
	m := NewManager(nil)
	m.afterFn = func(d time.Duration, fn func()) timer {
		ft := &fakeTimer{fn: fn}
		timers = append(timers, ft)
		return ft
	}
	return m, &timers
}

func TestManagerCreateTimeoutRunsWhileMounted(t *testing.T) {
	t.Parallel()

	m, timers := newManualManager(t)

	var calls int32
	id := m.CreateTimeout(func() { atomic.AddInt32(&calls, 1) }, 2*time.Second, "resetForm")
	if id == 0 {
		t.Fatal("CreateTimeout() should return a non-zero id")
	}
	if got := m.Stats().Timers; got != 1 {
		t.Fatalf("Stats().Timers = %d, want 1", got)
	}

	(*timers)[0].fn()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if got := m.Stats().Timers; got != 0 {
		t.Fatalf("Stats().Timers after fire = %d, want 0", got)
	}
}

func TestManagerForceCleanupCancelsEverything(t *testing.T) {
	t.Parallel()

	m, timers := newManualManager(t)

	tok := m.CreateToken(context.Background(), "print-batch")
	var calls int32
	m.CreateTimeout(func() { atomic.AddInt32(&calls, 1) }, time.Second, "resetForm")

	m.ForceCleanup(cancellation.ReasonTeardown)

	if m.IsMounted() {
		t.Fatal("manager should be unmounted")
	}
	if !tok.IsCancelled() {
		t.Fatal("tracked token should be cancelled")
	}
	if tok.Reason() != cancellation.ReasonTeardown {
		t.Fatalf("Reason() = %q, want %q", tok.Reason(), cancellation.ReasonTeardown)
	}
	if !(*timers)[0].stopped {
		t.Fatal("timer should be stopped")
	}

	// A timer callback racing with cleanup must not run.
	(*timers)[0].fn()
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}

	stats := m.Stats()
	if stats.Tokens != 0 || stats.Timers != 0 || stats.Mounted {
		t.Fatalf("Stats() = %+v, want empty and unmounted", stats)
	}

	// Idempotent.
	m.ForceCleanup(cancellation.ReasonCleanup)
}

func TestManagerAfterCleanupSchedulesNothing(t *testing.T) {
	t.Parallel()

	m, timers := newManualManager(t)
	m.ForceCleanup("")

	if id := m.CreateTimeout(func() {}, time.Second, "late"); id != 0 {
		t.Fatalf("CreateTimeout() = %d, want 0 after cleanup", id)
	}
	if len(*timers) != 0 {
		t.Fatalf("timers scheduled = %d, want 0", len(*timers))
	}

	tok := m.CreateToken(context.Background(), "late")
	if !tok.IsCancelled() {
		t.Fatal("token created after cleanup should be cancelled")
	}
}

func TestManagerClearTimeout(t *testing.T) {
	t.Parallel()

	m, timers := newManualManager(t)
	id := m.CreateTimeout(func() { t.Fatal("cleared timeout should not run") }, time.Second, "x")

	if !m.ClearTimeout(id) {
		t.Fatal("ClearTimeout() should report a pending timer")
	}
	if m.ClearTimeout(id) {
		t.Fatal("second ClearTimeout() should report false")
	}
	(*timers)[0].fn()
}

func TestManagerRealTimer(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	done := make(chan struct{})
	m.CreateTimeout(func() { close(done) }, 10*time.Millisecond, "real")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout did not fire")
	}
}
