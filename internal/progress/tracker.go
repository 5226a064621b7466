// Package progress publishes rate-limited batch progress snapshots.
package progress

import (
	"sync"
	"time"

	"github.com/kursadbilgin/label-engine/internal/domain"
)

const (
	DefaultProgressWindow = 100 * time.Millisecond
	DefaultStatusWindow   = 50 * time.Millisecond
	DefaultMaxBatchSize   = 5
)

type Config struct {
	// ProgressWindow debounces completed/total updates.
	ProgressWindow time.Duration
	// StatusWindow debounces per-item status updates.
	StatusWindow time.Duration
	// MaxBatchSize is the number of distinct pending items that forces a flush.
	MaxBatchSize int
}

func DefaultConfig() Config {
	return Config{
		ProgressWindow: DefaultProgressWindow,
		StatusWindow:   DefaultStatusWindow,
		MaxBatchSize:   DefaultMaxBatchSize,
	}
}

type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseAccumulating Phase = "ACCUMULATING"
	PhaseEmitting     Phase = "EMITTING"
)

// Listener receives a copy of every emitted snapshot. Listeners may read the
// tracker but must not publish back into it. A snapshot that was overtaken by
// a newer one before delivery is skipped.
type Listener func(snapshot domain.ProgressSnapshot)

type timer interface {
	Stop() bool
}

type progressUpdate struct {
	completed int
	total     int
}

// Tracker merges progress and status updates arriving within a debounce
// window into a single emitted snapshot.
type Tracker struct {
	cfg     Config
	afterFn func(d time.Duration, fn func()) timer

	emitMu    sync.Mutex
	delivered int

	mu              sync.Mutex
	generation      uint64
	epoch           uint64
	current         domain.ProgressSnapshot
	pendingProgress *progressUpdate
	pendingStatus   map[int]domain.ItemStatus
	progressTimer   timer
	statusTimer     timer
	phase           Phase
	stopped         bool
	listeners       map[int]Listener
	nextListenerID  int
	emitted         int
}

func NewTracker(cfg Config) *Tracker {
	if cfg.ProgressWindow <= 0 {
		cfg.ProgressWindow = DefaultProgressWindow
	}
	if cfg.StatusWindow <= 0 {
		cfg.StatusWindow = DefaultStatusWindow
	}
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}

	return &Tracker{
		cfg:           cfg,
		afterFn:       func(d time.Duration, fn func()) timer { return time.AfterFunc(d, fn) },
		pendingStatus: make(map[int]domain.ItemStatus),
		phase:         PhaseIdle,
		listeners:     make(map[int]Listener),
		current:       domain.NewProgressSnapshot(0),
	}
}

// Subscribe registers fn and returns a function that removes it.
func (t *Tracker) Subscribe(fn Listener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextListenerID++
	id := t.nextListenerID
	t.listeners[id] = fn

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Reset starts a new batch of total Pending items and emits it immediately.
func (t *Tracker) Reset(total int) {
	t.mu.Lock()
	t.resetLocked(total)
}

// resetLocked must be called with t.mu held; it emits and releases t.mu.
func (t *Tracker) resetLocked(total int) {
	if total < 0 {
		total = 0
	}
	t.generation++
	t.disarmLocked()
	t.pendingProgress = nil
	t.pendingStatus = make(map[int]domain.ItemStatus)
	t.current = domain.NewProgressSnapshot(total)
	t.stopped = false
	t.emitLocked()
}

// PublishProgress records the coarse completed/total counters.
func (t *Tracker) PublishProgress(completed, total int) {
	t.mu.Lock()
	t.publishProgressLocked(completed, total)
}

// The *Locked publish and flush helpers are called with t.mu held and release
// it before returning.
func (t *Tracker) publishProgressLocked(completed, total int) {
	if t.stopped {
		t.mu.Unlock()
		return
	}

	t.pendingProgress = &progressUpdate{completed: completed, total: total}
	t.phase = PhaseAccumulating
	if t.progressTimer == nil {
		gen := t.generation
		t.progressTimer = t.afterFn(t.cfg.ProgressWindow, func() { t.onProgressTimer(gen) })
	}
	t.mu.Unlock()
}

// PublishStatus records the status of one item. Repeated updates for the same
// item inside a window keep the latest value.
func (t *Tracker) PublishStatus(index int, status domain.ItemStatus) {
	t.mu.Lock()
	t.publishStatusLocked(index, status)
}

func (t *Tracker) publishStatusLocked(index int, status domain.ItemStatus) {
	if t.stopped || index < 0 || index >= len(t.current.Statuses) {
		t.mu.Unlock()
		return
	}

	t.pendingStatus[index] = status
	t.phase = PhaseAccumulating

	if len(t.pendingStatus) >= t.cfg.MaxBatchSize {
		t.applyProgressLocked()
		t.applyStatusLocked()
		t.emitLocked()
		return
	}

	if t.statusTimer == nil {
		gen := t.generation
		t.statusTimer = t.afterFn(t.cfg.StatusWindow, func() { t.onStatusTimer(gen) })
	}
	t.mu.Unlock()
}

// Flush emits every pending update now. It is a no-op when nothing is pending.
func (t *Tracker) Flush() {
	t.mu.Lock()
	t.flushLocked()
}

func (t *Tracker) flushLocked() {
	if t.pendingProgress == nil && len(t.pendingStatus) == 0 {
		t.mu.Unlock()
		return
	}
	t.applyProgressLocked()
	t.applyStatusLocked()
	t.emitLocked()
}

// Stop flushes pending updates and ignores further publishes until Reset.
func (t *Tracker) Stop() {
	t.Flush()

	t.mu.Lock()
	t.generation++
	t.disarmLocked()
	t.stopped = true
	t.phase = PhaseIdle
	t.mu.Unlock()
}

// Snapshot returns a copy of the last emitted snapshot.
func (t *Tracker) Snapshot() domain.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Clone()
}

func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Emissions returns how many snapshots have been emitted so far.
func (t *Tracker) Emissions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emitted
}

func (t *Tracker) onProgressTimer(gen uint64) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.progressTimer = nil
	if t.pendingProgress == nil {
		t.mu.Unlock()
		return
	}
	t.applyProgressLocked()
	t.emitLocked()
}

func (t *Tracker) onStatusTimer(gen uint64) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.statusTimer = nil
	if len(t.pendingStatus) == 0 {
		t.mu.Unlock()
		return
	}
	t.applyStatusLocked()
	t.emitLocked()
}

func (t *Tracker) applyProgressLocked() {
	if t.pendingProgress == nil {
		return
	}
	t.current.Completed = t.pendingProgress.completed
	if t.pendingProgress.total > 0 {
		t.current.Total = t.pendingProgress.total
	}
	t.pendingProgress = nil
	if t.progressTimer != nil {
		t.progressTimer.Stop()
		t.progressTimer = nil
	}
}

func (t *Tracker) applyStatusLocked() {
	if len(t.pendingStatus) == 0 {
		return
	}
	statuses := make([]domain.ItemStatus, len(t.current.Statuses))
	copy(statuses, t.current.Statuses)
	for index, status := range t.pendingStatus {
		statuses[index] = status
	}
	t.current.Statuses = statuses
	t.pendingStatus = make(map[int]domain.ItemStatus)
	if t.statusTimer != nil {
		t.statusTimer.Stop()
		t.statusTimer = nil
	}
}

func (t *Tracker) disarmLocked() {
	if t.progressTimer != nil {
		t.progressTimer.Stop()
		t.progressTimer = nil
	}
	if t.statusTimer != nil {
		t.statusTimer.Stop()
		t.statusTimer = nil
	}
}

// emitLocked must be called with t.mu held; it releases t.mu before calling
// listeners. Each snapshot carries a sequence number and emitMu only lets a
// newer sequence through, so listeners never see progress go backwards.
func (t *Tracker) emitLocked() {
	snapshot := t.current.Clone()
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.phase = PhaseEmitting
	t.emitted++
	seq := t.emitted
	t.mu.Unlock()

	t.emitMu.Lock()
	if seq > t.delivered {
		t.delivered = seq
		for _, l := range listeners {
			l(snapshot.Clone())
		}
	}
	t.emitMu.Unlock()

	t.mu.Lock()
	if t.phase == PhaseEmitting {
		if t.pendingProgress != nil || len(t.pendingStatus) > 0 {
			t.phase = PhaseAccumulating
		} else {
			t.phase = PhaseIdle
		}
	}
	t.mu.Unlock()
}

// Scope is the view of the tracker owned by one batch attempt. Its writes are
// dropped once a newer epoch has claimed the tracker.
type Scope struct {
	tracker *Tracker
	epoch   uint64
}

// Scope returns a writer for epoch. Epochs must increase with every attempt.
func (t *Tracker) Scope(epoch uint64) *Scope {
	return &Scope{tracker: t, epoch: epoch}
}

// Reset claims the tracker for the scope's epoch and starts a batch of total
// items. It reports false when a newer epoch already owns the tracker.
func (s *Scope) Reset(total int) bool {
	t := s.tracker
	t.mu.Lock()
	if s.epoch < t.epoch {
		t.mu.Unlock()
		return false
	}
	t.epoch = s.epoch
	t.resetLocked(total)
	return true
}

func (s *Scope) PublishStatus(index int, status domain.ItemStatus) {
	if t, ok := s.lockOwned(); ok {
		t.publishStatusLocked(index, status)
	}
}

func (s *Scope) PublishProgress(completed, total int) {
	if t, ok := s.lockOwned(); ok {
		t.publishProgressLocked(completed, total)
	}
}

func (s *Scope) Flush() {
	if t, ok := s.lockOwned(); ok {
		t.flushLocked()
	}
}

// lockOwned locks the tracker and keeps it locked only when the scope's epoch
// is the current owner.
func (s *Scope) lockOwned() (*Tracker, bool) {
	t := s.tracker
	t.mu.Lock()
	if s.epoch != t.epoch {
		t.mu.Unlock()
		return nil, false
	}
	return t, true
}
