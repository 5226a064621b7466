// Package cleanup tracks the timers and cancellation tokens of one batch
// attempt so they can all be released at once.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/label-engine/internal/cancellation"
	"go.uber.org/zap"
)

// TimerID identifies a timeout created through a Manager.
type TimerID uint64

// Stats reports how many resources are still tracked.
type Stats struct {
	Tokens  int
	Timers  int
	Mounted bool
}

type timer interface {
	Stop() bool
}

type trackedTimer struct {
	tag   string
	timer timer
}

// Manager owns the resources of exactly one batch attempt.
type Manager struct {
	logger  *zap.Logger
	afterFn func(d time.Duration, fn func()) timer

	mu      sync.Mutex
	mounted bool
	nextID  TimerID
	tokens  []*cancellation.Token
	timers  map[TimerID]trackedTimer
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:  logger,
		afterFn: func(d time.Duration, fn func()) timer { return time.AfterFunc(d, fn) },
		mounted: true,
		timers:  make(map[TimerID]trackedTimer),
	}
}

// CreateToken returns a tracked token derived from parent. After
// ForceCleanup the token is returned already cancelled.
func (m *Manager) CreateToken(parent context.Context, tag string) *cancellation.Token {
	tok := cancellation.New(parent, tag)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted {
		tok.Cancel(cancellation.ReasonCleanup)
		return tok
	}
	m.tokens = append(m.tokens, tok)
	return tok
}

// CreateTimeout runs fn after delay unless the manager is cleaned up first.
// It returns 0 and schedules nothing once the manager is unmounted.
func (m *Manager) CreateTimeout(fn func(), delay time.Duration, tag string) TimerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || fn == nil {
		return 0
	}

	m.nextID++
	id := m.nextID
	t := m.afterFn(delay, func() {
		m.mu.Lock()
		_, tracked := m.timers[id]
		delete(m.timers, id)
		mounted := m.mounted
		m.mu.Unlock()

		if !tracked || !mounted {
			return
		}
		fn()
	})
	m.timers[id] = trackedTimer{tag: tag, timer: t}
	return id
}

// ClearTimeout stops a pending timeout and reports whether it was pending.
func (m *Manager) ClearTimeout(id TimerID) bool {
	m.mu.Lock()
	tt, ok := m.timers[id]
	delete(m.timers, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	tt.timer.Stop()
	return true
}

func (m *Manager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// ForceCleanup cancels every tracked token, stops every timer and unmounts
// the manager. Safe to call more than once.
func (m *Manager) ForceCleanup(reason string) {
	m.mu.Lock()
	if !m.mounted {
		m.mu.Unlock()
		return
	}
	m.mounted = false
	tokens := m.tokens
	timers := m.timers
	m.tokens = nil
	m.timers = make(map[TimerID]trackedTimer)
	m.mu.Unlock()

	if reason == "" {
		reason = cancellation.ReasonCleanup
	}
	for _, tok := range tokens {
		tok.Cancel(reason)
	}
	for _, tt := range timers {
		tt.timer.Stop()
	}

	m.logger.Debug("batch resources released",
		zap.String("reason", reason),
		zap.Int("tokens", len(tokens)),
		zap.Int("timers", len(timers)),
	)
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Tokens: len(m.tokens), Timers: len(m.timers), Mounted: m.mounted}
}
