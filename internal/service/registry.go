package service

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/label-engine/internal/domain"
)

// SessionRegistry holds one PrintSession per operator session id.
type SessionRegistry struct {
	factory func(id string) (*PrintSession, error)

	mu       sync.Mutex
	sessions map[string]*PrintSession
}

func NewSessionRegistry(pipeline Pipeline) (*SessionRegistry, error) {
	if err := pipeline.validate(); err != nil {
		return nil, err
	}
	return newSessionRegistry(func(id string) (*PrintSession, error) {
		return NewPrintSession(id, pipeline)
	}), nil
}

func newSessionRegistry(factory func(id string) (*PrintSession, error)) *SessionRegistry {
	return &SessionRegistry{
		factory:  factory,
		sessions: make(map[string]*PrintSession),
	}
}

func (r *SessionRegistry) GetOrCreate(id string) (*PrintSession, error) {
	key, err := normalizeSessionID(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s, nil
	}
	s, err := r.factory(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", key, err)
	}
	r.sessions[key] = s
	return s, nil
}

func (r *SessionRegistry) Get(id string) (*PrintSession, bool) {
	key, err := normalizeSessionID(id)
	if err != nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Remove tears the session down and forgets it.
func (r *SessionRegistry) Remove(id string) bool {
	key, err := normalizeSessionID(id)
	if err != nil {
		return false
	}

	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*PrintSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*PrintSession)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func normalizeSessionID(id string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		return "", fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	return key, nil
}
