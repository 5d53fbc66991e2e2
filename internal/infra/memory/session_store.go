package memory

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore with the
// same TTL and optimistic-version semantics as the Redis store, so the
// server runs with zero external services.
type SessionStore struct {
	clock func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	state     domain.SessionState
	expiresAt time.Time
}

func NewSessionStore() *SessionStore {
	return NewSessionStoreWithClock(time.Now)
}

// NewSessionStoreWithClock is test-only for deterministic TTL expiry.
func NewSessionStoreWithClock(clock func() time.Time) *SessionStore {
	return &SessionStore{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (domain.SessionState, error) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok || !e.expiresAt.After(s.clock()) {
		return domain.SessionState{}, domain.ErrSessionNotFound
	}
	return cloneState(e.state), nil
}

func (s *SessionStore) Save(_ context.Context, state domain.SessionState, ttl time.Duration) error {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[state.ID]; ok && existing.expiresAt.After(now) {
		if existing.state.Version != state.Version-1 {
			return domain.ErrVersionConflict
		}
	} else if state.Version != 1 {
		return domain.ErrVersionConflict
	}

	s.entries[state.ID] = entry{
		state:     cloneState(state),
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (s *SessionStore) TTL(_ context.Context, sessionID string) (time.Duration, error) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	remaining := e.expiresAt.Sub(s.clock())
	if remaining <= 0 {
		return 0, domain.ErrSessionNotFound
	}
	return remaining, nil
}

func (s *SessionStore) ScanInProgress(_ context.Context, limit int) ([]domain.SessionState, error) {
	now := s.clock()
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]domain.SessionState, 0, len(s.entries))
	for _, e := range s.entries {
		if len(states) >= limit {
			break
		}
		if !e.expiresAt.After(now) || e.state.Status != domain.StatusInProgress {
			continue
		}
		states = append(states, cloneState(e.state))
	}
	return states, nil
}

// cloneState keeps callers from mutating the stored answer map in place.
func cloneState(state domain.SessionState) domain.SessionState {
	out := state
	out.QuestionOrder = append([]string(nil), state.QuestionOrder...)
	out.Answers = make(map[string]domain.RecordedAnswer, len(state.Answers))
	for k, v := range state.Answers {
		out.Answers[k] = v
	}
	return out
}
