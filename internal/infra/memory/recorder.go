package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// Recorder is an in-memory implementation of app.Recorder. It mirrors the
// Postgres reconciler's idempotence: the first write per session id wins and
// replays are no-ops.
type Recorder struct {
	mu       sync.RWMutex
	sessions map[string]domain.PersistedSession
	answers  map[string][]domain.AnswerRecord
}

func NewRecorder() *Recorder {
	return &Recorder{
		sessions: make(map[string]domain.PersistedSession),
		answers:  make(map[string][]domain.AnswerRecord),
	}
}

func (r *Recorder) CountAttempts(_ context.Context, quizID, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, session := range r.sessions {
		if session.QuizID == quizID && session.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *Recorder) Persist(_ context.Context, session domain.PersistedSession, answers []domain.AnswerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.SessionID]; exists {
		return nil
	}
	r.sessions[session.SessionID] = session
	r.answers[session.SessionID] = append([]domain.AnswerRecord(nil), answers...)
	return nil
}

// Session returns the persisted row for a session id, if any. Test helper.
func (r *Recorder) Session(sessionID string) (domain.PersistedSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	return session, ok
}

// Answers returns the persisted answer rows for a session id. Test helper.
func (r *Recorder) Answers(sessionID string) []domain.AnswerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.AnswerRecord(nil), r.answers[sessionID]...)
}
