package app

import (
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

func totalQuiz(minutes int) domain.QuizDefinition {
	return domain.QuizDefinition{
		ID:           "quiz-1",
		TimerPolicy:  domain.TimerTotal,
		TotalMinutes: minutes,
		Questions:    []domain.QuestionRecord{{ID: "q1"}},
	}
}

func TestEvaluateTotalPolicy(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	def := totalQuiz(10)
	state := domain.SessionState{
		Status:   domain.StatusInProgress,
		Deadline: start.Add(10 * time.Minute),
	}

	if got := evaluateTimer(def, state, start.Add(9*time.Minute)); got != timerOK {
		t.Fatalf("expected ok before the deadline, got %d", got)
	}
	if got := evaluateTimer(def, state, start.Add(10*time.Minute)); got != timerExpireSession {
		t.Fatalf("expected expiry at the deadline, got %d", got)
	}
	if got := evaluateTimer(def, state, start.Add(time.Hour)); got != timerExpireSession {
		t.Fatalf("expected expiry after the deadline, got %d", got)
	}
}

func TestTotalRemainingMath(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	state := domain.SessionState{Deadline: start.Add(10 * time.Minute)}

	// remaining at t seconds after start is max(0, T*60 - t)
	for _, tc := range []struct {
		elapsed time.Duration
		want    time.Duration
	}{
		{0, 10 * time.Minute},
		{90 * time.Second, 10*time.Minute - 90*time.Second},
		{10 * time.Minute, 0},
		{11 * time.Minute, 0},
	} {
		if got := totalRemaining(state, start.Add(tc.elapsed)); got != tc.want {
			t.Fatalf("elapsed %v: expected %v remaining, got %v", tc.elapsed, tc.want, got)
		}
	}
}

func TestEvaluatePerQuestionPolicy(t *testing.T) {
	served := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	def := domain.QuizDefinition{
		TimerPolicy:        domain.TimerPerQuestion,
		PerQuestionSeconds: 30,
		Questions:          []domain.QuestionRecord{{ID: "q1"}},
	}
	state := domain.SessionState{
		Status:   domain.StatusInProgress,
		ServedAt: served,
	}

	if got := evaluateTimer(def, state, served.Add(30*time.Second)); got != timerOK {
		t.Fatalf("expected ok inside the window, got %d", got)
	}
	// grace keeps a borderline submission alive
	if got := evaluateTimer(def, state, served.Add(34*time.Second)); got != timerOK {
		t.Fatalf("expected ok inside grace, got %d", got)
	}
	if got := evaluateTimer(def, state, served.Add(36*time.Second)); got != timerSkipQuestion {
		t.Fatalf("expected skip past the grace, got %d", got)
	}
}

func TestEvaluateNonePolicyAbandonsIdle(t *testing.T) {
	lastSeen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	def := domain.QuizDefinition{
		TimerPolicy: domain.TimerNone,
		Questions:   []domain.QuestionRecord{{ID: "q1"}},
	}
	state := domain.SessionState{
		Status:       domain.StatusInProgress,
		LastActivity: lastSeen,
	}

	if got := evaluateTimer(def, state, lastSeen.Add(time.Hour)); got != timerOK {
		t.Fatalf("expected ok under the idle threshold, got %d", got)
	}
	if got := evaluateTimer(def, state, lastSeen.Add(2*time.Hour+time.Minute)); got != timerAbandonSession {
		t.Fatalf("expected abandonment past the idle threshold, got %d", got)
	}
}

func TestEvaluateTerminalIsInert(t *testing.T) {
	def := totalQuiz(1)
	state := domain.SessionState{
		Status:   domain.StatusCompleted,
		Deadline: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if got := evaluateTimer(def, state, state.Deadline.Add(time.Hour)); got != timerOK {
		t.Fatalf("terminal sessions must not re-expire, got %d", got)
	}
}

func TestSessionTTLCoversPolicyLifetime(t *testing.T) {
	if got := sessionTTL(totalQuiz(10)); got != 10*time.Minute+sessionTTLGrace {
		t.Fatalf("total ttl: got %v", got)
	}

	perQuestion := domain.QuizDefinition{
		TimerPolicy:        domain.TimerPerQuestion,
		PerQuestionSeconds: 30,
		Questions:          []domain.QuestionRecord{{ID: "q1"}, {ID: "q2"}},
	}
	want := 2*(30*time.Second+perQuestionGrace) + sessionTTLGrace
	if got := sessionTTL(perQuestion); got != want {
		t.Fatalf("per-question ttl: expected %v, got %v", want, got)
	}

	none := domain.QuizDefinition{TimerPolicy: domain.TimerNone}
	if got := sessionTTL(none); got != abandonAfter+sessionTTLGrace {
		t.Fatalf("none ttl: got %v", got)
	}
}
