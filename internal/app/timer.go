package app

import (
	"time"

	"quiz-attempt-service/internal/domain"
)

const (
	// perQuestionGrace pads the per-question window before a timeout counts.
	perQuestionGrace = 5 * time.Second
	// sessionTTLGrace pads the store TTL beyond the policy's maximum lifetime.
	sessionTTLGrace = 30 * time.Second
	// abandonAfter is the idle threshold for sessions without a deadline.
	abandonAfter = 2 * time.Hour
	// resultRetention keeps terminal sessions readable for result review.
	resultRetention = 10 * time.Minute
	// sweepBatchSize bounds how many sessions one sweep tick examines.
	sweepBatchSize = 256
)

// timerAction is the outcome of evaluating a session against its timer
// policy at a point in time. Both the read path and the sweeper act on it, so
// expiry logic lives in exactly one place.
type timerAction int

const (
	timerOK timerAction = iota
	timerSkipQuestion
	timerExpireSession
	timerAbandonSession
)

// evaluateTimer applies the quiz's timer policy to a session snapshot.
// Wall-clock comparisons use timestamps the engine recorded at session and
// question start, never client-reported times.
func evaluateTimer(def domain.QuizDefinition, state domain.SessionState, now time.Time) timerAction {
	if state.Status.IsTerminal() {
		return timerOK
	}
	switch def.TimerPolicy {
	case domain.TimerTotal:
		if !state.Deadline.IsZero() && !now.Before(state.Deadline) {
			return timerExpireSession
		}
	case domain.TimerPerQuestion:
		// An expired current question auto-skips rather than ending the
		// session, so a stalled question never blocks forward progress.
		window := time.Duration(def.PerQuestionSeconds) * time.Second
		if window > 0 && !state.ServedAt.IsZero() && now.Sub(state.ServedAt) > window+perQuestionGrace {
			return timerSkipQuestion
		}
	default:
		if !state.LastActivity.IsZero() && now.Sub(state.LastActivity) > abandonAfter {
			return timerAbandonSession
		}
	}
	return timerOK
}

// totalRemaining is the countdown left under the total policy, clamped at zero.
func totalRemaining(state domain.SessionState, now time.Time) time.Duration {
	if state.Deadline.IsZero() {
		return 0
	}
	remaining := state.Deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// questionRemaining is the window left for the current question under the
// per_question policy, clamped at zero. Grace is not included: it is slack
// for clock skew, not time the client may count on.
func questionRemaining(def domain.QuizDefinition, state domain.SessionState, now time.Time) time.Duration {
	window := time.Duration(def.PerQuestionSeconds) * time.Second
	if window <= 0 || state.ServedAt.IsZero() {
		return 0
	}
	remaining := window - now.Sub(state.ServedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// sessionTTL sizes the ephemeral store TTL to the policy's maximum lifetime
// plus grace, so a live session can never be evicted from under a client.
func sessionTTL(def domain.QuizDefinition) time.Duration {
	switch def.TimerPolicy {
	case domain.TimerTotal:
		return time.Duration(def.TotalMinutes)*time.Minute + sessionTTLGrace
	case domain.TimerPerQuestion:
		perQuestion := time.Duration(def.PerQuestionSeconds)*time.Second + perQuestionGrace
		return time.Duration(len(def.Questions))*perQuestion + sessionTTLGrace
	default:
		return abandonAfter + sessionTTLGrace
	}
}

// timerStatus assembles the client-facing view of the timer.
func timerStatus(def domain.QuizDefinition, state domain.SessionState, now time.Time) domain.TimerStatus {
	status := domain.TimerStatus{Policy: def.TimerPolicy}
	switch def.TimerPolicy {
	case domain.TimerTotal:
		remaining := totalRemaining(state, now)
		status.Remaining = remaining.Seconds()
		status.Expired = !state.Deadline.IsZero() && remaining == 0
	case domain.TimerPerQuestion:
		status.QuestionRemaining = questionRemaining(def, state, now).Seconds()
	}
	return status
}
