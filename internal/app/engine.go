package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
)

// SessionStore abstracts the ephemeral TTL-capable store that is
// authoritative for an in-progress attempt.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (domain.SessionState, error)
	// Save persists state with the given TTL. Stores reject writes whose
	// Version is not exactly one ahead of the stored entry
	// (domain.ErrVersionConflict).
	Save(ctx context.Context, state domain.SessionState, ttl time.Duration) error
	TTL(ctx context.Context, sessionID string) (time.Duration, error)
	// ScanInProgress enumerates at most limit in-progress sessions.
	ScanInProgress(ctx context.Context, limit int) ([]domain.SessionState, error)
}

// QuizRepository loads immutable quiz definitions (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.QuizDefinition, error)
}

// Recorder is the durable side: attempt counting at start and transactional
// reconciliation at completion.
type Recorder interface {
	// CountAttempts returns the number of prior terminal sessions for (user, quiz).
	CountAttempts(ctx context.Context, quizID, userID string) (int, error)
	// Persist writes the session row, its answer rows and aggregate updates in
	// one transaction. A duplicate session id is not an error: the first write
	// won and the call is a no-op.
	Persist(ctx context.Context, session domain.PersistedSession, answers []domain.AnswerRecord) error
}

// Publisher emits best-effort progress events. Failures are logged, never
// surfaced; a nil publisher disables publication.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// Engine runs a single user's attempt from start to completion: serving
// questions in order, recording answers, enforcing the timer policy and
// reconciling with durable storage on terminal transitions.
type Engine struct {
	store     SessionStore
	quizzes   QuizRepository
	recorder  Recorder
	publisher Publisher
	now       func() time.Time
	rnd       *rand.Rand
}

func NewEngine(store SessionStore, quizzes QuizRepository, recorder Recorder, publisher Publisher) *Engine {
	return NewEngineWithClock(store, quizzes, recorder, publisher, time.Now)
}

// NewEngineWithClock is test-only for deterministic timestamps.
func NewEngineWithClock(store SessionStore, quizzes QuizRepository, recorder Recorder, publisher Publisher, now func() time.Time) *Engine {
	return &Engine{
		store:     store,
		quizzes:   quizzes,
		recorder:  recorder,
		publisher: publisher,
		now:       now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start validates the attempt limit, resolves the question order and creates
// a fresh in-progress session. Returns the new state and the first question.
func (e *Engine) Start(ctx context.Context, quizID, userID string) (domain.SessionState, domain.QuestionView, error) {
	def, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.SessionState{}, domain.QuestionView{}, err
	}
	if len(def.Questions) == 0 {
		return domain.SessionState{}, domain.QuestionView{}, fmt.Errorf("quiz %s has no questions: %w", quizID, domain.ErrPolicyViolation)
	}

	prior, err := e.recorder.CountAttempts(ctx, quizID, userID)
	if err != nil {
		return domain.SessionState{}, domain.QuestionView{}, fmt.Errorf("count attempts: %w", err)
	}
	if def.MaxAttempts > 0 && prior >= def.MaxAttempts {
		return domain.SessionState{}, domain.QuestionView{}, fmt.Errorf("attempt limit %d reached: %w", def.MaxAttempts, domain.ErrPolicyViolation)
	}

	now := e.now()
	state := domain.SessionState{
		ID:            uuid.NewString(),
		QuizID:        quizID,
		UserID:        userID,
		Status:        domain.StatusInProgress,
		QuestionOrder: e.resolveOrder(def),
		Answers:       make(map[string]domain.RecordedAnswer),
		Attempt:       prior + 1,
		ServedAt:      now,
		CreatedAt:     now,
		LastActivity:  now,
		Version:       1,
	}
	if def.TimerPolicy == domain.TimerTotal {
		state.Deadline = now.Add(time.Duration(def.TotalMinutes) * time.Minute)
	}

	if err := e.store.Save(ctx, state, sessionTTL(def)); err != nil {
		return domain.SessionState{}, domain.QuestionView{}, fmt.Errorf("store session: %w", err)
	}

	e.publish(ctx, "session.started", sessionEvent(state, now))
	view, _ := e.questionView(def, state)
	return state, view, nil
}

// CurrentQuestion returns the question at the current index with answer
// fields stripped. If the timer has lapsed this call drives completion
// instead of returning a question; expiry is never silently ignored on
// access.
func (e *Engine) CurrentQuestion(ctx context.Context, sessionID, userID string) (*domain.QuestionView, *domain.SessionResult, error) {
	state, def, err := e.load(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	if state.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("session %s is %s: %w", sessionID, state.Status, domain.ErrConflict)
	}

	now := e.now()
	state2, result, err := e.applyTimer(ctx, def, state, now)
	if err != nil {
		return nil, nil, err
	}
	if result != nil {
		return nil, result, nil
	}
	state = state2

	if state.ServedAt.IsZero() {
		state.ServedAt = now
		state.LastActivity = now
		if err := e.save(ctx, &state, sessionTTL(def)); err != nil {
			return nil, nil, err
		}
	}

	view, ok := e.questionView(def, state)
	if !ok {
		return nil, nil, fmt.Errorf("question order exhausted: %w", domain.ErrConflict)
	}
	return &view, nil, nil
}

// SubmitAnswer records the answer for the question at the current index.
// Submissions are strictly in order: answering any other question fails with
// a conflict and leaves state unchanged. Returns either the next question or
// the final result.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, userID, questionID string, sub domain.AnswerSubmission) (*domain.QuestionView, *domain.SessionResult, error) {
	state, def, err := e.load(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	if state.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("session %s is %s: %w", sessionID, state.Status, domain.ErrConflict)
	}

	now := e.now()
	state2, result, err := e.applyTimer(ctx, def, state, now)
	if err != nil {
		return nil, nil, err
	}
	if result != nil {
		return nil, result, nil
	}
	state = state2

	currentID, ok := state.CurrentQuestionID()
	if !ok {
		return nil, nil, fmt.Errorf("no question pending: %w", domain.ErrConflict)
	}
	if questionID != currentID {
		return nil, nil, fmt.Errorf("expected answer for question %s, got %s: %w", currentID, questionID, domain.ErrConflict)
	}
	question, ok := def.QuestionByID(questionID)
	if !ok {
		return nil, nil, domain.ErrQuestionNotFound
	}

	correct := domain.EvaluateAnswer(question, sub)
	points := 0
	if correct {
		points = question.EffectivePoints()
	}
	servedAt := state.ServedAt
	if servedAt.IsZero() {
		servedAt = state.LastActivity
	}

	state.Answers[questionID] = domain.RecordedAnswer{
		QuestionID: questionID,
		Submitted:  sub,
		Correct:    correct,
		Points:     points,
		TimeTaken:  now.Sub(servedAt).Seconds(),
		AnsweredAt: now,
	}
	state.TotalScore += points
	state.CurrentIndex++
	state.ServedAt = now
	state.LastActivity = now

	if state.CurrentIndex >= len(state.QuestionOrder) {
		finalResult, err := e.finish(ctx, def, state, domain.ReasonClientFinished, now)
		if err != nil {
			return nil, nil, err
		}
		return nil, finalResult, nil
	}

	if err := e.save(ctx, &state, sessionTTL(def)); err != nil {
		return nil, nil, err
	}
	e.publish(ctx, "session.answered", answerEvent(state, questionID, correct, points, now))

	view, _ := e.questionView(def, state)
	return &view, nil, nil
}

// Complete drives the session to a terminal status. Idempotent: completing a
// terminal session returns the stored result without re-executing side
// effects.
func (e *Engine) Complete(ctx context.Context, sessionID, userID string, reason domain.CompletionReason) (*domain.SessionResult, error) {
	state, def, err := e.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return e.completeState(ctx, def, state, reason)
}

// TimerStatus reports remaining time under the session's policy plus the
// store TTL, without mutating state.
func (e *Engine) TimerStatus(ctx context.Context, sessionID, userID string) (domain.TimerStatus, error) {
	state, def, err := e.load(ctx, sessionID, userID)
	if err != nil {
		return domain.TimerStatus{}, err
	}
	status := timerStatus(def, state, e.now())
	if ttl, err := e.store.TTL(ctx, sessionID); err == nil && ttl > 0 {
		status.StoreTTL = ttl.Seconds()
	}
	return status, nil
}

// Sweep runs one bounded pass over in-progress sessions, driving expired and
// idle ones through the same completion path a client would use. A single
// session's failure never stops the pass.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	states, err := e.store.ScanInProgress(ctx, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}

	completed := 0
	for _, state := range states {
		def, err := e.quizzes.GetQuiz(ctx, state.QuizID)
		if err != nil {
			log.Printf("sweep: load quiz %s for session %s: %v", state.QuizID, state.ID, err)
			continue
		}
		now := e.now()
		switch evaluateTimer(def, state, now) {
		case timerExpireSession:
			if _, err := e.completeState(ctx, def, state, domain.ReasonExpired); err != nil {
				log.Printf("sweep: expire session %s: %v", state.ID, err)
				continue
			}
			completed++
		case timerAbandonSession:
			if _, err := e.completeState(ctx, def, state, domain.ReasonAbandoned); err != nil {
				log.Printf("sweep: abandon session %s: %v", state.ID, err)
				continue
			}
			completed++
		case timerSkipQuestion:
			_, result, err := e.applyTimer(ctx, def, state, now)
			if err != nil {
				log.Printf("sweep: advance session %s: %v", state.ID, err)
				continue
			}
			if result != nil {
				completed++
			}
		}
	}
	return completed, nil
}

// applyTimer folds the timer decision into the state: auto-skipping an
// expired current question, or finishing the session when the policy says it
// is over. Any state change is persisted here. Returns the terminal result
// when the session ended.
func (e *Engine) applyTimer(ctx context.Context, def domain.QuizDefinition, state domain.SessionState, now time.Time) (domain.SessionState, *domain.SessionResult, error) {
	switch evaluateTimer(def, state, now) {
	case timerExpireSession:
		result, err := e.finish(ctx, def, state, domain.ReasonExpired, now)
		return state, result, err
	case timerAbandonSession:
		result, err := e.finish(ctx, def, state, domain.ReasonAbandoned, now)
		return state, result, err
	case timerSkipQuestion:
		questionID, ok := state.CurrentQuestionID()
		if !ok {
			return state, nil, fmt.Errorf("question order exhausted: %w", domain.ErrConflict)
		}
		state.Answers[questionID] = domain.RecordedAnswer{
			QuestionID: questionID,
			TimeTaken:  now.Sub(state.ServedAt).Seconds(),
			AnsweredAt: now,
			Skipped:    true,
		}
		state.CurrentIndex++
		state.ServedAt = now
		state.LastActivity = now
		if state.CurrentIndex >= len(state.QuestionOrder) {
			result, err := e.finish(ctx, def, state, domain.ReasonClientFinished, now)
			return state, result, err
		}
		if err := e.save(ctx, &state, sessionTTL(def)); err != nil {
			return state, nil, err
		}
		return state, nil, nil
	default:
		return state, nil, nil
	}
}

// completeState is the single terminal transition used by clients and the
// sweeper alike.
func (e *Engine) completeState(ctx context.Context, def domain.QuizDefinition, state domain.SessionState, reason domain.CompletionReason) (*domain.SessionResult, error) {
	if state.Status.IsTerminal() {
		result := buildResult(def, state, state.Status, state.EndedAt)
		return &result, nil
	}
	return e.finish(ctx, def, state, reason, e.now())
}

// finish computes the final result, reconciles it with durable storage and
// only then marks the ephemeral state terminal. If the durable transaction
// fails the session stays in_progress so the next sweep or client call can
// retry.
func (e *Engine) finish(ctx context.Context, def domain.QuizDefinition, state domain.SessionState, reason domain.CompletionReason, now time.Time) (*domain.SessionResult, error) {
	status := domain.StatusCompleted
	switch reason {
	case domain.ReasonExpired:
		status = domain.StatusExpired
	case domain.ReasonAbandoned:
		status = domain.StatusAbandoned
	}

	result := buildResult(def, state, status, now)
	if err := e.recorder.Persist(ctx, persistedFromResult(result), answerRecords(state, status)); err != nil {
		log.Printf("reconcile session %s: %v", state.ID, err)
		return nil, fmt.Errorf("reconcile session %s: %w", state.ID, domain.ErrPersistence)
	}

	state.Status = status
	state.EndedAt = now
	state.LastActivity = now
	if err := e.save(ctx, &state, resultRetention); err != nil {
		// The durable row is committed; a failed ephemeral update only means
		// a concurrent completer got there first or review reads expire early.
		log.Printf("mark session %s terminal: %v", state.ID, err)
	}

	e.publish(ctx, "session.completed", result)
	return &result, nil
}

func (e *Engine) load(ctx context.Context, sessionID, userID string) (domain.SessionState, domain.QuizDefinition, error) {
	state, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return domain.SessionState{}, domain.QuizDefinition{}, err
	}
	if userID != "" && state.UserID != userID {
		return domain.SessionState{}, domain.QuizDefinition{}, domain.ErrForbidden
	}
	def, err := e.quizzes.GetQuiz(ctx, state.QuizID)
	if err != nil {
		return domain.SessionState{}, domain.QuizDefinition{}, err
	}
	return state, def, nil
}

func (e *Engine) save(ctx context.Context, state *domain.SessionState, ttl time.Duration) error {
	state.Version++
	return e.store.Save(ctx, *state, ttl)
}

// resolveOrder sorts questions by their authored order and shuffles when the
// definition asks for it.
func (e *Engine) resolveOrder(def domain.QuizDefinition) []string {
	questions := append([]domain.QuestionRecord(nil), def.Questions...)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	order := make([]string, len(questions))
	for i, q := range questions {
		order[i] = q.ID
	}
	if def.ShuffleQuestions {
		e.rnd.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// questionView sanitizes the current question for serving.
func (e *Engine) questionView(def domain.QuizDefinition, state domain.SessionState) (domain.QuestionView, bool) {
	questionID, ok := state.CurrentQuestionID()
	if !ok {
		return domain.QuestionView{}, false
	}
	question, ok := def.QuestionByID(questionID)
	if !ok {
		return domain.QuestionView{}, false
	}
	sanitized := question.Sanitize()
	if def.ShuffleOptions && len(sanitized.Options) > 1 {
		e.rnd.Shuffle(len(sanitized.Options), func(i, j int) {
			sanitized.Options[i], sanitized.Options[j] = sanitized.Options[j], sanitized.Options[i]
		})
	}
	view := domain.QuestionView{
		ID:      sanitized.ID,
		Index:   state.CurrentIndex,
		Total:   len(state.QuestionOrder),
		Type:    sanitized.Type,
		Prompt:  sanitized.Prompt,
		Options: sanitized.Options,
		Points:  question.EffectivePoints(),
	}
	if def.TimerPolicy == domain.TimerPerQuestion {
		view.TimeLeft = questionRemaining(def, state, e.now()).Seconds()
	}
	return view, true
}

func (e *Engine) publish(ctx context.Context, topic string, event any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, topic, event); err != nil {
		log.Printf("publish %s: %v", topic, err)
	}
}

// buildResult derives the terminal outcome from the session state. Skipped
// counts every question without a recorded non-skipped answer, whether it was
// auto-skipped or never reached.
func buildResult(def domain.QuizDefinition, state domain.SessionState, status domain.SessionStatus, endedAt time.Time) domain.SessionResult {
	answered := 0
	for _, answer := range state.Answers {
		if !answer.Skipped {
			answered++
		}
	}
	total := len(state.QuestionOrder)
	maxScore := def.MaxScore()
	percentage := 0.0
	if maxScore > 0 {
		percentage = float64(state.TotalScore) / float64(maxScore) * 100
	}
	return domain.SessionResult{
		SessionID:         state.ID,
		QuizID:            state.QuizID,
		UserID:            state.UserID,
		Status:            status,
		StartedAt:         state.CreatedAt,
		EndedAt:           endedAt,
		TimeSpent:         endedAt.Sub(state.CreatedAt).Seconds(),
		QuestionsAnswered: answered,
		QuestionsSkipped:  total - answered,
		TotalScore:        state.TotalScore,
		MaxScore:          maxScore,
		Percentage:        percentage,
		Passed:            percentage >= def.PassingScore,
		Attempt:           state.Attempt,
	}
}

// answerRecords flattens the recorded answers into durable rows, ordered by
// the served sequence. When a timer or the sweeper cut the session short, the
// question on deck was served but never answered, so it gets a skipped row.
func answerRecords(state domain.SessionState, status domain.SessionStatus) []domain.AnswerRecord {
	records := make([]domain.AnswerRecord, 0, len(state.Answers)+1)
	for _, questionID := range state.QuestionOrder {
		answer, ok := state.Answers[questionID]
		if !ok {
			continue
		}
		records = append(records, domain.AnswerRecord{
			SessionID:        state.ID,
			QuestionID:       questionID,
			Submitted:        answer.Submitted,
			Correct:          answer.Correct,
			PointsEarned:     answer.Points,
			TimeTakenSeconds: answer.TimeTaken,
			Skipped:          answer.Skipped,
		})
	}
	if status != domain.StatusCompleted {
		if questionID, ok := state.CurrentQuestionID(); ok {
			if _, answeredAlready := state.Answers[questionID]; !answeredAlready {
				records = append(records, domain.AnswerRecord{
					SessionID:  state.ID,
					QuestionID: questionID,
					Skipped:    true,
				})
			}
		}
	}
	return records
}

func persistedFromResult(result domain.SessionResult) domain.PersistedSession {
	return domain.PersistedSession{
		SessionID:         result.SessionID,
		QuizID:            result.QuizID,
		UserID:            result.UserID,
		Status:            result.Status,
		StartedAt:         result.StartedAt,
		EndedAt:           result.EndedAt,
		TimeSpentSeconds:  result.TimeSpent,
		QuestionsAnswered: result.QuestionsAnswered,
		QuestionsSkipped:  result.QuestionsSkipped,
		TotalScore:        result.TotalScore,
		MaxScore:          result.MaxScore,
		Percentage:        result.Percentage,
		Passed:            result.Passed,
		Attempt:           result.Attempt,
	}
}

// sessionEvent is the payload for session.started.
func sessionEvent(state domain.SessionState, at time.Time) map[string]any {
	return map[string]any{
		"sessionId": state.ID,
		"quizId":    state.QuizID,
		"userId":    state.UserID,
		"attempt":   state.Attempt,
		"questions": len(state.QuestionOrder),
		"at":        at,
	}
}

// answerEvent is the payload for session.answered.
func answerEvent(state domain.SessionState, questionID string, correct bool, points int, at time.Time) map[string]any {
	return map[string]any{
		"sessionId":  state.ID,
		"quizId":     state.QuizID,
		"userId":     state.UserID,
		"questionId": questionID,
		"correct":    correct,
		"points":     points,
		"index":      state.CurrentIndex,
		"total":      len(state.QuestionOrder),
		"score":      state.TotalScore,
		"at":         at,
	}
}
