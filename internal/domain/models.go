package domain

import "time"

// TimerPolicy governs how a session or question is considered expired.
type TimerPolicy string

const (
	TimerNone        TimerPolicy = "none"
	TimerTotal       TimerPolicy = "total"
	TimerPerQuestion TimerPolicy = "per_question"
)

// QuestionType selects the comparison rule applied to a submission.
type QuestionType string

const (
	SingleChoice QuestionType = "single_choice"
	MultiChoice  QuestionType = "multi_choice"
	ShortText    QuestionType = "short_text"
)

// SessionStatus is the lifecycle state of an attempt. Completed, expired and
// abandoned are terminal: no mutation happens after reaching one of them.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusExpired    SessionStatus = "expired"
	StatusAbandoned  SessionStatus = "abandoned"
)

// IsTerminal reports whether no further mutation is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusAbandoned
}

// CompletionReason explains why a session reached a terminal status.
type CompletionReason string

const (
	ReasonClientFinished CompletionReason = "client_finished"
	ReasonExpired        CompletionReason = "expired"
	ReasonAbandoned      CompletionReason = "abandoned"
)

// Option represents a possible answer for a choice question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// QuestionRecord is an immutable question inside a quiz definition.
// CorrectText is only meaningful for short_text questions.
type QuestionRecord struct {
	ID          string       `json:"id"`
	Order       int          `json:"order"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"prompt"`
	Options     []Option     `json:"options,omitempty"`
	CorrectText string       `json:"correctText,omitempty"`
	Points      int          `json:"points"` // defaults to 1 if zero
}

// EffectivePoints applies the one-point default.
func (q QuestionRecord) EffectivePoints() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// QuizDefinition is the immutable snapshot an attempt runs against.
type QuizDefinition struct {
	ID                 string           `json:"id"`
	Title              string           `json:"title"`
	Questions          []QuestionRecord `json:"questions"`
	TimerPolicy        TimerPolicy      `json:"timerPolicy"`
	TotalMinutes       int              `json:"totalMinutes,omitempty"`
	PerQuestionSeconds int              `json:"perQuestionSeconds,omitempty"`
	ShuffleQuestions   bool             `json:"shuffleQuestions"`
	ShuffleOptions     bool             `json:"shuffleOptions"`
	MaxAttempts        int              `json:"maxAttempts"` // zero means unlimited
	PassingScore       float64          `json:"passingScore"`
}

// QuestionByID returns the question with the given id, if present.
func (d QuizDefinition) QuestionByID(id string) (QuestionRecord, bool) {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return d.Questions[i], true
		}
	}
	return QuestionRecord{}, false
}

// MaxScore is the sum of all question points.
func (d QuizDefinition) MaxScore() int {
	total := 0
	for _, q := range d.Questions {
		total += q.EffectivePoints()
	}
	return total
}

// AnswerSubmission is the client's answer payload. OptionIDs carries choice
// selections; Text carries short_text input. Which field matters depends on
// the question type.
type AnswerSubmission struct {
	OptionIDs []string `json:"optionIds,omitempty"`
	Text      string   `json:"text,omitempty"`
}

// RecordedAnswer is the per-question outcome kept inside the session state.
type RecordedAnswer struct {
	QuestionID string           `json:"questionId"`
	Submitted  AnswerSubmission `json:"submitted"`
	Correct    bool             `json:"correct"`
	Points     int              `json:"points"`
	TimeTaken  float64          `json:"timeTakenSeconds"`
	AnsweredAt time.Time        `json:"answeredAt"`
	Skipped    bool             `json:"skipped"`
}

// SessionState is the authoritative ephemeral state of an in-progress
// attempt. Version increments on every save; stores reject writes whose
// version is not exactly one ahead of the stored state.
type SessionState struct {
	ID            string                    `json:"id"`
	QuizID        string                    `json:"quizId"`
	UserID        string                    `json:"userId"`
	Status        SessionStatus             `json:"status"`
	QuestionOrder []string                  `json:"questionOrder"`
	CurrentIndex  int                       `json:"currentIndex"`
	Answers       map[string]RecordedAnswer `json:"answers"`
	TotalScore    int                       `json:"totalScore"`
	Attempt       int                       `json:"attempt"`
	Deadline      time.Time                 `json:"deadline,omitempty"` // total policy only
	ServedAt      time.Time                 `json:"servedAt,omitempty"` // current question serve time
	CreatedAt     time.Time                 `json:"createdAt"`
	LastActivity  time.Time                 `json:"lastActivity"`
	EndedAt       time.Time                 `json:"endedAt,omitempty"`
	Version       int64                     `json:"version"`
}

// CurrentQuestionID returns the id at the current index, or false when the
// order is exhausted.
func (s SessionState) CurrentQuestionID() (string, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.QuestionOrder) {
		return "", false
	}
	return s.QuestionOrder[s.CurrentIndex], true
}

// QuestionView is a question with correct-answer fields stripped, as served
// to clients.
type QuestionView struct {
	ID       string       `json:"id"`
	Index    int          `json:"index"`
	Total    int          `json:"total"`
	Type     QuestionType `json:"type"`
	Prompt   string       `json:"prompt"`
	Options  []Option     `json:"options,omitempty"`
	Points   int          `json:"points"`
	TimeLeft float64      `json:"timeLeftSeconds,omitempty"` // per_question policy
}

// TimerStatus reports the policy view of a running session.
type TimerStatus struct {
	Policy            TimerPolicy `json:"policy"`
	Remaining         float64     `json:"remainingSeconds,omitempty"`
	QuestionRemaining float64     `json:"questionRemainingSeconds,omitempty"`
	Expired           bool        `json:"expired"`
	StoreTTL          float64     `json:"storeTtlSeconds,omitempty"`
}

// SessionResult is the terminal outcome returned to clients and handed to the
// reconciler.
type SessionResult struct {
	SessionID         string        `json:"sessionId"`
	QuizID            string        `json:"quizId"`
	UserID            string        `json:"userId"`
	Status            SessionStatus `json:"status"`
	StartedAt         time.Time     `json:"startedAt"`
	EndedAt           time.Time     `json:"endedAt"`
	TimeSpent         float64       `json:"timeSpentSeconds"`
	QuestionsAnswered int           `json:"questionsAnswered"`
	QuestionsSkipped  int           `json:"questionsSkipped"`
	TotalScore        int           `json:"totalScore"`
	MaxScore          int           `json:"maxScore"`
	Percentage        float64       `json:"percentageScore"`
	Passed            bool          `json:"isPassed"`
	Attempt           int           `json:"attempt"`
}

// PersistedSession is the durable row written exactly once per session id.
type PersistedSession struct {
	SessionID         string
	QuizID            string
	UserID            string
	Status            SessionStatus
	StartedAt         time.Time
	EndedAt           time.Time
	TimeSpentSeconds  float64
	QuestionsAnswered int
	QuestionsSkipped  int
	TotalScore        int
	MaxScore          int
	Percentage        float64
	Passed            bool
	Attempt           int
}

// AnswerRecord is the durable per-question row, written atomically with the
// session row.
type AnswerRecord struct {
	SessionID        string
	QuestionID       string
	Submitted        AnswerSubmission
	Correct          bool
	PointsEarned     int
	TimeTakenSeconds float64
	Skipped          bool
}
