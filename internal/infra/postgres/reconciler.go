package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-attempt-service/internal/domain"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions"`

	SessionID         string    `bun:"session_id,pk"`
	QuizID            string    `bun:"quiz_id,notnull"`
	UserID            string    `bun:"user_id,notnull"`
	Status            string    `bun:"status,notnull"`
	StartedAt         time.Time `bun:"started_at,notnull"`
	EndedAt           time.Time `bun:"ended_at,notnull"`
	TimeSpentSeconds  float64   `bun:"time_spent_seconds,notnull"`
	QuestionsAnswered int       `bun:"questions_answered,notnull"`
	QuestionsSkipped  int       `bun:"questions_skipped,notnull"`
	TotalScore        int       `bun:"total_score,notnull"`
	MaxScore          int       `bun:"max_score,notnull"`
	Percentage        float64   `bun:"percentage_score,notnull"`
	Passed            bool      `bun:"is_passed,notnull"`
	Attempt           int       `bun:"attempt,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:session_answers"`

	ID               int64   `bun:"id,pk,autoincrement"`
	SessionID        string  `bun:"session_id,notnull"`
	QuestionID       string  `bun:"question_id,notnull"`
	SubmittedAnswer  string  `bun:"submitted_answer"`
	Correct          bool    `bun:"is_correct,notnull"`
	PointsEarned     int     `bun:"points_earned,notnull"`
	TimeTakenSeconds float64 `bun:"time_taken_seconds,notnull"`
	Skipped          bool    `bun:"is_skipped,notnull"`
}

type quizStatsRow struct {
	bun.BaseModel `bun:"table:quiz_stats"`

	QuizID       string  `bun:"quiz_id,pk"`
	Attempts     int64   `bun:"attempts,notnull"`
	Completions  int64   `bun:"completions,notnull"`
	AverageScore float64 `bun:"average_score,notnull"`
}

type userStatsRow struct {
	bun.BaseModel `bun:"table:user_stats"`

	UserID       string  `bun:"user_id,pk"`
	Attempts     int64   `bun:"attempts,notnull"`
	Completions  int64   `bun:"completions,notnull"`
	AverageScore float64 `bun:"average_score,notnull"`
}

// Reconciler is the durable side of a terminal transition: one transaction
// inserting the session row, its answer rows and updating quiz/user
// aggregates. The unique session id makes replays harmless — the check
// inside the transaction turns a duplicate completion into a no-op.
type Reconciler struct {
	db *bun.DB
}

func NewReconciler(db *bun.DB) *Reconciler {
	return &Reconciler{db: db}
}

// CountAttempts counts prior terminal sessions for (user, quiz). Attempt
// numbers are assigned from this at session creation and never recomputed.
func (r *Reconciler) CountAttempts(ctx context.Context, quizID, userID string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*sessionRow)(nil)).
		Where("quiz_id = ?", quizID).
		Where("user_id = ?", userID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

func (r *Reconciler) Persist(ctx context.Context, session domain.PersistedSession, answers []domain.AnswerRecord) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*sessionRow)(nil)).
			Where("session_id = ?", session.SessionID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check session row: %w", err)
		}
		if exists {
			return nil // already reconciled by a concurrent completer
		}

		row := &sessionRow{
			SessionID:         session.SessionID,
			QuizID:            session.QuizID,
			UserID:            session.UserID,
			Status:            string(session.Status),
			StartedAt:         session.StartedAt,
			EndedAt:           session.EndedAt,
			TimeSpentSeconds:  session.TimeSpentSeconds,
			QuestionsAnswered: session.QuestionsAnswered,
			QuestionsSkipped:  session.QuestionsSkipped,
			TotalScore:        session.TotalScore,
			MaxScore:          session.MaxScore,
			Percentage:        session.Percentage,
			Passed:            session.Passed,
			Attempt:           session.Attempt,
		}
		if _, err := tx.NewInsert().Model(row).On("CONFLICT (session_id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert session row: %w", err)
		}

		if len(answers) > 0 {
			rows := make([]answerRow, 0, len(answers))
			for _, answer := range answers {
				submitted, err := json.Marshal(answer.Submitted)
				if err != nil {
					return fmt.Errorf("marshal answer %s: %w", answer.QuestionID, err)
				}
				rows = append(rows, answerRow{
					SessionID:        answer.SessionID,
					QuestionID:       answer.QuestionID,
					SubmittedAnswer:  string(submitted),
					Correct:          answer.Correct,
					PointsEarned:     answer.PointsEarned,
					TimeTakenSeconds: answer.TimeTakenSeconds,
					Skipped:          answer.Skipped,
				})
			}
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return fmt.Errorf("insert answer rows: %w", err)
			}
		}

		if err := updateQuizStats(ctx, tx, session); err != nil {
			return err
		}
		return updateUserStats(ctx, tx, session)
	})
}

// updateQuizStats does read-then-write aggregate arithmetic inside the
// caller's transaction, with the row locked against concurrent completers.
func updateQuizStats(ctx context.Context, tx bun.Tx, session domain.PersistedSession) error {
	stats := &quizStatsRow{QuizID: session.QuizID}
	err := tx.NewSelect().Model(stats).WherePK().For("UPDATE").Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("load quiz stats: %w", err)
	}

	stats.AverageScore = runningAverage(stats.AverageScore, stats.Attempts, session.Percentage)
	stats.Attempts++
	if session.Status == domain.StatusCompleted {
		stats.Completions++
	}

	if _, err := tx.NewInsert().
		Model(stats).
		On("CONFLICT (quiz_id) DO UPDATE").
		Set("attempts = EXCLUDED.attempts, completions = EXCLUDED.completions, average_score = EXCLUDED.average_score").
		Exec(ctx); err != nil {
		return fmt.Errorf("update quiz stats: %w", err)
	}
	return nil
}

func updateUserStats(ctx context.Context, tx bun.Tx, session domain.PersistedSession) error {
	stats := &userStatsRow{UserID: session.UserID}
	err := tx.NewSelect().Model(stats).WherePK().For("UPDATE").Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("load user stats: %w", err)
	}

	stats.AverageScore = runningAverage(stats.AverageScore, stats.Attempts, session.Percentage)
	stats.Attempts++
	if session.Status == domain.StatusCompleted {
		stats.Completions++
	}

	if _, err := tx.NewInsert().
		Model(stats).
		On("CONFLICT (user_id) DO UPDATE").
		Set("attempts = EXCLUDED.attempts, completions = EXCLUDED.completions, average_score = EXCLUDED.average_score").
		Exec(ctx); err != nil {
		return fmt.Errorf("update user stats: %w", err)
	}
	return nil
}

func runningAverage(current float64, count int64, next float64) float64 {
	return (current*float64(count) + next) / float64(count+1)
}
