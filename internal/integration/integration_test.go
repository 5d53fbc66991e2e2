package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	pgmigrations "quiz-attempt-service/internal/infra/postgres/migrations"
	infraredis "quiz-attempt-service/internal/infra/redis"
)

func TestAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBun(t, pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	engine := app.NewEngine(
		infraredis.NewSessionStore(redisClient),
		infraredis.NewQuizCache(redisClient, pgstore.NewQuizLoader(pool), 5*time.Minute),
		pgstore.NewReconciler(db),
		nil,
	)

	state, first, err := engine.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state.Attempt != 1 || first.ID != "q1" {
		t.Fatalf("unexpected start state attempt=%d first=%s", state.Attempt, first.ID)
	}

	next, result, err := engine.SubmitAnswer(ctx, state.ID, "u1", "q1", domain.AnswerSubmission{OptionIDs: []string{"o2"}})
	if err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	if result != nil || next == nil || next.ID != "q2" {
		t.Fatalf("expected q2 after q1, got next=%+v result=%+v", next, result)
	}

	_, result, err = engine.SubmitAnswer(ctx, state.ID, "u1", "q2", domain.AnswerSubmission{Text: "rome"})
	if err != nil {
		t.Fatalf("answer q2: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a result on the last answer")
	}
	if result.TotalScore != 3 || !result.Passed || result.Status != domain.StatusCompleted {
		t.Fatalf("unexpected result %+v", result)
	}

	// the terminal transition landed durably, atomically with the answers
	var sessionCount, answerCount int
	if sessionCount, err = db.NewSelect().Table("quiz_sessions").Where("session_id = ?", state.ID).Count(ctx); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if answerCount, err = db.NewSelect().Table("session_answers").Where("session_id = ?", state.ID).Count(ctx); err != nil {
		t.Fatalf("count answers: %v", err)
	}
	if sessionCount != 1 || answerCount != 2 {
		t.Fatalf("expected 1 session row and 2 answer rows, got %d/%d", sessionCount, answerCount)
	}

	// repeating the completion is a no-op, not a double write
	again, err := engine.Complete(ctx, state.ID, "u1", domain.ReasonClientFinished)
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if again.TotalScore != result.TotalScore {
		t.Fatalf("expected the same result on replay, got %+v", again)
	}
	if sessionCount, err = db.NewSelect().Table("quiz_sessions").Where("session_id = ?", state.ID).Count(ctx); err != nil {
		t.Fatalf("recount sessions: %v", err)
	}
	if sessionCount != 1 {
		t.Fatalf("replayed completion duplicated the session row")
	}

	var attempts int64
	if err := db.NewSelect().Table("quiz_stats").Column("attempts").Where("quiz_id = ?", "quiz-1").Scan(ctx, &attempts); err != nil {
		t.Fatalf("load quiz stats: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", attempts)
	}

	// attempt numbering picks up from the durable history
	second, _, err := engine.Start(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", second.Attempt)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func openBun(t *testing.T, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func migrateAndSeed(t *testing.T, ctx context.Context, db *bun.DB, quiz domain.QuizDefinition) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.QuizDefinition {
	return domain.QuizDefinition{
		ID:           "quiz-1",
		Title:        "Arithmetic and capitals",
		TimerPolicy:  domain.TimerTotal,
		TotalMinutes: 10,
		PassingScore: 50,
		Questions: []domain.QuestionRecord{
			{
				ID:     "q1",
				Order:  1,
				Type:   domain.SingleChoice,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5"},
				},
				Points: 1,
			},
			{
				ID:          "q2",
				Order:       2,
				Type:        domain.ShortText,
				Prompt:      "Capital of Italy?",
				CorrectText: "Rome",
				Points:      2,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
