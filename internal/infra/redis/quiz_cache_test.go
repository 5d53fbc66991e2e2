package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
)

type countingLoader struct {
	calls   int64
	quizzes map[string]domain.QuizDefinition
}

func (l *countingLoader) LoadQuiz(_ context.Context, quizID string) (domain.QuizDefinition, error) {
	atomic.AddInt64(&l.calls, 1)
	if def, ok := l.quizzes[quizID]; ok {
		return def, nil
	}
	return domain.QuizDefinition{}, domain.ErrQuizNotFound
}

func newTestCache(t *testing.T, loader QuizLoader) (*QuizCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQuizCache(client, loader, time.Minute), mr
}

func TestQuizCacheFillsOnMiss(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{quizzes: map[string]domain.QuizDefinition{
		"quiz-1": {ID: "quiz-1", Title: "Capitals", TimerPolicy: domain.TimerTotal, TotalMinutes: 10},
	}}
	cache, mr := newTestCache(t, loader)

	for i := 0; i < 3; i++ {
		def, err := cache.GetQuiz(ctx, "quiz-1")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if def.Title != "Capitals" || def.TotalMinutes != 10 {
			t.Fatalf("unexpected quiz %+v", def)
		}
	}
	if got := atomic.LoadInt64(&loader.calls); got != 1 {
		t.Fatalf("expected a single loader hit, got %d", got)
	}
	if !mr.Exists("quiz:quiz-1:def") {
		t.Fatalf("expected the definition cached in redis")
	}
}

func TestQuizCacheReloadsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{quizzes: map[string]domain.QuizDefinition{
		"quiz-1": {ID: "quiz-1"},
	}}
	cache, mr := newTestCache(t, loader)

	if _, err := cache.GetQuiz(ctx, "quiz-1"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	// past the ttl plus the 10% jitter ceiling
	mr.FastForward(time.Minute + 7*time.Second)
	if _, err := cache.GetQuiz(ctx, "quiz-1"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if got := atomic.LoadInt64(&loader.calls); got != 2 {
		t.Fatalf("expected a reload after expiry, got %d hits", got)
	}
}

func TestQuizCachePropagatesNotFound(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t, &countingLoader{})

	if _, err := cache.GetQuiz(ctx, "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}
