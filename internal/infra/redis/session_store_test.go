package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client), mr
}

func newState(id string, version int64) domain.SessionState {
	return domain.SessionState{
		ID:      id,
		QuizID:  "quiz-1",
		UserID:  "u1",
		Status:  domain.StatusInProgress,
		Answers: make(map[string]domain.RecordedAnswer),
		Version: version,
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	state := newState("s1", 1)
	state.Answers["q1"] = domain.RecordedAnswer{QuestionID: "q1", Correct: true}
	if err := store.Save(ctx, state, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "s1" || got.QuizID != "quiz-1" || !got.Answers["q1"].Correct {
		t.Fatalf("unexpected state %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionStoreVersionConflict(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.Save(ctx, newState("s1", 1), time.Minute); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	if err := store.Save(ctx, newState("s1", 2), time.Minute); err != nil {
		t.Fatalf("save v2: %v", err)
	}
	if err := store.Save(ctx, newState("s1", 2), time.Minute); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict for a stale writer, got %v", err)
	}
	if err := store.Save(ctx, newState("s2", 4), time.Minute); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict for a new id above 1, got %v", err)
	}
}

func TestSessionStoreTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	if err := store.Save(ctx, newState("s1", 1), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	ttl, err := store.TTL(ctx, "s1")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(61 * time.Second)
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if _, err := store.TTL(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ttl gone after expiry, got %v", err)
	}
}

func TestScanInProgress(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	live := newState("s1", 1)
	done := newState("s2", 1)
	done.Status = domain.StatusExpired
	if err := store.Save(ctx, live, time.Minute); err != nil {
		t.Fatalf("save live: %v", err)
	}
	if err := store.Save(ctx, done, time.Minute); err != nil {
		t.Fatalf("save done: %v", err)
	}
	// foreign keys in the same database must not show up
	mr.Set("quiz:quiz-1:def", "{}")

	states, err := store.ScanInProgress(ctx, 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(states) != 1 || states[0].ID != "s1" {
		t.Fatalf("expected only the in-progress session, got %+v", states)
	}

	capped, err := store.ScanInProgress(ctx, 0)
	if err != nil {
		t.Fatalf("scan with zero limit: %v", err)
	}
	if len(capped) != 0 {
		t.Fatalf("expected the limit to cap results, got %d", len(capped))
	}
}
