package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
)

const sessionKeyPrefix = "attempt:session:"

// SessionStore keeps the authoritative state of in-progress attempts in
// Redis as JSON values with a TTL. Concurrent writers are detected with
// WATCH plus the state's version field: a save whose version is not exactly
// one ahead of the stored entry loses.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.SessionState, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionState{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return decodeState(raw)
}

func (s *SessionStore) Save(ctx context.Context, state domain.SessionState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", state.ID, err)
	}
	key := sessionKey(state.ID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if state.Version != 1 {
				return domain.ErrVersionConflict
			}
		case err != nil:
			return err
		default:
			stored, err := decodeState(raw)
			if err != nil {
				return err
			}
			if stored.Version != state.Version-1 {
				return domain.ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	if err != nil && !errors.Is(err, domain.ErrVersionConflict) {
		return fmt.Errorf("save session %s: %w", state.ID, err)
	}
	return err
}

func (s *SessionStore) TTL(ctx context.Context, sessionID string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl for session %s: %w", sessionID, err)
	}
	if ttl < 0 {
		return 0, domain.ErrSessionNotFound
	}
	return ttl, nil
}

// ScanInProgress walks the session keyspace with SCAN so a large store never
// blocks live traffic, stopping at limit.
func (s *SessionStore) ScanInProgress(ctx context.Context, limit int) ([]domain.SessionState, error) {
	var (
		states []domain.SessionState
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		for _, key := range keys {
			if len(states) >= limit {
				return states, nil
			}
			raw, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and get
			}
			if err != nil {
				return nil, fmt.Errorf("get %s: %w", key, err)
			}
			state, err := decodeState(raw)
			if err != nil {
				continue // skip unreadable entries, never stall the sweep
			}
			if state.Status == domain.StatusInProgress {
				states = append(states, state)
			}
		}
		cursor = next
		if cursor == 0 {
			return states, nil
		}
	}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func decodeState(raw []byte) (domain.SessionState, error) {
	var state domain.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if state.Answers == nil {
		state.Answers = make(map[string]domain.RecordedAnswer)
	}
	return state, nil
}
