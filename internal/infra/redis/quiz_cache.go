package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/domain"
)

// QuizLoader fetches quiz definitions from a backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.QuizDefinition, error)
}

// QuizCache keeps quiz definitions in Redis (JSON per quiz, keyed
// quiz:{quizID}:def) and falls back to a loader on cache miss. Definitions
// are immutable during an attempt, so TTL staleness is harmless.
type QuizCache struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizCache(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.QuizDefinition, error) {
	key := c.key(quizID)

	if def, ok := c.fromCache(ctx, key); ok {
		return def, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if def, ok := c.fromCache(ctx, key); ok {
			return def, nil
		}

		def, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.QuizDefinition{}, err
		}

		payload, err := json.Marshal(def)
		if err != nil {
			return domain.QuizDefinition{}, fmt.Errorf("marshal quiz %s: %w", quizID, err)
		}
		// best-effort fill; a failed SET only costs the next caller a reload
		_ = c.client.Set(ctx, key, payload, c.ttlWithJitter()).Err()

		return def, nil
	})
	if err != nil {
		return domain.QuizDefinition{}, err
	}
	return result.(domain.QuizDefinition), nil
}

func (c *QuizCache) fromCache(ctx context.Context, key string) (domain.QuizDefinition, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) || err != nil {
		return domain.QuizDefinition{}, false
	}
	var def domain.QuizDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.QuizDefinition{}, false
	}
	return def, true
}

func (c *QuizCache) key(quizID string) string {
	return "quiz:" + quizID + ":def"
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
