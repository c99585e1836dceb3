package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "caps-tutor:session:"
	redisMaxTxAttempts = 5
)

// RedisStore keeps sessions in Redis. Keys carry the idle TTL, so Redis
// itself evicts idle sessions and DeleteExpired has nothing to do.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis connects to the Redis server at redisURL.
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration, opts ...Option) (*RedisStore, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client, ttl, opts...), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, opts ...Option) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	o := buildOptions(opts)
	return &RedisStore{client: client, ttl: ttl, now: o.now}
}

// Get implements SessionStore.
func (r *RedisStore) Get(ctx context.Context, userID string) (*domain.Session, error) {
	now := r.now()
	sess, err := r.load(ctx, r.client, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Expired(r.ttl, now) {
		return domain.NewSession(userID, now), nil
	}
	return sess, nil
}

// Update implements SessionStore using WATCH/MULTI so concurrent writers for
// the same user never interleave.
func (r *RedisStore) Update(ctx context.Context, userID string, fn MutateFunc) (*domain.Session, error) {
	key := redisKey(userID)

	var out *domain.Session
	txf := func(tx *redis.Tx) error {
		current, err := r.load(ctx, tx, userID)
		if err != nil {
			return err
		}
		next := apply(current, userID, r.ttl, r.now(), fn)
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	for i := 0; i < redisMaxTxAttempts; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	return nil, fmt.Errorf("update session: too much contention on %s", key)
}

// DeleteExpired is a no-op: Redis expires keys itself.
func (r *RedisStore) DeleteExpired(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// Ping implements SessionStore.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements SessionStore.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, c redisGetter, userID string) (*domain.Session, error) {
	data, err := c.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, nil
	}
	return &sess, nil
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}
