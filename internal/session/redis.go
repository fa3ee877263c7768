package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "emias_bot:session:"

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// RedisStore keeps sessions as JSON values with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore. A non-positive ttl keeps sessions
// until overwritten.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Load(ctx context.Context, chatID int64) (Session, error) {
	if r == nil || r.client == nil {
		return Session{}, errors.New("redis session store is not initialized")
	}

	data, err := r.client.Get(ctx, key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Idle(0), nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}

	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, chatID int64, s Session) error {
	if r == nil || r.client == nil {
		return errors.New("redis session store is not initialized")
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key(chatID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

// Ping reports Redis reachability for the health endpoint.
func (r *RedisStore) Ping(ctx context.Context) error {
	if r == nil || r.client == nil {
		return errors.New("redis session store is not initialized")
	}
	return r.client.Ping(ctx).Err()
}

func key(chatID int64) string {
	return keyPrefix + strconv.FormatInt(chatID, 10)
}
