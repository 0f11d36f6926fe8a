// Package session keeps logged-in state on the server, keyed by an opaque
// cookie value.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// StateTTL bounds how long an OAuth state value is accepted.
const StateTTL = 10 * time.Minute

const (
	sessionKeyPrefix = "session:"
	stateKeyPrefix   = "oauth_state:"
)

// Projection is the user view kept in a session.
type Projection struct {
	ID             uint   `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
}

// Store persists sessions and one-shot OAuth state values.
type Store interface {
	Create(ctx context.Context, p Projection) (string, error)
	Get(ctx context.Context, id string) (*Projection, error)
	Destroy(ctx context.Context, id string) error
	SaveState(ctx context.Context, state string) error
	ConsumeState(ctx context.Context, state string) (bool, error)
}

// RedisStore is a Store whose entries expire through Redis TTLs.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisStore returns a store whose sessions live for ttl.
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// TTL is the lifetime given to new sessions.
func (s *RedisStore) TTL() time.Duration {
	return s.ttl
}

// Create stores p under a fresh random id and returns the id.
func (s *RedisStore) Create(ctx context.Context, p Projection) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}

	id := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, sessionKeyPrefix+id, payload, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("store session: id collision")
	}
	return id, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Projection, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	raw, err := s.rdb.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var p Projection
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &p, nil
}

// Destroy removes the session. Destroying an unknown id is not an error.
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveState(ctx context.Context, state string) error {
	return s.rdb.Set(ctx, stateKeyPrefix+state, "1", StateTTL).Err()
}

// ConsumeState reports whether state was issued and not yet used. A state
// value is accepted at most once.
func (s *RedisStore) ConsumeState(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	err := s.rdb.GetDel(ctx, stateKeyPrefix+state).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
