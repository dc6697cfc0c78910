package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store keeps one State per user. Get on an unknown user returns NewState.
type Store interface {
	Get(ctx context.Context, userID string) (State, error)
	Set(ctx context.Context, st State) error
	Delete(ctx context.Context, userID string) error
}

// MemoryStore lives for the process lifetime.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[userID]
	if !ok {
		return NewState(userID), nil
	}
	return st.clone(), nil
}

func (m *MemoryStore) Set(_ context.Context, st State) error {
	if st.UserID == "" {
		return errors.New("state without user id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.UserID] = st.clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

// Len reports how many users have stored state.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

const redisKeyPrefix = "trendbot:state:"

// RedisStore keeps states as JSON values that expire after TTL of inactivity.
// A value that no longer decodes is dropped and the user starts over.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, log: logger}
}

// DialRedis parses a redis:// URL and verifies the server answers.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisStore) key(userID string) string {
	return redisKeyPrefix + userID
}

func (r *RedisStore) Get(ctx context.Context, userID string) (State, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewState(userID), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("error loading state: %w", err)
	}
	st := NewState(userID)
	if err := json.Unmarshal(data, &st); err != nil {
		r.log.Warn().Err(err).Str("user", userID).Msg("discarding undecodable state")
		if err := r.Delete(ctx, userID); err != nil {
			return State{}, err
		}
		return NewState(userID), nil
	}
	if st.Inputs == nil {
		st.Inputs = map[string]string{}
	}
	return st, nil
}

func (r *RedisStore) Set(ctx context.Context, st State) error {
	if st.UserID == "" {
		return errors.New("state without user id")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("error marshalling state: %w", err)
	}
	if err := r.client.Set(ctx, r.key(st.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("error saving state: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("error deleting state: %w", err)
	}
	return nil
}
