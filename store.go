package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is what the gateway needs to reopen a socket after the modem
// restarted or the daemon was redeployed.
type Session struct {
	Mux         int       `json:"mux"`
	Host        string    `json:"host"`
	Port        uint16    `json:"port"`
	TLS         bool      `json:"tls"`
	Certificate string    `json:"certificate,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
}

// SessionStore keeps the sessions the gateway opened.
type SessionStore interface {
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, mux int) error
	List(ctx context.Context) ([]Session, error)
	Close() error
}

// newSessionStore creates either an in-memory or Redis-backed store based on configuration
func newSessionStore(config *Config, logger *slog.Logger) (SessionStore, error) {
	if config.RedisAddr == "" {
		logger.Info("session store", "type", "in-memory")
		return newMemoryStore(), nil
	}
	logger.Info("session store", "type", "redis", "addr", config.RedisAddr)
	return newRedisStore(config.RedisAddr, config.RedisPassword, config.RedisDB)
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[int]Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[int]Session)}
}

var _ SessionStore = (*memoryStore)(nil)

func (m *memoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	m.sessions[s.Mux] = s
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Delete(_ context.Context, mux int) error {
	m.mu.Lock()
	delete(m.sessions, mux)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) List(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Session) int { return a.Mux - b.Mux })
	return out, nil
}

func (m *memoryStore) Close() error { return nil }

// redisStore keeps sessions in one hash keyed by mux so that a replacement
// daemon on the same modem picks them up.
type redisStore struct {
	client *redis.Client
	key    string
}

const redisSessionKey = "cellmux:sessions"

func newRedisStore(addr, password string, db int) (*redisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &redisStore{client: rdb, key: redisSessionKey}, nil
}

var _ SessionStore = (*redisStore)(nil)

func (r *redisStore) Save(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, strconv.Itoa(s.Mux), data).Err(); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

func (r *redisStore) Delete(ctx context.Context, mux int) error {
	if err := r.client.HDel(ctx, r.key, strconv.Itoa(mux)).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

func (r *redisStore) List(ctx context.Context) ([]Session, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	out := make([]Session, 0, len(fields))
	for field, raw := range fields {
		var s Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", field, err)
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Session) int { return a.Mux - b.Mux })
	return out, nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
