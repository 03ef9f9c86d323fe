package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chatbot-app/internal/domain"
)

// DefaultSessionTTL cubre la vida por defecto del refresh token en Nhost y Supabase.
const DefaultSessionTTL = 30 * 24 * time.Hour

var ErrSessionNotFound = errors.New("auth: session not found")

// TokenStore guarda sesiones por clave (ID de sesión del navegador, perfil de la CLI).
type TokenStore interface {
	Save(ctx context.Context, key string, session domain.AuthSession, ttl time.Duration) error
	Load(ctx context.Context, key string) (domain.AuthSession, error)
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	session domain.AuthSession
	exp     time.Time
}

type memoryTokenStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
}

func NewMemoryTokenStore() TokenStore {
	return &memoryTokenStore{
		items: make(map[string]memoryEntry),
	}
}

func (s *memoryTokenStore) Save(_ context.Context, key string, session domain.AuthSession, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryEntry{session: session, exp: time.Now().UTC().Add(ttl)}
	return nil
}

func (s *memoryTokenStore) Load(_ context.Context, key string) (domain.AuthSession, error) {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return domain.AuthSession{}, ErrSessionNotFound
	}
	if time.Now().UTC().After(e.exp) {
		delete(s.items, key)
		return domain.AuthSession{}, ErrSessionNotFound
	}
	return e.session, nil
}

func (s *memoryTokenStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, strings.TrimSpace(key))
	return nil
}

type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisTokenStore struct {
	client  redisKV
	prefix  string
	timeout time.Duration
}

func NewRedisTokenStore(client *redis.Client) TokenStore {
	if client == nil {
		return nil
	}
	return &redisTokenStore{
		client:  client,
		prefix:  "auth:session:",
		timeout: 500 * time.Millisecond,
	}
}

func (s *redisTokenStore) Save(ctx context.Context, key string, session domain.AuthSession, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, s.prefix+key, raw, ttl).Err()
}

func (s *redisTokenStore) Load(ctx context.Context, key string) (domain.AuthSession, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.AuthSession{}, ErrSessionNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.AuthSession{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.AuthSession{}, err
	}
	var session domain.AuthSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.AuthSession{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func (s *redisTokenStore) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Del(ctx, s.prefix+key).Err()
}
