package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter limita intentos de sign-in por clave (email normalizado).
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

const redisAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

func NewRedisRateLimiter(client *redis.Client, window time.Duration, max int) RateLimiter {
	if client == nil {
		return nil
	}
	window, max = limiterDefaults(window, max)
	return &redisRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "auth:signin:rl:",
	}
}

// Allow deja pasar si redis falla: el proveedor de identidad tiene su propio límite.
func (l *redisRateLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := normalizeEmail(key)
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	count, err := l.client.Eval(ctx, redisAllowScript, []string{l.prefix + normalizedKey}, seconds).Int()
	if err != nil {
		return true
	}
	return count <= l.max
}

type memoryWindow struct {
	count int
	reset time.Time
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	now     func() time.Time
	windows map[string]memoryWindow
}

func NewMemoryRateLimiter(window time.Duration, max int) RateLimiter {
	window, max = limiterDefaults(window, max)
	return &memoryRateLimiter{
		window:  window,
		max:     max,
		now:     time.Now,
		windows: make(map[string]memoryWindow),
	}
}

func (l *memoryRateLimiter) Allow(_ context.Context, key string) bool {
	normalizedKey := normalizeEmail(key)
	if normalizedKey == "" {
		return false
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[normalizedKey]
	if !ok || !now.Before(w.reset) {
		w = memoryWindow{reset: now.Add(l.window)}
	}
	w.count++
	l.windows[normalizedKey] = w
	return w.count <= l.max
}

func limiterDefaults(window time.Duration, max int) (time.Duration, int) {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return window, max
}
