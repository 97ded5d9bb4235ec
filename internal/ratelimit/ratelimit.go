// Package ratelimit limita cuantas preguntas puede enviar cada dispositivo por ventana.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decide si key puede hacer otra solicitud ahora.
type Limiter interface {
	Allow(key string) bool
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

// redisLimiter es una ventana fija compartida entre replicas.
type redisLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

func NewRedisLimiter(client *redis.Client, window time.Duration, max int) Limiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "chat:rl:",
	}
}

func (l *redisLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := normalize(key)
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
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

// memoryLimiter usa un token bucket por clave; sirve para una sola replica.
// Un bucket sin uso durante una ventana ya esta lleno, asi que se descarta.
type memoryLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*bucket
	limit     rate.Limit
	burst     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter permite perWindow solicitudes por window, con rafaga igual a perWindow.
func NewMemoryLimiter(window time.Duration, perWindow int) Limiter {
	return newMemoryLimiter(window, perWindow, time.Now)
}

func newMemoryLimiter(window time.Duration, perWindow int, now func() time.Time) *memoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if perWindow <= 0 {
		perWindow = 1
	}
	return &memoryLimiter{
		limiters: make(map[string]*bucket),
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
		window:   window,
		now:      now,
	}
}

func (l *memoryLimiter) Allow(key string) bool {
	normalizedKey := normalize(key)
	if normalizedKey == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(now)
		l.lastSweep = now
	}
	b, ok := l.limiters[normalizedKey]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[normalizedKey] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *memoryLimiter) sweepLocked(now time.Time) {
	for key, b := range l.limiters {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.limiters, key)
		}
	}
}

func (l *memoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
