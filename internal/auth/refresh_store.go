package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRefreshRevoked indica que el refresh token ya se uso, se revoco o vencio.
var ErrRefreshRevoked = errors.New("refresh token revoked")

const refreshKeyPrefix = "auth:refresh:"

// RefreshTokenStore guarda las concesiones de refresh vigentes (jti -> usuario).
// Cada concesion se consume una sola vez: al rotar o al cerrar sesion.
type RefreshTokenStore interface {
	Save(ctx context.Context, jti, userID string, ttl time.Duration) error
	// Consume devuelve el dueño de jti y lo elimina en la misma operacion.
	Consume(ctx context.Context, jti string) (string, error)
	Revoke(ctx context.Context, jti string) error
}

type refreshGrant struct {
	userID    string
	expiresAt time.Time
}

type memoryRefreshTokenStore struct {
	mu     sync.Mutex
	grants map[string]refreshGrant
	now    func() time.Time
}

// NewMemoryRefreshTokenStore sirve para un solo proceso; las concesiones se pierden al reiniciar.
func NewMemoryRefreshTokenStore() RefreshTokenStore {
	return &memoryRefreshTokenStore{
		grants: make(map[string]refreshGrant),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryRefreshTokenStore) Save(_ context.Context, jti, userID string, ttl time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return ErrRefreshRevoked
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[jti] = refreshGrant{userID: userID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *memoryRefreshTokenStore) Consume(_ context.Context, jti string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[strings.TrimSpace(jti)]
	delete(s.grants, strings.TrimSpace(jti))
	if !ok || !s.now().Before(grant.expiresAt) {
		return "", ErrRefreshRevoked
	}
	return grant.userID, nil
}

func (s *memoryRefreshTokenStore) Revoke(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, strings.TrimSpace(jti))
	return nil
}

// redisGrantClient es el subconjunto de go-redis que usa el store; los tests lo simulan.
type redisGrantClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisRefreshTokenStore struct {
	client  redisGrantClient
	timeout time.Duration
}

// NewRedisRefreshTokenStore comparte las concesiones entre instancias del API.
// El vencimiento queda a cargo del TTL de redis.
func NewRedisRefreshTokenStore(client *redis.Client) RefreshTokenStore {
	return &redisRefreshTokenStore{client: client, timeout: 500 * time.Millisecond}
}

func refreshKey(jti string) string {
	return refreshKeyPrefix + strings.TrimSpace(jti)
}

func (s *redisRefreshTokenStore) Save(ctx context.Context, jti, userID string, ttl time.Duration) error {
	if strings.TrimSpace(jti) == "" || ttl <= 0 {
		return ErrRefreshRevoked
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, refreshKey(jti), userID, ttl).Err()
}

func (s *redisRefreshTokenStore) Consume(ctx context.Context, jti string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	userID, err := s.client.GetDel(ctx, refreshKey(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRefreshRevoked
	}
	return userID, err
}

func (s *redisRefreshTokenStore) Revoke(ctx context.Context, jti string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Del(ctx, refreshKey(jti)).Err()
}
