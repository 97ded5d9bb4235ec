package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options configura Open. Solo se usan los campos del backend elegido.
type Options struct {
	Dir         string
	SQLitePath  string
	Redis       *redis.Client
	RedisPrefix string
}

// Open construye el backend pedido. El closer nunca es nil.
func Open(ctx context.Context, backend string, opts Options) (Store, func() error, error) {
	noop := func() error { return nil }
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), noop, nil
	case BackendFile:
		s, err := NewFileStore(opts.Dir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case BackendSQLite:
		s, err := NewSQLiteStore(ctx, opts.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendRedis:
		if opts.Redis == nil {
			return nil, noop, fmt.Errorf("kv: redis backend requires a client")
		}
		return NewRedisStore(opts.Redis, opts.RedisPrefix), noop, nil
	default:
		return nil, noop, fmt.Errorf("kv: unknown backend %q", backend)
	}
}
