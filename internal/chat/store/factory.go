package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options selects and configures a turn-store backend.
type Options struct {
	Provider    string // "redis", "postgres" or "memory"
	Redis       redis.Cmdable
	DatabaseURL string
	TTL         time.Duration
}

// New creates the configured store backend, defaulting to in-memory so
// the service can run without external infrastructure.
func New(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis store selected but no client configured")
		}
		return NewRedisStore(opts.Redis, opts.TTL), nil
	case "postgres":
		if strings.TrimSpace(opts.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres store selected but DATABASE_URL is empty")
		}
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case "", "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store provider %q", opts.Provider)
	}
}
