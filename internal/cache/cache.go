// Package cache holds issued pairing codes keyed by phone number, each with
// its own time-to-live. Expired entries read as absent.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/clock"
)

// Store is an expiring key/value map. Implementations never surface errors:
// a backend failure is logged and treated as a miss.
type Store interface {
	// Put inserts or overwrites key with expiry now+ttl.
	Put(ctx context.Context, key, value string, ttl time.Duration)
	// Get returns the value only while it has not expired.
	Get(ctx context.Context, key string) (string, bool)
	// RemainingTTL reports how long key stays readable.
	RemainingTTL(ctx context.Context, key string) (time.Duration, bool)
	// Len counts live entries.
	Len(ctx context.Context) int
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend       string // "memory" (default) or "redis"
	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	EncryptionKey string // redis only; empty stores codes in clear
	SweepInterval time.Duration
	Clock         clock.Clock
}

// New builds the configured backend. The memory backend starts its sweeper
// when SweepInterval is positive.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "memory":
		m := NewMemoryStore(opts.Clock)
		if opts.SweepInterval > 0 {
			m.StartSweeper(opts.SweepInterval)
		}
		return m, nil
	case "redis":
		return NewRedisStore(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
