package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/pairgate/internal/crypto"
)

const defaultKeyPrefix = "pairgate:code:"

// RedisStore keeps codes in Redis so several gateway replicas (or a restart)
// can answer GET /pairing-code. Expiry is enforced by Redis itself.
// Values are sealed with AES-GCM when Options.EncryptionKey is set.
type RedisStore struct {
	client *redis.Client
	prefix string
	sealer *crypto.Sealer
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts Options) (*RedisStore, error) {
	sealer, err := crypto.NewSealer(opts.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("cache encryption key: %w", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Username: opts.RedisUsername,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.RedisAddr, err)
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, sealer: sealer}, nil
}

func (r *RedisStore) key(k string) string { return r.prefix + k }

func (r *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	sealed, err := r.sealer.Seal(value)
	if err != nil {
		slog.Warn("cache: seal failed", "error", err)
		return
	}
	if err := r.client.Set(ctx, r.key(key), sealed, ttl).Err(); err != nil {
		slog.Warn("cache: redis set failed", "error", err)
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		slog.Warn("cache: redis get failed", "error", err)
		return "", false
	}
	plain, err := r.sealer.Open(v)
	if err != nil {
		slog.Warn("cache: unseal failed", "key", key, "error", err)
		return "", false
	}
	return plain, true
}

func (r *RedisStore) RemainingTTL(ctx context.Context, key string) (time.Duration, bool) {
	d, err := r.client.PTTL(ctx, r.key(key)).Result()
	if err != nil {
		slog.Warn("cache: redis pttl failed", "error", err)
		return 0, false
	}
	// -2: missing, -1: no expiry (never written by this store).
	if d <= 0 {
		return 0, false
	}
	return d, true
}

func (r *RedisStore) Len(ctx context.Context) int {
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		slog.Warn("cache: redis scan failed", "error", err)
	}
	return n
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
