// Package redisledger provides an executor.Ledger backed by Redis so that
// at-most-once execution per invocation id holds across replicas serving the
// same session.
package redisledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/kgassist/executor"
)

var _ executor.Ledger = (*Ledger)(nil)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a turn's claims are kept when Release is never called.
	TTL time.Duration
	// Prefix namespaces keys.
	Prefix string
}

// Ledger stores one Redis set of claimed invocation ids per turn.
type Ledger struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// New connects to Redis and validates the connection.
func New(cfg Config) (*Ledger, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(rdb, cfg.TTL, cfg.Prefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb redis.UniversalClient, ttl time.Duration, prefix string) *Ledger {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if prefix == "" {
		prefix = "kgassist"
	}
	return &Ledger{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (l *Ledger) key(turnID string) string {
	return fmt.Sprintf("%s:turn:%s:invocations", l.prefix, turnID)
}

// Claim implements executor.Ledger using SADD, which reports whether the id
// was newly added.
func (l *Ledger) Claim(ctx context.Context, turnID, invocationID string) (bool, error) {
	key := l.key(turnID)
	var added *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, invocationID)
		pipe.Expire(ctx, key, l.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", turnID, invocationID, err)
	}
	return added.Val() == 1, nil
}

// Release implements executor.Ledger.
func (l *Ledger) Release(ctx context.Context, turnID string) error {
	if err := l.rdb.Del(ctx, l.key(turnID)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", turnID, err)
	}
	return nil
}

// Close closes the underlying client.
func (l *Ledger) Close() error { return l.rdb.Close() }
