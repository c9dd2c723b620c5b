package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// Provider is the read-through cache boundary used by the enrichment
// fetchers. Implementations must treat an absent key as ErrCacheMiss, not
// as an error condition.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// NoopProvider satisfies Provider without storing anything; it is the
// fallback when no cache is configured so fetchers never nil-check.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (NoopProvider) Close() error { return nil }
