package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a byte oriented key/value store with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// Probe writes key with a one second TTL and reads it back, the round trip
// the health endpoints use to decide whether the cache is usable.
func Probe(ctx context.Context, c Cache, key string) error {
	if err := c.Set(ctx, key, []byte("ok"), time.Second); err != nil {
		return err
	}
	v, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if string(v) != "ok" {
		return errors.New("cache returned unexpected value")
	}
	return nil
}
